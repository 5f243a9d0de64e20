package webhook

import (
	"sync"
	"time"
)

type breakerState int

const (
	stClosed breakerState = iota
	stOpen
	stHalfOpen
)

// Breaker is a per-endpoint circuit breaker. After failThreshold
// consecutive failures it opens for openFor; then a single probe request
// is let through, and its outcome closes or re-opens the circuit.
type Breaker struct {
	mu            sync.Mutex
	st            breakerState
	fails         int
	failThreshold int
	openFor       time.Duration
	nextProbeAt   time.Time
	probing       bool
}

func NewBreaker(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return &Breaker{failThreshold: threshold, openFor: openFor}
}

// Ready reports whether a call could go through right now, without
// claiming the probe slot.
func (b *Breaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case stOpen:
		return time.Now().After(b.nextProbeAt) && !b.probing
	case stHalfOpen:
		return !b.probing
	default:
		return true
	}
}

// Acquire claims the right to make one call. In open/half-open state only
// one probe may be in flight at a time.
func (b *Breaker) Acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case stOpen:
		if time.Now().After(b.nextProbeAt) && !b.probing {
			b.st = stHalfOpen
			b.probing = true
			return true
		}
		return false
	case stHalfOpen:
		if !b.probing {
			b.probing = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	b.fails = 0
	b.st = stClosed
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == stHalfOpen {
		// probe failed, back to open
		b.st = stOpen
		b.nextProbeAt = time.Now().Add(b.openFor)
		b.probing = false
		return
	}

	b.fails++
	if b.fails >= b.failThreshold {
		b.st = stOpen
		b.nextProbeAt = time.Now().Add(b.openFor)
	}
}
