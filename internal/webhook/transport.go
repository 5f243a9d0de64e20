// Package webhook is an HTTP delivery transport for outbox entries:
// each destination maps to one or more subscriber endpoints, delivery
// round-robins across healthy ones. An alternative to the Kafka
// transport for consumers that take plain HTTP callbacks.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

var (
	ErrUnknownDestination = errors.New("webhook: unknown destination")
	ErrNoHealthy          = errors.New("webhook: no healthy endpoints")
)

type Config struct {
	Timeout       time.Duration
	FailThreshold int
	OpenFor       time.Duration
	Attempts      int // endpoint attempts per delivery, e.g. 2
}

// Transport fans outbox payloads out to per-destination endpoint sets.
// A nack here is just an error: the outbox publisher owns retry policy,
// the breaker only keeps a dead endpoint from eating every attempt.
type Transport struct {
	endpoints map[string][]*Endpoint
	rr        atomic.Uint64
	attempts  int
}

// NewTransport builds a transport from destination -> URLs.
func NewTransport(destinations map[string][]string, cfg Config) *Transport {
	if cfg.Attempts < 1 {
		cfg.Attempts = 2
	}

	eps := make(map[string][]*Endpoint, len(destinations))
	for dest, urls := range destinations {
		for _, u := range urls {
			eps[dest] = append(eps[dest], NewEndpoint(u, cfg.Timeout, cfg.FailThreshold, cfg.OpenFor))
		}
	}

	return &Transport{endpoints: eps, attempts: cfg.Attempts}
}

func (t *Transport) pick(destination string) (*Endpoint, error) {
	all, ok := t.endpoints[destination]
	if !ok || len(all) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDestination, destination)
	}

	healthy := make([]*Endpoint, 0, len(all))
	for _, e := range all {
		if e.Ready() {
			healthy = append(healthy, e)
		}
	}
	if len(healthy) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHealthy, destination)
	}

	x := t.rr.Add(1)
	return healthy[int((x-1)%uint64(len(healthy)))], nil
}

// Publish implements the outbox publisher's Transport.
func (t *Transport) Publish(ctx context.Context, destination, key string, payload []byte) error {
	var last error
	for i := 0; i < t.attempts; i++ {
		ep, err := t.pick(destination)
		if err != nil {
			// unknown destination never heals, don't burn attempts
			if errors.Is(err, ErrUnknownDestination) {
				return err
			}
			last = err
			continue
		}

		if !ep.Acquire() {
			last = fmt.Errorf("%w: %s", ErrNoHealthy, destination)
			continue
		}

		if err := ep.Deliver(ctx, destination, key, payload); err != nil {
			last = err
			continue
		}

		return nil
	}

	if last == nil {
		last = fmt.Errorf("webhook: delivery failed: %s", destination)
	}

	return last
}
