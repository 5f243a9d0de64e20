package publisher

import (
	"math/rand"
	"time"
)

// retryBackoff returns the delay before retry attempt n (1-based):
// exponential from base, capped, with up to 50% added jitter so a burst
// of failures does not come back in lockstep.
func retryBackoff(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if d > cap || d <= 0 {
		d = cap
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

// idleBackoff returns the wait after `empties` consecutive empty polls:
// the poll interval doubled up to 8x, jittered, so idle workers back off
// without ever sleeping unboundedly.
func idleBackoff(interval time.Duration, empties int) time.Duration {
	d := interval
	for i := 1; i < empties && d < 8*interval; i++ {
		d *= 2
	}
	if d > 8*interval {
		d = 8 * interval
	}
	return d + time.Duration(rand.Int63n(int64(interval)/4+1))
}
