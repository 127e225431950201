package engine

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy controls per-node retry behaviour. Zero MaxRetries means a
// single attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy is applied when a node declares maxRetries without
// tuning the delays.
var DefaultRetryPolicy = RetryPolicy{
	BaseDelay: 500 * time.Millisecond,
	MaxDelay:  30 * time.Second,
}

// computeBackoff returns the delay before retry attempt n (0-indexed):
// base * 2^attempt capped at maxDelay, plus jitter in [0, base) so
// concurrent branches do not retry in lockstep.
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	delay := base * (1 << attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- retry timing, not security
	return delay + jitter
}

// sleepBackoff waits out the backoff delay, returning early if the context
// is cancelled.
func sleepBackoff(ctx context.Context, attempt int, policy RetryPolicy) error {
	timer := time.NewTimer(computeBackoff(attempt, policy.BaseDelay, policy.MaxDelay))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
