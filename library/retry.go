package library

import (
	"context"
	"math/rand"
	"time"

	"library-circulation/internal/logging"
)

const (
	defaultMaxAttempts  = 5
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
)

// retryPolicy re-runs a write transaction that lost the race for the SQLite
// write lock. busy_timeout already blocks inside the driver; this covers the
// cases where SQLite gives up immediately (lock upgrade deadlocks, checkpoint
// contention) or the timeout expires under load.
type retryPolicy struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
}

func newRetryPolicy(attempts int) retryPolicy {
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return retryPolicy{
		maxAttempts:  attempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}
}

// WithRetry overrides how often and how patiently busy transactions are
// retried.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(d *Database) error {
		if attempts <= 0 {
			return validationf("retry attempts must be positive")
		}
		if baseDelay < 0 {
			return validationf("retry base delay must not be negative")
		}
		d.retry.maxAttempts = attempts
		d.retry.baseDelay = baseDelay
		return nil
	}
}

// do runs fn until it succeeds, fails with a non-busy error, or the attempts
// are used up. Schedule (default): 0, 10, 20, 40, 80 ms plus up to 30% jitter.
func (p retryPolicy) do(ctx context.Context, log logging.Logger, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * p.jitterFactor //nolint:gosec //math/rand is sufficient for jitter

			select {
			case <-time.After(delay + time.Duration(jitter)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !isBusy(lastErr) {
			return lastErr
		}

		log.WarnContext(ctx, "database busy, retrying transaction", "attempt", attempt+1, "error", lastErr)
	}

	return lastErr
}
