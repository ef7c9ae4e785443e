package caldav

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy retries a single remote call with exponential backoff.
// Only failures classified retryable by IsRetryable are retried; anything
// else propagates immediately. The delay before retry k (0-indexed) is
// BaseDelay * 2^k, with no jitter.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy matches the server defaults: three attempts, one
// second base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Do invokes fn up to MaxAttempts times. On exhaustion it returns a
// connection-class error wrapping the last failure, so callers log it the
// same way as a single transient failure. The op name is used in error
// messages only.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base < 0 {
		base = 0
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, base*(1<<(attempt-1))); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%s failed after %d attempts: %w (last error: %w)", op, attempts, ErrConnection, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
