package caldav

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// recordingSleep captures requested delays without actually sleeping.
func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestRetryPolicy_TransientThenSuccess(t *testing.T) {
	var delays []time.Duration
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, sleep: recordingSleep(&delays)}

	calls := 0
	err := policy.Do(context.Background(), "fetch tasks", func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("listing calendars: %w", ErrConnection)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestRetryPolicy_FatalNotRetried(t *testing.T) {
	var delays []time.Duration
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, sleep: recordingSleep(&delays)}

	calls := 0
	err := policy.Do(context.Background(), "verify credentials", func() error {
		calls++
		return fmt.Errorf("principal lookup: %w", ErrAuth)
	})

	if err == nil {
		t.Fatal("Do() should propagate auth failure")
	}
	if !errors.Is(err, ErrAuth) {
		t.Errorf("error = %v, want ErrAuth", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on fatal)", calls)
	}
	if len(delays) != 0 {
		t.Errorf("delays = %v, want none", delays)
	}
}

func TestRetryPolicy_ExhaustionWrapsConnection(t *testing.T) {
	var delays []time.Duration
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, sleep: recordingSleep(&delays)}

	underlying := fmt.Errorf("dial tcp: %w", ErrTimeout)
	calls := 0
	err := policy.Do(context.Background(), "fetch tasks", func() error {
		calls++
		return underlying
	})

	if err == nil {
		t.Fatal("Do() should fail after exhausting attempts")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if !errors.Is(err, ErrConnection) {
		t.Errorf("error = %v, want connection-class wrapper", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("error = %v, should wrap the last underlying failure", err)
	}
}

func TestRetryPolicy_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, sleep: func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}}

	calls := 0
	err := policy.Do(ctx, "fetch tasks", func() error {
		calls++
		return fmt.Errorf("socket closed: %w", ErrConnection)
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestIsRetryable_Classes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection", fmt.Errorf("x: %w", ErrConnection), true},
		{"timeout", ErrTimeout, true},
		{"listing", fmt.Errorf("propfind: %w", ErrListing), true},
		{"auth", ErrAuth, false},
		{"not found", ErrNotFound, false},
		{"server", ErrServer, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsFatal_Auth(t *testing.T) {
	if !IsFatal(fmt.Errorf("401: %w", ErrAuth)) {
		t.Error("auth failures are fatal")
	}
	if IsFatal(ErrConnection) {
		t.Error("connection failures are not fatal")
	}
	if IsFatal(nil) {
		t.Error("nil is not fatal")
	}
}
