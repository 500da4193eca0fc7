// Package retry runs an operation with bounded attempts, exponential backoff
// and a per-attempt timeout.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Policy controls how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failure; later waits grow by Multiplier.
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// AttemptTimeout bounds each try. Zero means no per-attempt deadline.
	AttemptTimeout time.Duration
}

// DefaultPolicy is two attempts, 1s then 2s backoff, 90s per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    2,
		BaseDelay:      time.Second,
		Multiplier:     2,
		MaxDelay:       30 * time.Second,
		AttemptTimeout: 90 * time.Second,
	}
}

// Delay returns the wait before attempt n+1 after attempt n (1-based) failed.
func (p Policy) Delay(n int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < n; i++ {
		d *= mult
	}
	delay := time.Duration(d)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, returns a non-retryable error, attempts run out,
// or ctx is done. Each call gets a context bounded by AttemptTimeout.
func (p Policy) Do(ctx context.Context, op string, retryable func(error) bool, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for n := 1; n <= attempts; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = p.attempt(ctx, fn)
		if lastErr == nil {
			return nil
		}
		// The parent context ending is not the operation's fault.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if n == attempts {
			break
		}

		delay := p.Delay(n)
		slog.Warn("attempt failed, retrying",
			"op", op,
			"attempt", n,
			"max_attempts", attempts,
			"delay", delay,
			"error", lastErr)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func (p Policy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

func sleep(ctx context.Context, d time.Duration) error {
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
