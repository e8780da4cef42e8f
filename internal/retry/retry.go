// Package retry provides a bounded retry combinator shared by every retrying
// call site.
package retry

import (
	"context"
	"errors"
	"time"
)

// DelayFunc returns how long to wait after the given failed attempt
// (0-based) before starting the next one.
type DelayFunc func(attempt int) time.Duration

// NoDelay retries immediately.
func NoDelay(int) time.Duration { return 0 }

// Linear waits step, 2*step, 3*step... between attempts.
func Linear(step time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt+1) * step
	}
}

// Permanent marks an error that must not be retried.
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do runs fn up to attempts times and returns the first success. fn receives
// the 0-based attempt number. When every attempt fails the last error is
// returned. A nil delay means NoDelay. Do always terminates after at most
// attempts calls.
func Do[T any](ctx context.Context, attempts int, delay DelayFunc, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}
	if delay == nil {
		delay = NoDelay
	}
	var lastErr error
	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, errors.Join(lastErr, err)
			}
			return zero, err
		}
		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err
		if attempt == attempts-1 {
			break
		}
		if wait := delay(attempt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}
	}
	return zero, lastErr
}
