// Package retry runs a bounded number of attempts against an external call
// and records the outcome of each one.
package retry

import (
	"context"
	"errors"
	"time"
)

// Outcome classifies a single attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// Attempt is the record of one call.
type Attempt struct {
	Number   int
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// Policy bounds how often and how long a call is tried.
type Policy struct {
	// MaxAttempts includes the initial call. Values below 1 mean 1.
	MaxAttempts int

	// Timeout bounds each attempt individually. Zero means no per-attempt bound.
	Timeout time.Duration

	// Backoff is the fixed sleep before each retry.
	Backoff time.Duration
}

// DefaultPolicy is one retry after a one second pause, twelve seconds per attempt.
var DefaultPolicy = Policy{
	MaxAttempts: 2,
	Timeout:     12 * time.Second,
	Backoff:     time.Second,
}

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Do calls fn until it succeeds or the policy is used up. It returns the
// value of the first successful attempt along with every attempt made. When
// all attempts fail the returned error wraps ErrExhausted and the last
// attempt's error. Cancellation of ctx stops the loop early.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, []Attempt, error) {
	var zero T

	n := p.MaxAttempts
	if n < 1 {
		n = 1
	}

	attempts := make([]Attempt, 0, n)
	var lastErr error

	for i := 1; i <= n; i++ {
		if i > 1 && p.Backoff > 0 {
			t := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, attempts, errors.Join(ErrExhausted, ctx.Err())
			case <-t.C:
			}
		}

		v, a := runOnce(ctx, p.Timeout, i, fn)
		attempts = append(attempts, a)
		if a.Outcome == OutcomeSuccess {
			return v, attempts, nil
		}
		lastErr = a.Err

		if ctx.Err() != nil {
			break
		}
	}

	return zero, attempts, errors.Join(ErrExhausted, lastErr)
}

func runOnce[T any](ctx context.Context, timeout time.Duration, n int, fn func(ctx context.Context) (T, error)) (T, Attempt) {
	actx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	v, err := fn(actx)
	a := Attempt{Number: n, Duration: time.Since(start), Err: err}

	switch {
	case err == nil:
		a.Outcome = OutcomeSuccess
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded):
		a.Outcome = OutcomeTimeout
	default:
		a.Outcome = OutcomeError
	}
	return v, a
}

// OrFallback picks the result to use after Do. It returns v when err is nil,
// otherwise the fallback value. The second return reports whether the
// fallback was chosen.
func OrFallback[T any](v T, err error, fallback func() T) (T, bool) {
	if err == nil {
		return v, false
	}
	return fallback(), true
}
