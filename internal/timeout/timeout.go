// Package timeout bounds slow computations (point counting, factoring) with
// hard deadlines. A call either returns the computation's result or a clean
// ErrTimedOut; partial work never leaks to the caller.
package timeout

import (
	"context"
	"errors"
	"time"
)

// ErrTimedOut is returned when a guarded computation exceeds its deadline.
var ErrTimedOut = errors.New("timeout: deadline exceeded")

type result[T any] struct {
	v   T
	err error
}

// Run executes fn under a deadline of d. fn must honor cancellation of the
// context it receives; once the deadline passes, Run returns ErrTimedOut
// immediately and fn's eventual result is discarded.
func Run[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return zero, errors.New("timeout: duration must be positive")
	}
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ch := make(chan result[T], 1)
	go func() {
		v, err := fn(cctx)
		ch <- result[T]{v: v, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return zero, ErrTimedOut
		}
		return r.v, r.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, ErrTimedOut
	}
}

// Loop retries fn with escalating deadlines, starting at start and adding
// step until a run finishes or the deadline would exceed max. Useful for
// computations whose runtime is unpredictable: quick wins stay quick, hard
// cases get a few more chances before the final ErrTimedOut.
func Loop[T any](ctx context.Context, start, max, step time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if start <= 0 || step <= 0 || max < start {
		return zero, errors.New("timeout: invalid escalation bounds")
	}
	var lastErr error = ErrTimedOut
	for d := start; d <= max; d += step {
		v, err := Run(ctx, d, fn)
		if !errors.Is(err, ErrTimedOut) {
			return v, err
		}
		lastErr = err
	}
	return zero, lastErr
}
