// Package bounded runs operations under a deadline.
package bounded

import (
	"context"
	"errors"
	"time"

	"github.com/jonathan/tubetrust/internal/apperr"
)

type outcome[T any] struct {
	val T
	err error
}

// Do runs op and waits at most d for it. When the timer or the parent context
// wins, Do returns a Timeout error right away and cancels the context handed to
// op. It does not wait for op to notice; a late result is discarded.
//
// A non-positive d means the budget is already spent.
func Do[T any](ctx context.Context, name string, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return zero, apperr.New(apperr.KindTimeout, apperr.ReasonNone, "%s had no time left to run", name)
	}
	if err := ctx.Err(); err != nil {
		return zero, timeoutFromContext(name, err)
	}

	opCtx, cancel := context.WithCancel(ctx)
	done := make(chan outcome[T], 1)
	go func() {
		v, err := op(opCtx)
		done <- outcome[T]{val: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case res := <-done:
		cancel()
		return res.val, res.err
	case <-timer.C:
		cancel()
		return zero, apperr.New(apperr.KindTimeout, apperr.ReasonNone, "%s timed out after %s", name, d)
	case <-ctx.Done():
		cancel()
		return zero, timeoutFromContext(name, ctx.Err())
	}
}

// Run is Do for operations without a result value.
func Run(ctx context.Context, name string, d time.Duration, op func(context.Context) error) error {
	_, err := Do(ctx, name, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Within returns the smaller of want and the time left before ctx's deadline.
func Within(ctx context.Context, want time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return want
	}
	if left := time.Until(deadline); left < want {
		return left
	}
	return want
}

func timeoutFromContext(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTimeout, apperr.ReasonNone, err, "%s stopped: deadline exceeded", name)
	}
	return apperr.Wrap(apperr.KindTimeout, apperr.ReasonNone, err, "%s stopped: canceled", name)
}
