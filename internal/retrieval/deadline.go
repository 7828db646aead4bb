package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"
)

type outcome[T any] struct {
	val T
	err error
}

// RunWithDeadline races op against a deadline of d and returns no later than
// the deadline or the end of ctx, whichever comes first.
//
// op receives a context that is canceled as soon as the race is decided, so a
// cooperative op stops promptly once it loses. Its late value is dropped into
// a buffered channel and never blocks. A panic inside op is returned as an
// error wrapping ErrPanic.
func RunWithDeadline[T any](ctx context.Context, label string, d time.Duration, op func(context.Context) T) (T, error) {
	var zero T
	if d <= 0 {
		return zero, &TimeoutError{Label: label, After: d}
	}
	opCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		var val T
		if rec := panics.Try(func() { val = op(opCtx) }); rec != nil {
			done <- outcome[T]{err: fmt.Errorf("%w: %v", ErrPanic, rec.Value)}
			return
		}
		done <- outcome[T]{val: val}
	}()

	select {
	case out := <-done:
		return out.val, out.err
	case <-opCtx.Done():
	}

	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return zero, fmt.Errorf("%s: %w", label, err)
	}
	return zero, &TimeoutError{Label: label, After: d}
}
