package resilience

import (
	"context"
	"time"

	apperrors "github.com/leeforge/runtimekit/errors"
)

// The timeout wrappers cancel the wait, not the work: on expiry the
// operation keeps running in the background with its eventual result
// discarded. Each goroutine writes into a buffered channel, so an
// abandoned operation never leaks.

type outcome[T any] struct {
	value T
	err   error
}

func spawn[T any](ctx context.Context, op func(context.Context) (T, error)) <-chan outcome[T] {
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- outcome[T]{value: zero, err: apperrors.Newf(
					apperrors.KindOperationFailed, "operation panicked: %v", r)}
			}
		}()
		v, err := op(ctx)
		done <- outcome[T]{value: v, err: err}
	}()
	return done
}

// WithTimeout races op against d and returns a timeout error on expiry.
func WithTimeout(ctx context.Context, d time.Duration, op func(context.Context) error) error {
	_, err := WithTimeoutValue(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// WithTimeoutValue races a value-returning op against d.
func WithTimeoutValue[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	done := spawn(ctx, op)
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.value, out.err
	case <-timer.C:
		var zero T
		return zero, apperrors.Timeout(d)
	case <-ctx.Done():
		var zero T
		return zero, apperrors.Wrap(ctx.Err(), apperrors.KindCancelled, "wait cancelled")
	}
}

// WithFallback runs op under a deadline and, on expiry only, produces the
// result from fallback instead. Operation errors other than the deadline
// pass through untouched.
func WithFallback[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error), fallback func(context.Context) (T, error)) (T, error) {
	v, err := WithTimeoutValue(ctx, d, op)
	if err != nil && apperrors.IsKind(err, apperrors.KindTimeout) {
		return fallback(ctx)
	}
	return v, err
}

// ExecuteWithCancellation runs op and returns a recoverable cancellation
// error as soon as ctx is cancelled, leaving op to finish in the
// background.
func ExecuteWithCancellation(ctx context.Context, op func(context.Context) error) error {
	done := spawn(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})

	select {
	case out := <-done:
		return out.err
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.KindCancelled, "operation abandoned")
	}
}
