package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	apperrors "github.com/leeforge/runtimekit/errors"
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 30 * time.Second
	DefaultJitterFactor = 0.10
)

// RetryConfig controls Retry. Start from DefaultRetryConfig and override;
// a zero config runs the operation once with no retries.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the computed delay when positive.
	MaxDelay time.Duration

	// Exponential doubles the delay for every further retry.
	Exponential bool

	// JitterFactor spreads each delay uniformly by +/- this fraction.
	JitterFactor float64

	// Retryable decides whether an error is worth retrying. Nil retries
	// everything.
	Retryable func(error) bool
}

// DefaultRetryConfig returns the standard retry policy: 3 retries,
// exponential backoff from 500ms capped at 30s, 10% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Exponential:  true,
		JitterFactor: DefaultJitterFactor,
	}
}

// Retry runs op until it succeeds, the retry budget is spent, the error
// is ruled non-retryable, or ctx is cancelled. Cancellation during a
// backoff wait returns a cancellation error; exhaustion returns an
// operation-failed error wrapping the last cause.
func Retry(ctx context.Context, cfg RetryConfig, op func(context.Context) error) error {
	attempts := cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(err, apperrors.KindCancelled, "retry interrupted")
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(backoffDelay(cfg, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return apperrors.Wrap(ctx.Err(), apperrors.KindCancelled, "retry interrupted")
		case <-timer.C:
		}
	}

	return apperrors.Wrap(lastErr, apperrors.KindOperationFailed,
		fmt.Sprintf("operation failed after %d attempts", attempts))
}

// RetryValue is Retry for value-returning operations.
func RetryValue[T any](ctx context.Context, cfg RetryConfig, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := Retry(ctx, cfg, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// backoffDelay computes the wait before the given retry (1-based):
// InitialDelay * 2^(retry-1) when exponential, clamped to MaxDelay, then
// spread by the jitter factor.
func backoffDelay(cfg RetryConfig, retry int) time.Duration {
	delay := float64(cfg.InitialDelay)
	if cfg.Exponential && retry > 1 {
		delay *= math.Pow(2, float64(retry-1))
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.JitterFactor > 0 {
		delay *= 1 + (rand.Float64()*2-1)*cfg.JitterFactor
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}
