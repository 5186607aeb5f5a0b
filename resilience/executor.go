package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/leeforge/runtimekit/errors"
	"github.com/leeforge/runtimekit/logging"
	"github.com/leeforge/runtimekit/metrics"
)

// Executor composes a breaker, retry policy and timeout limit around an
// operation and records every outcome before the error reaches the
// caller. Layering, outermost first: retry, breaker, timeout. Retrying
// outside the breaker lets a backoff wait span the breaker's reset
// timeout, so a recovered dependency closes the circuit mid-retry.
type Executor struct {
	name      string
	breaker   *Breaker
	retry     *RetryConfig
	timeout   time.Duration
	collector *metrics.Collector
	handler   *apperrors.Handler
	logger    *zap.Logger
	clock     func() time.Time
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithBreaker routes every attempt through b.
func WithBreaker(b *Breaker) ExecutorOption {
	return func(e *Executor) { e.breaker = b }
}

// WithRetry applies cfg around the whole breaker+timeout stack.
func WithRetry(cfg RetryConfig) ExecutorOption {
	return func(e *Executor) { e.retry = &cfg }
}

// WithTimeoutLimit bounds each individual attempt.
func WithTimeoutLimit(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithCollector records an outcome timer per Do call, labeled with the
// executor name.
func WithCollector(c *metrics.Collector) ExecutorOption {
	return func(e *Executor) { e.collector = c }
}

// WithErrorHandler records failures to h before they are returned.
func WithErrorHandler(h *apperrors.Handler) ExecutorOption {
	return func(e *Executor) { e.handler = h }
}

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates an executor named after the operation it guards.
// With no options it is a plain pass-through.
func NewExecutor(name string, opts ...ExecutorOption) *Executor {
	e := &Executor{
		name:  name,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Global().Named("resilience").Zap()
	}
	return e
}

// Do runs op through the configured layers. The outcome timer and any
// failure report are recorded before the error is returned.
func (e *Executor) Do(ctx context.Context, op func(context.Context) error) error {
	start := e.clock()
	err := e.run(ctx, op)
	elapsed := e.clock().Sub(start)

	if e.collector != nil {
		e.collector.RecordTimer(e.name, elapsed, err == nil, nil)
	}
	if err != nil {
		if e.handler != nil {
			e.handler.Record(err, apperrors.Context{
				Op:        e.name,
				Component: "resilience",
			})
		}
		e.logger.Debug("guarded operation failed",
			zap.String("op", e.name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (e *Executor) run(ctx context.Context, op func(context.Context) error) error {
	attempt := op
	if e.timeout > 0 {
		inner := attempt
		limit := e.timeout
		attempt = func(ctx context.Context) error {
			return WithTimeout(ctx, limit, inner)
		}
	}
	if e.breaker != nil {
		inner := attempt
		attempt = func(ctx context.Context) error {
			return e.breaker.Execute(ctx, inner)
		}
	}
	if e.retry != nil {
		return Retry(ctx, *e.retry, attempt)
	}
	return attempt(ctx)
}
