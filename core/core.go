// Package core assembles the runtime: event bus, resource lifecycle,
// resilience, metrics, health and error handling, wired from one typed
// configuration tree. Optional surfaces (the ops HTTP endpoint and the Redis
// event bridge) are built when their config sections enable them.
package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/leeforge/runtimekit/bus"
	"github.com/leeforge/runtimekit/config"
	apperrors "github.com/leeforge/runtimekit/errors"
	"github.com/leeforge/runtimekit/lifecycle"
	"github.com/leeforge/runtimekit/logging"
	"github.com/leeforge/runtimekit/metrics"
	"github.com/leeforge/runtimekit/ops"
	"github.com/leeforge/runtimekit/redisbridge"
	"github.com/leeforge/runtimekit/resilience"
	"github.com/leeforge/runtimekit/scheduler"
)

const (
	// ShutdownGrace bounds how long Shutdown keeps working after the
	// caller's context is gone.
	ShutdownGrace = 30 * time.Second

	// Goroutine thresholds for the built-in health provider.
	goroutineWarnThreshold = 5_000
	goroutineFailThreshold = 20_000
)

// Core is the assembled runtime. The exported fields are live components,
// safe for concurrent use; collaborators receive the whole struct on Attach.
type Core struct {
	Config    *config.Config
	Logger    logging.Logger
	Bus       *bus.Bus
	Scheduler *scheduler.Scheduler
	Resources *lifecycle.Manager
	Metrics   *metrics.Collector
	Sampler   *metrics.Sampler
	Health    *metrics.Aggregator
	Errors    *apperrors.Handler
	Breakers  *resilience.BreakerSet
	Services  *ServiceRegistry

	// Redis and Ops are nil unless their config sections enable them.
	Redis *redisbridge.Bridge
	Ops   *ops.Server

	logSink atomic.Pointer[metrics.Collector]

	mu            sync.Mutex
	collaborators []attachedCollaborator
	started       bool
	stopped       bool
}

// Option customizes Core construction.
type Option func(*Core)

// WithLogger supplies the runtime logger. Without it, Core builds one from
// the logging config section, installs it as the process global, and counts
// every log entry into the metrics collector.
func WithLogger(logger logging.Logger) Option {
	return func(c *Core) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// New assembles a runtime from cfg. A nil cfg uses the defaults. When the
// redis section is enabled the bridge is dialed here, so a down Redis fails
// construction rather than first use.
func New(cfg *config.Config, opts ...Option) (*Core, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	c := &Core{
		Config:   cfg,
		Services: NewServiceRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.Logger == nil {
		c.Logger = logging.NewLogger(cfg.Logging, c.countLogEntry)
		logging.SetGlobal(c.Logger)
	}
	zl := c.Logger.Zap()

	busOpts := []bus.Option{
		bus.WithLogger(zl.Named("bus")),
		bus.WithQueueSize(cfg.Bus.QueueSize),
	}
	for _, tc := range cfg.Bus.CachedTopics {
		busOpts = append(busOpts, bus.WithCachedTopic(tc.Topic, tc.Capacity))
	}
	c.Bus = bus.New(busOpts...)

	c.Scheduler = scheduler.New(scheduler.WithLogger(zl.Named("scheduler")))

	c.Resources = lifecycle.NewManager(
		lifecycle.WithLogger(zl.Named("lifecycle")),
		lifecycle.WithBus(c.Bus),
		lifecycle.WithScheduler(c.Scheduler),
		lifecycle.WithSweepInterval(cfg.Lifecycle.SweepInterval),
		lifecycle.WithLeakAge(cfg.Lifecycle.LeakAge),
		lifecycle.WithAuditLimit(cfg.Lifecycle.AuditLimit),
	)

	c.Metrics = metrics.NewCollector(
		metrics.WithLogger(zl.Named("metrics")),
		metrics.WithRecentWindow(cfg.Metrics.RecentWindow),
	)
	c.logSink.Store(c.Metrics)

	c.Sampler = metrics.NewSampler(c.Metrics, c.Scheduler,
		metrics.WithSampleInterval(cfg.Metrics.SampleInterval),
		metrics.WithSamplerBus(c.Bus),
		metrics.WithSamplerLogger(zl.Named("sampler")),
	)

	c.Health = metrics.NewAggregator(
		metrics.WithHealthLogger(zl.Named("health")),
		metrics.WithHealthBus(c.Bus),
	)

	c.Errors = apperrors.NewHandler(
		apperrors.WithLogger(zl.Named("errors")),
		apperrors.WithBus(c.Bus),
		apperrors.WithHistoryLimit(cfg.Errors.HistoryLimit),
		apperrors.WithSpikeRule(cfg.Errors.SpikeCount, cfg.Errors.SpikeWindow),
		apperrors.WithRecurringRule(cfg.Errors.RecurringCount, cfg.Errors.RecurringWindow),
	)

	c.Breakers = resilience.NewBreakerSet(breakerPolicy(cfg.Resilience.Breaker),
		resilience.WithLogger(zl.Named("resilience")),
		resilience.WithBus(c.Bus),
	)

	if cfg.Redis.Enabled {
		bridge, err := redisbridge.New(bridgeConfig(cfg.Redis),
			redisbridge.WithLogger(zl.Named("redisbridge")))
		if err != nil {
			c.Scheduler.Stop()
			_ = c.Bus.Close()
			return nil, err
		}
		c.Redis = bridge
	}

	if cfg.Ops.Enabled {
		c.Ops = ops.New(cfg.Ops.Addr,
			ops.WithLogger(c.Logger.Named("ops")),
			ops.WithCollector(c.Metrics),
			ops.WithHealth(c.Health),
			ops.WithErrorHandler(c.Errors),
			ops.WithResources(c.Resources),
			ops.WithBreakers(c.Breakers),
		)
	}

	c.registerBuiltinHealth()

	c.Logger.Info("runtime core assembled",
		zap.Int("cachedTopics", len(cfg.Bus.CachedTopics)),
		zap.Bool("ops", c.Ops != nil),
		zap.Bool("redis", c.Redis != nil))
	return c, nil
}

// countLogEntry is the logging hook feeding log volume into the collector.
// The sink is set once the collector exists; entries before that are not
// counted.
func (c *Core) countLogEntry(entry zapcore.Entry) error {
	if col := c.logSink.Load(); col != nil {
		col.RecordCounter("log_entries", 1, map[string]string{"level": entry.Level.String()})
	}
	return nil
}

func (c *Core) registerBuiltinHealth() {
	c.Health.RegisterProvider("bus", func(context.Context) metrics.Check {
		stats := c.Bus.Stats()
		if stats.Paused {
			return metrics.Check{
				Status: metrics.CheckWarn,
				Detail: fmt.Sprintf("delivery paused, %d event(s) queued", stats.PauseQueueLen),
			}
		}
		return metrics.Check{
			Status: metrics.CheckPass,
			Detail: fmt.Sprintf("%d topic(s), %d subscription(s)", stats.Topics, stats.Subscriptions),
		}
	})
	c.Health.RegisterProvider("resources", c.Resources.HealthCheck)
	c.Health.RegisterProvider("breakers", c.Breakers.HealthCheck)
	c.Health.RegisterProvider("goroutines", metrics.ThresholdCheck(
		c.Metrics, metrics.Key("runtime_goroutines", nil),
		goroutineWarnThreshold, goroutineFailThreshold))
	if c.Redis != nil {
		c.Health.RegisterProvider("redis", c.Redis.HealthCheck)
	}
}

// Executor returns a guarded executor for the named operation, wired to the
// shared breaker set, the configured retry policy, the collector and the
// error handler. Caller options are applied after the defaults, so they win.
func (c *Core) Executor(name string, opts ...resilience.ExecutorOption) *resilience.Executor {
	base := []resilience.ExecutorOption{
		resilience.WithBreaker(c.Breakers.Get(name)),
		resilience.WithRetry(retryPolicy(c.Config.Resilience.Retry)),
		resilience.WithCollector(c.Metrics),
		resilience.WithErrorHandler(c.Errors),
		resilience.WithExecutorLogger(c.Logger.Zap().Named("resilience")),
	}
	return resilience.NewExecutor(name, append(base, opts...)...)
}

// Start brings up the periodic and listening parts: the metrics sampler, the
// Redis bridge subscriptions, and the ops listener. The leak sweeper already
// runs from construction. Start is one-shot.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return apperrors.New(apperrors.KindOperationFailed, "runtime already shut down").
			WithComponent("core")
	}
	if c.started {
		c.mu.Unlock()
		return apperrors.New(apperrors.KindOperationFailed, "runtime already started").
			WithComponent("core")
	}
	c.started = true
	c.mu.Unlock()

	if err := c.Sampler.Start(); err != nil {
		return apperrors.OperationFailed("start metrics sampler", err)
	}
	if c.Redis != nil {
		if err := c.Redis.Attach(ctx, c.Bus, c.Resources); err != nil {
			return err
		}
	}
	if c.Ops != nil {
		if err := c.Ops.Start(ctx); err != nil {
			return err
		}
	}

	c.Logger.Info("runtime started")
	return nil
}

// Shutdown tears the runtime down in reverse order: collaborators, ops
// listener, redis bridge, sampler, resources, scheduler, bus. It keeps
// working for ShutdownGrace even when the caller's context is already
// cancelled, collects every failure, and is idempotent.
func (c *Core) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	grace, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownGrace)
	defer cancel()

	var errs []error
	if err := c.Detach(grace); err != nil {
		errs = append(errs, err)
	}
	if c.Ops != nil {
		if err := c.Ops.Shutdown(grace); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Detach(grace); err != nil {
			errs = append(errs, err)
		}
	}
	c.Sampler.Stop()
	if err := c.Resources.Close(grace); err != nil {
		errs = append(errs, err)
	}
	c.Scheduler.Stop()
	if err := c.Bus.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return apperrors.Aggregate("runtime shutdown", errs...)
	}
	c.Logger.Info("runtime shutdown complete")
	_ = c.Logger.Sync()
	return nil
}

// --- Config mapping ---

func breakerPolicy(cfg config.BreakerConfig) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold:         cfg.FailureThreshold,
		ResetTimeout:             cfg.ResetTimeout,
		HalfOpenSuccessThreshold: cfg.HalfOpenSuccessThreshold,
	}
}

func retryPolicy(cfg config.RetryConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Exponential:  cfg.Exponential,
		JitterFactor: cfg.JitterFactor,
	}
}

func bridgeConfig(cfg config.RedisConfig) redisbridge.Config {
	return redisbridge.Config{
		Enabled:  cfg.Enabled,
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
		Outbound: cfg.Outbound,
		Inbound:  cfg.Inbound,
	}
}
