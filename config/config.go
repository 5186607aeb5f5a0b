package config

import (
	"time"

	"github.com/creasty/defaults"

	"github.com/leeforge/runtimekit/logging"
	"github.com/leeforge/runtimekit/utils"
)

// Config is the full runtime configuration tree. Every field carries a
// default, so a missing file section falls back to working values.
type Config struct {
	Bus        BusConfig        `mapstructure:"bus" json:"bus" yaml:"bus"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle" json:"lifecycle" yaml:"lifecycle"`
	Resilience ResilienceConfig `mapstructure:"resilience" json:"resilience" yaml:"resilience"`
	Metrics    MetricsConfig    `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
	Errors     ErrorsConfig     `mapstructure:"errors" json:"errors" yaml:"errors"`
	Ops        OpsConfig        `mapstructure:"ops" json:"ops" yaml:"ops"`
	Redis      RedisConfig      `mapstructure:"redis" json:"redis" yaml:"redis"`
	Logging    logging.Config   `mapstructure:"logging" json:"logging" yaml:"logging"`
}

// TopicCache enables event replay for one topic.
type TopicCache struct {
	Topic    string `mapstructure:"topic" json:"topic" yaml:"topic" validate:"required"`
	Capacity int    `mapstructure:"capacity" json:"capacity" yaml:"capacity" default:"10" validate:"gte=1"`
}

// BusConfig tunes the event bus.
type BusConfig struct {
	// QueueSize bounds each subscription's delivery queue.
	QueueSize int `mapstructure:"queue-size" json:"queueSize" yaml:"queue-size" default:"64" validate:"gte=1"`

	// CachedTopics lists topics that replay recent events to late
	// subscribers.
	CachedTopics []TopicCache `mapstructure:"cached-topics" json:"cachedTopics" yaml:"cached-topics" validate:"dive"`
}

// LifecycleConfig tunes the resource manager.
type LifecycleConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep-interval" json:"sweepInterval" yaml:"sweep-interval" default:"2m" validate:"gt=0"`
	LeakAge       time.Duration `mapstructure:"leak-age" json:"leakAge" yaml:"leak-age" default:"30m" validate:"gt=0"`
	AuditLimit    int           `mapstructure:"audit-limit" json:"auditLimit" yaml:"audit-limit" default:"128" validate:"gte=1"`
}

// BreakerConfig is the default circuit breaker policy. Callbacks are code,
// not configuration; they are attached where breakers are constructed.
type BreakerConfig struct {
	FailureThreshold         int           `mapstructure:"failure-threshold" json:"failureThreshold" yaml:"failure-threshold" default:"5" validate:"gte=1"`
	ResetTimeout             time.Duration `mapstructure:"reset-timeout" json:"resetTimeout" yaml:"reset-timeout" default:"30s" validate:"gt=0"`
	HalfOpenSuccessThreshold int           `mapstructure:"half-open-success-threshold" json:"halfOpenSuccessThreshold" yaml:"half-open-success-threshold" default:"1" validate:"gte=1"`
}

// RetryConfig is the default retry policy.
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max-retries" json:"maxRetries" yaml:"max-retries" default:"3" validate:"gte=0"`
	InitialDelay time.Duration `mapstructure:"initial-delay" json:"initialDelay" yaml:"initial-delay" default:"500ms" validate:"gt=0"`
	MaxDelay     time.Duration `mapstructure:"max-delay" json:"maxDelay" yaml:"max-delay" default:"30s" validate:"gte=0"`
	Exponential  bool          `mapstructure:"exponential" json:"exponential" yaml:"exponential" default:"true"`
	JitterFactor float64       `mapstructure:"jitter-factor" json:"jitterFactor" yaml:"jitter-factor" default:"0.1" validate:"gte=0,lte=1"`
}

// ResilienceConfig groups the default policies applied to executors.
type ResilienceConfig struct {
	Breaker BreakerConfig `mapstructure:"breaker" json:"breaker" yaml:"breaker"`
	Retry   RetryConfig   `mapstructure:"retry" json:"retry" yaml:"retry"`
}

// MetricsConfig tunes the collector and sampler.
type MetricsConfig struct {
	RecentWindow   int           `mapstructure:"recent-window" json:"recentWindow" yaml:"recent-window" default:"100" validate:"gte=1"`
	SampleInterval time.Duration `mapstructure:"sample-interval" json:"sampleInterval" yaml:"sample-interval" default:"15s" validate:"gt=0"`
}

// ErrorsConfig tunes error history and pattern detection.
type ErrorsConfig struct {
	HistoryLimit    int           `mapstructure:"history-limit" json:"historyLimit" yaml:"history-limit" default:"100" validate:"gte=1"`
	SpikeCount      int           `mapstructure:"spike-count" json:"spikeCount" yaml:"spike-count" default:"5" validate:"gte=1"`
	SpikeWindow     time.Duration `mapstructure:"spike-window" json:"spikeWindow" yaml:"spike-window" default:"5m" validate:"gt=0"`
	RecurringCount  int           `mapstructure:"recurring-count" json:"recurringCount" yaml:"recurring-count" default:"20" validate:"gte=1"`
	RecurringWindow time.Duration `mapstructure:"recurring-window" json:"recurringWindow" yaml:"recurring-window" default:"1h" validate:"gt=0"`
}

// OpsConfig tunes the operational HTTP endpoint.
type OpsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" json:"addr" yaml:"addr" default:":9180" validate:"required"`
}

// RedisConfig tunes the optional Redis event bridge. The password never
// serializes.
type RedisConfig struct {
	Enabled  bool              `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Host     string            `mapstructure:"host" json:"host" yaml:"host" default:"127.0.0.1" validate:"required"`
	Port     int               `mapstructure:"port" json:"port" yaml:"port" default:"6379" validate:"gte=1,lte=65535"`
	Password string            `mapstructure:"password" json:"-" yaml:"password"`
	DB       int               `mapstructure:"db" json:"db" yaml:"db" validate:"gte=0"`
	Outbound map[string]string `mapstructure:"outbound" json:"outbound" yaml:"outbound"`
	Inbound  map[string]string `mapstructure:"inbound" json:"inbound" yaml:"inbound"`
}

// Validate checks the whole tree against its validate tags.
func (c *Config) Validate() error {
	return ValidateStruct(c)
}

// Default returns a Config with every default applied and no files read.
func Default() *Config {
	cfg := &Config{Logging: logging.DefaultConfig()}
	_ = defaults.Set(cfg)
	return cfg
}

// Load merges the configuration files selected by opts over the defaults and
// validates the result. File sections override defaults; absent sections
// keep them.
func Load(optsArr ...Options) (*Config, error) {
	loader, err := New(optsArr...)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := loader.Bind("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load, panicking on failure. Intended for main functions.
func MustLoad(optsArr ...Options) *Config {
	return utils.Panic(Load(optsArr...))
}
