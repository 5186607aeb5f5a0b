package config

import (
	"strings"
	"testing"
	"time"

	apperrors "github.com/leeforge/runtimekit/errors"
	"github.com/leeforge/runtimekit/json"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Bus.QueueSize != 64 {
		t.Errorf("bus queue size = %d, want 64", cfg.Bus.QueueSize)
	}
	if cfg.Lifecycle.SweepInterval != 2*time.Minute || cfg.Lifecycle.LeakAge != 30*time.Minute {
		t.Errorf("lifecycle = %+v, want 2m sweep and 30m leak age", cfg.Lifecycle)
	}
	if cfg.Lifecycle.AuditLimit != 128 {
		t.Errorf("audit limit = %d, want 128", cfg.Lifecycle.AuditLimit)
	}
	if cfg.Resilience.Breaker.FailureThreshold != 5 || cfg.Resilience.Breaker.ResetTimeout != 30*time.Second {
		t.Errorf("breaker = %+v, want threshold 5, reset 30s", cfg.Resilience.Breaker)
	}
	if cfg.Resilience.Retry.MaxRetries != 3 || !cfg.Resilience.Retry.Exponential {
		t.Errorf("retry = %+v, want 3 exponential retries", cfg.Resilience.Retry)
	}
	if cfg.Resilience.Retry.InitialDelay != 500*time.Millisecond || cfg.Resilience.Retry.JitterFactor != 0.1 {
		t.Errorf("retry = %+v, want 500ms initial delay, 0.1 jitter", cfg.Resilience.Retry)
	}
	if cfg.Metrics.RecentWindow != 100 || cfg.Metrics.SampleInterval != 15*time.Second {
		t.Errorf("metrics = %+v, want window 100, interval 15s", cfg.Metrics)
	}
	if cfg.Errors.HistoryLimit != 100 || cfg.Errors.SpikeCount != 5 || cfg.Errors.RecurringCount != 20 {
		t.Errorf("errors = %+v, want defaults", cfg.Errors)
	}
	if cfg.Ops.Enabled || cfg.Ops.Addr != ":9180" {
		t.Errorf("ops = %+v, want disabled on :9180", cfg.Ops)
	}
	if cfg.Redis.Enabled || cfg.Redis.Host != "127.0.0.1" || cfg.Redis.Port != 6379 {
		t.Errorf("redis = %+v, want disabled 127.0.0.1:6379", cfg.Redis)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging level = %q, want info", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	setMode(t, "development")
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
bus:
  queue-size: 256
  cached-topics:
    - topic: resources
      capacity: 32
lifecycle:
  sweep-interval: 30s
redis:
  enabled: true
  password: sekrit
`)

	cfg, err := Load(testOptions(dir))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Bus.QueueSize != 256 {
		t.Errorf("queue size = %d, want the file value 256", cfg.Bus.QueueSize)
	}
	if len(cfg.Bus.CachedTopics) != 1 || cfg.Bus.CachedTopics[0].Topic != "resources" || cfg.Bus.CachedTopics[0].Capacity != 32 {
		t.Errorf("cached topics = %+v, want resources/32", cfg.Bus.CachedTopics)
	}
	if cfg.Lifecycle.SweepInterval != 30*time.Second {
		t.Errorf("sweep interval = %v, want 30s", cfg.Lifecycle.SweepInterval)
	}
	if cfg.Lifecycle.LeakAge != 30*time.Minute {
		t.Errorf("leak age = %v, want the untouched default", cfg.Lifecycle.LeakAge)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Password != "sekrit" {
		t.Errorf("redis = %+v, want enabled with password", cfg.Redis)
	}
	if cfg.Resilience.Breaker.FailureThreshold != 5 {
		t.Errorf("breaker threshold = %d, want the untouched default", cfg.Resilience.Breaker.FailureThreshold)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	setMode(t, "development")
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "bus:\n  queue-size: 0\n")

	_, err := Load(testOptions(dir))
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if !strings.Contains(err.Error(), "QueueSize") {
		t.Errorf("err = %v, want the failing field named", err)
	}
}

func TestMustLoadPanicsWithoutFiles(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("MustLoad should panic when no files are found")
		}
	}()
	MustLoad(testOptions(t.TempDir()))
}

func TestConfigJSONRedactsPassword(t *testing.T) {
	cfg := Default()
	cfg.Redis.Password = "sekrit"

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "sekrit") {
		t.Error("serialized config must not carry the redis password")
	}
}
