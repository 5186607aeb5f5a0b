package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/leeforge/runtimekit/bus"
	"github.com/leeforge/runtimekit/scheduler"
)

func newTestAggregator(opts ...HealthOption) *Aggregator {
	return NewAggregator(append([]HealthOption{WithHealthLogger(zap.NewNop())}, opts...)...)
}

func staticProvider(status CheckStatus, detail string) Provider {
	return func(context.Context) Check {
		return Check{Status: status, Detail: detail}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestEmptyAggregatorIsHealthy(t *testing.T) {
	a := newTestAggregator()
	report := a.CheckHealth(context.Background())
	if report.Status != Healthy || len(report.Checks) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestAnyWarnMakesDegraded(t *testing.T) {
	a := newTestAggregator()
	a.RegisterProvider("bus", staticProvider(CheckPass, "ok"))
	a.RegisterProvider("lifecycle", staticProvider(CheckWarn, "2 suspected leaks"))

	report := a.CheckHealth(context.Background())
	if report.Status != Degraded {
		t.Errorf("status = %q, want degraded", report.Status)
	}
	if len(report.Checks) != 2 || report.Checks[0].Component != "bus" || report.Checks[1].Component != "lifecycle" {
		t.Errorf("checks not in component order: %+v", report.Checks)
	}
}

func TestAnyFailMakesUnhealthy(t *testing.T) {
	a := newTestAggregator()
	a.RegisterProvider("bus", staticProvider(CheckPass, "ok"))
	a.RegisterProvider("lifecycle", staticProvider(CheckWarn, "slow"))
	a.RegisterProvider("redis", staticProvider(CheckFail, "connection refused"))

	report := a.CheckHealth(context.Background())
	if report.Status != Unhealthy {
		t.Errorf("status = %q, want unhealthy", report.Status)
	}
	if a.LastStatus() != Unhealthy {
		t.Errorf("last status = %q", a.LastStatus())
	}
}

func TestProviderPanicBecomesFailingCheck(t *testing.T) {
	a := newTestAggregator()
	a.RegisterProvider("flaky", func(context.Context) Check {
		panic("boom")
	})

	report := a.CheckHealth(context.Background())
	if report.Status != Unhealthy {
		t.Errorf("status = %q", report.Status)
	}
	if len(report.Checks) != 1 || report.Checks[0].Status != CheckFail {
		t.Fatalf("checks = %+v", report.Checks)
	}
	if report.Checks[0].Detail == "" {
		t.Error("panic detail missing")
	}
}

func TestUnregisterProvider(t *testing.T) {
	a := newTestAggregator()
	a.RegisterProvider("redis", staticProvider(CheckFail, "down"))
	a.UnregisterProvider("redis")

	if report := a.CheckHealth(context.Background()); report.Status != Healthy {
		t.Errorf("status = %q after unregister", report.Status)
	}
}

func TestStatusTransitionsPublishHealthEvents(t *testing.T) {
	b := bus.New(bus.WithLogger(zap.NewNop()))
	defer b.Close()

	var mu sync.Mutex
	var events []bus.HealthEvent
	b.Subscribe(bus.TopicHealth, func(_ context.Context, ev bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev.(bus.HealthEvent))
		return nil
	})

	a := newTestAggregator(WithHealthBus(b))
	failing := true
	a.RegisterProvider("redis", func(context.Context) Check {
		if failing {
			return Check{Status: CheckFail, Detail: "down"}
		}
		return Check{Status: CheckPass}
	})

	a.CheckHealth(context.Background())
	a.CheckHealth(context.Background()) // unchanged, no second event
	failing = false
	a.CheckHealth(context.Background())

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if events[0].Status != string(Unhealthy) || len(events[0].Degraded) != 1 || events[0].Degraded[0] != "redis" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Status != string(Healthy) {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestThresholdCheck(t *testing.T) {
	c := newTestCollector()
	a := newTestAggregator()
	a.RegisterProvider("pool", ThresholdCheck(c, "pool", 80, 95))

	if report := a.CheckHealth(context.Background()); report.Checks[0].Status != CheckPass {
		t.Errorf("missing series should pass, got %+v", report.Checks[0])
	}

	c.RecordResourceUsage("pool", 50, 100, nil)
	if report := a.CheckHealth(context.Background()); report.Checks[0].Status != CheckPass {
		t.Errorf("50%% should pass, got %+v", report.Checks[0])
	}

	c.RecordResourceUsage("pool", 85, 100, nil)
	if report := a.CheckHealth(context.Background()); report.Checks[0].Status != CheckWarn {
		t.Errorf("85%% should warn, got %+v", report.Checks[0])
	}

	c.RecordResourceUsage("pool", 96, 100, nil)
	if report := a.CheckHealth(context.Background()); report.Checks[0].Status != CheckFail {
		t.Errorf("96%% should fail, got %+v", report.Checks[0])
	}
}

func TestThresholdCheckRawValues(t *testing.T) {
	c := newTestCollector()
	c.RecordCounter("dispose_failures", 3, nil)

	p := ThresholdCheck(c, "dispose_failures", 1, 5)
	if check := p(context.Background()); check.Status != CheckWarn {
		t.Errorf("3 failures should warn, got %+v", check)
	}

	c.RecordCounter("dispose_failures", 4, nil)
	if check := p(context.Background()); check.Status != CheckFail {
		t.Errorf("7 failures should fail, got %+v", check)
	}
}

func TestSamplerSampleNow(t *testing.T) {
	b := bus.New(bus.WithLogger(zap.NewNop()))
	defer b.Close()

	var mu sync.Mutex
	var events []bus.MetricEvent
	b.Subscribe(bus.TopicMetrics, func(_ context.Context, ev bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev.(bus.MetricEvent))
		return nil
	})

	c := newTestCollector()
	sched := scheduler.New(scheduler.WithLogger(zap.NewNop()))
	defer sched.Stop()

	s := NewSampler(c, sched, WithSamplerBus(b), WithSamplerLogger(zap.NewNop()))
	s.Register("queue_depth", "count", func() float64 { return 42 })
	s.SampleNow()

	depth, ok := c.GetMetric("queue_depth")
	if !ok || depth.Value != 42 {
		t.Errorf("queue_depth = %+v", depth)
	}
	heap, ok := c.GetMetric("runtime_heap_bytes")
	if !ok || heap.Value <= 0 {
		t.Errorf("runtime_heap_bytes = %+v", heap)
	}
	goroutines, ok := c.GetMetric("runtime_goroutines")
	if !ok || goroutines.Value <= 0 {
		t.Errorf("runtime_goroutines = %+v", goroutines)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	units := make(map[string]string, len(events))
	for _, ev := range events {
		units[ev.Name] = ev.Unit
	}
	if units["runtime_heap_bytes"] != "bytes" || units["queue_depth"] != "count" {
		t.Errorf("units = %v", units)
	}
}

func TestSamplerStartStop(t *testing.T) {
	c := newTestCollector()
	sched := scheduler.New(scheduler.WithLogger(zap.NewNop()))
	defer sched.Stop()

	s := NewSampler(c, sched,
		WithSampleInterval(5*time.Millisecond),
		WithSamplerLogger(zap.NewNop()))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start should be a no-op, got %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, ok := c.GetMetric("runtime_goroutines")
		return ok
	})

	s.Stop()
	waitFor(t, 2*time.Second, func() bool { return len(sched.Active()) == 0 })
	s.Stop() // idempotent
}
