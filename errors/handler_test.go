package errors

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/leeforge/runtimekit/bus"
)

// --- Test Helpers ---

func newTestHandler(opts ...HandlerOption) *Handler {
	return NewHandler(append([]HandlerOption{WithLogger(zap.NewNop())}, opts...)...)
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

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

func TestHandlerRecordsHistory(t *testing.T) {
	h := newTestHandler()

	_ = h.Handle(context.Background(), Validation("port", "must be positive"),
		Context{Op: "config.load", Component: "config"})
	h.Record(Timeout(time.Second), Context{Op: "fetch", Component: "client"})

	hist := h.History()
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].Kind != KindValidation || hist[1].Kind != KindTimeout {
		t.Errorf("kinds = %q, %q", hist[0].Kind, hist[1].Kind)
	}
	if hist[0].Op != "config.load" || hist[0].Component != "config" {
		t.Errorf("caller context not applied: %+v", hist[0])
	}

	freq := h.Frequencies()
	if freq[KindValidation] != 1 || freq[KindTimeout] != 1 {
		t.Errorf("frequencies = %v", freq)
	}
	sev := h.SeverityCounts()
	if sev[SeverityLow] != 1 || sev[SeverityMedium] != 1 {
		t.Errorf("severity counts = %v", sev)
	}
}

func TestHandlerErrorFieldsWinOverCallerContext(t *testing.T) {
	h := newTestHandler()
	h.Record(Timeout(time.Second).WithOp("redis.get").WithComponent("cache"),
		Context{Op: "outer", Component: "other"})

	hist := h.History()
	if hist[0].Op != "redis.get" || hist[0].Component != "cache" {
		t.Errorf("error's own op/component should win: %+v", hist[0])
	}
}

func TestHandlerHistoryBounded(t *testing.T) {
	h := newTestHandler(WithHistoryLimit(3))
	for i := 0; i < 5; i++ {
		h.Record(Newf(KindOperationFailed, "failure %d", i), Context{})
	}

	hist := h.History()
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	if hist[0].Message != "failure 2" || hist[2].Message != "failure 4" {
		t.Errorf("oldest entries not trimmed: %q .. %q", hist[0].Message, hist[2].Message)
	}
	if got := h.Frequencies()[KindOperationFailed]; got != 5 {
		t.Errorf("frequency = %d, want 5 (counters outlive trimmed history)", got)
	}
}

func TestHandleReturnsNonRecoverable(t *testing.T) {
	h := newTestHandler()
	consulted := false
	h.RegisterStrategy(NewStrategy("noop",
		func(*Error) bool { consulted = true; return true },
		func(context.Context, *Error, map[string]any) error { return nil }))

	err := h.Handle(context.Background(), Validation("name", "required"), Context{})
	if err == nil {
		t.Fatal("non-recoverable error should be returned to the caller")
	}
	if !IsKind(err, KindValidation) {
		t.Errorf("kind = %q", KindOf(err))
	}
	if consulted {
		t.Error("strategies must not run for non-recoverable errors")
	}
	if len(h.History()) != 1 {
		t.Error("the error should still be recorded")
	}
}

func TestHandleSwallowsUnrecoveredRecoverable(t *testing.T) {
	h := newTestHandler()
	err := h.Handle(context.Background(),
		OperationFailed("flush failed", fmt.Errorf("disk full")),
		Context{Op: "cache.flush"})
	if err != nil {
		t.Fatalf("recoverable error with no strategies should be swallowed, got %v", err)
	}
	if len(h.History()) != 1 {
		t.Error("the error should still be recorded")
	}
}

func TestStrategyOrderAndShortCircuit(t *testing.T) {
	h := newTestHandler()
	var order []string

	h.RegisterStrategy(NewStrategy("timeout-only",
		func(e *Error) bool { return e.Kind == KindTimeout },
		func(context.Context, *Error, map[string]any) error {
			order = append(order, "timeout-only")
			return nil
		}))
	h.RegisterStrategy(NewStrategy("backoff",
		func(*Error) bool { return true },
		func(_ context.Context, _ *Error, params map[string]any) error {
			order = append(order, "backoff")
			params["max_attempts"] = 5
			return nil
		}))
	h.RegisterStrategy(NewStrategy("never-reached",
		func(*Error) bool { return true },
		func(context.Context, *Error, map[string]any) error {
			order = append(order, "never-reached")
			return nil
		}))

	meta := map[string]any{}
	err := h.Handle(context.Background(), OperationFailed("x", nil), Context{Meta: meta})
	if err != nil {
		t.Fatalf("recovered error should return nil, got %v", err)
	}
	if len(order) != 1 || order[0] != "backoff" {
		t.Errorf("strategy order = %v, want [backoff]", order)
	}
	if meta["max_attempts"] != 5 {
		t.Errorf("strategy adjustments should be visible through Meta, got %v", meta)
	}
}

func TestStrategyFailureFallsThrough(t *testing.T) {
	h := newTestHandler()
	var order []string

	h.RegisterStrategy(NewStrategy("broken",
		func(*Error) bool { return true },
		func(context.Context, *Error, map[string]any) error {
			order = append(order, "broken")
			return fmt.Errorf("still failing")
		}))
	h.RegisterStrategy(NewStrategy("works",
		func(*Error) bool { return true },
		func(context.Context, *Error, map[string]any) error {
			order = append(order, "works")
			return nil
		}))

	if err := h.Handle(context.Background(), OperationFailed("x", nil), Context{}); err != nil {
		t.Fatalf("second strategy recovered, want nil, got %v", err)
	}
	if len(order) != 2 || order[0] != "broken" || order[1] != "works" {
		t.Errorf("order = %v, want [broken works]", order)
	}
}

func TestRecordDoesNotRecover(t *testing.T) {
	h := newTestHandler()
	consulted := false
	h.RegisterStrategy(NewStrategy("s",
		func(*Error) bool { consulted = true; return true },
		func(context.Context, *Error, map[string]any) error { return nil }))

	h.Record(OperationFailed("x", nil), Context{})
	if consulted {
		t.Error("Record is telemetry only, strategies must not run")
	}
	if len(h.History()) != 1 {
		t.Error("Record should append to history")
	}
	h.Record(nil, Context{})
	if len(h.History()) != 1 {
		t.Error("Record(nil) should be a no-op")
	}
}

func TestSpikeAlertOncePerWindow(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := newTestHandler(
		WithClock(clk.Now),
		WithSpikeRule(3, time.Minute),
		WithRecurringRule(1000, time.Hour),
	)

	for i := 0; i < 4; i++ {
		h.Record(Timeout(time.Second), Context{})
		clk.Advance(time.Second)
	}
	alerts := h.RecentAlerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Pattern != PatternSpike || alerts[0].Kind != KindTimeout || alerts[0].Count != 4 {
		t.Errorf("alert = %+v", alerts[0])
	}

	// More reports inside the same window must not re-fire.
	for i := 0; i < 3; i++ {
		h.Record(Timeout(time.Second), Context{})
		clk.Advance(time.Second)
	}
	if got := len(h.RecentAlerts()); got != 1 {
		t.Fatalf("alerts after repeat = %d, want 1", got)
	}

	// Past the window the rule arms again.
	clk.Advance(time.Minute)
	for i := 0; i < 4; i++ {
		h.Record(Timeout(time.Second), Context{})
		clk.Advance(time.Second)
	}
	if got := len(h.RecentAlerts()); got != 2 {
		t.Fatalf("alerts after window = %d, want 2", got)
	}
}

func TestRecurringAlert(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := newTestHandler(
		WithClock(clk.Now),
		WithSpikeRule(1000, time.Minute),
		WithRecurringRule(5, time.Hour),
	)

	for i := 0; i < 6; i++ {
		h.Record(NotFound("k"), Context{})
		clk.Advance(time.Minute)
	}
	alerts := h.RecentAlerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Pattern != PatternRecurring || alerts[0].Window != time.Hour {
		t.Errorf("alert = %+v", alerts[0])
	}
}

func TestPatternsTrackKindsIndependently(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := newTestHandler(
		WithClock(clk.Now),
		WithSpikeRule(2, time.Minute),
		WithRecurringRule(1000, time.Hour),
	)

	for i := 0; i < 2; i++ {
		h.Record(Timeout(time.Second), Context{})
		h.Record(NotFound("k"), Context{})
		clk.Advance(time.Second)
	}
	if got := len(h.RecentAlerts()); got != 0 {
		t.Fatalf("mixed kinds below threshold fired %d alerts", got)
	}

	h.Record(Timeout(time.Second), Context{})
	alerts := h.RecentAlerts()
	if len(alerts) != 1 || alerts[0].Kind != KindTimeout {
		t.Fatalf("alerts = %+v, want one timeout spike", alerts)
	}
}

func TestHandlerPublishesBusEvents(t *testing.T) {
	b := bus.New(bus.WithLogger(zap.NewNop()))
	defer b.Close()

	var mu sync.Mutex
	var errEvents []bus.ErrorEvent
	var alertEvents []bus.AlertEvent
	b.Subscribe(bus.TopicErrors, func(_ context.Context, ev bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		errEvents = append(errEvents, ev.(bus.ErrorEvent))
		return nil
	})
	b.Subscribe(bus.TopicAlerts, func(_ context.Context, ev bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		alertEvents = append(alertEvents, ev.(bus.AlertEvent))
		return nil
	})

	h := newTestHandler(WithBus(b), WithSpikeRule(2, time.Minute))
	for i := 0; i < 3; i++ {
		h.Record(Timeout(time.Second).WithOp("fetch"), Context{Component: "client"})
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errEvents) == 3 && len(alertEvents) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	ev := errEvents[0]
	if ev.ErrKind != string(KindTimeout) || ev.Op != "fetch" || ev.Comp != "client" {
		t.Errorf("error event = %+v", ev)
	}
	if ev.Severity != string(SeverityMedium) || !ev.Recoverable {
		t.Errorf("error event severity/recoverable = %+v", ev)
	}
	al := alertEvents[0]
	if al.ErrorKind != string(KindTimeout) || al.Pattern != PatternSpike || al.Count != 3 {
		t.Errorf("alert event = %+v", al)
	}
}

func TestHandlerReset(t *testing.T) {
	h := newTestHandler(WithSpikeRule(1, time.Minute))
	consulted := false
	h.RegisterStrategy(NewStrategy("s",
		func(*Error) bool { consulted = true; return true },
		func(context.Context, *Error, map[string]any) error { return nil }))

	h.Record(Timeout(time.Second), Context{})
	h.Record(Timeout(time.Second), Context{})
	if len(h.History()) == 0 || len(h.RecentAlerts()) == 0 {
		t.Fatal("expected recorded state before reset")
	}

	h.Reset()
	if len(h.History()) != 0 || len(h.Frequencies()) != 0 || len(h.RecentAlerts()) != 0 {
		t.Error("Reset should clear history, counters, and alerts")
	}
	if err := h.Handle(context.Background(), OperationFailed("x", nil), Context{}); err != nil {
		t.Fatalf("Handle after reset = %v", err)
	}
	if consulted {
		t.Error("Reset should drop registered strategies")
	}
}

func TestConcurrentHandlerUse(t *testing.T) {
	h := newTestHandler(WithHistoryLimit(50))
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				h.Record(OperationFailed("x", nil), Context{})
			}
		}()
	}
	wg.Wait()

	if got := h.Frequencies()[KindOperationFailed]; got != 200 {
		t.Errorf("frequency = %d, want 200", got)
	}
	if got := len(h.History()); got != 50 {
		t.Errorf("history length = %d, want 50", got)
	}
}
