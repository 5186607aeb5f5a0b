package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/leeforge/runtimekit/json"
)

func newTestCollector(opts ...Option) *Collector {
	return NewCollector(append([]Option{WithLogger(zap.NewNop())}, opts...)...)
}

func TestKeySortsLabels(t *testing.T) {
	a := Key("queue_depth", map[string]string{"b": "2", "a": "1"})
	b := Key("queue_depth", map[string]string{"a": "1", "b": "2"})
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
	if a != "queue_depth:a=1:b=2" {
		t.Errorf("key = %q", a)
	}
	if Key("bare", nil) != "bare" {
		t.Errorf("unlabeled key = %q", Key("bare", nil))
	}
}

func TestCounterDeltas(t *testing.T) {
	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	c := newTestCollector(WithClock(func() time.Time { return at }))

	c.RecordCounter("jobs", 2, nil)
	c.RecordCounter("jobs", 3, nil)
	c.RecordCounter("jobs", -1, nil)

	m, ok := c.GetMetric("jobs")
	if !ok {
		t.Fatal("metric not found")
	}
	if m.Type != TypeCounter || m.Value != 4 {
		t.Errorf("counter = %+v", m)
	}
	if !m.UpdatedAt.Equal(at) {
		t.Errorf("updatedAt = %v", m.UpdatedAt)
	}
}

func TestCounterLabelsSeparateSeries(t *testing.T) {
	c := newTestCollector()
	c.RecordCounter("hits", 1, map[string]string{"cache": "local"})
	c.RecordCounter("hits", 5, map[string]string{"cache": "redis"})

	local, _ := c.GetMetric(Key("hits", map[string]string{"cache": "local"}))
	redis, _ := c.GetMetric(Key("hits", map[string]string{"cache": "redis"}))
	if local.Value != 1 || redis.Value != 5 {
		t.Errorf("series not separated: local=%v redis=%v", local.Value, redis.Value)
	}
}

func TestTimerStats(t *testing.T) {
	c := newTestCollector()
	c.RecordTimer("op", 100*time.Millisecond, true, nil)
	c.RecordTimer("op", 200*time.Millisecond, false, nil)
	c.RecordTimer("op", 300*time.Millisecond, true, nil)

	m, ok := c.GetMetric("op")
	if !ok {
		t.Fatal("metric not found")
	}
	if m.Count != 3 || m.Successes != 2 {
		t.Errorf("count=%d successes=%d", m.Count, m.Successes)
	}
	if want := 2.0 / 3.0; m.SuccessRate != want {
		t.Errorf("successRate = %v, want %v", m.SuccessRate, want)
	}
	if m.MinDuration != 100*time.Millisecond || m.MaxDuration != 300*time.Millisecond {
		t.Errorf("min/max = %v/%v", m.MinDuration, m.MaxDuration)
	}
	if m.AvgDuration != 200*time.Millisecond || m.RecentAverage != 200*time.Millisecond {
		t.Errorf("avg/recent = %v/%v", m.AvgDuration, m.RecentAverage)
	}
}

func TestTimerRecentWindowBounded(t *testing.T) {
	c := newTestCollector(WithRecentWindow(3))
	for _, d := range []time.Duration{10, 20, 30, 40} {
		c.RecordTimer("op", d*time.Millisecond, true, nil)
	}

	m, _ := c.GetMetric("op")
	if m.AvgDuration != 25*time.Millisecond {
		t.Errorf("cumulative avg = %v, want 25ms", m.AvgDuration)
	}
	if m.RecentAverage != 30*time.Millisecond {
		t.Errorf("recent avg = %v, want 30ms (last three samples)", m.RecentAverage)
	}
	if m.MinDuration != 10*time.Millisecond {
		t.Errorf("min = %v, the window must not erase extremes", m.MinDuration)
	}
}

func TestGaugeTracksPeakAverageAndPercent(t *testing.T) {
	c := newTestCollector()
	c.RecordResourceUsage("pool", 50, 100, nil)
	c.RecordResourceUsage("pool", 80, 100, nil)
	c.RecordResourceUsage("pool", 60, 100, nil)

	m, _ := c.GetMetric("pool")
	if m.Value != 60 || m.Peak != 80 {
		t.Errorf("current/peak = %v/%v", m.Value, m.Peak)
	}
	if want := (50.0 + 80 + 60) / 3; m.Average != want {
		t.Errorf("average = %v, want %v", m.Average, want)
	}
	if m.Percent != 60 {
		t.Errorf("percent = %v, want 60", m.Percent)
	}
}

func TestGaugeWithoutCapacity(t *testing.T) {
	c := newTestCollector()
	c.RecordResourceUsage("goroutines", 42, 0, nil)

	m, _ := c.GetMetric("goroutines")
	if m.Percent != 0 || m.Capacity != 0 {
		t.Errorf("percent/capacity = %v/%v, want zero without capacity", m.Percent, m.Capacity)
	}
}

func TestHistogramStats(t *testing.T) {
	c := newTestCollector()
	for _, v := range []float64{1, 5, 3} {
		c.Observe("latency", v, nil)
	}

	m, _ := c.GetMetric("latency")
	if m.Count != 3 || m.Sum != 9 || m.Min != 1 || m.Max != 5 {
		t.Errorf("histogram = %+v", m)
	}
	if len(m.Samples) != 3 || m.Samples[1] != 5 {
		t.Errorf("samples = %v", m.Samples)
	}
}

func TestTypeChangeRestartsSeries(t *testing.T) {
	c := newTestCollector()
	c.RecordCounter("x", 10, nil)
	c.Observe("x", 1, nil)

	m, _ := c.GetMetric("x")
	if m.Type != TypeHistogram || m.Count != 1 {
		t.Errorf("series not restarted: %+v", m)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	c := newTestCollector()
	c.Observe("latency", 1, map[string]string{"op": "get"})

	key := Key("latency", map[string]string{"op": "get"})
	snap, _ := c.GetMetric(key)
	snap.Samples[0] = 999
	snap.Labels["op"] = "mutated"

	again, _ := c.GetMetric(key)
	if again.Samples[0] != 1 || again.Labels["op"] != "get" {
		t.Error("snapshot shares state with the collector")
	}
}

func TestGetMetricMissing(t *testing.T) {
	c := newTestCollector()
	if _, ok := c.GetMetric("nope"); ok {
		t.Error("missing metric reported as found")
	}
}

func TestReset(t *testing.T) {
	c := newTestCollector()
	c.RecordCounter("jobs", 1, nil)
	c.Reset()
	if len(c.Snapshot()) != 0 {
		t.Error("Reset left series behind")
	}
}

func TestSummaryUsesDisplayNames(t *testing.T) {
	c := newTestCollector()
	c.RecordCounter("events_published", 7, nil)
	c.RecordTimer("dispose_duration", 10*time.Millisecond, true, nil)
	c.RecordResourceUsage("queue_depth", 3, 10, nil)
	c.Observe("payload_bytes", 128, nil)

	sum := c.GetSummary()
	if sum.Counters["eventsPublished"] != 7 {
		t.Errorf("counters = %v", sum.Counters)
	}
	timer, ok := sum.Timers["disposeDuration"]
	if !ok || timer.Count != 1 || timer.SuccessRate != 1 {
		t.Errorf("timers = %v", sum.Timers)
	}
	gauge, ok := sum.Gauges["queueDepth"]
	if !ok || gauge.Current != 3 || gauge.Percent != 30 {
		t.Errorf("gauges = %v", sum.Gauges)
	}
	hist, ok := sum.Histograms["payloadBytes"]
	if !ok || hist.Average != 128 {
		t.Errorf("histograms = %v", sum.Histograms)
	}
}

func TestExportJSONRoundTrip(t *testing.T) {
	c := newTestCollector()
	c.RecordCounter("jobs", 4, map[string]string{"queue": "default"})

	data, err := c.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	var exp Export
	if err := json.Unmarshal(data, &exp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	m, ok := exp.Metrics["jobs:queue=default"]
	if !ok || m.Value != 4 || m.Type != TypeCounter {
		t.Errorf("export = %+v", exp.Metrics)
	}
}

func TestPrometheusFormat(t *testing.T) {
	c := newTestCollector()
	c.RecordCounter("requests.total", 5, map[string]string{"method": "get"})
	c.RecordTimer("op", 100*time.Millisecond, true, nil)
	c.RecordResourceUsage("pool", 80, 100, nil)

	out := c.PrometheusFormat()
	for _, want := range []string{
		`requests_total{method="get"} 5`,
		"op_count 1",
		"op_avg_seconds 0.100000",
		"op_success_rate 1.0000",
		"pool 80",
		"pool_percent 80.00",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConcurrentRecording(t *testing.T) {
	c := newTestCollector()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c.RecordCounter("jobs", 1, nil)
				c.RecordTimer("op", time.Millisecond, true, nil)
			}
		}()
	}
	wg.Wait()

	jobs, _ := c.GetMetric("jobs")
	op, _ := c.GetMetric("op")
	if jobs.Value != 400 || op.Count != 400 {
		t.Errorf("jobs=%v op=%v, want 400 each", jobs.Value, op.Count)
	}
}
