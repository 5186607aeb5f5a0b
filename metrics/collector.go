// Package metrics tracks runtime performance series (counters, timers,
// resource gauges, histograms) and aggregates component health. Series are
// keyed by name plus sorted label pairs; snapshots are computed copies, so
// callers never share mutable state with the collector.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leeforge/runtimekit/logging"
)

// DefaultRecentWindow bounds the per-timer recent sample window.
const DefaultRecentWindow = 100

// Metric type names.
const (
	TypeCounter   = "counter"
	TypeTimer     = "timer"
	TypeGauge     = "gauge"
	TypeHistogram = "histogram"
)

// Metric is a read-only snapshot of one tracked series. Fields beyond
// Name/Type/Labels/Value are populated per type.
type Metric struct {
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Labels    map[string]string `json:"labels,omitempty"`
	Value     float64           `json:"value"`
	UpdatedAt time.Time         `json:"updatedAt"`

	// Timer and histogram statistics.
	Count       uint64  `json:"count,omitempty"`
	Successes   uint64  `json:"successes,omitempty"`
	SuccessRate float64 `json:"successRate,omitempty"`

	MinDuration   time.Duration `json:"minDuration,omitempty"`
	MaxDuration   time.Duration `json:"maxDuration,omitempty"`
	AvgDuration   time.Duration `json:"avgDuration,omitempty"`
	RecentAverage time.Duration `json:"recentAverage,omitempty"`

	// Gauge statistics. Percent is derived only when a capacity is known.
	Peak     float64 `json:"peak,omitempty"`
	Average  float64 `json:"average,omitempty"`
	Capacity float64 `json:"capacity,omitempty"`
	Percent  float64 `json:"percent,omitempty"`

	// Histogram statistics.
	Sum     float64   `json:"sum,omitempty"`
	Min     float64   `json:"min,omitempty"`
	Max     float64   `json:"max,omitempty"`
	Samples []float64 `json:"samples,omitempty"`
}

// series holds the raw accumulators behind one metric key.
type series struct {
	name   string
	typ    string
	labels map[string]string

	value float64 // counter total, gauge current

	count     uint64
	successes uint64
	totalDur  time.Duration
	minDur    time.Duration
	maxDur    time.Duration
	recent    []time.Duration

	peak     float64
	gaugeSum float64
	gaugeN   uint64
	capacity float64

	sum     float64
	min     float64
	max     float64
	samples []float64

	updatedAt time.Time
}

// Collector tracks metric series. Safe for concurrent use.
type Collector struct {
	mu      sync.RWMutex
	series  map[string]*series
	recentN int
	clock   func() time.Time
	logger  *zap.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the collector logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(clock func() time.Time) Option {
	return func(c *Collector) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithRecentWindow bounds the recent sample windows kept per timer and
// histogram.
func WithRecentWindow(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.recentN = n
		}
	}
}

// NewCollector creates an empty Collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		series:  make(map[string]*series),
		recentN: DefaultRecentWindow,
		clock:   time.Now,
		logger:  logging.Global().Named("metrics").Zap(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds the canonical series key: the metric name plus its sorted
// label pairs.
func Key(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte(':')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

// RecordCounter adds delta (which may be negative) to a counter.
func (c *Collector) RecordCounter(name string, delta float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.upsert(name, TypeCounter, labels)
	s.value += delta
	s.updatedAt = c.clock()
}

// RecordTimer records one timed operation.
func (c *Collector) RecordTimer(name string, d time.Duration, success bool, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.upsert(name, TypeTimer, labels)
	s.count++
	if success {
		s.successes++
	}
	s.totalDur += d
	if s.count == 1 {
		s.minDur, s.maxDur = d, d
	} else {
		if d < s.minDur {
			s.minDur = d
		}
		if d > s.maxDur {
			s.maxDur = d
		}
	}
	s.recent = append(s.recent, d)
	if len(s.recent) > c.recentN {
		s.recent = s.recent[1:]
	}
	s.updatedAt = c.clock()
}

// RecordResourceUsage updates a resource gauge. A capacity > 0 is retained
// and derives percent-of-capacity in snapshots.
func (c *Collector) RecordResourceUsage(name string, current, capacity float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.upsert(name, TypeGauge, labels)
	s.value = current
	if current > s.peak {
		s.peak = current
	}
	s.gaugeSum += current
	s.gaugeN++
	if capacity > 0 {
		s.capacity = capacity
	}
	s.updatedAt = c.clock()
}

// Observe records one histogram sample.
func (c *Collector) Observe(name string, v float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.upsert(name, TypeHistogram, labels)
	s.count++
	s.sum += v
	if s.count == 1 {
		s.min, s.max = v, v
	} else {
		if v < s.min {
			s.min = v
		}
		if v > s.max {
			s.max = v
		}
	}
	s.samples = append(s.samples, v)
	if len(s.samples) > c.recentN {
		s.samples = s.samples[1:]
	}
	s.updatedAt = c.clock()
}

// upsert returns the series for name+labels, creating it when absent. A
// name reused with a different type starts a fresh series and logs the
// mismatch.
func (c *Collector) upsert(name, typ string, labels map[string]string) *series {
	key := Key(name, labels)
	s, ok := c.series[key]
	if ok && s.typ == typ {
		return s
	}
	if ok {
		c.logger.Warn("metric type changed, restarting series",
			zap.String("metric", key),
			zap.String("from", s.typ),
			zap.String("to", typ))
	}
	s = &series{name: name, typ: typ, labels: copyLabels(labels)}
	c.series[key] = s
	return s
}

// GetMetric returns a snapshot of the series under key (see Key).
func (c *Collector) GetMetric(key string) (Metric, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.series[key]
	if !ok {
		return Metric{}, false
	}
	return c.snapshot(s), true
}

// Snapshot returns computed copies of every series, keyed canonically.
func (c *Collector) Snapshot() map[string]Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Metric, len(c.series))
	for key, s := range c.series {
		out[key] = c.snapshot(s)
	}
	return out
}

// Reset drops every series.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series = make(map[string]*series)
}

// snapshot computes the derived statistics for one series. Caller holds at
// least the read lock.
func (c *Collector) snapshot(s *series) Metric {
	m := Metric{
		Name:      s.name,
		Type:      s.typ,
		Labels:    copyLabels(s.labels),
		Value:     s.value,
		UpdatedAt: s.updatedAt,
	}
	switch s.typ {
	case TypeTimer:
		m.Count = s.count
		m.Successes = s.successes
		m.MinDuration = s.minDur
		m.MaxDuration = s.maxDur
		if s.count > 0 {
			m.SuccessRate = float64(s.successes) / float64(s.count)
			m.AvgDuration = s.totalDur / time.Duration(s.count)
		}
		if len(s.recent) > 0 {
			var total time.Duration
			for _, d := range s.recent {
				total += d
			}
			m.RecentAverage = total / time.Duration(len(s.recent))
		}
	case TypeGauge:
		m.Peak = s.peak
		m.Capacity = s.capacity
		if s.gaugeN > 0 {
			m.Average = s.gaugeSum / float64(s.gaugeN)
		}
		if s.capacity > 0 {
			m.Percent = s.value / s.capacity * 100
		}
	case TypeHistogram:
		m.Count = s.count
		m.Sum = s.sum
		m.Min = s.min
		m.Max = s.max
		m.Samples = append([]float64(nil), s.samples...)
	}
	return m
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
