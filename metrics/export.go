package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/leeforge/runtimekit/json"
	"github.com/leeforge/runtimekit/utils"
)

// TimerSummary condenses one timer series.
type TimerSummary struct {
	Count         uint64        `json:"count"`
	SuccessRate   float64       `json:"successRate"`
	Average       time.Duration `json:"average"`
	RecentAverage time.Duration `json:"recentAverage"`
	Min           time.Duration `json:"min"`
	Max           time.Duration `json:"max"`
}

// GaugeSummary condenses one resource gauge.
type GaugeSummary struct {
	Current float64 `json:"current"`
	Peak    float64 `json:"peak"`
	Average float64 `json:"average"`
	Percent float64 `json:"percent,omitempty"`
}

// HistogramSummary condenses one histogram series.
type HistogramSummary struct {
	Count   uint64  `json:"count"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Summary is the per-kind condensed view served to operators. Keys are
// display names: the metric name camel-cased, plus its sorted label pairs.
type Summary struct {
	Counters   map[string]float64          `json:"counters,omitempty"`
	Timers     map[string]TimerSummary     `json:"timers,omitempty"`
	Gauges     map[string]GaugeSummary     `json:"gauges,omitempty"`
	Histograms map[string]HistogramSummary `json:"histograms,omitempty"`
	TakenAt    time.Time                   `json:"takenAt"`
}

// GetSummary condenses the current snapshot per metric kind.
func (c *Collector) GetSummary() Summary {
	sum := Summary{
		Counters:   make(map[string]float64),
		Timers:     make(map[string]TimerSummary),
		Gauges:     make(map[string]GaugeSummary),
		Histograms: make(map[string]HistogramSummary),
		TakenAt:    c.clock(),
	}
	for _, m := range c.Snapshot() {
		key := Key(utils.LowerCamelCase(m.Name), m.Labels)
		switch m.Type {
		case TypeCounter:
			sum.Counters[key] = m.Value
		case TypeTimer:
			sum.Timers[key] = TimerSummary{
				Count:         m.Count,
				SuccessRate:   m.SuccessRate,
				Average:       m.AvgDuration,
				RecentAverage: m.RecentAverage,
				Min:           m.MinDuration,
				Max:           m.MaxDuration,
			}
		case TypeGauge:
			sum.Gauges[key] = GaugeSummary{
				Current: m.Value,
				Peak:    m.Peak,
				Average: m.Average,
				Percent: m.Percent,
			}
		case TypeHistogram:
			h := HistogramSummary{Count: m.Count, Min: m.Min, Max: m.Max}
			if m.Count > 0 {
				h.Average = m.Sum / float64(m.Count)
			}
			sum.Histograms[key] = h
		}
	}
	return sum
}

// Export is the JSON export envelope.
type Export struct {
	TakenAt time.Time         `json:"takenAt"`
	Metrics map[string]Metric `json:"metrics"`
}

// ExportJSON serializes the full snapshot.
func (c *Collector) ExportJSON() ([]byte, error) {
	return json.Marshal(Export{TakenAt: c.clock(), Metrics: c.Snapshot()})
}

// PrometheusFormat renders the snapshot in text exposition format. Timers
// emit count, average seconds, and success rate; gauges with a known
// capacity also emit percent.
func (c *Collector) PrometheusFormat() string {
	snap := c.Snapshot()
	keys := make([]string, 0, len(snap))
	for key := range snap {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		m := snap[key]
		name := promName(m.Name)
		labels := promLabels(m.Labels)
		switch m.Type {
		case TypeCounter, TypeGauge:
			fmt.Fprintf(&sb, "%s%s %g\n", name, labels, m.Value)
			if m.Type == TypeGauge && m.Capacity > 0 {
				fmt.Fprintf(&sb, "%s_percent%s %.2f\n", name, labels, m.Percent)
			}
		case TypeTimer:
			fmt.Fprintf(&sb, "%s_count%s %d\n", name, labels, m.Count)
			fmt.Fprintf(&sb, "%s_avg_seconds%s %.6f\n", name, labels, m.AvgDuration.Seconds())
			fmt.Fprintf(&sb, "%s_success_rate%s %.4f\n", name, labels, m.SuccessRate)
		case TypeHistogram:
			fmt.Fprintf(&sb, "%s_count%s %d\n", name, labels, m.Count)
			fmt.Fprintf(&sb, "%s_sum%s %g\n", name, labels, m.Sum)
		}
	}
	return sb.String()
}

// promName maps a metric name onto the exposition charset.
func promName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func promLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%q", promName(k), labels[k]))
	}
	return "{" + strings.Join(pairs, ",") + "}"
}
