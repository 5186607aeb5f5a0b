package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leeforge/runtimekit/bus"
	"github.com/leeforge/runtimekit/logging"
)

// CheckStatus is the outcome of a single component check.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// Status is the aggregate system health.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// Check is one component's health observation.
type Check struct {
	Component  string      `json:"component"`
	Status     CheckStatus `json:"status"`
	Detail     string      `json:"detail,omitempty"`
	ObservedAt time.Time   `json:"observedAt"`
}

// Report is the aggregate of all registered checks. Any fail makes the
// system unhealthy; otherwise any warn makes it degraded.
type Report struct {
	Status    Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Provider produces a component's current check. Providers run outside the
// aggregator lock and may block on ctx.
type Provider func(ctx context.Context) Check

// Aggregator runs registered health providers and folds their checks into
// one system status. Safe for concurrent use.
type Aggregator struct {
	mu        sync.Mutex
	providers map[string]Provider
	last      Status

	logger *zap.Logger
	clock  func() time.Time
	events *bus.Bus
}

// HealthOption configures an Aggregator.
type HealthOption func(*Aggregator)

// WithHealthLogger sets the aggregator logger.
func WithHealthLogger(logger *zap.Logger) HealthOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithHealthBus publishes HealthEvents on status transitions.
func WithHealthBus(b *bus.Bus) HealthOption {
	return func(a *Aggregator) {
		a.events = b
	}
}

// WithHealthClock overrides the time source. Tests only.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewAggregator creates an Aggregator with no providers; an empty set
// reports healthy.
func NewAggregator(opts ...HealthOption) *Aggregator {
	a := &Aggregator{
		providers: make(map[string]Provider),
		last:      Healthy,
		logger:    logging.Global().Named("health").Zap(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterProvider registers (or replaces) the provider for a component.
func (a *Aggregator) RegisterProvider(component string, p Provider) {
	if p == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.providers[component] = p
}

// UnregisterProvider removes a component's provider.
func (a *Aggregator) UnregisterProvider(component string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.providers, component)
}

// CheckHealth runs every provider and aggregates the outcome. Providers run
// in component order; a panicking provider becomes a failing check.
func (a *Aggregator) CheckHealth(ctx context.Context) Report {
	a.mu.Lock()
	components := make([]string, 0, len(a.providers))
	for name := range a.providers {
		components = append(components, name)
	}
	sort.Strings(components)
	providers := make([]Provider, len(components))
	for i, name := range components {
		providers[i] = a.providers[name]
	}
	a.mu.Unlock()

	status := Healthy
	checks := make([]Check, 0, len(components))
	var degraded []string
	for i, name := range components {
		check := a.run(ctx, name, providers[i])
		check.Component = name
		if check.ObservedAt.IsZero() {
			check.ObservedAt = a.clock()
		}
		checks = append(checks, check)
		switch check.Status {
		case CheckFail:
			status = Unhealthy
			degraded = append(degraded, name)
		case CheckWarn:
			if status == Healthy {
				status = Degraded
			}
			degraded = append(degraded, name)
		}
	}

	report := Report{Status: status, Checks: checks, CheckedAt: a.clock()}
	a.noteTransition(status, degraded)
	return report
}

// run isolates provider panics into failing checks.
func (a *Aggregator) run(ctx context.Context, component string, p Provider) (check Check) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("health provider panicked",
				zap.String("component", component),
				zap.Any("panic", r))
			check = Check{
				Status:     CheckFail,
				Detail:     fmt.Sprintf("provider panicked: %v", r),
				ObservedAt: a.clock(),
			}
		}
	}()
	return p(ctx)
}

// noteTransition publishes a HealthEvent when the aggregate status changed
// since the previous check.
func (a *Aggregator) noteTransition(status Status, degraded []string) {
	a.mu.Lock()
	changed := a.last != status
	a.last = status
	a.mu.Unlock()
	if !changed {
		return
	}

	a.logger.Info("health status changed",
		zap.String("status", string(status)),
		zap.Strings("components", degraded))
	if a.events != nil {
		a.events.Publish(bus.TopicHealth, bus.HealthEvent{
			Status:   string(status),
			Degraded: degraded,
			Time:     a.clock(),
		})
	}
}

// LastStatus returns the status of the most recent CheckHealth run.
func (a *Aggregator) LastStatus() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// ThresholdCheck builds a provider that compares a collector series against
// warn and fail thresholds. Gauges with a known capacity compare their
// percent-of-capacity; everything else compares the raw value. A missing
// series passes.
func ThresholdCheck(c *Collector, key string, warn, fail float64) Provider {
	return func(context.Context) Check {
		m, ok := c.GetMetric(key)
		if !ok {
			return Check{Status: CheckPass, Detail: "no data"}
		}
		v := m.Value
		unit := ""
		if m.Type == TypeGauge && m.Capacity > 0 {
			v = m.Percent
			unit = "%"
		}
		switch {
		case v >= fail:
			return Check{Status: CheckFail, Detail: fmt.Sprintf("%s at %.2f%s (fail threshold %.2f)", key, v, unit, fail)}
		case v >= warn:
			return Check{Status: CheckWarn, Detail: fmt.Sprintf("%s at %.2f%s (warn threshold %.2f)", key, v, unit, warn)}
		}
		return Check{Status: CheckPass, Detail: fmt.Sprintf("%s at %.2f%s", key, v, unit)}
	}
}
