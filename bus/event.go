// Package bus provides a topic-addressed publish/subscribe event bus with
// per-topic caching for late subscribers, global pause/resume queuing, and
// per-subscription rate limiting (debounce/throttle), caps, and TTLs.
//
// Delivery is fire-and-forget: publishers never block on handlers and handler
// failures never propagate back. Per subscription, events of a single topic
// are delivered in publish order.
package bus

import (
	"time"
)

// Kind discriminates the closed set of event variants carried by the bus.
type Kind string

const (
	// KindResourceLifecycle marks resource state transitions.
	KindResourceLifecycle Kind = "resource.lifecycle"
	// KindResourceLeak marks suspected or confirmed resource leaks.
	KindResourceLeak Kind = "resource.leak"
	// KindErrorReported marks individual recorded errors.
	KindErrorReported Kind = "error.reported"
	// KindErrorAlert marks error-rate pattern alerts (spike, recurring).
	KindErrorAlert Kind = "error.alert"
	// KindBreakerState marks circuit breaker state transitions.
	KindBreakerState Kind = "breaker.state"
	// KindMetricSample marks metric observations published for collaborators.
	KindMetricSample Kind = "metric.sample"
	// KindHealthChanged marks overall health verdict changes.
	KindHealthChanged Kind = "health.changed"
	// KindGeneric is the free-form fallback variant.
	KindGeneric Kind = "generic"
)

// Canonical topics used by the runtime's own producers. Collaborators may
// publish and subscribe on any topic string; these are just the well-known
// ones.
const (
	TopicResources = "runtime.resources"
	TopicLeaks     = "runtime.leaks"
	TopicErrors    = "runtime.errors"
	TopicAlerts    = "runtime.alerts"
	TopicBreakers  = "runtime.breakers"
	TopicMetrics   = "runtime.metrics"
	TopicHealth    = "runtime.health"
)

// Event is the payload contract for everything published on the bus. Events
// are immutable value structs: producers fill them once and consumers must
// not mutate them (including any contained maps).
type Event interface {
	// Kind returns the variant discriminant.
	Kind() Kind
	// Component names the subsystem the event originated from.
	Component() string
	// At returns the event creation time.
	At() time.Time
}

// ResourceEvent records one lifecycle state transition of a managed resource.
type ResourceEvent struct {
	Key  string
	Type string
	From string
	To   string
	Err  string
	Time time.Time
}

func (e ResourceEvent) Kind() Kind        { return KindResourceLifecycle }
func (e ResourceEvent) Component() string { return "lifecycle" }
func (e ResourceEvent) At() time.Time     { return e.Time }

// LeakEvent flags a resource that lived past its expected lifetime.
// Suspected is true for age-threshold flags and false when the sweeper
// actually disposed the resource.
type LeakEvent struct {
	Key       string
	Type      string
	Age       time.Duration
	Suspected bool
	Time      time.Time
}

func (e LeakEvent) Kind() Kind        { return KindResourceLeak }
func (e LeakEvent) Component() string { return "lifecycle" }
func (e LeakEvent) At() time.Time     { return e.Time }

// ErrorEvent mirrors one recorded error report. Kind/severity are carried as
// plain strings so consumers do not need the error taxonomy package.
type ErrorEvent struct {
	ErrKind     string
	Severity    string
	Op          string
	Comp        string
	Message     string
	Recoverable bool
	Time        time.Time
}

func (e ErrorEvent) Kind() Kind        { return KindErrorReported }
func (e ErrorEvent) Component() string { return e.Comp }
func (e ErrorEvent) At() time.Time     { return e.Time }

// AlertEvent surfaces an error-rate pattern, distinct from the individual
// reports that triggered it.
type AlertEvent struct {
	ErrorKind string
	Pattern   string
	Count     int
	Window    time.Duration
	Time      time.Time
}

func (e AlertEvent) Kind() Kind        { return KindErrorAlert }
func (e AlertEvent) Component() string { return "errors" }
func (e AlertEvent) At() time.Time     { return e.Time }

// BreakerEvent records a circuit breaker state transition.
type BreakerEvent struct {
	Name     string
	From     string
	To       string
	Failures int
	Time     time.Time
}

func (e BreakerEvent) Kind() Kind        { return KindBreakerState }
func (e BreakerEvent) Component() string { return "resilience" }
func (e BreakerEvent) At() time.Time     { return e.Time }

// MetricEvent publishes a single metric observation for collaborators that
// want to tail metrics instead of polling summaries.
type MetricEvent struct {
	Name  string
	Value float64
	Unit  string
	Time  time.Time
}

func (e MetricEvent) Kind() Kind        { return KindMetricSample }
func (e MetricEvent) Component() string { return "metrics" }
func (e MetricEvent) At() time.Time     { return e.Time }

// HealthEvent records a change of the aggregated health verdict.
type HealthEvent struct {
	Status   string
	Degraded []string
	Time     time.Time
}

func (e HealthEvent) Kind() Kind        { return KindHealthChanged }
func (e HealthEvent) Component() string { return "metrics" }
func (e HealthEvent) At() time.Time     { return e.Time }

// GenericEvent is the free-form fallback for collaborator payloads. Remote
// marks events that were republished from an external bridge; bridges must
// never forward a Remote event back out.
type GenericEvent struct {
	Source string
	Fields map[string]any
	Remote bool
	Time   time.Time
}

func (e GenericEvent) Kind() Kind        { return KindGeneric }
func (e GenericEvent) Component() string { return e.Source }
func (e GenericEvent) At() time.Time     { return e.Time }
