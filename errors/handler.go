package errors

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leeforge/runtimekit/bus"
	"github.com/leeforge/runtimekit/logging"
)

// DefaultHistoryLimit bounds the insertion-ordered report history.
const DefaultHistoryLimit = 100

// Context carries caller-side information about where an error happened.
// Meta doubles as the shared mutable parameter map handed to recovery
// strategies: a strategy that adjusts retry parameters writes them back into
// Meta for the caller and later strategies to see.
type Context struct {
	Op        string
	Component string
	Meta      map[string]any
}

// Report is one recorded error, as kept in history and served to operators.
type Report struct {
	Kind        Kind           `json:"kind"`
	Severity    Severity       `json:"severity"`
	Op          string         `json:"op,omitempty"`
	Component   string         `json:"component,omitempty"`
	Message     string         `json:"message"`
	Recoverable bool           `json:"recoverable"`
	Context     map[string]any `json:"context,omitempty"`
	At          time.Time      `json:"at"`
}

// Strategy attempts to recover from an error. Strategies are tried in
// registration order; the first success short-circuits the rest.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string
	// CanRecover reports whether the strategy applies to this error.
	CanRecover(e *Error) bool
	// Recover attempts recovery. params is the shared mutable map described
	// on Context.Meta. A nil return means recovered.
	Recover(ctx context.Context, e *Error, params map[string]any) error
}

type funcStrategy struct {
	name    string
	can     func(e *Error) bool
	attempt func(ctx context.Context, e *Error, params map[string]any) error
}

func (s *funcStrategy) Name() string             { return s.name }
func (s *funcStrategy) CanRecover(e *Error) bool { return s.can(e) }
func (s *funcStrategy) Recover(ctx context.Context, e *Error, params map[string]any) error {
	return s.attempt(ctx, e, params)
}

// NewStrategy builds a Strategy from plain functions.
func NewStrategy(
	name string,
	can func(e *Error) bool,
	attempt func(ctx context.Context, e *Error, params map[string]any) error,
) Strategy {
	return &funcStrategy{name: name, can: can, attempt: attempt}
}

// Handler is the central error recorder: bounded history, per-kind frequency
// counters, pattern alerts, bus publication, and pluggable recovery.
// Construct with NewHandler; safe for concurrent use.
type Handler struct {
	mu          sync.Mutex
	history     []Report
	frequencies map[Kind]int
	severities  map[Severity]int
	strategies  []Strategy
	patterns    *patternTracker

	limit  int
	clock  func() time.Time
	logger *zap.Logger
	events *bus.Bus
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithBus publishes ErrorEvents and AlertEvents onto the given bus.
func WithBus(b *bus.Bus) HandlerOption {
	return func(h *Handler) {
		h.events = b
	}
}

// WithHistoryLimit bounds the report history.
func WithHistoryLimit(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.limit = n
		}
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithSpikeRule overrides the spike alert rule (more than count reports of
// one kind inside window).
func WithSpikeRule(count int, window time.Duration) HandlerOption {
	return func(h *Handler) {
		h.patterns.spike = patternRule{count: count, window: window}
	}
}

// WithRecurringRule overrides the recurring alert rule.
func WithRecurringRule(count int, window time.Duration) HandlerOption {
	return func(h *Handler) {
		h.patterns.recurring = patternRule{count: count, window: window}
	}
}

// NewHandler creates a Handler with bounded history and default alert rules.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		frequencies: make(map[Kind]int),
		severities:  make(map[Severity]int),
		patterns:    newPatternTracker(),
		limit:       DefaultHistoryLimit,
		clock:       time.Now,
		logger:      logging.Global().Named("errors").Zap(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterStrategy appends a recovery strategy. Order of registration is
// order of attempts.
func (h *Handler) RegisterStrategy(s Strategy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.strategies = append(h.strategies, s)
}

// Handle records the error and attempts recovery. Recovery strategies are
// tried only for recoverable errors; the first success short-circuits and
// Handle returns nil. A non-recoverable error is returned to the caller
// after recording, so telemetry survives even when the caller re-raises.
// A recoverable error that no strategy recovers is swallowed after
// recording.
func (h *Handler) Handle(ctx context.Context, err error, ectx Context) error {
	if err == nil {
		return nil
	}

	e := h.record(err, ectx)

	if !e.Recoverable {
		return e
	}

	params := ectx.Meta
	if params == nil {
		params = make(map[string]any)
	}

	h.mu.Lock()
	strategies := make([]Strategy, len(h.strategies))
	copy(strategies, h.strategies)
	h.mu.Unlock()

	for _, s := range strategies {
		if !s.CanRecover(e) {
			continue
		}
		if rerr := s.Recover(ctx, e, params); rerr != nil {
			h.logger.Debug("recovery strategy failed",
				zap.String("strategy", s.Name()),
				zap.String("kind", string(e.Kind)),
				zap.Error(rerr))
			continue
		}
		h.logger.Info("error recovered",
			zap.String("strategy", s.Name()),
			zap.String("kind", string(e.Kind)),
			zap.String("op", e.Op))
		return nil
	}

	return nil
}

// Record is the telemetry-only path: history, counters, pattern alerts, and
// bus publication without any recovery attempt. The resilience layer calls
// it before re-raising, so failures are counted even when the caller
// swallows them.
func (h *Handler) Record(err error, ectx Context) {
	if err == nil {
		return
	}
	h.record(err, ectx)
}

// record classifies, snapshots, counts, and publishes one error.
func (h *Handler) record(err error, ectx Context) *Error {
	e := From(err)
	now := h.clock()

	report := Report{
		Kind:        e.Kind,
		Severity:    e.Severity,
		Op:          e.Op,
		Component:   e.Component,
		Message:     e.Error(),
		Recoverable: e.Recoverable,
		Context:     e.Context,
		At:          now,
	}
	if report.Op == "" {
		report.Op = ectx.Op
	}
	if report.Component == "" {
		report.Component = ectx.Component
	}

	h.mu.Lock()
	h.history = append(h.history, report)
	if len(h.history) > h.limit {
		h.history = h.history[len(h.history)-h.limit:]
	}
	h.frequencies[e.Kind]++
	h.severities[e.Severity]++
	alerts := h.patterns.observe(e.Kind, now)
	h.mu.Unlock()

	h.log(report)

	if h.events != nil {
		h.events.Publish(bus.TopicErrors, bus.ErrorEvent{
			ErrKind:     string(report.Kind),
			Severity:    string(report.Severity),
			Op:          report.Op,
			Comp:        report.Component,
			Message:     report.Message,
			Recoverable: report.Recoverable,
			Time:        now,
		})
		for _, a := range alerts {
			h.events.Publish(bus.TopicAlerts, bus.AlertEvent{
				ErrorKind: string(a.Kind),
				Pattern:   a.Pattern,
				Count:     a.Count,
				Window:    a.Window,
				Time:      a.At,
			})
		}
	}

	for _, a := range alerts {
		h.logger.Warn("error pattern alert",
			zap.String("kind", string(a.Kind)),
			zap.String("pattern", a.Pattern),
			zap.Int("count", a.Count),
			zap.Duration("window", a.Window))
	}

	return e
}

func (h *Handler) log(r Report) {
	fields := []zap.Field{
		zap.String("kind", string(r.Kind)),
		zap.String("severity", string(r.Severity)),
		zap.String("op", r.Op),
		zap.String("component", r.Component),
		zap.Bool("recoverable", r.Recoverable),
	}
	switch r.Severity {
	case SeverityCritical, SeverityHigh:
		h.logger.Error(r.Message, fields...)
	case SeverityMedium:
		h.logger.Warn(r.Message, fields...)
	default:
		h.logger.Debug(r.Message, fields...)
	}
}

// History returns a copy of the report history, oldest first.
func (h *Handler) History() []Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Report, len(h.history))
	copy(out, h.history)
	return out
}

// Frequencies returns a copy of the per-kind report counters.
func (h *Handler) Frequencies() map[Kind]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[Kind]int, len(h.frequencies))
	for k, v := range h.frequencies {
		out[k] = v
	}
	return out
}

// SeverityCounts returns a copy of the per-severity report counters.
func (h *Handler) SeverityCounts() map[Severity]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[Severity]int, len(h.severities))
	for s, v := range h.severities {
		out[s] = v
	}
	return out
}

// RecentAlerts returns a copy of recently fired pattern alerts, oldest
// first.
func (h *Handler) RecentAlerts() []Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.patterns.recent()
}

// Reset clears history, counters, alerts, and registered strategies.
// Intended for test isolation.
func (h *Handler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = nil
	h.frequencies = make(map[Kind]int)
	h.severities = make(map[Severity]int)
	h.strategies = nil
	h.patterns.reset()
}
