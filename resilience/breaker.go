// Package resilience wraps fallible operations with circuit breaking,
// retry with exponential backoff, and timeout/cancellation guards. The
// pieces compose through Executor or can be used on their own.
package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leeforge/runtimekit/bus"
	apperrors "github.com/leeforge/runtimekit/errors"
	"github.com/leeforge/runtimekit/logging"
	"github.com/leeforge/runtimekit/metrics"
)

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	// StateClosed means normal operation: calls run, failures are counted.
	StateClosed BreakerState = iota

	// StateOpen means too many failures: calls are rejected until the
	// reset timeout elapses.
	StateOpen

	// StateHalfOpen means the breaker is probing whether the protected
	// operation has recovered.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold         = 5
	DefaultResetTimeout             = 30 * time.Second
	DefaultHalfOpenSuccessThreshold = 1
)

// BreakerConfig holds circuit breaker behavior. Zero fields fall back to
// the package defaults.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// breaker opens.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before letting a
	// probe call through.
	ResetTimeout time.Duration

	// HalfOpenSuccessThreshold is the number of consecutive probe
	// successes required to close again.
	HalfOpenSuccessThreshold int

	// OnOpen and OnClose fire on the matching transition, outside the
	// breaker lock.
	OnOpen  func(name string)
	OnClose func(name string)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccessThreshold <= 0 {
		c.HalfOpenSuccessThreshold = DefaultHalfOpenSuccessThreshold
	}
	return c
}

// BreakerStats is a point-in-time view of one breaker.
type BreakerStats struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	Rejections          int64     `json:"rejections"`
	OpenedAt            time.Time `json:"openedAt"`
	LastFailure         time.Time `json:"lastFailure"`
}

// Breaker is a single named circuit breaker. All state transitions are
// serialized by one mutex; the protected operation runs outside it.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu                sync.Mutex
	state             BreakerState
	failures          int
	halfOpenSuccesses int
	openedAt          time.Time
	lastFailure       time.Time
	successTotal      int64
	failureTotal      int64
	rejections        int64

	clock  func() time.Time
	logger *zap.Logger
	events *bus.Bus
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithLogger sets the breaker logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBus publishes BreakerEvent transitions to eb.
func WithBus(eb *bus.Bus) Option {
	return func(b *Breaker) { b.events = eb }
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(b *Breaker) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// NewBreaker creates a closed breaker with the given name.
func NewBreaker(name string, cfg BreakerConfig, opts ...Option) *Breaker {
	b := &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		state: StateClosed,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.Global().Named("resilience").Zap()
	}
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// Execute runs op through the breaker. An open breaker rejects the call
// with a circuit-open error without invoking op.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	if err := op(ctx); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// Call runs a value-returning op through the breaker.
func Call[T any](b *Breaker, ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// allow admits or rejects the next call, moving an expired open breaker
// to half-open on the way.
func (b *Breaker) allow() error {
	b.mu.Lock()
	now := b.clock()

	if b.state == StateOpen {
		if now.Sub(b.openedAt) < b.cfg.ResetTimeout {
			retryAfter := b.openedAt.Add(b.cfg.ResetTimeout)
			b.rejections++
			b.mu.Unlock()
			return apperrors.CircuitOpen(b.name, retryAfter)
		}
		notify := b.transitionLocked(StateHalfOpen, now)
		b.mu.Unlock()
		notify()
		return nil
	}

	b.mu.Unlock()
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	now := b.clock()
	b.successTotal++

	notify := func() {}
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenSuccessThreshold {
			notify = b.transitionLocked(StateClosed, now)
		}
	case StateOpen:
		// A call admitted before the breaker opened came back good;
		// treat it like a successful probe.
		notify = b.transitionLocked(StateClosed, now)
	}
	b.mu.Unlock()
	notify()
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	now := b.clock()
	b.failureTotal++
	b.lastFailure = now

	notify := func() {}
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			notify = b.transitionLocked(StateOpen, now)
		}
	case StateHalfOpen:
		b.failures = b.cfg.FailureThreshold
		notify = b.transitionLocked(StateOpen, now)
	case StateOpen:
		// Late failure from a call admitted earlier; the breaker is
		// already open.
	}
	b.mu.Unlock()
	notify()
}

// transitionLocked flips the state and returns the notification to run
// after the lock is released. Caller holds b.mu.
func (b *Breaker) transitionLocked(to BreakerState, now time.Time) func() {
	from := b.state
	b.state = to
	failures := b.failures
	switch to {
	case StateOpen:
		b.openedAt = now
		b.halfOpenSuccesses = 0
	case StateHalfOpen:
		b.halfOpenSuccesses = 0
	case StateClosed:
		b.failures = 0
		b.halfOpenSuccesses = 0
	}

	return func() {
		b.logger.Info("breaker state changed",
			zap.String("breaker", b.name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if b.events != nil {
			b.events.Publish(bus.TopicBreakers, bus.BreakerEvent{
				Name:     b.name,
				From:     from.String(),
				To:       to.String(),
				Failures: failures,
				Time:     now,
			})
		}
		if to == StateOpen && b.cfg.OnOpen != nil {
			b.cfg.OnOpen(b.name)
		}
		if to == StateClosed && b.cfg.OnClose != nil {
			b.cfg.OnClose(b.name)
		}
	}
}

// State returns the effective state: an open breaker whose reset timeout
// has elapsed reads as half-open without mutating anything. The actual
// transition happens on the next Execute.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.clock().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.state
	if state == StateOpen && b.clock().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		state = StateHalfOpen
	}
	return BreakerStats{
		Name:                b.name,
		State:               state.String(),
		ConsecutiveFailures: b.failures,
		Successes:           b.successTotal,
		Failures:            b.failureTotal,
		Rejections:          b.rejections,
		OpenedAt:            b.openedAt,
		LastFailure:         b.lastFailure,
	}
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	notify := func() {}
	if b.state != StateClosed {
		notify = b.transitionLocked(StateClosed, b.clock())
	}
	b.failures = 0
	b.halfOpenSuccesses = 0
	b.mu.Unlock()
	notify()
}

// BreakerSet is a registry of named breakers sharing one default config.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
	opts     []Option
}

// NewBreakerSet creates a registry whose breakers are lazily constructed
// with cfg and opts.
func NewBreakerSet(cfg BreakerConfig, opts ...Option) *BreakerSet {
	return &BreakerSet{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		opts:     opts,
	}
}

// Get returns the named breaker, creating it on first use.
func (s *BreakerSet) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		b = NewBreaker(name, s.cfg, s.opts...)
		s.breakers[name] = b
	}
	return b
}

// Names returns the registered breaker names, sorted.
func (s *BreakerSet) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.breakers))
	for name := range s.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// States returns the effective state of every registered breaker.
func (s *BreakerSet) States() map[string]BreakerState {
	s.mu.Lock()
	snapshot := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		snapshot = append(snapshot, b)
	}
	s.mu.Unlock()

	out := make(map[string]BreakerState, len(snapshot))
	for _, b := range snapshot {
		out[b.name] = b.State()
	}
	return out
}

// Stats returns snapshots of every registered breaker, sorted by name.
func (s *BreakerSet) Stats() []BreakerStats {
	s.mu.Lock()
	snapshot := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		snapshot = append(snapshot, b)
	}
	s.mu.Unlock()

	out := make([]BreakerStats, 0, len(snapshot))
	for _, b := range snapshot {
		out = append(out, b.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResetAll forces every registered breaker closed.
func (s *BreakerSet) ResetAll() {
	s.mu.Lock()
	snapshot := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		snapshot = append(snapshot, b)
	}
	s.mu.Unlock()

	for _, b := range snapshot {
		b.Reset()
	}
}

// HealthCheck reports warn when any breaker is open.
func (s *BreakerSet) HealthCheck(ctx context.Context) metrics.Check {
	var open []string
	for name, state := range s.States() {
		if state == StateOpen {
			open = append(open, name)
		}
	}
	sort.Strings(open)

	check := metrics.Check{
		Component:  "resilience",
		Status:     metrics.CheckPass,
		ObservedAt: time.Now(),
	}
	if len(open) > 0 {
		check.Status = metrics.CheckWarn
		check.Detail = fmt.Sprintf("open breakers: %v", open)
	} else {
		check.Detail = fmt.Sprintf("%d breakers closed or probing", len(s.Names()))
	}
	return check
}
