// Package lifecycle tracks registered resources through a one-way state
// machine and tears them down in dependency order. Dependents are always
// disposed before the resources they depend on; within a tier, higher
// priority disposes first.
package lifecycle

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
	"github.com/leeforge/runtimekit/scheduler"
)

const (
	// DefaultSweepInterval is how often the leak sweeper runs.
	DefaultSweepInterval = 2 * time.Minute
	// DefaultLeakAge is how long a resource may stay initialized before it
	// is flagged as a suspected leak.
	DefaultLeakAge = 30 * time.Minute
	// DefaultAuditLimit bounds the disposal audit log.
	DefaultAuditLimit = 128

	// replaceDisposeTimeout bounds the fire-and-forget disposal of a
	// registration that was replaced under the same key.
	replaceDisposeTimeout = 30 * time.Second
)

// resource is the manager's mutable record for one registration.
type resource struct {
	Registration
	suspected bool
}

// Manager owns the resource registry. It is the single writer of each
// registration's state; init and dispose funcs run outside the lock.
type Manager struct {
	mu        sync.RWMutex
	resources map[string]*resource
	audit     []AuditEntry

	disposalFailures   int
	windowFailures     int
	lastWindowFailures int
	initFailures       int
	suspectedLeaks     int

	// initMu serializes Initialize walks so the in-flight path check sees
	// a consistent picture.
	initMu sync.Mutex

	auditLimit    int
	sweepInterval time.Duration
	leakAge       time.Duration
	clock         func() time.Time
	logger        *zap.Logger
	events        *bus.Bus
	sched         *scheduler.Scheduler
	sweepHandle   scheduler.Handle
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithBus publishes ResourceEvents and LeakEvents to b.
func WithBus(b *bus.Bus) Option {
	return func(m *Manager) { m.events = b }
}

// WithScheduler enables the leak sweeper on s.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(m *Manager) { m.sched = s }
}

// WithSweepInterval overrides how often the sweeper runs.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithLeakAge overrides the age after which an initialized resource is
// flagged as a suspected leak.
func WithLeakAge(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.leakAge = d
		}
	}
}

// WithAuditLimit bounds the disposal audit log.
func WithAuditLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.auditLimit = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewManager creates a manager. If a scheduler is provided the leak
// sweeper starts immediately and runs until Close.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		resources:     make(map[string]*resource),
		auditLimit:    DefaultAuditLimit,
		sweepInterval: DefaultSweepInterval,
		leakAge:       DefaultLeakAge,
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.Global().Named("lifecycle").Zap()
	}
	if m.sched != nil {
		handle, err := m.sched.Every(sweepTaskID, m.sweepInterval, m.sweep)
		if err != nil {
			m.logger.Warn("leak sweeper not started", zap.Error(err))
		} else {
			m.sweepHandle = handle
		}
	}
	return m
}

// Register adds or replaces a resource under key. Replacing disposes the
// previous registration asynchronously; its outcome is logged and audited
// but never surfaces to the caller. A dependency list that would close a
// cycle is rejected with the registry left untouched.
func (m *Manager) Register(key string, value any, opts ...RegisterOption) error {
	if key == "" {
		return apperrors.Validation("key", "must not be empty")
	}

	reg := Registration{
		Key:       key,
		Value:     value,
		Type:      "generic",
		State:     StateRegistered,
		CreatedAt: m.clock(),
	}
	for _, opt := range opts {
		opt(&reg)
	}

	m.mu.Lock()
	if m.wouldCycle(key, reg.Dependencies) {
		m.mu.Unlock()
		return apperrors.Newf(apperrors.KindConfiguration,
			"registering %q would create a dependency cycle", key)
	}
	prev, replaced := m.resources[key]
	if replaced && prev.suspected {
		m.suspectedLeaks--
	}
	m.resources[key] = &resource{Registration: reg}
	m.mu.Unlock()

	if replaced && !prev.State.IsTerminal() {
		go m.disposeReplaced(prev)
	}

	m.publish(key, reg.Type, StateRegistered, StateRegistered, nil)
	m.logger.Debug("resource registered",
		zap.String("key", key),
		zap.String("type", reg.Type),
		zap.Strings("dependencies", reg.Dependencies),
	)
	return nil
}

// Initialize brings key to StateInitialized, depth-first initializing its
// not-yet-initialized dependencies first. Already-initialized keys are
// no-ops. A key seen twice on the in-flight path means the dependency
// check was bypassed by a concurrent re-registration; it fails rather
// than recursing forever.
func (m *Manager) Initialize(ctx context.Context, key string) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	return m.initialize(ctx, key, make(map[string]bool))
}

func (m *Manager) initialize(ctx context.Context, key string, path map[string]bool) error {
	if path[key] {
		return apperrors.Newf(apperrors.KindConfiguration,
			"circular initialization detected at %q", key)
	}

	m.mu.RLock()
	res, ok := m.resources[key]
	if !ok {
		m.mu.RUnlock()
		return apperrors.NotFound(key)
	}
	switch res.State {
	case StateInitialized:
		m.mu.RUnlock()
		return nil
	case StateDisposing, StateDisposed:
		state := res.State
		m.mu.RUnlock()
		return apperrors.Newf(apperrors.KindValidation,
			"resource %q is %s and cannot be initialized", key, state)
	}
	deps := append([]string(nil), res.Dependencies...)
	typ := res.Type
	m.mu.RUnlock()

	path[key] = true
	defer delete(path, key)

	for _, dep := range deps {
		m.mu.RLock()
		_, exists := m.resources[dep]
		m.mu.RUnlock()
		if !exists {
			return apperrors.Newf(apperrors.KindNotFound,
				"resource %q depends on %q which is not registered", key, dep)
		}
		if err := m.initialize(ctx, dep, path); err != nil {
			return err
		}
	}

	m.mu.Lock()
	res, ok = m.resources[key]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound(key)
	}
	if res.State == StateInitialized {
		m.mu.Unlock()
		return nil
	}
	from := res.State
	res.State = StateInitializing
	fn := res.initFn
	m.mu.Unlock()

	m.publish(key, typ, from, StateInitializing, nil)

	var err error
	if fn != nil {
		err = fn(ctx)
	}

	m.mu.Lock()
	cur, present := m.resources[key]
	stale := !present || cur != res || res.State != StateInitializing
	if !stale {
		if err != nil {
			res.State = StateError
			delete(m.resources, key)
			m.initFailures++
		} else {
			res.State = StateInitialized
			res.InitializedAt = m.clock()
		}
	}
	m.mu.Unlock()

	if stale {
		m.logger.Warn("resource replaced or disposed during initialization",
			zap.String("key", key))
		if err != nil {
			return apperrors.Wrap(err, apperrors.KindInitialization,
				fmt.Sprintf("initialize %q", key))
		}
		return nil
	}
	if err != nil {
		m.publish(key, typ, StateInitializing, StateError, err)
		m.logger.Error("resource initialization failed",
			zap.String("key", key), zap.Error(err))
		return apperrors.Wrap(err, apperrors.KindInitialization,
			fmt.Sprintf("initialize %q", key))
	}
	m.publish(key, typ, StateInitializing, StateInitialized, nil)
	m.logger.Debug("resource initialized", zap.String("key", key))
	return nil
}

// Dispose tears down key after recursively disposing every resource that
// still depends on it. Unknown, disposing and disposed keys are no-ops.
// Failures transition the resource to StateError and are returned, but
// sibling dependents are still attempted.
func (m *Manager) Dispose(ctx context.Context, key string) error {
	m.mu.RLock()
	_, ok := m.resources[key]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return m.disposeCascade(ctx, key)
}

func (m *Manager) disposeCascade(ctx context.Context, key string) error {
	m.mu.RLock()
	dependents := m.dependentsOf(key)
	m.mu.RUnlock()

	var errs []error
	for _, dependent := range dependents {
		if err := m.disposeCascade(ctx, dependent); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.disposeOne(ctx, key); err != nil {
		errs = append(errs, err)
	}

	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return apperrors.Aggregate(fmt.Sprintf("dispose %q", key), errs...)
	}
}

// disposeOne runs the teardown of a single key without touching its
// dependents. The StateDisposing flag blocks re-entrant disposal while
// the dispose func is still running.
func (m *Manager) disposeOne(ctx context.Context, key string) error {
	m.mu.Lock()
	res, ok := m.resources[key]
	if !ok || res.State == StateDisposing || res.State.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	from := res.State
	res.State = StateDisposing
	fn := res.disposeFn
	typ := res.Type
	m.mu.Unlock()

	m.publish(key, typ, from, StateDisposing, nil)

	var err error
	if fn != nil {
		err = fn(ctx)
	}

	m.mu.Lock()
	m.appendAudit(key, typ, err)
	if res.suspected {
		res.suspected = false
		m.suspectedLeaks--
	}
	if err != nil {
		res.State = StateError
		delete(m.resources, key)
		m.disposalFailures++
		m.windowFailures++
	} else {
		res.State = StateDisposed
	}
	m.mu.Unlock()

	if err != nil {
		m.publish(key, typ, StateDisposing, StateError, err)
		m.logger.Error("resource disposal failed",
			zap.String("key", key), zap.Error(err))
		return apperrors.OperationFailed(fmt.Sprintf("dispose %q", key), err)
	}
	m.publish(key, typ, StateDisposing, StateDisposed, nil)
	m.logger.Debug("resource disposed", zap.String("key", key))
	return nil
}

// DisposeAll tears down every tracked resource in one precomputed order:
// dependents before dependencies, ties broken by descending priority then
// key. Individual failures are collected and returned as one aggregate.
func (m *Manager) DisposeAll(ctx context.Context) error {
	m.mu.RLock()
	order := m.disposalOrder(nil)
	m.mu.RUnlock()
	return m.disposeInOrder(ctx, "dispose all", order)
}

// DisposeGroup tears down the group's members, ordered by the dependency
// edges among them. Resources outside the group are left alone.
func (m *Manager) DisposeGroup(ctx context.Context, group string) error {
	m.mu.RLock()
	order := m.disposalOrder(func(r *resource) bool { return r.Group == group })
	m.mu.RUnlock()
	return m.disposeInOrder(ctx, fmt.Sprintf("dispose group %q", group), order)
}

// DisposeTag tears down every resource carrying tag, ordered by the
// dependency edges among them.
func (m *Manager) DisposeTag(ctx context.Context, tag string) error {
	m.mu.RLock()
	order := m.disposalOrder(func(r *resource) bool { return r.hasTag(tag) })
	m.mu.RUnlock()
	return m.disposeInOrder(ctx, fmt.Sprintf("dispose tag %q", tag), order)
}

func (m *Manager) disposeInOrder(ctx context.Context, op string, order []string) error {
	var errs []error
	for _, key := range order {
		if err := m.disposeOne(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return apperrors.Aggregate(op, errs...)
	}
	return nil
}

// Get returns a snapshot copy of the registration under key.
func (m *Manager) Get(key string) (Registration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.resources[key]
	if !ok {
		return Registration{}, false
	}
	return res.Registration.clone(), true
}

// Keys returns all tracked keys, sorted.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.resources))
	for key := range m.resources {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ByType returns snapshots of all registrations of the given type.
func (m *Manager) ByType(t string) []Registration {
	return m.selectWhere(func(r *resource) bool { return r.Type == t })
}

// ByGroup returns snapshots of all registrations in the given group.
func (m *Manager) ByGroup(g string) []Registration {
	return m.selectWhere(func(r *resource) bool { return r.Group == g })
}

// ByTag returns snapshots of all registrations carrying the given tag.
func (m *Manager) ByTag(tag string) []Registration {
	return m.selectWhere(func(r *resource) bool { return r.hasTag(tag) })
}

func (m *Manager) selectWhere(match func(*resource) bool) []Registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Registration
	for _, res := range m.resources {
		if match(res) {
			out = append(out, res.Registration.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Statistics returns a point-in-time summary of the registry.
func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Statistics{
		Total:            len(m.resources),
		States:           make(map[string]int),
		Types:            make(map[string]int),
		Groups:           make(map[string]int),
		DisposalFailures: m.disposalFailures,
		InitFailures:     m.initFailures,
		SuspectedLeaks:   m.suspectedLeaks,
		AuditEntries:     len(m.audit),
	}
	for _, res := range m.resources {
		stats.States[res.State.String()]++
		stats.Types[res.Type]++
		if res.Group != "" {
			stats.Groups[res.Group]++
		}
	}
	return stats
}

// AuditLog returns a copy of the disposal audit log, oldest first.
func (m *Manager) AuditLog() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AuditEntry(nil), m.audit...)
}

// HealthCheck reports manager health. Disposal failures in the current or
// previous sweep window fail the check; suspected leaks degrade it.
func (m *Manager) HealthCheck(ctx context.Context) metrics.Check {
	m.mu.RLock()
	failures := m.windowFailures + m.lastWindowFailures
	leaks := m.suspectedLeaks
	total := len(m.resources)
	m.mu.RUnlock()

	check := metrics.Check{
		Component:  "lifecycle",
		Status:     metrics.CheckPass,
		ObservedAt: m.clock(),
	}
	switch {
	case failures > 0:
		check.Status = metrics.CheckFail
		check.Detail = fmt.Sprintf("%d disposal failure(s) in the last sweep window", failures)
	case leaks > 0:
		check.Status = metrics.CheckWarn
		check.Detail = fmt.Sprintf("%d suspected resource leak(s)", leaks)
	default:
		check.Detail = fmt.Sprintf("%d resources tracked", total)
	}
	return check
}

// Close stops the sweeper and disposes every tracked resource.
func (m *Manager) Close(ctx context.Context) error {
	m.sweepHandle.Cancel()
	err := m.DisposeAll(ctx)
	if err != nil {
		m.logger.Error("lifecycle manager closed with disposal failures", zap.Error(err))
		return err
	}
	m.logger.Info("lifecycle manager closed")
	return nil
}

// --- Internal ---

// disposeReplaced runs the old registration's teardown after its key was
// taken over by a new one. Fire and forget: the outcome is audited and
// logged only.
func (m *Manager) disposeReplaced(prev *resource) {
	var err error
	if prev.disposeFn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), replaceDisposeTimeout)
		defer cancel()
		err = prev.disposeFn(ctx)
	}

	m.mu.Lock()
	m.appendAudit(prev.Key, prev.Type, err)
	if err != nil {
		m.disposalFailures++
		m.windowFailures++
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("disposal of replaced resource failed",
			zap.String("key", prev.Key), zap.Error(err))
		return
	}
	m.logger.Debug("replaced resource disposed", zap.String("key", prev.Key))
}

// appendAudit records one disposal outcome. Caller holds m.mu.
func (m *Manager) appendAudit(key, typ string, err error) {
	entry := AuditEntry{Key: key, Type: typ, At: m.clock()}
	if err != nil {
		entry.Err = err.Error()
	}
	m.audit = append(m.audit, entry)
	if len(m.audit) > m.auditLimit {
		m.audit = m.audit[len(m.audit)-m.auditLimit:]
	}
}

// publish emits one state transition. Never called with m.mu held: the
// bus dispatches synchronously and handlers may call back into the
// manager.
func (m *Manager) publish(key, typ string, from, to State, err error) {
	if m.events == nil {
		return
	}
	ev := bus.ResourceEvent{
		Key:  key,
		Type: typ,
		To:   to.String(),
		Time: m.clock(),
	}
	if from != to {
		ev.From = from.String()
	}
	if err != nil {
		ev.Err = err.Error()
	}
	m.events.Publish(bus.TopicResources, ev)
}

func (r *resource) hasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
