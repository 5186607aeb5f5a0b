// Package scheduler runs named one-shot and periodic background tasks with
// explicit cancel handles. Consumers schedule by id, so a task can be
// cancelled from anywhere that knows the name, and Stop tears the whole set
// down and waits for workers to exit.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/leeforge/runtimekit/errors"
	"github.com/leeforge/runtimekit/logging"
)

// Scheduler owns a set of named background tasks. Safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	stopped bool

	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	id     string
	cancel context.CancelFunc
}

// Handle identifies one scheduled task and can cancel it. The zero Handle
// is inert.
type Handle struct {
	id string
	s  *Scheduler
	t  *task
}

// ID returns the task id.
func (h Handle) ID() string { return h.id }

// Cancel stops the task. Cancelling an already finished or cancelled task
// is a no-op.
func (h Handle) Cancel() {
	if h.s == nil {
		return
	}
	h.s.cancelTask(h.id, h.t)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty Scheduler.
func New(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		tasks:  make(map[string]*task),
		logger: logging.Global().Named("scheduler").Zap(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// After schedules fn to run once after delay. The id must not collide with
// a live task; it frees up again when the task fires or is cancelled.
func (s *Scheduler) After(id string, delay time.Duration, fn func(context.Context)) (Handle, error) {
	if delay < 0 {
		return Handle{}, apperrors.Validation("delay", "must not be negative")
	}
	t, ctx, err := s.register(id)
	if err != nil {
		return Handle{}, err
	}

	go func() {
		defer s.wg.Done()
		defer s.remove(id, t)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			s.invoke(ctx, id, fn)
		}
	}()
	return Handle{id: id, s: s, t: t}, nil
}

// Every schedules fn to run on every interval tick until cancelled. Panics
// inside fn are recovered and logged; the ticker keeps running.
func (s *Scheduler) Every(id string, interval time.Duration, fn func(context.Context)) (Handle, error) {
	if interval <= 0 {
		return Handle{}, apperrors.Validation("interval", "must be positive")
	}
	t, ctx, err := s.register(id)
	if err != nil {
		return Handle{}, err
	}

	go func() {
		defer s.wg.Done()
		defer s.remove(id, t)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.invoke(ctx, id, fn)
			}
		}
	}()
	return Handle{id: id, s: s, t: t}, nil
}

// Cancel stops the live task with the given id. Returns false when no such
// task is live.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// Active returns the ids of live tasks, sorted.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Stop cancels every task and waits for the workers to exit. Scheduling
// after Stop fails.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) register(id string) (*task, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, nil, apperrors.Newf(apperrors.KindCancelled, "scheduler stopped, cannot schedule %q", id)
	}
	if _, exists := s.tasks[id]; exists {
		return nil, nil, apperrors.Newf(apperrors.KindConfiguration, "task %q is already scheduled", id)
	}
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{id: id, cancel: cancel}
	s.tasks[id] = t
	s.wg.Add(1)
	return t, ctx, nil
}

// remove frees the id, but only if it still maps to this task. Cancel may
// already have removed it, and the id may since have been reused.
func (s *Scheduler) remove(id string, t *task) {
	s.mu.Lock()
	if cur, ok := s.tasks[id]; ok && cur == t {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	t.cancel()
}

func (s *Scheduler) invoke(ctx context.Context, id string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked",
				zap.String("task", id),
				zap.Any("panic", r))
		}
	}()
	fn(ctx)
}

// cancelTask stops the task only when it is still the live owner of the id.
func (s *Scheduler) cancelTask(id string, t *task) bool {
	s.mu.Lock()
	cur, ok := s.tasks[id]
	if ok && cur == t {
		delete(s.tasks, id)
	} else {
		ok = false
	}
	s.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}
