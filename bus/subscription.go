package bus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Token identifies one subscription for the lifetime of the bus.
type Token string

// Handler consumes one event. Returned errors are logged and swallowed; they
// never reach the publisher.
type Handler func(ctx context.Context, ev Event) error

// subscription owns one worker goroutine draining a bounded queue, so each
// subscriber observes a single topic in publish order without ever blocking
// the publisher.
type subscription struct {
	token   Token
	topic   string
	handler Handler

	kinds     map[Kind]struct{} // nil accepts every kind
	filter    func(Event) bool
	transform func(Event) Event
	maxEvents int
	ttl       time.Duration
	debounce  time.Duration
	throttle  time.Duration

	queue    chan Event
	done     chan struct{}
	stopOnce sync.Once

	delivered int // worker-local, no lock needed
	bus       *Bus
}

// accepts reports whether the kind filter allows the event. Called under the
// bus mutex; must stay cheap.
func (s *subscription) accepts(ev Event) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[ev.Kind()]
	return ok
}

// enqueue adds an event to the delivery queue, dropping the oldest queued
// event when full. Called under the bus mutex.
func (s *subscription) enqueue(ev Event) {
	select {
	case s.queue <- ev:
		return
	default:
	}

	// Queue full: make room by discarding the oldest entry. The worker may
	// race us and drain in between, so the second send can still miss; then
	// the newest event is the one dropped.
	select {
	case <-s.queue:
	default:
	}
	select {
	case s.queue <- ev:
	default:
	}

	s.bus.dropped.Add(1)
	s.bus.logger.Warn("subscription queue overflow, oldest event dropped",
		zap.String("topic", s.topic),
		zap.String("token", string(s.token)))
}

// stop makes the worker exit. Idempotent.
func (s *subscription) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// run is the worker loop. It applies the predicate filter, rate limiting,
// transform, and cap accounting, and invokes the handler outside any lock.
func (s *subscription) run(ctx context.Context) {
	defer s.bus.wg.Done()

	var (
		debounceTimer *time.Timer
		debounceC     <-chan time.Time
		pending       Event
		hasPending    bool
		windowStart   time.Time
		ttlC          <-chan time.Time
	)

	if s.ttl > 0 {
		ttlTimer := time.NewTimer(s.ttl)
		defer ttlTimer.Stop()
		ttlC = ttlTimer.C
	}
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-s.done:
			return

		case <-ttlC:
			s.bus.expire(s.token, "ttl elapsed")
			return

		case <-debounceC:
			debounceC = nil
			if hasPending {
				hasPending = false
				if s.invoke(ctx, pending) {
					return
				}
			}

		case ev := <-s.queue:
			// The token may have been cancelled between enqueue and drain.
			select {
			case <-s.done:
				return
			default:
			}

			if s.filter != nil && !s.accept(ev) {
				continue
			}

			if s.throttle > 0 {
				now := s.bus.now()
				if !windowStart.IsZero() && now.Sub(windowStart) < s.throttle {
					continue
				}
				windowStart = now
				if s.invoke(ctx, ev) {
					return
				}
				continue
			}

			if s.debounce > 0 {
				pending, hasPending = ev, true
				if debounceTimer == nil {
					debounceTimer = time.NewTimer(s.debounce)
				} else {
					if !debounceTimer.Stop() {
						select {
						case <-debounceTimer.C:
						default:
						}
					}
					debounceTimer.Reset(s.debounce)
				}
				debounceC = debounceTimer.C
				continue
			}

			if s.invoke(ctx, ev) {
				return
			}
		}
	}
}

// accept runs the user predicate, treating a panic as rejection.
func (s *subscription) accept(ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.bus.logger.Error("subscription filter panicked",
				zap.String("topic", s.topic),
				zap.String("token", string(s.token)),
				zap.Any("panic", r))
			ok = false
		}
	}()
	return s.filter(ev)
}

// invoke runs transform + handler with panic isolation, counts the
// invocation against the cap, and reports whether the worker should exit
// because the cap was reached.
func (s *subscription) invoke(ctx context.Context, ev Event) (exhausted bool) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.bus.logger.Error("event handler panicked",
					zap.String("topic", s.topic),
					zap.String("token", string(s.token)),
					zap.String("kind", string(ev.Kind())),
					zap.Any("panic", r))
			}
		}()

		if s.transform != nil {
			ev = s.transform(ev)
		}
		if err := s.handler(ctx, ev); err != nil {
			s.bus.logger.Warn("event handler error",
				zap.String("topic", s.topic),
				zap.String("token", string(s.token)),
				zap.String("kind", string(ev.Kind())),
				zap.Error(err))
		}
	}()

	s.bus.delivered.Add(1)
	s.delivered++
	if s.maxEvents > 0 && s.delivered >= s.maxEvents {
		s.bus.expire(s.token, "event cap reached")
		return true
	}
	return false
}
