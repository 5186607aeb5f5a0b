package bus

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultCacheCapacity bounds a topic cache when no capacity is given.
	DefaultCacheCapacity = 10
	// DefaultQueueSize bounds each subscription's delivery queue.
	DefaultQueueSize = 64
)

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithLogger sets the bus logger. Defaults to the global logger named "bus".
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithCachedTopic enables caching for a topic up front. Capacity values of
// zero or below fall back to DefaultCacheCapacity.
func WithCachedTopic(topic string, capacity int) Option {
	return func(b *Bus) {
		if capacity <= 0 {
			capacity = DefaultCacheCapacity
		}
		b.caches[topic] = newEventCache(capacity)
	}
}

// WithQueueSize sets the per-subscription delivery queue size.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithClock overrides the time source used for throttle windows. Tests only.
func WithClock(clock func() time.Time) Option {
	return func(b *Bus) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// SubscribeOption configures one subscription.
type SubscribeOption func(*subscription)

// WithKinds restricts delivery to the given event kinds.
func WithKinds(kinds ...Kind) SubscribeOption {
	return func(s *subscription) {
		if len(kinds) == 0 {
			return
		}
		if s.kinds == nil {
			s.kinds = make(map[Kind]struct{}, len(kinds))
		}
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
}

// WithFilter restricts delivery to events the predicate accepts. The
// predicate runs on the subscription's worker, never under the bus lock.
func WithFilter(filter func(Event) bool) SubscribeOption {
	return func(s *subscription) {
		s.filter = filter
	}
}

// WithTransform rewrites each event before it reaches the handler.
func WithTransform(transform func(Event) Event) SubscribeOption {
	return func(s *subscription) {
		s.transform = transform
	}
}

// WithMaxEvents cancels the subscription after n handler invocations.
func WithMaxEvents(n int) SubscribeOption {
	return func(s *subscription) {
		if n > 0 {
			s.maxEvents = n
		}
	}
}

// WithTTL cancels the subscription after d, whether or not anything was
// delivered.
func WithTTL(d time.Duration) SubscribeOption {
	return func(s *subscription) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithDebounce delivers only after d has elapsed with no further events on
// this subscription; each arrival resets the timer and replaces the pending
// event.
func WithDebounce(d time.Duration) SubscribeOption {
	return func(s *subscription) {
		if d > 0 {
			s.debounce = d
			s.throttle = 0
		}
	}
}

// WithThrottle delivers the first event of each window of length d and drops
// the rest of that window.
func WithThrottle(d time.Duration) SubscribeOption {
	return func(s *subscription) {
		if d > 0 {
			s.throttle = d
			s.debounce = 0
		}
	}
}
