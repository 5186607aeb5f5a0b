package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leeforge/runtimekit/logging"
)

// Bus is the topic-addressed event bus. Construct with New; the zero value is
// not usable. All exported methods are safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	topics map[string][]*subscription
	subs   map[Token]*subscription
	caches map[string]*eventCache

	paused     bool
	pauseQueue []queuedEvent
	closed     bool

	queueSize int
	clock     func() time.Time
	logger    *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	queued    atomic.Uint64
}

type queuedEvent struct {
	topic string
	event Event
}

// Stats is a point-in-time snapshot of bus state, suitable for health checks.
type Stats struct {
	Topics        int    `json:"topics"`
	Subscriptions int    `json:"subscriptions"`
	CachedTopics  int    `json:"cachedTopics"`
	Paused        bool   `json:"paused"`
	PauseQueueLen int    `json:"pauseQueueLen"`
	Published     uint64 `json:"published"`
	Delivered     uint64 `json:"delivered"`
	Dropped       uint64 `json:"dropped"`
	Queued        uint64 `json:"queued"`
}

// New creates a Bus ready for use.
func New(opts ...Option) *Bus {
	b := &Bus{
		topics:    make(map[string][]*subscription),
		subs:      make(map[Token]*subscription),
		caches:    make(map[string]*eventCache),
		queueSize: DefaultQueueSize,
		clock:     time.Now,
		logger:    logging.Global().Named("bus").Zap(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.baseCtx, b.cancel = context.WithCancel(context.Background())
	return b
}

func (b *Bus) now() time.Time {
	return b.clock()
}

// Publish delivers an event to every live subscription on the topic whose
// kind filter accepts it. Fire-and-forget: handler outcomes never reach the
// publisher. While the bus is paused the event is queued globally instead,
// and the topic cache is only written when the queue is drained. With no
// subscribers and no cache the event is dropped silently.
func (b *Bus) Publish(topic string, ev Event) {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		b.dropped.Add(1)
		b.logger.Warn("publish on closed bus dropped", zap.String("topic", topic))
		return
	}

	if b.paused {
		b.pauseQueue = append(b.pauseQueue, queuedEvent{topic: topic, event: ev})
		b.queued.Add(1)
		b.mu.Unlock()
		return
	}

	b.publishLocked(topic, ev)
	b.mu.Unlock()
}

// publishLocked runs the cache + fan-out path. Caller holds b.mu.
func (b *Bus) publishLocked(topic string, ev Event) {
	b.published.Add(1)

	if cache, ok := b.caches[topic]; ok {
		cache.add(ev)
	}

	for _, sub := range b.topics[topic] {
		if sub.accepts(ev) {
			sub.enqueue(ev)
		}
	}
}

// Subscribe registers a handler on a topic and returns its cancellation
// token. Cached events that pass the subscription's kind filter are replayed
// in insertion order before any live event.
func (b *Bus) Subscribe(topic string, h Handler, opts ...SubscribeOption) Token {
	sub := &subscription{
		token:   Token(uuid.NewString()),
		topic:   topic,
		handler: h,
		done:    make(chan struct{}),
		bus:     b,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.logger.Warn("subscribe on closed bus ignored", zap.String("topic", topic))
		close(sub.done)
		return sub.token
	}

	// Size the queue so a full cache replay can never overflow it.
	queueCap := b.queueSize
	var replay []Event
	if cache, ok := b.caches[topic]; ok && cache.len() > 0 {
		replay = cache.snapshot()
		queueCap += len(replay)
	}
	sub.queue = make(chan Event, queueCap)

	for _, ev := range replay {
		if sub.accepts(ev) {
			sub.queue <- ev
		}
	}

	b.topics[topic] = append(b.topics[topic], sub)
	b.subs[sub.token] = sub

	b.wg.Add(1)
	go sub.run(b.baseCtx)

	return sub.token
}

// SubscribeFiltered subscribes with a predicate filter.
func (b *Bus) SubscribeFiltered(topic string, h Handler, filter func(Event) bool, opts ...SubscribeOption) Token {
	return b.Subscribe(topic, h, append([]SubscribeOption{WithFilter(filter)}, opts...)...)
}

// SubscribeOnce subscribes for exactly one delivery.
func (b *Bus) SubscribeOnce(topic string, h Handler, opts ...SubscribeOption) Token {
	return b.Subscribe(topic, h, append([]SubscribeOption{WithMaxEvents(1)}, opts...)...)
}

// SubscribeDebounced subscribes with debounce rate limiting.
func (b *Bus) SubscribeDebounced(topic string, h Handler, d time.Duration, opts ...SubscribeOption) Token {
	return b.Subscribe(topic, h, append([]SubscribeOption{WithDebounce(d)}, opts...)...)
}

// SubscribeThrottled subscribes with throttle rate limiting.
func (b *Bus) SubscribeThrottled(topic string, h Handler, d time.Duration, opts ...SubscribeOption) Token {
	return b.Subscribe(topic, h, append([]SubscribeOption{WithThrottle(d)}, opts...)...)
}

// On subscribes a handler for a single event shape; other kinds on the topic
// are filtered out at the bus level.
func On[T Event](b *Bus, topic string, h func(ctx context.Context, ev T) error, opts ...SubscribeOption) Token {
	var zero T
	all := append([]SubscribeOption{WithKinds(zero.Kind())}, opts...)
	return b.Subscribe(topic, func(ctx context.Context, ev Event) error {
		typed, ok := ev.(T)
		if !ok {
			return nil
		}
		return h(ctx, typed)
	}, all...)
}

// Unsubscribe cancels the subscription for the token. Idempotent: an unknown
// or already-cancelled token logs a warning and is a no-op. Removing the last
// subscription of an uncached topic tears the topic down.
func (b *Bus) Unsubscribe(token Token) {
	b.mu.Lock()
	sub, ok := b.subs[token]
	if !ok {
		b.mu.Unlock()
		b.logger.Warn("unsubscribe for unknown token", zap.String("token", string(token)))
		return
	}
	b.removeLocked(sub)
	b.mu.Unlock()

	sub.stop()
}

// expire is the self-cancellation path for cap/TTL exhaustion, called from
// subscription workers.
func (b *Bus) expire(token Token, reason string) {
	b.mu.Lock()
	sub, ok := b.subs[token]
	if ok {
		b.removeLocked(sub)
	}
	b.mu.Unlock()

	if ok {
		sub.stop()
		b.logger.Debug("subscription expired",
			zap.String("topic", sub.topic),
			zap.String("token", string(token)),
			zap.String("reason", reason))
	}
}

// removeLocked unlinks a subscription from the token and topic tables.
// Caller holds b.mu.
func (b *Bus) removeLocked(sub *subscription) {
	delete(b.subs, sub.token)

	subs := b.topics[sub.topic]
	for i, s := range subs {
		if s.token == sub.token {
			b.topics[sub.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.topics[sub.topic]) == 0 {
		delete(b.topics, sub.topic)
	}
}

// Pause stops delivery globally. Published events accumulate in a FIFO queue
// until Resume.
func (b *Bus) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
}

// Resume lifts a pause. With processQueued the queued events run through the
// normal publish path in original publish order (including cache writes);
// otherwise the queue is discarded and those events are never delivered.
func (b *Bus) Resume(processQueued bool) {
	b.mu.Lock()
	queue := b.pauseQueue
	b.pauseQueue = nil
	b.paused = false

	if !processQueued {
		b.mu.Unlock()
		if len(queue) > 0 {
			b.logger.Info("pause queue discarded", zap.Int("events", len(queue)))
		}
		return
	}

	for _, qe := range queue {
		b.publishLocked(qe.topic, qe.event)
	}
	b.mu.Unlock()

	if len(queue) > 0 {
		b.logger.Info("pause queue drained", zap.Int("events", len(queue)))
	}
}

// EnableCaching starts caching the topic's most recent events. Capacity
// values of zero or below fall back to DefaultCacheCapacity. Enabling an
// already-cached topic adjusts nothing; the existing cache is kept.
func (b *Bus) EnableCaching(topic string, capacity int) {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.caches[topic]; !ok {
		b.caches[topic] = newEventCache(capacity)
	}
}

// DisableCaching drops the topic's cache and stops caching it.
func (b *Bus) DisableCaching(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.caches, topic)
}

// CachedEvents returns a snapshot of the topic's cached events in insertion
// order, or nil when caching is not enabled.
func (b *Bus) CachedEvents(topic string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	cache, ok := b.caches[topic]
	if !ok {
		return nil
	}
	return cache.snapshot()
}

// Stats returns a snapshot of bus counters and table sizes.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Topics:        len(b.topics),
		Subscriptions: len(b.subs),
		CachedTopics:  len(b.caches),
		Paused:        b.paused,
		PauseQueueLen: len(b.pauseQueue),
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		Dropped:       b.dropped.Load(),
		Queued:        b.queued.Load(),
	}
}

// Close stops every subscription worker and clears all state. Publishing on
// a closed bus drops the event with a warning. Close blocks until in-flight
// handlers return.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	stopped := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		stopped = append(stopped, sub)
	}
	b.topics = make(map[string][]*subscription)
	b.subs = make(map[Token]*subscription)
	b.caches = make(map[string]*eventCache)
	b.pauseQueue = nil
	b.paused = false
	cancel := b.cancel
	b.mu.Unlock()

	for _, sub := range stopped {
		sub.stop()
	}
	cancel()
	b.wg.Wait()
	return nil
}

// Reset closes the bus and makes it ready for reuse with empty state and
// zeroed counters. Intended for test isolation.
func (b *Bus) Reset() {
	_ = b.Close()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = false
	b.baseCtx, b.cancel = context.WithCancel(context.Background())
	b.published.Store(0)
	b.delivered.Store(0)
	b.dropped.Store(0)
	b.queued.Store(0)
}
