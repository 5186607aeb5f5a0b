// Package redisbridge forwards bus topics to Redis pub/sub channels and
// republishes inbound channel messages back onto the bus. Inbound events are
// marked Remote so they are never forwarded out again.
package redisbridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/leeforge/runtimekit/bus"
	apperrors "github.com/leeforge/runtimekit/errors"
	"github.com/leeforge/runtimekit/json"
	"github.com/leeforge/runtimekit/lifecycle"
	"github.com/leeforge/runtimekit/logging"
	"github.com/leeforge/runtimekit/metrics"
)

const (
	// ResourceKey is the lifecycle registration key of the managed client.
	ResourceKey = "redisbridge.client"

	pingTimeout = 5 * time.Second
)

// Config connects the bridge. Outbound maps bus topics to the Redis channels
// they are forwarded to; Inbound maps Redis channels to the bus topics their
// messages are republished on.
type Config struct {
	Enabled  bool              `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Host     string            `mapstructure:"host" json:"host" yaml:"host"`
	Port     int               `mapstructure:"port" json:"port" yaml:"port"`
	Password string            `mapstructure:"password" json:"-" yaml:"password"`
	DB       int               `mapstructure:"db" json:"db" yaml:"db"`
	Outbound map[string]string `mapstructure:"outbound" json:"outbound" yaml:"outbound"`
	Inbound  map[string]string `mapstructure:"inbound" json:"inbound" yaml:"inbound"`
}

// Addr returns the host:port dial address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func describe(c Config) string {
	return fmt.Sprintf("addr=%s db=%d password=%s", c.Addr(), c.DB, redactedPassword(c.Password))
}

func redactedPassword(password string) string {
	if password == "" {
		return "<empty>"
	}
	return "[REDACTED]"
}

// envelope is the wire format on Redis channels, both directions.
type envelope struct {
	Topic     string         `json:"topic"`
	Kind      string         `json:"kind"`
	Component string         `json:"component"`
	Fields    map[string]any `json:"fields,omitempty"`
	At        time.Time      `json:"at"`
}

// Stats counts bridge traffic since construction.
type Stats struct {
	Forwarded uint64 `json:"forwarded"`
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
}

// Bridge owns one Redis client and the subscriptions wiring it to a bus.
// Attach and Detach are one-shot: Detach closes the client.
type Bridge struct {
	cfg    Config
	client *redis.Client
	logger *zap.Logger
	clock  func() time.Time

	mu        sync.Mutex
	b         *bus.Bus
	resources *lifecycle.Manager
	tokens    []bus.Token
	subs      []*redis.PubSub
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	attached  bool
	detached  bool

	forwarded atomic.Uint64
	received  atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger. Defaults to the global logger named
// "redisbridge".
func WithLogger(logger *zap.Logger) Option {
	return func(br *Bridge) {
		if logger != nil {
			br.logger = logger
		}
	}
}

// WithClock overrides the time source for republished events.
func WithClock(clock func() time.Time) Option {
	return func(br *Bridge) {
		if clock != nil {
			br.clock = clock
		}
	}
}

// New dials Redis and verifies the connection with a ping. Errors carry the
// dial address with the password redacted.
func New(cfg Config, opts ...Option) (*Bridge, error) {
	br := &Bridge{
		cfg:    cfg,
		logger: logging.Global().Named("redisbridge").Zap(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(br)
	}

	br.client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := br.client.Ping(ctx).Err(); err != nil {
		_ = br.client.Close()
		return nil, apperrors.Wrap(err, apperrors.KindInitialization, "redis connection failed").
			WithComponent("redisbridge").
			WithContext("target", describe(cfg))
	}

	br.logger.Info("redis connected", zap.String("target", describe(cfg)))
	return br, nil
}

// Client exposes the underlying connection for collaborators that need raw
// Redis access.
func (br *Bridge) Client() *redis.Client {
	return br.client
}

// Name identifies the bridge in collaborator registries.
func (br *Bridge) Name() string {
	return "redisbridge"
}

// Attach wires the bridge to a bus: the client is registered with the
// lifecycle manager (disposal closes it), every outbound topic gets a bus
// subscription forwarding to its channel, and every inbound channel gets a
// receive loop republishing onto its topic.
func (br *Bridge) Attach(ctx context.Context, b *bus.Bus, resources *lifecycle.Manager) error {
	br.mu.Lock()
	defer br.mu.Unlock()

	if br.detached {
		return apperrors.New(apperrors.KindOperationFailed, "bridge already detached").
			WithComponent("redisbridge")
	}
	if br.attached {
		return apperrors.New(apperrors.KindOperationFailed, "bridge already attached").
			WithComponent("redisbridge")
	}

	if resources != nil {
		err := resources.Register(ResourceKey, br.client,
			lifecycle.WithType("connection"),
			lifecycle.WithDispose(func(context.Context) error {
				return br.client.Close()
			}),
		)
		if err != nil {
			return err
		}
		if err := resources.Initialize(ctx, ResourceKey); err != nil {
			return err
		}
		br.resources = resources
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	br.cancel = cancel
	br.b = b

	for topic, channel := range br.cfg.Outbound {
		topic, channel := topic, channel
		token := b.Subscribe(topic, func(ctx context.Context, ev bus.Event) error {
			return br.forward(ctx, topic, channel, ev)
		})
		br.tokens = append(br.tokens, token)
	}

	for channel, topic := range br.cfg.Inbound {
		sub := br.client.Subscribe(loopCtx, channel)
		br.subs = append(br.subs, sub)
		br.wg.Add(1)
		go br.receive(loopCtx, sub, channel, topic)
	}

	br.attached = true
	br.logger.Info("redis bridge attached",
		zap.Int("outbound", len(br.cfg.Outbound)),
		zap.Int("inbound", len(br.cfg.Inbound)))
	return nil
}

// Detach unsubscribes the outbound topics, stops the receive loops, and
// disposes the managed client. The bridge cannot be reattached afterwards.
func (br *Bridge) Detach(ctx context.Context) error {
	br.mu.Lock()
	if !br.attached {
		already := br.detached
		br.detached = true
		br.mu.Unlock()
		if already {
			return nil
		}
		return br.closeClient(ctx, nil)
	}
	tokens := br.tokens
	subs := br.subs
	cancel := br.cancel
	b := br.b
	br.tokens = nil
	br.subs = nil
	br.attached = false
	br.detached = true
	br.mu.Unlock()

	for _, token := range tokens {
		b.Unsubscribe(token)
	}
	cancel()

	var errs []error
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	br.wg.Wait()

	return br.closeClient(ctx, errs)
}

func (br *Bridge) closeClient(ctx context.Context, errs []error) error {
	if br.resources != nil {
		if err := br.resources.Dispose(ctx, ResourceKey); err != nil {
			errs = append(errs, err)
		}
	} else if err := br.client.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return apperrors.Aggregate("redis bridge detach", errs...)
	}
	br.logger.Info("redis bridge detached")
	return nil
}

// HealthCheck reports connectivity via PING.
func (br *Bridge) HealthCheck(ctx context.Context) metrics.Check {
	check := metrics.Check{Component: "redis", ObservedAt: br.clock()}
	if err := br.client.Ping(ctx).Err(); err != nil {
		check.Status = metrics.CheckFail
		check.Detail = err.Error()
		return check
	}
	check.Status = metrics.CheckPass
	return check
}

// Stats returns traffic counters.
func (br *Bridge) Stats() Stats {
	return Stats{
		Forwarded: br.forwarded.Load(),
		Received:  br.received.Load(),
		Dropped:   br.dropped.Load(),
	}
}

// forward serializes one bus event onto its Redis channel. Remote events are
// skipped so a message received from Redis never loops back out.
func (br *Bridge) forward(ctx context.Context, topic, channel string, ev bus.Event) error {
	if g, ok := ev.(bus.GenericEvent); ok && g.Remote {
		return nil
	}

	raw, err := json.Marshal(envelope{
		Topic:     topic,
		Kind:      string(ev.Kind()),
		Component: ev.Component(),
		Fields:    eventFields(ev),
		At:        ev.At(),
	})
	if err != nil {
		br.dropped.Add(1)
		return apperrors.Wrap(err, apperrors.KindOperationFailed, "encode outbound event").
			WithComponent("redisbridge").
			WithContext("topic", topic)
	}

	if err := br.client.Publish(ctx, channel, raw).Err(); err != nil {
		br.dropped.Add(1)
		return apperrors.Wrap(err, apperrors.KindOperationFailed, "redis publish failed").
			WithComponent("redisbridge").
			WithContext("channel", channel)
	}

	br.forwarded.Add(1)
	return nil
}

// eventFields flattens an event for the wire. Generic events carry their
// fields directly; typed events go through a marshal round trip.
func eventFields(ev bus.Event) map[string]any {
	if g, ok := ev.(bus.GenericEvent); ok {
		return g.Fields
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}

func (br *Bridge) receive(ctx context.Context, sub *redis.PubSub, channel, topic string) {
	defer br.wg.Done()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			br.republish(topic, channel, msg.Payload)
		}
	}
}

// republish turns one inbound payload into a Remote generic event. Malformed
// payloads are dropped with a warning.
func (br *Bridge) republish(topic, channel, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		br.dropped.Add(1)
		br.logger.Warn("malformed inbound payload dropped",
			zap.String("channel", channel), zap.Error(err))
		return
	}

	at := env.At
	if at.IsZero() {
		at = br.clock()
	}

	br.b.Publish(topic, bus.GenericEvent{
		Source: "redis:" + channel,
		Fields: env.Fields,
		Remote: true,
		Time:   at,
	})
	br.received.Add(1)
}
