package metrics

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leeforge/runtimekit/bus"
	"github.com/leeforge/runtimekit/logging"
	"github.com/leeforge/runtimekit/scheduler"
)

// DefaultSampleInterval is the gap between sampler ticks.
const DefaultSampleInterval = 15 * time.Second

const samplerTaskID = "metrics.sampler"

type source struct {
	unit string
	fn   func() float64
}

// Sampler periodically feeds gauge sources into a collector. Go runtime
// gauges (heap bytes, goroutine count) are built in; more sources can be
// registered. Each sampled value is published as a MetricEvent when a bus
// is attached.
type Sampler struct {
	mu      sync.Mutex
	sources map[string]source
	running bool
	handle  scheduler.Handle

	collector *Collector
	sched     *scheduler.Scheduler
	interval  time.Duration
	events    *bus.Bus
	logger    *zap.Logger
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithSampleInterval sets the tick interval.
func WithSampleInterval(d time.Duration) SamplerOption {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSamplerBus publishes a MetricEvent per sampled gauge.
func WithSamplerBus(b *bus.Bus) SamplerOption {
	return func(s *Sampler) {
		s.events = b
	}
}

// WithSamplerLogger sets the sampler logger.
func WithSamplerLogger(logger *zap.Logger) SamplerOption {
	return func(s *Sampler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSampler creates a Sampler bound to a collector and a scheduler.
func NewSampler(collector *Collector, sched *scheduler.Scheduler, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		sources:   make(map[string]source),
		collector: collector,
		sched:     sched,
		interval:  DefaultSampleInterval,
		logger:    logging.Global().Named("sampler").Zap(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Register("runtime_heap_bytes", "bytes", func() float64 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return float64(ms.HeapAlloc)
	})
	s.Register("runtime_goroutines", "count", func() float64 {
		return float64(runtime.NumGoroutine())
	})
	return s
}

// Register adds (or replaces) a gauge source sampled on every tick.
func (s *Sampler) Register(name, unit string, fn func() float64) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[name] = source{unit: unit, fn: fn}
}

// Start schedules periodic sampling. Starting a running sampler is a no-op.
func (s *Sampler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	h, err := s.sched.Every(samplerTaskID, s.interval, func(context.Context) { s.SampleNow() })
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
	s.logger.Info("sampler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop cancels periodic sampling.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	h := s.handle
	s.mu.Unlock()
	h.Cancel()
}

// SampleNow runs one sampling pass immediately.
func (s *Sampler) SampleNow() {
	s.mu.Lock()
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	sources := make([]source, len(names))
	for i, name := range names {
		sources[i] = s.sources[name]
	}
	s.mu.Unlock()

	now := time.Now()
	for i, name := range names {
		v := sources[i].fn()
		s.collector.RecordResourceUsage(name, v, 0, nil)
		if s.events != nil {
			s.events.Publish(bus.TopicMetrics, bus.MetricEvent{
				Name:  name,
				Value: v,
				Unit:  sources[i].unit,
				Time:  now,
			})
		}
	}
}
