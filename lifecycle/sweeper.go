package lifecycle

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/leeforge/runtimekit/bus"
)

// sweepTaskID names the sweeper task on the shared scheduler.
const sweepTaskID = "lifecycle.sweep"

// sweep runs one sweeper pass: expired AutoDispose resources are torn
// down (dependents first, errors logged, the pass continues) and
// resources initialized longer than the leak age are flagged as suspected
// leaks exactly once. The pass also rolls the disposal-failure window
// that HealthCheck reports on.
func (m *Manager) sweep(ctx context.Context) {
	now := m.clock()

	type flagged struct {
		key, typ string
		age      time.Duration
	}
	var expired []flagged
	var leaks []flagged

	m.mu.Lock()
	m.lastWindowFailures = m.windowFailures
	m.windowFailures = 0
	for key, res := range m.resources {
		if res.State != StateInitialized {
			continue
		}
		age := now.Sub(res.InitializedAt)
		if res.AutoDispose && res.MaxLifetime > 0 && age > res.MaxLifetime {
			expired = append(expired, flagged{key: key, typ: res.Type, age: age})
			continue
		}
		if !res.suspected && age > m.leakAge {
			res.suspected = true
			m.suspectedLeaks++
			leaks = append(leaks, flagged{key: key, typ: res.Type, age: age})
		}
	}
	m.mu.Unlock()

	sort.Slice(leaks, func(i, j int) bool { return leaks[i].key < leaks[j].key })
	sort.Slice(expired, func(i, j int) bool { return expired[i].key < expired[j].key })

	for _, l := range leaks {
		m.logger.Warn("suspected resource leak",
			zap.String("key", l.key),
			zap.String("type", l.typ),
			zap.Duration("age", l.age),
		)
		if m.events != nil {
			m.events.Publish(bus.TopicLeaks, bus.LeakEvent{
				Key:       l.key,
				Type:      l.typ,
				Age:       l.age,
				Suspected: true,
				Time:      now,
			})
		}
	}

	for _, e := range expired {
		if err := m.Dispose(ctx, e.key); err != nil {
			m.logger.Error("auto-dispose failed",
				zap.String("key", e.key), zap.Error(err))
			continue
		}
		m.logger.Info("expired resource disposed",
			zap.String("key", e.key),
			zap.Duration("age", e.age),
		)
		if m.events != nil {
			m.events.Publish(bus.TopicLeaks, bus.LeakEvent{
				Key:       e.key,
				Type:      e.typ,
				Age:       e.age,
				Suspected: false,
				Time:      now,
			})
		}
	}
}
