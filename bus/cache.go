package bus

// eventCache is a bounded, insertion-ordered buffer of the most recent events
// on one topic. Oldest entries are evicted first once capacity is reached.
// All access is serialized by the bus mutex.
type eventCache struct {
	capacity int
	events   []Event
}

func newEventCache(capacity int) *eventCache {
	return &eventCache{
		capacity: capacity,
		events:   make([]Event, 0, capacity),
	}
}

func (c *eventCache) add(ev Event) {
	if len(c.events) >= c.capacity {
		copy(c.events, c.events[1:])
		c.events[len(c.events)-1] = ev
		return
	}
	c.events = append(c.events, ev)
}

// snapshot returns a copy of the cached events in insertion order.
func (c *eventCache) snapshot() []Event {
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *eventCache) len() int {
	return len(c.events)
}
