package errors

import "time"

// Default alert rules: a spike is more than 5 reports of one kind inside 5
// minutes, a recurring pattern is more than 20 inside an hour.
const (
	DefaultSpikeCount      = 5
	DefaultSpikeWindow     = 5 * time.Minute
	DefaultRecurringCount  = 20
	DefaultRecurringWindow = time.Hour

	alertHistoryLimit = 50
)

// Alert describes one fired error pattern.
type Alert struct {
	Kind    Kind          `json:"kind"`
	Pattern string        `json:"pattern"`
	Count   int           `json:"count"`
	Window  time.Duration `json:"window"`
	At      time.Time     `json:"at"`
}

const (
	// PatternSpike is a burst of one error kind in a short window.
	PatternSpike = "spike"
	// PatternRecurring is a sustained stream of one error kind.
	PatternRecurring = "recurring"
)

type patternRule struct {
	count  int
	window time.Duration
}

// patternTracker watches per-kind report timestamps and fires spike and
// recurring alerts at most once per window per kind. Callers hold the
// handler mutex.
type patternTracker struct {
	spike     patternRule
	recurring patternRule

	times         map[Kind][]time.Time
	lastSpike     map[Kind]time.Time
	lastRecurring map[Kind]time.Time
	alerts        []Alert
}

func newPatternTracker() *patternTracker {
	return &patternTracker{
		spike:         patternRule{count: DefaultSpikeCount, window: DefaultSpikeWindow},
		recurring:     patternRule{count: DefaultRecurringCount, window: DefaultRecurringWindow},
		times:         make(map[Kind][]time.Time),
		lastSpike:     make(map[Kind]time.Time),
		lastRecurring: make(map[Kind]time.Time),
	}
}

// observe records one report and returns any alerts that fired.
func (t *patternTracker) observe(kind Kind, now time.Time) []Alert {
	times := append(t.times[kind], now)

	// Timestamps older than the widest window can never match a rule again.
	keep := t.recurring.window
	if t.spike.window > keep {
		keep = t.spike.window
	}
	cutoff := now.Add(-keep)
	for len(times) > 0 && times[0].Before(cutoff) {
		times = times[1:]
	}
	t.times[kind] = times

	var fired []Alert
	if a, ok := t.check(kind, now, times, t.spike, PatternSpike, t.lastSpike); ok {
		fired = append(fired, a)
	}
	if a, ok := t.check(kind, now, times, t.recurring, PatternRecurring, t.lastRecurring); ok {
		fired = append(fired, a)
	}

	for _, a := range fired {
		t.alerts = append(t.alerts, a)
	}
	if len(t.alerts) > alertHistoryLimit {
		t.alerts = t.alerts[len(t.alerts)-alertHistoryLimit:]
	}
	return fired
}

func (t *patternTracker) check(
	kind Kind,
	now time.Time,
	times []time.Time,
	rule patternRule,
	pattern string,
	last map[Kind]time.Time,
) (Alert, bool) {
	cutoff := now.Add(-rule.window)
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	if n <= rule.count {
		return Alert{}, false
	}
	if fired, ok := last[kind]; ok && now.Sub(fired) < rule.window {
		return Alert{}, false
	}
	last[kind] = now
	return Alert{Kind: kind, Pattern: pattern, Count: n, Window: rule.window, At: now}, true
}

func (t *patternTracker) recent() []Alert {
	out := make([]Alert, len(t.alerts))
	copy(out, t.alerts)
	return out
}

func (t *patternTracker) reset() {
	t.times = make(map[Kind][]time.Time)
	t.lastSpike = make(map[Kind]time.Time)
	t.lastRecurring = make(map[Kind]time.Time)
	t.alerts = nil
}
