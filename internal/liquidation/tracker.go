// Package liquidation keeps a bounded, time-ordered log of forced
// liquidations and derives cascade detection, injected-energy scoring,
// early-spike and growth analytics from it.
package liquidation

import (
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Config tunes the tracker. Zero values fall back to defaults.
type Config struct {
	Retention        time.Duration `yaml:"retention"`          // minimum event retention
	CascadeThreshold int           `yaml:"cascade_threshold"`  // events per minute flipping the cascade flag
	ValueNormUSD     float64       `yaml:"value_norm_usd"`     // 1h notional mapping to energy component 1.0
	FrequencyNorm    int           `yaml:"frequency_norm"`     // 1h event count mapping to component 1.0
	GrowthLookback   time.Duration `yaml:"growth_lookback"`    // window bucketized by Growth
	GrowthBucket     time.Duration `yaml:"growth_bucket"`      // bucket width
	ActiveWindow     time.Duration `yaml:"active_window"`      // lookback for early-spike analysis
	MaxEvents        int           `yaml:"max_events"`         // hard cap on the ring
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Retention:        24 * time.Hour,
		CascadeThreshold: 10,
		ValueNormUSD:     10e6,
		FrequencyNorm:    100,
		GrowthLookback:   30 * time.Minute,
		GrowthBucket:     5 * time.Minute,
		ActiveWindow:     time.Hour,
		MaxEvents:        100_000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Retention < d.Retention {
		c.Retention = d.Retention
	}
	if c.CascadeThreshold <= 0 {
		c.CascadeThreshold = d.CascadeThreshold
	}
	if c.ValueNormUSD <= 0 {
		c.ValueNormUSD = d.ValueNormUSD
	}
	if c.FrequencyNorm <= 0 {
		c.FrequencyNorm = d.FrequencyNorm
	}
	if c.GrowthLookback <= 0 {
		c.GrowthLookback = d.GrowthLookback
	}
	if c.GrowthBucket <= 0 {
		c.GrowthBucket = d.GrowthBucket
	}
	if c.ActiveWindow <= 0 {
		c.ActiveWindow = d.ActiveWindow
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = d.MaxEvents
	}
	return c
}

// Tracker is the liquidation log. One ingest goroutine appends, query
// goroutines read concurrently.
type Tracker struct {
	cfg Config

	mu     sync.RWMutex
	events []Event // ascending by timestamp
	nowFn  func() time.Time
}

// NewTracker creates an empty tracker with the given config.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:   cfg.withDefaults(),
		nowFn: time.Now,
	}
}

// Add appends one event, keeping the log time-ordered, and prunes entries
// older than the retention window.
func (t *Tracker) Add(e Event) {
	if e.Value == 0 {
		e.Value = e.Price * e.Quantity
	}
	if e.Class == "" {
		e.Class = ClassifyValue(e.Value)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = t.nowFn()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Fast path: arrivals are almost always in order.
	if n := len(t.events); n == 0 || !e.Timestamp.Before(t.events[n-1].Timestamp) {
		t.events = append(t.events, e)
	} else {
		idx := sort.Search(n, func(i int) bool {
			return t.events[i].Timestamp.After(e.Timestamp)
		})
		t.events = append(t.events, Event{})
		copy(t.events[idx+1:], t.events[idx:])
		t.events[idx] = e
	}

	t.pruneLocked(t.nowFn())
}

// pruneLocked drops events older than retention and enforces the hard cap.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.cfg.Retention)
	idx := sort.Search(len(t.events), func(i int) bool {
		return !t.events[i].Timestamp.Before(cutoff)
	})
	if idx > 0 {
		t.events = append(t.events[:0], t.events[idx:]...)
	}
	if excess := len(t.events) - t.cfg.MaxEvents; excess > 0 {
		t.events = append(t.events[:0], t.events[excess:]...)
	}
}

// Range returns the events with from <= timestamp < to, oldest first.
func (t *Tracker) Range(from, to time.Time) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	lo := sort.Search(len(t.events), func(i int) bool {
		return !t.events[i].Timestamp.Before(from)
	})
	hi := sort.Search(len(t.events), func(i int) bool {
		return !t.events[i].Timestamp.Before(to)
	})
	if lo >= hi {
		return nil
	}
	out := make([]Event, hi-lo)
	copy(out, t.events[lo:hi])
	return out
}

// Recent returns the events from the last n minutes, oldest first.
func (t *Tracker) Recent(minutes int) []Event {
	if minutes <= 0 {
		minutes = 5
	}
	now := t.nowFn()
	return t.Range(now.Add(-time.Duration(minutes)*time.Minute), now.Add(time.Nanosecond))
}

// Count returns the number of retained events.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// Stats aggregates the 1h/4h/24h windows, the 1-hour long/short split and
// the cascade flag.
func (t *Tracker) Stats() Stats {
	now := t.nowFn()

	t.mu.RLock()
	defer t.mu.RUnlock()

	st := Stats{
		Timestamp: now,
		Windows:   make(map[string]WindowStats, 3),
		Direction: Neutral,
	}

	windows := []struct {
		key string
		d   time.Duration
	}{
		{"1h", time.Hour},
		{"4h", 4 * time.Hour},
		{"24h", 24 * time.Hour},
	}
	for _, w := range windows {
		st.Windows[w.key] = t.windowLocked(now.Add(-w.d), now)
	}

	h1 := st.Windows["1h"]
	st.LongValue1h = h1.SellValue
	st.ShortValue1h = h1.BuyValue
	if total := st.LongValue1h + st.ShortValue1h; total > 0 {
		st.LongShare1h = st.LongValue1h / total
		// Long liquidations are forced sells of longs: bearish pressure.
		switch {
		case st.LongShare1h > 0.6:
			st.Direction = Bearish
		case st.LongShare1h < 0.4:
			st.Direction = Bullish
		}
	}

	for i := range t.events {
		if st.Largest == nil || t.events[i].Value > st.Largest.Value {
			ev := t.events[i]
			st.Largest = &ev
		}
	}

	st.EventsLastMinute = t.countSinceLocked(now.Add(-time.Minute))
	st.Cascade = st.EventsLastMinute >= t.cfg.CascadeThreshold

	return st
}

// windowLocked aggregates [from, to) while holding the read lock.
func (t *Tracker) windowLocked(from, to time.Time) WindowStats {
	var ws WindowStats
	lo := sort.Search(len(t.events), func(i int) bool {
		return !t.events[i].Timestamp.Before(from)
	})
	for i := lo; i < len(t.events) && t.events[i].Timestamp.Before(to); i++ {
		e := &t.events[i]
		ws.Count++
		ws.TotalValue += e.Value
		if e.Side == SideSell {
			ws.SellCount++
			ws.SellValue += e.Value
		} else {
			ws.BuyCount++
			ws.BuyValue += e.Value
		}
	}
	return ws
}

func (t *Tracker) countSinceLocked(from time.Time) int {
	lo := sort.Search(len(t.events), func(i int) bool {
		return !t.events[i].Timestamp.Before(from)
	})
	return len(t.events) - lo
}

// Energy blends 1-hour notional, frequency and side imbalance into the
// injected-energy score, with an additive cascade bonus, clamped to [0, 1].
func (t *Tracker) Energy() Energy {
	st := t.Stats()
	h1 := st.Windows["1h"]

	comp := EnergyComponents{
		Value:     math.Min(1, h1.TotalValue/t.cfg.ValueNormUSD),
		Frequency: math.Min(1, float64(h1.Count)/float64(t.cfg.FrequencyNorm)),
	}
	if total := h1.BuyValue + h1.SellValue; total > 0 {
		comp.Imbalance = math.Abs(h1.SellValue-h1.BuyValue) / total
	}
	if st.Cascade {
		comp.CascadeBonus = 0.5
	}

	score := 0.4*comp.Value + 0.3*comp.Frequency + 0.3*comp.Imbalance + comp.CascadeBonus
	score = math.Min(1, math.Max(0, score))

	return Energy{
		Score:      score,
		Bucket:     energyBucket(score),
		Direction:  st.Direction,
		Cascade:    st.Cascade,
		Components: comp,
	}
}

func energyBucket(score float64) EnergyBucket {
	switch {
	case score >= 0.8:
		return EnergyExtreme
	case score >= 0.6:
		return EnergyHigh
	case score >= 0.4:
		return EnergyMedium
	case score >= 0.2:
		return EnergyLow
	default:
		return EnergyVeryLow
	}
}

// Early reports how front-loaded the active window is: the share of its
// events that landed within the first minutes after the window's first
// event. A high share means the burst came early and may be exhausting.
func (t *Tracker) Early(minutes int) EarlySpike {
	if minutes <= 0 {
		minutes = 2
	}
	now := t.nowFn()
	events := t.Range(now.Add(-t.cfg.ActiveWindow), now.Add(time.Nanosecond))

	es := EarlySpike{Minutes: minutes, Risk: RiskLow, Total: len(events)}
	if len(events) == 0 {
		return es
	}

	es.WindowStart = events[0].Timestamp
	earlyCut := es.WindowStart.Add(time.Duration(minutes) * time.Minute)
	for i := range events {
		if events[i].Timestamp.Before(earlyCut) {
			es.EarlyCount++
		}
	}
	es.Share = float64(es.EarlyCount) / float64(es.Total)

	switch {
	case es.Share > 0.7:
		es.Risk = RiskHigh
	case es.Share > 0.5:
		es.Risk = RiskMedium
	}
	return es
}

// Growth bucketizes the recent lookback into fixed periods and grades the
// trend from the regression slope of bucket notional, normalized by the
// mean bucket.
func (t *Tracker) Growth() Growth {
	now := t.nowFn()
	start := now.Add(-t.cfg.GrowthLookback).Truncate(t.cfg.GrowthBucket)
	n := int(t.cfg.GrowthLookback / t.cfg.GrowthBucket)
	if n < 2 {
		n = 2
	}

	g := Growth{Trend: TrendStable, Buckets: make([]GrowthBucket, n)}
	for i := range g.Buckets {
		g.Buckets[i].Start = start.Add(time.Duration(i) * t.cfg.GrowthBucket)
	}

	events := t.Range(start, now.Add(time.Nanosecond))
	for i := range events {
		idx := int(events[i].Timestamp.Sub(start) / t.cfg.GrowthBucket)
		if idx < 0 || idx >= n {
			continue
		}
		g.Buckets[idx].Count++
		g.Buckets[idx].Value += events[i].Value
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	total := 0.0
	for i := range g.Buckets {
		xs[i] = float64(i)
		ys[i] = g.Buckets[i].Value
		total += g.Buckets[i].Value
	}
	if total == 0 {
		return g
	}

	mean := total / float64(n)
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	g.Rate = slope / mean

	switch {
	case g.Rate > 0.15:
		g.Trend = TrendIncreasing
	case g.Rate < -0.15:
		g.Trend = TrendDecreasing
	}
	return g
}

// Summary bundles stats, energy, early-spike and growth for one query.
func (t *Tracker) Summary() Summary {
	return Summary{
		Stats:  t.Stats(),
		Energy: t.Energy(),
		Early:  t.Early(2),
		Growth: t.Growth(),
	}
}
