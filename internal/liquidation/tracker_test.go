package liquidation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trackerNow = time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)

func newTestTracker() *Tracker {
	t := NewTracker(DefaultConfig())
	t.nowFn = func() time.Time { return trackerNow }
	return t
}

func sell(ts time.Time, value float64) Event {
	return Event{Timestamp: ts, Side: SideSell, Price: 100000, Quantity: value / 100000, Value: value}
}

func buy(ts time.Time, value float64) Event {
	return Event{Timestamp: ts, Side: SideBuy, Price: 100000, Quantity: value / 100000, Value: value}
}

func TestClassifyValue(t *testing.T) {
	assert.Equal(t, ClassSmall, ClassifyValue(5_000))
	assert.Equal(t, ClassMedium, ClassifyValue(10_000))
	assert.Equal(t, ClassLarge, ClassifyValue(250_000))
	assert.Equal(t, ClassMassive, ClassifyValue(1_000_000))
}

func TestAddDerivesValueAndClass(t *testing.T) {
	tr := newTestTracker()
	tr.Add(Event{Timestamp: trackerNow, Side: SideSell, Price: 50000, Quantity: 2})

	events := tr.Range(trackerNow, trackerNow.Add(time.Second))
	require.Len(t, events, 1)
	assert.Equal(t, 100000.0, events[0].Value)
	assert.Equal(t, ClassLarge, events[0].Class)
}

func TestRangeInclusiveExclusive(t *testing.T) {
	tr := newTestTracker()
	t0 := trackerNow.Add(-10 * time.Minute)
	t1 := trackerNow.Add(-5 * time.Minute)
	t2 := trackerNow

	tr.Add(sell(t0, 1000))
	tr.Add(sell(t1, 2000))
	tr.Add(sell(t2, 3000))

	got := tr.Range(t0, t2)
	require.Len(t, got, 2)
	assert.Equal(t, t0, got[0].Timestamp)
	assert.Equal(t, t1, got[1].Timestamp)

	// Left edge included, right edge excluded.
	assert.Len(t, tr.Range(t1, t1), 0)
	assert.Len(t, tr.Range(t1, t1.Add(time.Nanosecond)), 1)
}

func TestAddKeepsTimeOrder(t *testing.T) {
	tr := newTestTracker()
	tr.Add(sell(trackerNow.Add(-1*time.Minute), 1000))
	tr.Add(sell(trackerNow.Add(-10*time.Minute), 2000)) // late arrival
	tr.Add(sell(trackerNow.Add(-5*time.Minute), 3000))

	events := tr.Range(trackerNow.Add(-time.Hour), trackerNow.Add(time.Second))
	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
	}
}

func TestPruneOldEvents(t *testing.T) {
	tr := newTestTracker()
	tr.Add(sell(trackerNow.Add(-25*time.Hour), 1000)) // beyond retention
	tr.Add(sell(trackerNow.Add(-23*time.Hour), 2000))
	tr.Add(sell(trackerNow, 3000))

	assert.Equal(t, 2, tr.Count())
}

func TestStatsWindows(t *testing.T) {
	tr := newTestTracker()
	tr.Add(sell(trackerNow.Add(-30*time.Minute), 10_000))
	tr.Add(buy(trackerNow.Add(-20*time.Minute), 5_000))
	tr.Add(sell(trackerNow.Add(-3*time.Hour), 20_000))
	tr.Add(sell(trackerNow.Add(-20*time.Hour), 40_000))

	st := tr.Stats()

	assert.Equal(t, 2, st.Windows["1h"].Count)
	assert.Equal(t, 15_000.0, st.Windows["1h"].TotalValue)
	assert.Equal(t, 3, st.Windows["4h"].Count)
	assert.Equal(t, 4, st.Windows["24h"].Count)

	assert.Equal(t, 10_000.0, st.LongValue1h)
	assert.Equal(t, 5_000.0, st.ShortValue1h)
	assert.InDelta(t, 2.0/3.0, st.LongShare1h, 1e-9)
	assert.Equal(t, Bearish, st.Direction)

	require.NotNil(t, st.Largest)
	assert.Equal(t, 40_000.0, st.Largest.Value)
	assert.False(t, st.Cascade)
}

func TestCascadeScenario(t *testing.T) {
	// 11 sells of $10k in the last minute with threshold 10.
	tr := newTestTracker()
	for i := 0; i < 11; i++ {
		tr.Add(sell(trackerNow.Add(-time.Duration(i)*5*time.Second), 10_000))
	}

	st := tr.Stats()
	assert.True(t, st.Cascade)
	assert.Equal(t, 11, st.EventsLastMinute)
	assert.Equal(t, Bearish, st.Direction)

	e := tr.Energy()
	assert.True(t, e.Cascade)
	assert.GreaterOrEqual(t, e.Score, 0.5, "cascade bonus must lift the score")
	assert.LessOrEqual(t, e.Score, 1.0)
	assert.Equal(t, Bearish, e.Direction)
	assert.Equal(t, 0.5, e.Components.CascadeBonus)
	assert.InDelta(t, 1.0, e.Components.Imbalance, 1e-9)
}

func TestCascadeAgesOut(t *testing.T) {
	tr := newTestTracker()
	base := trackerNow
	for i := 0; i < 10; i++ {
		tr.Add(sell(base.Add(-time.Duration(i)*time.Second), 10_000))
	}
	assert.True(t, tr.Stats().Cascade)

	// Two minutes later the same events no longer count.
	tr.nowFn = func() time.Time { return base.Add(2 * time.Minute) }
	st := tr.Stats()
	assert.False(t, st.Cascade)
	assert.Zero(t, st.EventsLastMinute)
}

func TestEnergyEmptyTracker(t *testing.T) {
	tr := newTestTracker()
	e := tr.Energy()
	assert.Zero(t, e.Score)
	assert.Equal(t, EnergyVeryLow, e.Bucket)
	assert.Equal(t, Neutral, e.Direction)
}

func TestEnergyBuckets(t *testing.T) {
	cases := []struct {
		score float64
		want  EnergyBucket
	}{
		{0.05, EnergyVeryLow},
		{0.25, EnergyLow},
		{0.45, EnergyMedium},
		{0.65, EnergyHigh},
		{0.85, EnergyExtreme},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, energyBucket(tc.score))
	}
}

func TestEarlySpikeFrontLoaded(t *testing.T) {
	tr := newTestTracker()
	start := trackerNow.Add(-30 * time.Minute)
	// 8 events in the first two minutes, 2 later.
	for i := 0; i < 8; i++ {
		tr.Add(sell(start.Add(time.Duration(i)*10*time.Second), 1000))
	}
	tr.Add(sell(start.Add(10*time.Minute), 1000))
	tr.Add(sell(start.Add(20*time.Minute), 1000))

	es := tr.Early(2)
	assert.Equal(t, 10, es.Total)
	assert.Equal(t, 8, es.EarlyCount)
	assert.InDelta(t, 0.8, es.Share, 1e-9)
	assert.Equal(t, RiskHigh, es.Risk)
	assert.Equal(t, start, es.WindowStart)
}

func TestEarlySpikeEmpty(t *testing.T) {
	tr := newTestTracker()
	es := tr.Early(2)
	assert.Zero(t, es.Total)
	assert.Equal(t, RiskLow, es.Risk)
}

func TestGrowthIncreasing(t *testing.T) {
	tr := newTestTracker()
	// Rising notional across the 5-minute buckets of the lookback.
	for i := 0; i < 6; i++ {
		ts := trackerNow.Add(-time.Duration(29-i*5) * time.Minute)
		for j := 0; j <= i; j++ {
			tr.Add(sell(ts.Add(time.Duration(j)*time.Second), 10_000))
		}
	}

	g := tr.Growth()
	assert.Equal(t, TrendIncreasing, g.Trend)
	assert.Positive(t, g.Rate)
	assert.Len(t, g.Buckets, 6)
}

func TestGrowthEmpty(t *testing.T) {
	tr := newTestTracker()
	g := tr.Growth()
	assert.Equal(t, TrendStable, g.Trend)
	assert.Zero(t, g.Rate)
}
