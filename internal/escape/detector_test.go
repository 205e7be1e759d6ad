package escape

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantarc/halfpipe/internal/gex"
	"github.com/quantarc/halfpipe/internal/iceberg"
	"github.com/quantarc/halfpipe/internal/liquidation"
	"github.com/quantarc/halfpipe/internal/orderbook"
)

// Wednesday 15:00 UTC: no weekend or off-hours regime indicators.
var weekdayOpen = time.Date(2026, time.May, 6, 15, 0, 0, 0, time.UTC)

func newTestDetector(at time.Time) *Detector {
	d := NewDetector(DefaultConfig())
	d.nowFn = func() time.Time { return at }
	return d
}

func TestEvaluateInsufficientData(t *testing.T) {
	d := newTestDetector(weekdayOpen)

	det := d.Evaluate(Inputs{Spot: 100000})

	assert.Equal(t, TypeNone, det.Type)
	assert.Equal(t, "Insufficient data", det.Reason)
	assert.Equal(t, DirectionNeutral, det.Direction)
	assert.Len(t, d.History(0), 1)
}

// falseEscapeInputs reproduces the weak-flow-into-strong-wall setup: low
// persistence, middling sustained energy, no liquidation pressure, spot
// two percent from an 0.85-strength put wall.
func falseEscapeInputs() Inputs {
	return Inputs{
		Book: &orderbook.Metrics{
			Imbalance:       orderbook.Imbalance{BI: 0.2, Direction: orderbook.Bullish},
			Persistence:     0.3,
			Depth:           orderbook.DepthMetrics{Change: 0, DepthUSD: 50e6},
			Spread:          orderbook.SpreadMetrics{Quality: 0.8, Pulse: 0.5, SpreadBps: 1.0},
			SustainedEnergy: 0.5,
		},
		Liquidation: &liquidation.Stats{Cascade: false},
		Energy:      &liquidation.Energy{Score: 0.1, Direction: liquidation.Neutral},
		Iceberg:     &iceberg.Detection{Score: 0.5},
		GEX:         &gex.Totals{Total: 8e8},
		Walls: &gex.Walls{
			PutWall:  &gex.Wall{Strike: 98000, GEX: -8.5e8},
			CallWall: &gex.Wall{Strike: 110000, GEX: 2e8},
			Spot:     100000,
		},
		Spot: 100000,
	}
}

func TestEvaluateFalseEscape(t *testing.T) {
	d := newTestDetector(weekdayOpen)

	det := d.Evaluate(falseEscapeInputs())

	assert.Equal(t, TypeH2, det.Type)
	assert.InDelta(t, 1.0, det.Confidence, 1e-9)
	assert.Equal(t, DirectionNeutral, det.Direction)

	// Energy picture: (0.5 + 0.1) / 2 over an active-regime potential.
	assert.InDelta(t, 0.3, det.Metrics.TotalEnergy, 1e-9)
	assert.Equal(t, RegimeOptionsActive, det.Metrics.Potential.Regime)
	assert.InDelta(t, 0.8098, det.Metrics.Potential.Total, 1e-4)
	assert.InDelta(t, 0.3705, det.Metrics.PEscape, 1e-3)
	assert.Less(t, det.Metrics.PEscape, 0.4)

	h2 := det.Hypotheses[TypeH2]
	assert.True(t, h2.Candidate)
	assert.InDelta(t, 1.0, h2.MetRatio, 1e-9, "all seven checks met")
	assert.False(t, det.Hypotheses[TypeH1].Candidate)
	assert.False(t, det.Hypotheses[TypeH3].Candidate)

	// Neutral direction resolves the wall to the closer side: the put.
	require.NotNil(t, det.Wall)
	assert.Equal(t, "PUT", det.Wall.Side)
	assert.InDelta(t, 0.02, det.Wall.Distance, 1e-9)
	assert.InDelta(t, 0.85, det.Wall.Strength, 1e-9)

	assert.Contains(t, det.Interpretation, "reversal probability")

	alerts := d.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertH2, alerts[0].Kind)
	assert.Equal(t, SeverityMedium, alerts[0].Severity)
	assert.NotEmpty(t, alerts[0].ID)
}

func TestEvalH2AllChecksMet(t *testing.T) {
	st := tickState{
		persistence:   0.3,
		sustained:     0.5,
		injected:      0.1,
		cascade:       false,
		depthChange:   0,
		spreadQuality: 0.8,
		wallDistance:  0.02,
		wallStrength:  0.85,
		pEscape:       0.2,
	}

	res := evalH2(st)
	assert.True(t, res.Candidate)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
	assert.InDelta(t, 1.0, res.MetRatio, 1e-9)
	require.Len(t, res.Checks, 7)
	for name, c := range res.Checks {
		assert.True(t, c.Met, "check %s", name)
	}

	// The same state does not qualify H1: only 4 of 8 checks pass.
	h1 := evalH1(st)
	assert.False(t, h1.Candidate)
	assert.InDelta(t, 0.5, h1.MetRatio, 1e-9)
}

func cascadeInputs() Inputs {
	return Inputs{
		Book: &orderbook.Metrics{
			Imbalance:       orderbook.Imbalance{BI: -0.7, Direction: orderbook.Bearish},
			Persistence:     0.2,
			Depth:           orderbook.DepthMetrics{Change: -0.5, DepthUSD: 10e6},
			Spread:          orderbook.SpreadMetrics{Quality: 0.3, Pulse: 3.0, SpreadBps: 50},
			SustainedEnergy: 0.9,
		},
		Liquidation: &liquidation.Stats{Cascade: true},
		Energy:      &liquidation.Energy{Score: 0.9, Direction: liquidation.Bearish},
		Spot:        100000,
	}
}

func TestEvaluateLiquidityCollapse(t *testing.T) {
	d := newTestDetector(weekdayOpen)

	det := d.Evaluate(cascadeInputs())

	assert.Equal(t, TypeH3, det.Type)
	assert.InDelta(t, 1.0, det.Confidence, 1e-9)
	assert.Equal(t, DirectionDown, det.Direction)
	assert.Nil(t, det.Wall)

	// No options data: potential collapses to the active-regime floor and
	// the probability caps at 1.
	assert.InDelta(t, 0.3, det.Metrics.Potential.Total, 1e-9)
	assert.InDelta(t, 1.0, det.Metrics.PEscape, 1e-9)

	// CRITICAL on any H3, plus the standalone high-probability alert.
	alerts := d.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertH3, alerts[0].Kind)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.Equal(t, AlertHighPEscape, alerts[1].Kind)
	assert.Equal(t, SeverityMedium, alerts[1].Severity)
}

func goodEscapeInputs() Inputs {
	return Inputs{
		Book: &orderbook.Metrics{
			Imbalance:       orderbook.Imbalance{BI: 0.7, Direction: orderbook.Bullish},
			Persistence:     0.8,
			Depth:           orderbook.DepthMetrics{Change: 0.1, DepthUSD: 40e6},
			Spread:          orderbook.SpreadMetrics{Quality: 0.8, Pulse: 0.5, SpreadBps: 1.0},
			SustainedEnergy: 0.7,
		},
		Liquidation: &liquidation.Stats{Cascade: false},
		Energy:      &liquidation.Energy{Score: 0.5, Direction: liquidation.Neutral},
		Iceberg:     &iceberg.Detection{Score: 0.2},
		GEX:         &gex.Totals{Total: 1e8},
		Walls: &gex.Walls{
			PutWall:  &gex.Wall{Strike: 95000, GEX: -9e8},
			CallWall: &gex.Wall{Strike: 103000, GEX: 5e8},
			Spot:     100000,
		},
		Spot: 100000,
	}
}

func TestEvaluateGoodEscape(t *testing.T) {
	d := newTestDetector(weekdayOpen)

	det := d.Evaluate(goodEscapeInputs())

	assert.Equal(t, TypeH1, det.Type)
	assert.InDelta(t, 1.0, det.Confidence, 1e-9)

	// Imbalance above 0.6 decides direction even without liquidation flow.
	assert.Equal(t, DirectionUp, det.Direction)
	require.NotNil(t, det.Wall)
	assert.Equal(t, "CALL", det.Wall.Side)
	assert.InDelta(t, 0.03, det.Wall.Distance, 1e-9)

	assert.Greater(t, det.Metrics.PEscape, 0.6)

	alerts := d.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertH1, alerts[0].Kind)
	assert.Equal(t, SeverityHigh, alerts[0].Severity)
	assert.Equal(t, AlertHighPEscape, alerts[1].Kind)
}

func TestEvaluateNoClearPattern(t *testing.T) {
	d := newTestDetector(weekdayOpen)

	in := falseEscapeInputs()
	in.Walls = nil // without the wall H2 loses two checks
	det := d.Evaluate(in)

	assert.Equal(t, TypeNone, det.Type)
	assert.Equal(t, "No clear pattern", det.Reason)
	assert.Equal(t, det.Reason, det.Interpretation)
	assert.Empty(t, d.Alerts())
}

func TestRegimeInactive(t *testing.T) {
	// Saturday 23:00 UTC, negligible GEX, hot iceberg: all four indicators.
	saturdayNight := time.Date(2026, time.May, 2, 23, 0, 0, 0, time.UTC)
	d := newTestDetector(saturdayNight)

	in := falseEscapeInputs()
	in.GEX = &gex.Totals{Total: 10e6}
	in.Iceberg = &iceberg.Detection{Score: 0.6}
	det := d.Evaluate(in)

	pot := det.Metrics.Potential
	assert.Equal(t, RegimeOptionsInactive, pot.Regime)
	assert.Equal(t, Weights{GEX: 0.10, Iceberg: 0.60, Liquidity: 0.30}, pot.Weights)
	assert.Equal(t, 0.4, pot.Floor)
	assert.GreaterOrEqual(t, pot.Total, 0.4)
}

func TestRegimeTransition(t *testing.T) {
	// Weekend and off-hours only: two indicators.
	saturdayNight := time.Date(2026, time.May, 2, 23, 0, 0, 0, time.UTC)
	d := newTestDetector(saturdayNight)

	det := d.Evaluate(falseEscapeInputs()) // GEX 8e8, iceberg 0.5 (not > 0.5)

	pot := det.Metrics.Potential
	assert.Equal(t, RegimeTransition, pot.Regime)
	assert.Equal(t, Weights{GEX: 0.40, Iceberg: 0.40, Liquidity: 0.20}, pot.Weights)
	assert.Equal(t, 0.3, pot.Floor)
}

func TestCombineDirection(t *testing.T) {
	mk := func(bi float64, biDir orderbook.Direction, liqDir liquidation.Direction) Inputs {
		return Inputs{
			Book:   &orderbook.Metrics{Imbalance: orderbook.Imbalance{BI: bi, Direction: biDir}},
			Energy: &liquidation.Energy{Direction: liqDir},
		}
	}

	// Agreement wins.
	assert.Equal(t, DirectionDown, combineDirection(mk(-0.2, orderbook.Bearish, liquidation.Bearish), 0.2))
	// Strong imbalance overrides disagreement.
	assert.Equal(t, DirectionUp, combineDirection(mk(0.7, orderbook.Bullish, liquidation.Bearish), 0.2))
	// Hot liquidation flow decides when the book is undecided.
	assert.Equal(t, DirectionDown, combineDirection(mk(0.1, orderbook.Bullish, liquidation.Bearish), 0.7))
	// Otherwise neutral.
	assert.Equal(t, DirectionNeutral, combineDirection(mk(0.1, orderbook.Bullish, liquidation.Bearish), 0.2))
}

func TestNearestWall(t *testing.T) {
	walls := &gex.Walls{
		PutWall:  &gex.Wall{Strike: 98000, GEX: -6e8},
		CallWall: &gex.Wall{Strike: 105000, GEX: 4e8},
	}

	up := nearestWall(walls, DirectionUp, 100000, 1e9)
	require.NotNil(t, up)
	assert.Equal(t, "CALL", up.Side)

	down := nearestWall(walls, DirectionDown, 100000, 1e9)
	require.NotNil(t, down)
	assert.Equal(t, "PUT", down.Side)
	assert.InDelta(t, 0.6, down.Strength, 1e-9)

	neutral := nearestWall(walls, DirectionNeutral, 100000, 1e9)
	require.NotNil(t, neutral)
	assert.Equal(t, "PUT", neutral.Side) // 2% beats 5%

	assert.Nil(t, nearestWall(nil, DirectionUp, 100000, 1e9))
	assert.Nil(t, nearestWall(&gex.Walls{}, DirectionUp, 100000, 1e9))
}

func TestHistoryBoundsAndWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 5
	d := NewDetector(cfg)

	now := weekdayOpen
	d.nowFn = func() time.Time { return now }

	for i := 0; i < 8; i++ {
		d.Evaluate(Inputs{}) // insufficient data, still recorded
		now = now.Add(time.Second)
	}
	assert.Len(t, d.History(0), 5)

	// Entries older than the window age out on the next tick.
	now = now.Add(2 * time.Hour)
	d.Evaluate(Inputs{})
	assert.Len(t, d.History(0), 1)
}

func TestHistoryMinutesFilter(t *testing.T) {
	d := NewDetector(DefaultConfig())
	now := weekdayOpen
	d.nowFn = func() time.Time { return now }

	d.Evaluate(Inputs{})
	now = now.Add(30 * time.Minute)
	d.Evaluate(Inputs{})

	assert.Len(t, d.History(0), 2)
	recent := d.History(10)
	require.Len(t, recent, 1)
	assert.Equal(t, now, recent[0].Timestamp)
}

func TestAlertRingBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AlertSize = 3
	d := NewDetector(cfg)
	d.nowFn = func() time.Time { return weekdayOpen }

	for i := 0; i < 5; i++ {
		d.Evaluate(cascadeInputs()) // two alerts per tick
	}
	assert.Len(t, d.Alerts(), 3)
}

func TestStatsAndProbability(t *testing.T) {
	d := newTestDetector(weekdayOpen)
	d.Evaluate(cascadeInputs())

	st := d.Stats()
	assert.Equal(t, 1, st.Count)
	assert.Equal(t, 1, st.ByType[TypeH3])
	assert.InDelta(t, 1.0, st.MaxPEscape, 1e-9)

	p := d.Probability()
	assert.Equal(t, "HIGH", p.Classification)
	assert.InDelta(t, 1.0, p.PEscape, 1e-9)
	assert.Equal(t, RegimeOptionsActive, p.Potential.Regime)

	sum := d.Summary()
	assert.Equal(t, TypeH3, sum.Detection.Type)
	assert.Len(t, sum.History, 1)
	assert.Len(t, sum.Alerts, 2)
}

func TestProbabilityClassificationCutoffs(t *testing.T) {
	d := NewDetector(DefaultConfig())

	d.last = Detection{Metrics: FusedMetrics{PEscape: 0.2}}
	assert.Equal(t, "LOW", d.Probability().Classification)

	d.last = Detection{Metrics: FusedMetrics{PEscape: 0.5}}
	assert.Equal(t, "MEDIUM", d.Probability().Classification)

	d.last = Detection{Metrics: FusedMetrics{PEscape: 0.9}}
	assert.Equal(t, "HIGH", d.Probability().Classification)
}
