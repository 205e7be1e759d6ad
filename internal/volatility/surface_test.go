package volatility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantarc/halfpipe/internal/options"
)

func surfOpt(strike float64, side options.Side, expiry time.Time, iv, oi, vol float64) *options.Option {
	return &options.Option{
		Symbol:       options.FormatSymbol("BTC", expiry, strike, side),
		Underlying:   "BTC",
		Strike:       strike,
		Expiry:       expiry,
		Side:         side,
		MarkIV:       iv,
		OpenInterest: oi,
		Volume24h:    vol,
	}
}

func TestBuildSurface(t *testing.T) {
	now := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	front := time.Date(2026, time.May, 8, 8, 0, 0, 0, time.UTC)  // DTE 7
	back := time.Date(2026, time.May, 29, 8, 0, 0, 0, time.UTC)  // DTE 28
	spot := 100000.0

	chain := []*options.Option{
		surfOpt(88000, options.SidePut, front, 0.72, 50, 10),
		surfOpt(95000, options.SidePut, front, 0.62, 100, 20),
		surfOpt(95000, options.SideCall, front, 0.64, 80, 15),
		surfOpt(100000, options.SideCall, front, 0.60, 100, 40),
		surfOpt(100000, options.SidePut, front, 0.60, 100, 35),
		surfOpt(105000, options.SideCall, front, 0.61, 90, 12),
		surfOpt(112000, options.SideCall, front, 0.62, 70, 9),
		surfOpt(100000, options.SideCall, back, 0.65, 10, 1),
		surfOpt(100000, options.SideCall, back, 0, 500, 1), // dropped: no IV
	}

	s, err := BuildSurface(chain, spot, now)
	require.NoError(t, err)

	assert.Equal(t, 8, s.OptionsUsed)
	assert.Equal(t, 1, s.OptionsDropped)
	assert.Equal(t, []int{7, 28}, s.DTEs)
	assert.Equal(t, []float64{88000, 95000, 100000, 105000, 112000}, s.Strikes)
	assert.Equal(t, 7, s.SmallestDTE)

	// ATM cell: pooled IV at strike nearest spot, front expiry.
	assert.Equal(t, 100000.0, s.ATMStrike)
	assert.InDelta(t, 0.60, s.ATMIV, 1e-12)

	// OI weighting at the 95k front cell: (0.62*100 + 0.64*80) / 180.
	p := s.PointAt(7, 95000)
	require.NotNil(t, p)
	assert.InDelta(t, (0.62*100+0.64*80)/180, p.AvgIV, 1e-12)
	assert.True(t, p.HasCall)
	assert.True(t, p.HasPut)
	assert.InDelta(t, 180.0, p.OpenInterest, 1e-12)
	assert.InDelta(t, 35.0, p.Volume, 1e-12)

	// Matrices: rows follow DTEs, cols follow Strikes; nil means missing.
	require.NotNil(t, s.AvgIV[0][0])
	assert.InDelta(t, 0.72, *s.AvgIV[0][0], 1e-12)
	assert.Nil(t, s.CallIV[0][0]) // no call at 88k
	require.NotNil(t, s.AvgIV[1][2])
	assert.InDelta(t, 0.65, *s.AvgIV[1][2], 1e-12)
	assert.Nil(t, s.AvgIV[1][0]) // back expiry has no 88k cell

	// Skew legs: put at moneyness 0.88, call at 1.12.
	require.NotNil(t, s.Skew.PutSkew)
	require.NotNil(t, s.Skew.CallSkew)
	require.NotNil(t, s.Skew.TotalSkew)
	assert.InDelta(t, 0.12, *s.Skew.PutSkew, 1e-12)
	assert.InDelta(t, 0.02, *s.Skew.CallSkew, 1e-12)
	assert.InDelta(t, 0.10, *s.Skew.TotalSkew, 1e-12)
}

func TestBuildSurfaceZeroOIFallsBackToMean(t *testing.T) {
	now := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	expiry := time.Date(2026, time.May, 8, 8, 0, 0, 0, time.UTC)

	chain := []*options.Option{
		surfOpt(100000, options.SideCall, expiry, 0.5, 0, 0),
		surfOpt(100000, options.SideCall, expiry, 0.7, 0, 0),
	}

	s, err := BuildSurface(chain, 100000, now)
	require.NoError(t, err)

	p := s.PointAt(7, 100000)
	require.NotNil(t, p)
	assert.InDelta(t, 0.6, p.AvgIV, 1e-12)
	assert.InDelta(t, 0.6, p.CallIV, 1e-12)
}

func TestBuildSurfaceSkewMissingLegs(t *testing.T) {
	now := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	expiry := time.Date(2026, time.May, 8, 8, 0, 0, 0, time.UTC)

	// No strike at or beyond 1.10 moneyness.
	chain := []*options.Option{
		surfOpt(88000, options.SidePut, expiry, 0.7, 10, 0),
		surfOpt(100000, options.SideCall, expiry, 0.6, 10, 0),
	}

	s, err := BuildSurface(chain, 100000, now)
	require.NoError(t, err)
	assert.NotNil(t, s.Skew.PutSkew)
	assert.Nil(t, s.Skew.CallSkew)
	assert.Nil(t, s.Skew.TotalSkew)
}

func TestBuildSurfaceEmptyAndInvalid(t *testing.T) {
	now := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)

	s, err := BuildSurface(nil, 100000, now)
	require.NoError(t, err)
	assert.Empty(t, s.Points)
	assert.Empty(t, s.DTEs)

	_, err = BuildSurface(nil, 0, now)
	assert.Error(t, err)
}

func TestBuildSurfaceIdempotent(t *testing.T) {
	now := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	expiry := time.Date(2026, time.May, 8, 8, 0, 0, 0, time.UTC)

	chain := []*options.Option{
		surfOpt(95000, options.SidePut, expiry, 0.62, 100, 20),
		surfOpt(100000, options.SideCall, expiry, 0.60, 100, 40),
		surfOpt(105000, options.SideCall, expiry, 0.61, 90, 12),
	}

	a, err := BuildSurface(chain, 100000, now)
	require.NoError(t, err)
	b, err := BuildSurface(chain, 100000, now)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
