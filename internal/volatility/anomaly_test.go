package volatility

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flatCurve builds a single-expiry surface with identical IVs except for
// one outlier. Strikes climb in 1000s from 90000.
func flatCurve(dte, n int, baseIV float64, outlierIdx int, outlierIV, outlierVol, outlierOI float64) *Surface {
	s := &Surface{Spot: 100000, DTEs: []int{dte}}
	for i := 0; i < n; i++ {
		strike := 90000.0 + float64(i)*1000
		p := SurfacePoint{
			DTE:          dte,
			Strike:       strike,
			Moneyness:    strike / s.Spot,
			AvgIV:        baseIV,
			CallIV:       baseIV,
			PutIV:        baseIV,
			HasCall:      true,
			HasPut:       true,
			OpenInterest: 100,
			Volume:       10,
		}
		if i == outlierIdx {
			p.AvgIV = outlierIV
			p.Volume = outlierVol
			p.OpenInterest = outlierOI
		}
		s.Points = append(s.Points, p)
	}
	return s
}

func TestIVOutlierDetection(t *testing.T) {
	// 11 points, one interior outlier: z = sqrt(10) ~ 3.162.
	s := flatCurve(7, 11, 0.6, 5, 0.9, 1000, 8000)
	d := NewDetector(DefaultDetectorConfig())

	anoms := d.Detect(s)
	require.Len(t, anoms, 1)

	a := anoms[0]
	assert.Equal(t, KindIVOutlier, a.Kind)
	assert.Equal(t, 95000.0, a.Strike)
	assert.InDelta(t, math.Sqrt(10), a.ZScore, 1e-9)
	assert.Equal(t, Overpriced, a.PriceType)
	assert.False(t, a.IsWing)

	// Neighbors are both 0.6, so the interpolated expectation is 0.6.
	assert.InDelta(t, 0.6, a.ExpectedIV, 1e-12)
	assert.InDelta(t, 0.3, a.Deviation, 1e-12)

	// relevance = 0.3*log10(1001)*10 + 0.7*log10(8001)*10 ~ 36.3
	assert.InDelta(t, 36.3, a.Relevance, 0.1)
	assert.Equal(t, SeverityCritical, a.Severity)
}

func TestIVOutlierUnderpriced(t *testing.T) {
	s := flatCurve(7, 11, 0.6, 5, 0.3, 10, 100)
	d := NewDetector(DefaultDetectorConfig())

	anoms := d.Detect(s)
	require.Len(t, anoms, 1)
	assert.Equal(t, Underpriced, anoms[0].PriceType)
	assert.True(t, anoms[0].ZScore < 0)
}

func TestWingOutlierStaysLow(t *testing.T) {
	// Outlier at the first position: |z| ~ 3.162 < 3.5 and is a wing.
	s := flatCurve(7, 11, 0.6, 0, 0.9, 1000, 8000)
	d := NewDetector(DefaultDetectorConfig())

	anoms := d.Detect(s)
	require.Len(t, anoms, 1)
	assert.True(t, anoms[0].IsWing)
	assert.Equal(t, SeverityLow, anoms[0].Severity)
}

func TestFlatCurveNoAnomalies(t *testing.T) {
	s := flatCurve(7, 11, 0.6, 5, 0.6, 10, 100) // outlier equals base
	d := NewDetector(DefaultDetectorConfig())
	assert.Empty(t, d.Detect(s)) // sigma 0 skips the expiry
}

func TestSparseDTESkipped(t *testing.T) {
	s := flatCurve(7, 4, 0.6, 2, 0.9, 10, 100) // only 4 points
	d := NewDetector(DefaultDetectorConfig())
	assert.Empty(t, d.Detect(s))
}

func TestSkewAnomalyDetection(t *testing.T) {
	// 6 pairs with flat spread 0.02 except one at 0.30: z = sqrt(5) ~ 2.236.
	s := &Surface{Spot: 100000, DTEs: []int{14}}
	for i := 0; i < 6; i++ {
		strike := 95000.0 + float64(i)*2000
		p := SurfacePoint{
			DTE:          14,
			Strike:       strike,
			Moneyness:    strike / s.Spot,
			CallIV:       0.60,
			PutIV:        0.62,
			AvgIV:        0.61,
			HasCall:      true,
			HasPut:       true,
			OpenInterest: 500,
			Volume:       100,
		}
		if i == 3 {
			p.PutIV = 0.90
			p.AvgIV = 0.61 // keep the pooled curve flat so only the skew scan fires
		}
		s.Points = append(s.Points, p)
	}

	d := NewDetector(DefaultDetectorConfig())
	anoms := d.Detect(s)
	require.Len(t, anoms, 1)

	a := anoms[0]
	assert.Equal(t, KindSkewAnomaly, a.Kind)
	assert.Equal(t, 101000.0, a.Strike)
	assert.InDelta(t, math.Sqrt(5), a.ZScore, 1e-9)
	assert.Equal(t, PutPremium, a.SkewType)
	assert.InDelta(t, 0.30, a.ObservedSpread, 1e-12)
	// expected spread is the mean: (5*0.02 + 0.30)/6
	assert.InDelta(t, (5*0.02+0.30)/6, a.ExpectedSpread, 1e-12)
}

func TestAnomalyOrderingByPriority(t *testing.T) {
	// Two expiries, each with one outlier; the liquid one must rank first.
	liquid := flatCurve(7, 11, 0.6, 5, 0.9, 5000, 50000)
	thin := flatCurve(30, 11, 0.6, 5, 0.9, 0, 1)
	s := &Surface{
		Spot:   100000,
		DTEs:   []int{7, 30},
		Points: append(liquid.Points, thin.Points...),
	}

	d := NewDetector(DefaultDetectorConfig())
	anoms := d.Detect(s)
	require.Len(t, anoms, 2)
	assert.Equal(t, 7, anoms[0].DTE)
	assert.Greater(t, anoms[0].Priority(), anoms[1].Priority())
}

func TestDetectDeterministic(t *testing.T) {
	s := flatCurve(7, 11, 0.6, 5, 0.9, 1000, 8000)
	d := NewDetector(DefaultDetectorConfig())
	assert.Equal(t, d.Detect(s), d.Detect(s))
}

func TestSummarizeAndFilter(t *testing.T) {
	anoms := []Anomaly{
		{Kind: KindIVOutlier, Severity: SeverityCritical, ZScore: 3.5},
		{Kind: KindIVOutlier, Severity: SeverityLow, ZScore: -2.1},
		{Kind: KindSkewAnomaly, Severity: SeverityMedium, ZScore: 2.4},
	}

	st := Summarize(anoms)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.ByKind[KindIVOutlier])
	assert.Equal(t, 1, st.BySeverity[SeverityMedium])
	assert.InDelta(t, 3.5, st.MaxAbsZ, 1e-12)

	onlyIV := Filter(anoms, KindIVOutlier, "")
	assert.Len(t, onlyIV, 2)
	onlyCritical := Filter(anoms, "", SeverityCritical)
	assert.Len(t, onlyCritical, 1)
	both := Filter(anoms, KindSkewAnomaly, SeverityMedium)
	assert.Len(t, both, 1)
}
