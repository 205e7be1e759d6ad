package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantarc/halfpipe/internal/marketstate"
	"github.com/quantarc/halfpipe/internal/volatility"
)

func TestSignOf(t *testing.T) {
	assert.Equal(t, GEXPositive, SignOf(1e6))
	assert.Equal(t, GEXPositive, SignOf(0))
	assert.Equal(t, GEXNegative, SignOf(-0.1))
}

func TestBucketVol(t *testing.T) {
	assert.Equal(t, VolLow, BucketVol(0.39))
	assert.Equal(t, VolMedium, BucketVol(0.4))
	assert.Equal(t, VolMedium, BucketVol(0.69))
	assert.Equal(t, VolHigh, BucketVol(0.7))
	assert.Equal(t, VolHigh, BucketVol(0.99))
	assert.Equal(t, VolExtreme, BucketVol(1.0))
}

func TestBucketSkew(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	assert.Equal(t, SkewFlat, BucketSkew(volatility.Skew{}))
	assert.Equal(t, SkewPut, BucketSkew(volatility.Skew{TotalSkew: f(0.05)}))
	assert.Equal(t, SkewCall, BucketSkew(volatility.Skew{TotalSkew: f(-0.05)}))
	assert.Equal(t, SkewFlat, BucketSkew(volatility.Skew{TotalSkew: f(0.02)}))
	assert.Equal(t, SkewFlat, BucketSkew(volatility.Skew{TotalSkew: f(-0.03)}))
}

func TestCatalogWeightsSumTo100(t *testing.T) {
	for _, s := range Catalog() {
		w := s.Weights
		sum := w.Regime + w.Volatility + w.Skew + w.GEX + w.MaxPain + w.Sentiment
		assert.Equal(t, 100.0, sum, "strategy %q", s.Name)
	}
}

func TestCatalogReturnsCopy(t *testing.T) {
	first := Catalog()
	first[0].Name = "mutated"
	assert.Equal(t, "Short Strangle", Catalog()[0].Name)
}

func TestRecommendPinnedRangeBound(t *testing.T) {
	ms := MarketState{
		Regime:         marketstate.PositiveGammaAboveFlip,
		VolBucket:      VolExtreme,
		SkewBucket:     SkewFlat,
		GEXSign:        GEXPositive,
		MaxPainDistPct: 1.0,
		Sentiment:      marketstate.SentNeutral,
	}

	recs := Recommend(ms, 0)
	require.Len(t, recs, 12)

	// Covered Call and Short Strangle both hit every criterion; ties
	// break alphabetically.
	assert.Equal(t, "Covered Call", recs[0].Name)
	assert.Equal(t, 100.0, recs[0].Score)
	assert.Equal(t, FitExcellent, recs[0].Fit)
	assert.Equal(t, "Short Strangle", recs[1].Name)
	assert.Equal(t, 100.0, recs[1].Score)
	assert.Equal(t, "Long Call Butterfly", recs[2].Name)
	assert.Equal(t, 80.0, recs[2].Score)
	assert.Equal(t, FitExcellent, recs[2].Fit)

	// Directional spreads have nothing to work with here.
	last := recs[len(recs)-1]
	assert.Equal(t, "Bull Call Spread", last.Name)
	assert.Equal(t, 0.0, last.Score)
	assert.Equal(t, FitPoor, last.Fit)

	for i := 1; i < len(recs); i++ {
		assert.GreaterOrEqual(t, recs[i-1].Score, recs[i].Score)
	}
}

func TestRecommendBearishNegativeGamma(t *testing.T) {
	ms := MarketState{
		Regime:         marketstate.NegativeGammaBelowFlip,
		VolBucket:      VolLow,
		SkewBucket:     SkewFlat,
		GEXSign:        GEXNegative,
		MaxPainDistPct: -3.0,
		Sentiment:      marketstate.VeryBearish,
		Anomalies: []volatility.Anomaly{
			{Kind: volatility.KindIVOutlier, PriceType: volatility.Underpriced},
		},
	}

	recs := Recommend(ms, 3)
	require.Len(t, recs, 3)

	// The anomaly bonus pushes the long-vol structures past the cap;
	// the put spread matches all five of its criteria outright.
	assert.Equal(t, "Bear Put Spread", recs[0].Name)
	assert.Equal(t, 100.0, recs[0].Score)
	assert.Equal(t, "Long Straddle", recs[1].Name)
	assert.Equal(t, 100.0, recs[1].Score)
	assert.Equal(t, "Long Strangle", recs[2].Name)
	assert.Equal(t, 100.0, recs[2].Score)

	assert.NotEmpty(t, recs[0].Reasoning)
}

func TestRecommendTopNClamp(t *testing.T) {
	ms := MarketState{Regime: marketstate.PositiveGammaAboveFlip}

	assert.Len(t, Recommend(ms, 5), 5)
	assert.Len(t, Recommend(ms, 0), 12)
	assert.Len(t, Recommend(ms, -1), 12)
	assert.Len(t, Recommend(ms, 50), 12)
}

func TestMaxPainMatch(t *testing.T) {
	cases := []struct {
		name     string
		min, max float64
		dist     float64
		want     bool
	}{
		{"unset bounds never match", 0, 0, 1.0, false},
		{"inside max", 0, 2.0, 1.5, true},
		{"at max boundary", 0, 2.0, 2.0, true},
		{"beyond max", 0, 2.0, 2.1, false},
		{"above min", 2.0, 0, 3.0, true},
		{"below min", 2.0, 0, 1.0, false},
		{"negative distance uses magnitude", 0, 2.0, -1.5, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Conditions{MaxPainDistMin: tc.min, MaxPainDistMax: tc.max}
			assert.Equal(t, tc.want, maxPainMatch(&c, tc.dist))
		})
	}
}

func TestSentimentDivergenceSatisfiesCollar(t *testing.T) {
	base := MarketState{
		Regime:     marketstate.PositiveGammaAboveFlip,
		VolBucket:  VolMedium,
		SkewBucket: SkewFlat,
		GEXSign:    GEXPositive,
		Sentiment:  marketstate.SentNeutral,
	}

	score := func(ms MarketState) float64 {
		for _, r := range Recommend(ms, 0) {
			if r.Name == "Protective Collar" {
				return r.Score
			}
		}
		t.Fatal("collar missing from catalog")
		return 0
	}

	without := score(base)

	diverged := base
	diverged.SentimentDivergence = true
	with := score(diverged)

	assert.Equal(t, 25.0, with-without)
}

func TestAnomalyPriceSideFilter(t *testing.T) {
	// Calendar Spread wants underpriced IV outliers; an overpriced one
	// must not trigger the bonus. Bullish sentiment keeps the base off
	// the cap so the bonus is visible.
	base := MarketState{
		Regime:         marketstate.PositiveGammaAboveFlip,
		VolBucket:      VolLow,
		SkewBucket:     SkewFlat,
		GEXSign:        GEXPositive,
		MaxPainDistPct: 1.0,
		Sentiment:      marketstate.SentBullish,
	}

	calendar := func(ms MarketState) Recommendation {
		for _, r := range Recommend(ms, 0) {
			if r.Name == "Calendar Spread" {
				return r
			}
		}
		t.Fatal("calendar spread missing from catalog")
		return Recommendation{}
	}

	require.Equal(t, 90.0, calendar(base).Score)

	overpriced := base
	overpriced.Anomalies = []volatility.Anomaly{{Kind: volatility.KindIVOutlier, PriceType: volatility.Overpriced}}
	assert.Equal(t, 90.0, calendar(overpriced).Score)

	underpriced := base
	underpriced.Anomalies = []volatility.Anomaly{{Kind: volatility.KindIVOutlier, PriceType: volatility.Underpriced}}
	rec := calendar(underpriced)
	assert.Equal(t, 100.0, rec.Score)
	assert.Contains(t, rec.Reasoning[len(rec.Reasoning)-1], "anomaly bonus")
}

func TestFitBuckets(t *testing.T) {
	assert.Equal(t, FitExcellent, fitFor(80))
	assert.Equal(t, FitGood, fitFor(79.9))
	assert.Equal(t, FitGood, fitFor(65))
	assert.Equal(t, FitFair, fitFor(64))
	assert.Equal(t, FitFair, fitFor(50))
	assert.Equal(t, FitPoor, fitFor(49.9))
}
