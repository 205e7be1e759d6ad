package strategy

import (
	"github.com/quantarc/halfpipe/internal/marketstate"
	"github.com/quantarc/halfpipe/internal/volatility"
)

// Category groups strategies by the exposure they take on.
type Category string

const (
	CategoryNeutral     Category = "NEUTRAL"
	CategoryDirectional Category = "DIRECTIONAL"
	CategoryVolatility  Category = "VOLATILITY"
)

// Conditions describes the market a strategy wants. Empty slices and
// zero bounds leave that criterion out of scoring.
type Conditions struct {
	Regimes        []marketstate.Regime
	VolBuckets     []VolBucket
	SkewBuckets    []SkewBucket
	GEXSigns       []GEXSign
	MaxPainDistMin float64 // |spot vs max pain| lower bound, percent
	MaxPainDistMax float64 // upper bound, percent
	Sentiments     []marketstate.Sentiment
	Divergence     bool // OI/volume sentiment split also satisfies the sentiment criterion
	AnomalyKinds   []volatility.AnomalyKind
	AnomalyPrice   volatility.PriceType // narrow IV outliers to one side, "" = either
}

// ScoringWeights are the points each matched criterion contributes.
// Specified criteria sum to 100 per strategy; Anomaly is a bonus on
// top, with the total capped at 100.
type ScoringWeights struct {
	Regime     float64
	Volatility float64
	Skew       float64
	GEX        float64
	MaxPain    float64
	Sentiment  float64
	Anomaly    float64
}

// Strategy is one catalog entry.
type Strategy struct {
	Name      string
	Category  Category
	Structure string
	Ideal     Conditions
	Weights   ScoringWeights
}

// Catalog returns a copy of the built-in strategy set.
func Catalog() []Strategy {
	out := make([]Strategy, len(catalog))
	copy(out, catalog)
	return out
}

var catalog = []Strategy{
	{
		Name:      "Short Strangle",
		Category:  CategoryNeutral,
		Structure: "sell OTM call + sell OTM put",
		Ideal: Conditions{
			Regimes:        []marketstate.Regime{marketstate.PositiveGammaAboveFlip},
			VolBuckets:     []VolBucket{VolHigh, VolExtreme},
			GEXSigns:       []GEXSign{GEXPositive},
			MaxPainDistMax: 2.0,
			Sentiments:     []marketstate.Sentiment{marketstate.SentNeutral},
			AnomalyKinds:   []volatility.AnomalyKind{volatility.KindIVOutlier},
			AnomalyPrice:   volatility.Overpriced,
		},
		Weights: ScoringWeights{Regime: 30, Volatility: 30, GEX: 15, MaxPain: 15, Sentiment: 10, Anomaly: 10},
	},
	{
		Name:      "Iron Condor",
		Category:  CategoryNeutral,
		Structure: "sell OTM put spread + sell OTM call spread",
		Ideal: Conditions{
			Regimes:        []marketstate.Regime{marketstate.PositiveGammaAboveFlip, marketstate.PositiveGammaBelowFlip},
			VolBuckets:     []VolBucket{VolMedium, VolHigh},
			GEXSigns:       []GEXSign{GEXPositive},
			MaxPainDistMax: 3.0,
			Sentiments:     []marketstate.Sentiment{marketstate.SentNeutral},
		},
		Weights: ScoringWeights{Regime: 25, Volatility: 25, GEX: 20, MaxPain: 20, Sentiment: 10},
	},
	{
		Name:      "Long Call Butterfly",
		Category:  CategoryNeutral,
		Structure: "buy ITM call + sell 2 ATM calls + buy OTM call",
		Ideal: Conditions{
			Regimes:        []marketstate.Regime{marketstate.PositiveGammaAboveFlip},
			VolBuckets:     []VolBucket{VolLow, VolMedium},
			GEXSigns:       []GEXSign{GEXPositive},
			MaxPainDistMax: 1.5,
			Sentiments:     []marketstate.Sentiment{marketstate.SentNeutral},
		},
		Weights: ScoringWeights{Regime: 25, Volatility: 20, GEX: 20, MaxPain: 25, Sentiment: 10},
	},
	{
		Name:      "Calendar Spread",
		Category:  CategoryNeutral,
		Structure: "sell front-expiry ATM + buy back-expiry ATM",
		Ideal: Conditions{
			Regimes:        []marketstate.Regime{marketstate.PositiveGammaAboveFlip, marketstate.PositiveGammaBelowFlip},
			VolBuckets:     []VolBucket{VolLow},
			GEXSigns:       []GEXSign{GEXPositive},
			MaxPainDistMax: 2.0,
			Sentiments:     []marketstate.Sentiment{marketstate.SentNeutral},
			AnomalyKinds:   []volatility.AnomalyKind{volatility.KindIVOutlier},
			AnomalyPrice:   volatility.Underpriced,
		},
		Weights: ScoringWeights{Regime: 20, Volatility: 35, GEX: 15, MaxPain: 20, Sentiment: 10, Anomaly: 10},
	},
	{
		Name:      "Covered Call",
		Category:  CategoryNeutral,
		Structure: "hold spot + sell OTM call",
		Ideal: Conditions{
			Regimes:        []marketstate.Regime{marketstate.PositiveGammaAboveFlip},
			VolBuckets:     []VolBucket{VolHigh, VolExtreme},
			GEXSigns:       []GEXSign{GEXPositive},
			MaxPainDistMax: 3.0,
			Sentiments:     []marketstate.Sentiment{marketstate.SentNeutral, marketstate.SentBullish},
			AnomalyKinds:   []volatility.AnomalyKind{volatility.KindIVOutlier},
			AnomalyPrice:   volatility.Overpriced,
		},
		Weights: ScoringWeights{Regime: 25, Volatility: 30, GEX: 15, MaxPain: 10, Sentiment: 20, Anomaly: 10},
	},
	{
		Name:      "Bull Call Spread",
		Category:  CategoryDirectional,
		Structure: "buy ATM call + sell OTM call",
		Ideal: Conditions{
			Regimes:        []marketstate.Regime{marketstate.NegativeGammaAboveFlip, marketstate.PositiveGammaBelowFlip},
			VolBuckets:     []VolBucket{VolLow, VolMedium},
			GEXSigns:       []GEXSign{GEXNegative},
			MaxPainDistMin: 2.0,
			Sentiments:     []marketstate.Sentiment{marketstate.SentBullish, marketstate.VeryBullish},
		},
		Weights: ScoringWeights{Regime: 20, Volatility: 15, GEX: 20, MaxPain: 15, Sentiment: 30},
	},
	{
		Name:      "Bear Put Spread",
		Category:  CategoryDirectional,
		Structure: "buy ATM put + sell OTM put",
		Ideal: Conditions{
			Regimes:        []marketstate.Regime{marketstate.NegativeGammaBelowFlip},
			VolBuckets:     []VolBucket{VolLow, VolMedium},
			GEXSigns:       []GEXSign{GEXNegative},
			MaxPainDistMin: 2.0,
			Sentiments:     []marketstate.Sentiment{marketstate.SentBearish, marketstate.VeryBearish},
		},
		Weights: ScoringWeights{Regime: 20, Volatility: 15, GEX: 20, MaxPain: 15, Sentiment: 30},
	},
	{
		Name:      "Protective Collar",
		Category:  CategoryDirectional,
		Structure: "hold spot + buy OTM put + sell OTM call",
		Ideal: Conditions{
			Regimes:    []marketstate.Regime{marketstate.PositiveGammaAboveFlip},
			VolBuckets: []VolBucket{VolMedium, VolHigh},
			SkewBuckets: []SkewBucket{
				SkewCall, SkewFlat, // puts still cheap to own
			},
			GEXSigns:   []GEXSign{GEXPositive},
			Sentiments: []marketstate.Sentiment{marketstate.SentBearish},
			Divergence: true,
		},
		Weights: ScoringWeights{Regime: 15, Volatility: 20, Skew: 25, GEX: 15, Sentiment: 25},
	},
	{
		Name:      "Long Straddle",
		Category:  CategoryVolatility,
		Structure: "buy ATM call + buy ATM put",
		Ideal: Conditions{
			Regimes:      []marketstate.Regime{marketstate.NegativeGammaBelowFlip, marketstate.NegativeGammaAboveFlip},
			VolBuckets:   []VolBucket{VolLow},
			SkewBuckets:  []SkewBucket{SkewFlat},
			GEXSigns:     []GEXSign{GEXNegative},
			AnomalyKinds: []volatility.AnomalyKind{volatility.KindIVOutlier},
			AnomalyPrice: volatility.Underpriced,
		},
		Weights: ScoringWeights{Regime: 25, Volatility: 35, Skew: 20, GEX: 20, Anomaly: 10},
	},
	{
		Name:      "Long Strangle",
		Category:  CategoryVolatility,
		Structure: "buy OTM call + buy OTM put",
		Ideal: Conditions{
			Regimes:      []marketstate.Regime{marketstate.NegativeGammaBelowFlip, marketstate.NegativeGammaAboveFlip},
			VolBuckets:   []VolBucket{VolLow},
			SkewBuckets:  []SkewBucket{SkewFlat},
			GEXSigns:     []GEXSign{GEXNegative},
			AnomalyKinds: []volatility.AnomalyKind{volatility.KindIVOutlier},
			AnomalyPrice: volatility.Underpriced,
		},
		Weights: ScoringWeights{Regime: 25, Volatility: 30, Skew: 20, GEX: 25, Anomaly: 10},
	},
	{
		Name:      "Put Ratio Spread",
		Category:  CategoryVolatility,
		Structure: "buy 1 ATM put + sell 2 OTM puts",
		Ideal: Conditions{
			Regimes:      []marketstate.Regime{marketstate.PositiveGammaBelowFlip, marketstate.NegativeGammaBelowFlip},
			VolBuckets:   []VolBucket{VolHigh, VolExtreme},
			SkewBuckets:  []SkewBucket{SkewPut},
			Sentiments:   []marketstate.Sentiment{marketstate.SentBearish, marketstate.VeryBearish},
			AnomalyKinds: []volatility.AnomalyKind{volatility.KindSkewAnomaly},
		},
		Weights: ScoringWeights{Regime: 15, Volatility: 25, Skew: 40, Sentiment: 20, Anomaly: 10},
	},
	{
		Name:      "Call Ratio Spread",
		Category:  CategoryVolatility,
		Structure: "buy 1 ATM call + sell 2 OTM calls",
		Ideal: Conditions{
			Regimes:      []marketstate.Regime{marketstate.PositiveGammaAboveFlip, marketstate.NegativeGammaAboveFlip},
			VolBuckets:   []VolBucket{VolHigh, VolExtreme},
			SkewBuckets:  []SkewBucket{SkewCall},
			Sentiments:   []marketstate.Sentiment{marketstate.SentBullish, marketstate.VeryBullish},
			AnomalyKinds: []volatility.AnomalyKind{volatility.KindSkewAnomaly},
		},
		Weights: ScoringWeights{Regime: 15, Volatility: 25, Skew: 40, Sentiment: 20, Anomaly: 10},
	},
}
