// Package strategy scores a static catalog of option structures against
// the derived market state and returns the best fits with per-criterion
// reasoning. Pure functions; the engine composes the MarketState.
package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/quantarc/halfpipe/internal/marketstate"
	"github.com/quantarc/halfpipe/internal/volatility"
)

// GEXSign is the sign of total gamma exposure.
type GEXSign string

const (
	GEXPositive GEXSign = "POSITIVE"
	GEXNegative GEXSign = "NEGATIVE"
)

// SignOf buckets a total GEX value.
func SignOf(totalGEX float64) GEXSign {
	if totalGEX < 0 {
		return GEXNegative
	}
	return GEXPositive
}

// VolBucket grades the ATM implied volatility level.
type VolBucket string

const (
	VolLow     VolBucket = "LOW"     // < 40%
	VolMedium  VolBucket = "MEDIUM"  // < 70%
	VolHigh    VolBucket = "HIGH"    // < 100%
	VolExtreme VolBucket = "EXTREME" // >= 100%
)

// BucketVol grades an annualized ATM IV given as a decimal.
func BucketVol(atmIV float64) VolBucket {
	switch {
	case atmIV < 0.4:
		return VolLow
	case atmIV < 0.7:
		return VolMedium
	case atmIV < 1.0:
		return VolHigh
	default:
		return VolExtreme
	}
}

// SkewBucket labels which wing carries the premium.
type SkewBucket string

const (
	SkewPut  SkewBucket = "PUT_SKEW"
	SkewCall SkewBucket = "CALL_SKEW"
	SkewFlat SkewBucket = "FLAT"
)

// skewFlatBand is the total-skew dead zone in IV points.
const skewFlatBand = 0.03

// BucketSkew labels the front-expiry smile. A missing total skew reads
// as flat.
func BucketSkew(sk volatility.Skew) SkewBucket {
	if sk.TotalSkew == nil {
		return SkewFlat
	}
	switch {
	case *sk.TotalSkew > skewFlatBand:
		return SkewPut
	case *sk.TotalSkew < -skewFlatBand:
		return SkewCall
	default:
		return SkewFlat
	}
}

// MarketState is the condensed market picture the catalog is scored
// against.
type MarketState struct {
	Regime              marketstate.Regime    `json:"regime"`
	VolBucket           VolBucket             `json:"vol_bucket"`
	SkewBucket          SkewBucket            `json:"skew_bucket"`
	GEXSign             GEXSign               `json:"gex_sign"`
	MaxPainDistPct      float64               `json:"max_pain_dist_pct"` // signed, percent
	Sentiment           marketstate.Sentiment `json:"sentiment"`
	SentimentDivergence bool                  `json:"sentiment_divergence"` // OI and volume buckets disagree
	Anomalies           []volatility.Anomaly  `json:"-"`
}

// Fit buckets a 0-100 score.
type Fit string

const (
	FitExcellent Fit = "EXCELLENT" // >= 80
	FitGood      Fit = "GOOD"      // >= 65
	FitFair      Fit = "FAIR"      // >= 50
	FitPoor      Fit = "POOR"
)

func fitFor(score float64) Fit {
	switch {
	case score >= 80:
		return FitExcellent
	case score >= 65:
		return FitGood
	case score >= 50:
		return FitFair
	default:
		return FitPoor
	}
}

// Recommendation is one scored catalog entry.
type Recommendation struct {
	Name      string   `json:"name"`
	Category  Category `json:"category"`
	Structure string   `json:"structure"`
	Score     float64  `json:"score"`
	Fit       Fit      `json:"fit"`
	Reasoning []string `json:"reasoning"`
}

// Recommend scores every catalog strategy against the state and returns
// the topN (all when topN <= 0), best first. Ties break alphabetically.
func Recommend(ms MarketState, topN int) []Recommendation {
	recs := make([]Recommendation, 0, len(catalog))
	for i := range catalog {
		recs = append(recs, scoreStrategy(&catalog[i], ms))
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].Name < recs[j].Name
	})
	if topN > 0 && len(recs) > topN {
		recs = recs[:topN]
	}
	return recs
}

// scoreStrategy sums the weights of the matched criteria. Criteria the
// strategy leaves unspecified contribute nothing.
func scoreStrategy(s *Strategy, ms MarketState) Recommendation {
	rec := Recommendation{
		Name:      s.Name,
		Category:  s.Category,
		Structure: s.Structure,
	}
	score := 0.0
	add := func(w float64, reason string) {
		score += w
		rec.Reasoning = append(rec.Reasoning, fmt.Sprintf("%s (+%.0f)", reason, w))
	}

	c := &s.Ideal
	w := &s.Weights

	if containsRegime(c.Regimes, ms.Regime) {
		add(w.Regime, fmt.Sprintf("regime %s fits", ms.Regime))
	}
	if containsVol(c.VolBuckets, ms.VolBucket) {
		add(w.Volatility, fmt.Sprintf("%s volatility fits", ms.VolBucket))
	}
	if containsSkew(c.SkewBuckets, ms.SkewBucket) {
		add(w.Skew, fmt.Sprintf("skew %s fits", ms.SkewBucket))
	}
	if containsSign(c.GEXSigns, ms.GEXSign) {
		add(w.GEX, fmt.Sprintf("%s gamma exposure fits", ms.GEXSign))
	}
	if maxPainMatch(c, ms.MaxPainDistPct) {
		add(w.MaxPain, fmt.Sprintf("max pain %.1f%% away fits", math.Abs(ms.MaxPainDistPct)))
	}
	if sentimentMatch(c, ms) {
		add(w.Sentiment, fmt.Sprintf("sentiment %s fits", ms.Sentiment))
	}
	if kind, ok := anomalyMatch(c, ms.Anomalies); ok {
		add(w.Anomaly, fmt.Sprintf("%s anomaly bonus", kind))
	}

	rec.Score = math.Min(100, score)
	rec.Fit = fitFor(rec.Score)
	return rec
}

func containsRegime(set []marketstate.Regime, v marketstate.Regime) bool {
	for _, r := range set {
		if r == v {
			return true
		}
	}
	return false
}

func containsVol(set []VolBucket, v VolBucket) bool {
	for _, b := range set {
		if b == v {
			return true
		}
	}
	return false
}

func containsSkew(set []SkewBucket, v SkewBucket) bool {
	for _, b := range set {
		if b == v {
			return true
		}
	}
	return false
}

func containsSign(set []GEXSign, v GEXSign) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// maxPainMatch applies the |distance| band. Unset bounds are open.
func maxPainMatch(c *Conditions, distPct float64) bool {
	if c.MaxPainDistMin == 0 && c.MaxPainDistMax == 0 {
		return false
	}
	d := math.Abs(distPct)
	if c.MaxPainDistMin > 0 && d < c.MaxPainDistMin {
		return false
	}
	if c.MaxPainDistMax > 0 && d > c.MaxPainDistMax {
		return false
	}
	return true
}

func sentimentMatch(c *Conditions, ms MarketState) bool {
	for _, s := range c.Sentiments {
		if s == ms.Sentiment {
			return true
		}
	}
	return c.Divergence && ms.SentimentDivergence
}

// anomalyMatch looks for any anomaly matching the strategy's kind set
// (and price side when specified).
func anomalyMatch(c *Conditions, anomalies []volatility.Anomaly) (volatility.AnomalyKind, bool) {
	if len(c.AnomalyKinds) == 0 {
		return "", false
	}
	for _, a := range anomalies {
		for _, k := range c.AnomalyKinds {
			if a.Kind != k {
				continue
			}
			if c.AnomalyPrice != "" && a.PriceType != c.AnomalyPrice {
				continue
			}
			return k, true
		}
	}
	return "", false
}
