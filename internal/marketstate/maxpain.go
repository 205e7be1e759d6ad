package marketstate

import (
	"sort"

	"github.com/quantarc/halfpipe/internal/options"
)

// StrikeOI is the open-interest aggregate for one strike.
type StrikeOI struct {
	Strike  float64 `json:"strike"`
	CallOI  float64 `json:"call_oi"`
	PutOI   float64 `json:"put_oi"`
	TotalOI float64 `json:"total_oi"`
}

// MaxPain labels the strike carrying the largest aggregate open interest.
// This is the OI magnet reading, not the classic dealer-PnL minimizer.
type MaxPain struct {
	Strike      float64    `json:"strike"`
	TotalOI     float64    `json:"total_oi"`
	CallOI      float64    `json:"call_oi"`
	PutOI       float64    `json:"put_oi"`
	DistancePct float64    `json:"distance_pct"`
	Top         []StrikeOI `json:"top"` // descending by total OI, at most 10
}

// CalculateMaxPain aggregates OI per strike and returns the maximum plus
// the top contributors. Ties resolve to the lower strike.
func CalculateMaxPain(opts []*options.Option, spot float64) MaxPain {
	byStrike := make(map[float64]*StrikeOI)
	for _, o := range opts {
		if o == nil || o.OpenInterest <= 0 {
			continue
		}
		agg, ok := byStrike[o.Strike]
		if !ok {
			agg = &StrikeOI{Strike: o.Strike}
			byStrike[o.Strike] = agg
		}
		if o.Side == options.SideCall {
			agg.CallOI += o.OpenInterest
		} else {
			agg.PutOI += o.OpenInterest
		}
		agg.TotalOI += o.OpenInterest
	}

	var mp MaxPain
	if len(byStrike) == 0 {
		return mp
	}

	all := make([]StrikeOI, 0, len(byStrike))
	for _, agg := range byStrike {
		all = append(all, *agg)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].TotalOI != all[j].TotalOI {
			return all[i].TotalOI > all[j].TotalOI
		}
		return all[i].Strike < all[j].Strike
	})

	best := all[0]
	mp.Strike = best.Strike
	mp.TotalOI = best.TotalOI
	mp.CallOI = best.CallOI
	mp.PutOI = best.PutOI
	if spot > 0 {
		mp.DistancePct = (best.Strike - spot) / spot * 100.0
	}

	n := len(all)
	if n > 10 {
		n = 10
	}
	mp.Top = all[:n]
	return mp
}

// Sentiment buckets the put/call open-interest ratio.
type Sentiment string

const (
	VeryBullish Sentiment = "VERY_BULLISH" // PC < 0.7
	SentBullish Sentiment = "BULLISH"      // < 0.9
	SentNeutral Sentiment = "NEUTRAL"      // < 1.1
	SentBearish Sentiment = "BEARISH"      // < 1.3
	VeryBearish Sentiment = "VERY_BEARISH" // >= 1.3
)

// SentimentAnalysis carries the raw put/call aggregates, both ratios and
// the bucketed label derived from the OI ratio.
type SentimentAnalysis struct {
	PutCallOIRatio     float64   `json:"put_call_oi_ratio"`
	PutCallVolumeRatio float64   `json:"put_call_volume_ratio"`
	CallOI             float64   `json:"call_oi"`
	PutOI              float64   `json:"put_oi"`
	CallVolume         float64   `json:"call_volume"`
	PutVolume          float64   `json:"put_volume"`
	Sentiment          Sentiment `json:"sentiment"`
}

// CalculateSentiment sums OI and 24h volume per side and buckets the OI
// ratio at 0.7 / 0.9 / 1.1 / 1.3. An all-puts chain reads VERY_BEARISH
// with the undefined ratio reported as zero.
func CalculateSentiment(opts []*options.Option) SentimentAnalysis {
	var sa SentimentAnalysis
	for _, o := range opts {
		if o == nil {
			continue
		}
		if o.Side == options.SideCall {
			sa.CallOI += o.OpenInterest
			sa.CallVolume += o.Volume24h
		} else {
			sa.PutOI += o.OpenInterest
			sa.PutVolume += o.Volume24h
		}
	}

	if sa.CallOI > 0 {
		sa.PutCallOIRatio = sa.PutOI / sa.CallOI
	}
	if sa.CallVolume > 0 {
		sa.PutCallVolumeRatio = sa.PutVolume / sa.CallVolume
	}

	switch {
	case sa.CallOI == 0 && sa.PutOI == 0:
		sa.Sentiment = SentNeutral
	case sa.CallOI == 0:
		sa.Sentiment = VeryBearish
	default:
		sa.Sentiment = bucketSentiment(sa.PutCallOIRatio)
	}
	return sa
}

func bucketSentiment(pc float64) Sentiment {
	switch {
	case pc < 0.7:
		return VeryBullish
	case pc < 0.9:
		return SentBullish
	case pc < 1.1:
		return SentNeutral
	case pc < 1.3:
		return SentBearish
	default:
		return VeryBearish
	}
}

// Divergence reports whether the volume-based bucket disagrees with the
// OI-based one, a hint that fresh flow runs against positioning.
func (sa SentimentAnalysis) Divergence() bool {
	return bucketSentiment(sa.PutCallVolumeRatio) != bucketSentiment(sa.PutCallOIRatio)
}
