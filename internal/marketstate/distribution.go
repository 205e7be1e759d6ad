package marketstate

import (
	"math"

	"github.com/quantarc/halfpipe/internal/gex"
)

// Level is one strike that stands out of the gamma distribution.
type Level struct {
	Strike      float64 `json:"strike"`
	GEX         float64 `json:"gex"`
	DistancePct float64 `json:"distance_pct"`
}

// Distribution summarizes where exposure concentrates across strikes.
type Distribution struct {
	SignificantLevels []Level `json:"significant_levels"`
	MeanAbsGEX        float64 `json:"mean_abs_gex"`
	RangeLow          float64 `json:"range_low,omitempty"`
	RangeHigh         float64 `json:"range_high,omitempty"`
}

// AnalyzeDistribution flags strikes whose |net GEX| exceeds twice the mean
// and bounds the probable trading range by the lowest negative-GEX strike
// and the highest positive-GEX strike.
func AnalyzeDistribution(p *gex.Profile) Distribution {
	var d Distribution
	if p == nil || len(p.ByStrike) == 0 {
		return d
	}

	sum := 0.0
	for i := range p.ByStrike {
		sum += math.Abs(p.ByStrike[i].NetGEX)
	}
	d.MeanAbsGEX = sum / float64(len(p.ByStrike))

	threshold := 2 * d.MeanAbsGEX
	for i := range p.ByStrike {
		s := &p.ByStrike[i]
		if math.Abs(s.NetGEX) > threshold {
			d.SignificantLevels = append(d.SignificantLevels, Level{
				Strike:      s.Strike,
				GEX:         s.NetGEX,
				DistancePct: s.DistancePct,
			})
		}
		if s.NetGEX < 0 && (d.RangeLow == 0 || s.Strike < d.RangeLow) {
			d.RangeLow = s.Strike
		}
		if s.NetGEX > 0 && s.Strike > d.RangeHigh {
			d.RangeHigh = s.Strike
		}
	}
	return d
}
