package gex

import (
	"time"

	"github.com/quantarc/halfpipe/internal/options"
)

// StrikeGEX aggregates dealer gamma exposure at one strike across expiries.
// CallGEX is non-negative, PutGEX non-positive, NetGEX their sum.
type StrikeGEX struct {
	Strike      float64 `json:"strike"`
	CallGEX     float64 `json:"call_gex"`
	PutGEX      float64 `json:"put_gex"`
	NetGEX      float64 `json:"net_gex"`
	AbsNetGEX   float64 `json:"abs_net_gex"`
	CallOI      float64 `json:"call_oi"`
	PutOI       float64 `json:"put_oi"`
	CallGamma   float64 `json:"call_gamma"`
	PutGamma    float64 `json:"put_gamma"`
	DistancePct float64 `json:"distance_pct"` // signed % from spot
}

// Totals is the headline exposure triple plus net dealer gamma.
type Totals struct {
	Total    float64 `json:"total"`
	Calls    float64 `json:"calls"`
	Puts     float64 `json:"puts"`
	NetGamma float64 `json:"net_gamma"`
}

// Profile is the full per-strike gamma exposure map for one snapshot.
type Profile struct {
	Spot             float64     `json:"spot"`
	Timestamp        time.Time   `json:"timestamp"`
	ByStrike         []StrikeGEX `json:"by_strike"` // ascending strike order
	Totals           Totals      `json:"totals"`
	MaxGEXStrike     float64     `json:"max_gex_strike"` // strike with largest |net|
	MaxAbsGEX        float64     `json:"max_abs_gex"`
	ContractsUsed    int         `json:"contracts_used"`
	ContractsSkipped int         `json:"contracts_skipped"`
}

// Strike returns the aggregate for one strike, nil when absent.
func (p *Profile) Strike(strike float64) *StrikeGEX {
	for i := range p.ByStrike {
		if p.ByStrike[i].Strike == strike {
			return &p.ByStrike[i]
		}
	}
	return nil
}

// FlipConfidence grades how the zero-gamma level was located.
type FlipConfidence string

const (
	FlipHigh   FlipConfidence = "HIGH"   // sign change, interpolated
	FlipMedium FlipConfidence = "MEDIUM" // no sign change, min |net| fallback
	FlipNone   FlipConfidence = "NONE"   // not enough strikes
)

// GammaFlip is the price where net dealer gamma crosses zero.
type GammaFlip struct {
	Price       float64        `json:"price"`
	Confidence  FlipConfidence `json:"confidence"`
	LowerStrike float64        `json:"lower_strike,omitempty"`
	UpperStrike float64        `json:"upper_strike,omitempty"`
}

// Wall is the single dominant strike on one side of the book.
type Wall struct {
	Strike       float64 `json:"strike"`
	GEX          float64 `json:"gex"`
	OpenInterest float64 `json:"open_interest"`
	Gamma        float64 `json:"gamma"`
	Distance     float64 `json:"distance"`     // |strike - spot|
	DistancePct  float64 `json:"distance_pct"` // signed % from spot
}

// Walls pairs the strongest call wall (resistance) with the strongest put
// wall (support). Either side may be nil when that side has no exposure.
type Walls struct {
	CallWall  *Wall     `json:"call_wall,omitempty"`
	PutWall   *Wall     `json:"put_wall,omitempty"`
	Spot      float64   `json:"spot"`
	Timestamp time.Time `json:"timestamp"`
}

// ZoneStrike is one strike contributing to a wall zone.
type ZoneStrike struct {
	Strike    float64 `json:"strike"`
	GEX       float64 `json:"gex"` // signed side exposure
	PctOfPeak float64 `json:"pct_of_peak"`
}

// WallZone spans the strikes around a side peak whose |side-GEX| clears
// threshold x |peak|. One zone per side at most.
type WallZone struct {
	Side        options.Side `json:"side"`
	PeakStrike  float64      `json:"peak_strike"`
	PeakGEX     float64      `json:"peak_gex"` // signed
	ZoneLow     float64      `json:"zone_low"`
	ZoneHigh    float64      `json:"zone_high"`
	Strikes     []ZoneStrike `json:"strikes"`
	TotalGEX    float64      `json:"total_gex"` // signed sum over contributors
	Threshold   float64      `json:"threshold"`
	DistancePct float64      `json:"distance_pct"` // peak strike vs spot
}

// Contains reports whether a strike falls inside the zone bounds.
func (z *WallZone) Contains(strike float64) bool {
	return strike >= z.ZoneLow && strike <= z.ZoneHigh
}

// RangedProfile is a profile compacted by the smart range filter for
// transport to clients.
type RangedProfile struct {
	Spot             float64     `json:"spot"`
	Timestamp        time.Time   `json:"timestamp"`
	RangeLow         float64     `json:"range_low"`
	RangeHigh        float64     `json:"range_high"`
	Strikes          []StrikeGEX `json:"strikes"`
	TotalStrikes     int         `json:"total_strikes"`
	KeptStrikes      int         `json:"kept_strikes"`
	CompressionRatio float64     `json:"compression_ratio"`
}
