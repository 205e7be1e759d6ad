// Package gex computes dealer gamma exposure profiles from a live options
// chain: per-strike aggregation, the zero-gamma flip level, wall strikes,
// wall zones, and a transport-friendly smart range filter.
package gex

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/quantarc/halfpipe/internal/options"
)

// Config tunes the calculator. Zero values fall back to defaults.
// Exposure assumes dealers are long calls and short puts, so call gamma
// contributes positively and put gamma negatively.
type Config struct {
	ContractSize    float64 `yaml:"contract_size"`     // underlying units per contract
	ZoneThreshold   float64 `yaml:"zone_threshold"`    // zone inclusion vs side peak
	RangePct        float64 `yaml:"range_pct"`         // smart range half-width around spot
	GEXThresholdPct float64 `yaml:"gex_threshold_pct"` // keep strikes above this share of max |net|
	ZoneMarginPct   float64 `yaml:"zone_margin_pct"`   // range extension around zones, % of spot
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ContractSize:    1.0,
		ZoneThreshold:   0.7,
		RangePct:        0.30,
		GEXThresholdPct: 0.02,
		ZoneMarginPct:   0.05,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ContractSize <= 0 {
		c.ContractSize = d.ContractSize
	}
	if c.ZoneThreshold <= 0 || c.ZoneThreshold > 1 {
		c.ZoneThreshold = d.ZoneThreshold
	}
	if c.RangePct <= 0 {
		c.RangePct = d.RangePct
	}
	if c.GEXThresholdPct <= 0 {
		c.GEXThresholdPct = d.GEXThresholdPct
	}
	if c.ZoneMarginPct <= 0 {
		c.ZoneMarginPct = d.ZoneMarginPct
	}
	return c
}

// Calculator builds gamma exposure analytics. Stateless and safe for
// concurrent use.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator with the given config.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg.withDefaults()}
}

// ContractGEX returns the dealer gamma exposure of a single contract at the
// given spot: gamma x contract size x OI x spot^2 x 0.01, signed positive
// for calls and negative for puts. Zero when gamma or OI is missing.
func (c *Calculator) ContractGEX(opt *options.Option, spot float64) float64 {
	if opt.Greeks.Gamma == 0 || opt.OpenInterest == 0 {
		return 0
	}
	return opt.Greeks.Gamma * c.contractSize(opt) * opt.OpenInterest * spot * spot * 0.01 * opt.Side.Sign()
}

// contractSize prefers the per-contract unit, falling back to the
// configured default for contracts registered without one.
func (c *Calculator) contractSize(opt *options.Option) float64 {
	if opt.ContractSize > 0 {
		return opt.ContractSize
	}
	return c.cfg.ContractSize
}

// Profile aggregates contract exposures per strike. Contracts with zero
// gamma or zero open interest are skipped, not zero-filled.
func (c *Calculator) Profile(opts []*options.Option, spot float64, now time.Time) (*Profile, error) {
	if spot <= 0 {
		return nil, fmt.Errorf("gex: invalid spot price %.4f", spot)
	}

	type acc struct {
		callGEX, putGEX     float64
		callOI, putOI       float64
		callGamma, putGamma float64
	}
	byStrike := make(map[float64]*acc)

	used, skipped := 0, 0
	var netGamma float64
	for _, opt := range opts {
		g := c.ContractGEX(opt, spot)
		if g == 0 {
			skipped++
			continue
		}
		used++
		netGamma += opt.Greeks.Gamma * opt.OpenInterest * c.contractSize(opt) * opt.Side.Sign()

		a, ok := byStrike[opt.Strike]
		if !ok {
			a = &acc{}
			byStrike[opt.Strike] = a
		}
		if opt.Side == options.SideCall {
			a.callGEX += g
			a.callOI += opt.OpenInterest
			a.callGamma += opt.Greeks.Gamma
		} else {
			a.putGEX += g
			a.putOI += opt.OpenInterest
			a.putGamma += opt.Greeks.Gamma
		}
	}

	strikes := make([]float64, 0, len(byStrike))
	for k := range byStrike {
		strikes = append(strikes, k)
	}
	sort.Float64s(strikes)

	p := &Profile{
		Spot:             spot,
		Timestamp:        now,
		ByStrike:         make([]StrikeGEX, 0, len(strikes)),
		Totals:           Totals{NetGamma: netGamma},
		ContractsUsed:    used,
		ContractsSkipped: skipped,
	}

	for _, strike := range strikes {
		a := byStrike[strike]
		net := a.callGEX + a.putGEX
		row := StrikeGEX{
			Strike:      strike,
			CallGEX:     a.callGEX,
			PutGEX:      a.putGEX,
			NetGEX:      net,
			AbsNetGEX:   math.Abs(net),
			CallOI:      a.callOI,
			PutOI:       a.putOI,
			CallGamma:   a.callGamma,
			PutGamma:    a.putGamma,
			DistancePct: (strike - spot) / spot * 100.0,
		}
		p.ByStrike = append(p.ByStrike, row)

		p.Totals.Total += net
		p.Totals.Calls += a.callGEX
		p.Totals.Puts += a.putGEX
		if row.AbsNetGEX > p.MaxAbsGEX {
			p.MaxAbsGEX = row.AbsNetGEX
			p.MaxGEXStrike = strike
		}
	}

	return p, nil
}

// Flip locates the price where net gamma exposure changes sign. With a
// sign change between adjacent strikes the level is interpolated
// proportionally to the exposure magnitudes on both sides (HIGH confidence).
// Without one, the strike closest to zero net exposure is used (MEDIUM).
// Fewer than two strikes yields no flip (NONE).
func (c *Calculator) Flip(p *Profile) *GammaFlip {
	if p == nil || len(p.ByStrike) < 2 {
		return &GammaFlip{Confidence: FlipNone}
	}

	for i := 0; i < len(p.ByStrike)-1; i++ {
		lo, hi := p.ByStrike[i], p.ByStrike[i+1]
		if lo.NetGEX == 0 {
			return &GammaFlip{Price: lo.Strike, Confidence: FlipHigh, LowerStrike: lo.Strike, UpperStrike: lo.Strike}
		}
		if lo.NetGEX*hi.NetGEX < 0 {
			gl, gh := math.Abs(lo.NetGEX), math.Abs(hi.NetGEX)
			price := lo.Strike + (hi.Strike-lo.Strike)*gl/(gl+gh)
			return &GammaFlip{
				Price:       price,
				Confidence:  FlipHigh,
				LowerStrike: lo.Strike,
				UpperStrike: hi.Strike,
			}
		}
	}

	// No crossing: fall back to the strike nearest the zero line.
	best := p.ByStrike[0]
	for _, row := range p.ByStrike[1:] {
		if row.AbsNetGEX < best.AbsNetGEX {
			best = row
		}
	}
	return &GammaFlip{Price: best.Strike, Confidence: FlipMedium}
}

// Walls picks the dominant strike per side: the largest positive call
// exposure and the most negative put exposure.
func (c *Calculator) Walls(p *Profile) *Walls {
	w := &Walls{Spot: p.Spot, Timestamp: p.Timestamp}

	for i := range p.ByStrike {
		row := &p.ByStrike[i]
		if row.CallGEX > 0 && (w.CallWall == nil || row.CallGEX > w.CallWall.GEX) {
			w.CallWall = &Wall{
				Strike:       row.Strike,
				GEX:          row.CallGEX,
				OpenInterest: row.CallOI,
				Gamma:        row.CallGamma,
				Distance:     math.Abs(row.Strike - p.Spot),
				DistancePct:  row.DistancePct,
			}
		}
		if row.PutGEX < 0 && (w.PutWall == nil || row.PutGEX < w.PutWall.GEX) {
			w.PutWall = &Wall{
				Strike:       row.Strike,
				GEX:          row.PutGEX,
				OpenInterest: row.PutOI,
				Gamma:        row.PutGamma,
				Distance:     math.Abs(row.Strike - p.Spot),
				DistancePct:  row.DistancePct,
			}
		}
	}

	return w
}

// Zones finds the wall zone around each side peak using the configured
// threshold. At most one zone per side, strongest peak first.
func (c *Calculator) Zones(p *Profile) []WallZone {
	return c.ZonesWithThreshold(p, c.cfg.ZoneThreshold)
}

// ZonesWithThreshold builds zones against an explicit threshold in (0, 1].
// A strike joins its side's zone when |side-GEX| >= threshold x |peak|;
// the zone range spans the qualifying strikes.
func (c *Calculator) ZonesWithThreshold(p *Profile, threshold float64) []WallZone {
	if p == nil || len(p.ByStrike) == 0 {
		return nil
	}
	if threshold <= 0 || threshold > 1 {
		threshold = c.cfg.ZoneThreshold
	}

	var zones []WallZone
	if z := c.sideZone(p, options.SideCall, threshold); z != nil {
		zones = append(zones, *z)
	}
	if z := c.sideZone(p, options.SidePut, threshold); z != nil {
		zones = append(zones, *z)
	}

	sort.Slice(zones, func(i, j int) bool {
		return math.Abs(zones[i].PeakGEX) > math.Abs(zones[j].PeakGEX)
	})
	return zones
}

func (c *Calculator) sideZone(p *Profile, side options.Side, threshold float64) *WallZone {
	signed := func(row *StrikeGEX) float64 {
		if side == options.SideCall {
			return row.CallGEX
		}
		return row.PutGEX
	}

	peakMag := 0.0
	var peakRow *StrikeGEX
	for i := range p.ByStrike {
		if m := math.Abs(signed(&p.ByStrike[i])); m > peakMag {
			peakMag = m
			peakRow = &p.ByStrike[i]
		}
	}
	if peakRow == nil || peakMag <= 0 {
		return nil
	}

	z := &WallZone{
		Side:        side,
		PeakStrike:  peakRow.Strike,
		PeakGEX:     signed(peakRow),
		Threshold:   threshold,
		DistancePct: peakRow.DistancePct,
		ZoneLow:     math.Inf(1),
		ZoneHigh:    math.Inf(-1),
	}

	floor := threshold * peakMag
	for i := range p.ByStrike {
		row := &p.ByStrike[i]
		sg := signed(row)
		if math.Abs(sg) < floor || math.Abs(sg) == 0 {
			continue
		}
		z.Strikes = append(z.Strikes, ZoneStrike{
			Strike:    row.Strike,
			GEX:       sg,
			PctOfPeak: math.Abs(sg) / peakMag * 100.0,
		})
		z.TotalGEX += sg
		if row.Strike < z.ZoneLow {
			z.ZoneLow = row.Strike
		}
		if row.Strike > z.ZoneHigh {
			z.ZoneHigh = row.Strike
		}
	}

	return z
}

// SmartRange compacts a profile for transport using the configured range
// and significance threshold.
func (c *Calculator) SmartRange(p *Profile, zones []WallZone) *RangedProfile {
	return c.SmartRangeWith(p, zones, c.cfg.RangePct, c.cfg.GEXThresholdPct)
}

// SmartRangeWith compacts a profile with explicit parameters. The window
// spans spot +/- rangePct, widened to cover every wall zone plus
// ZoneMarginPct of spot. Inside the window, strikes survive if their |net|
// exposure clears gexThresholdPct of the profile max or they sit inside a
// zone.
func (c *Calculator) SmartRangeWith(p *Profile, zones []WallZone, rangePct, gexThresholdPct float64) *RangedProfile {
	if rangePct <= 0 {
		rangePct = c.cfg.RangePct
	}
	if gexThresholdPct <= 0 {
		gexThresholdPct = c.cfg.GEXThresholdPct
	}

	rp := &RangedProfile{
		Spot:         p.Spot,
		Timestamp:    p.Timestamp,
		TotalStrikes: len(p.ByStrike),
	}

	low := p.Spot * (1 - rangePct)
	high := p.Spot * (1 + rangePct)
	margin := c.cfg.ZoneMarginPct * p.Spot
	for i := range zones {
		if zones[i].ZoneLow-margin < low {
			low = zones[i].ZoneLow - margin
		}
		if zones[i].ZoneHigh+margin > high {
			high = zones[i].ZoneHigh + margin
		}
	}
	rp.RangeLow, rp.RangeHigh = low, high

	floor := gexThresholdPct * p.MaxAbsGEX
	inZone := func(strike float64) bool {
		for i := range zones {
			if zones[i].Contains(strike) {
				return true
			}
		}
		return false
	}

	for _, row := range p.ByStrike {
		if row.Strike < low || row.Strike > high {
			continue
		}
		if row.AbsNetGEX < floor && !inZone(row.Strike) {
			continue
		}
		rp.Strikes = append(rp.Strikes, row)
	}

	rp.KeptStrikes = len(rp.Strikes)
	if rp.TotalStrikes > 0 {
		rp.CompressionRatio = float64(rp.KeptStrikes) / float64(rp.TotalStrikes)
	}
	return rp
}
