// Package volatility builds implied-volatility surfaces from the options
// chain and flags statistical anomalies on them (IV outliers and skew
// dislocations) with severity and relevance scoring.
package volatility

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/quantarc/halfpipe/internal/options"
)

// Moneyness cutoffs for the skew legs.
const (
	OTMPutMoneyness  = 0.90
	OTMCallMoneyness = 1.10
)

// SurfacePoint is one (DTE, strike) cell of the surface with its
// OI-weighted IVs and pooled liquidity.
type SurfacePoint struct {
	DTE          int     `json:"dte"`
	Strike       float64 `json:"strike"`
	Moneyness    float64 `json:"moneyness"`
	AvgIV        float64 `json:"avg_iv"` // calls and puts pooled
	CallIV       float64 `json:"call_iv,omitempty"`
	PutIV        float64 `json:"put_iv,omitempty"`
	HasCall      bool    `json:"has_call"`
	HasPut       bool    `json:"has_put"`
	OpenInterest float64 `json:"open_interest"` // summed over the cell
	Volume       float64 `json:"volume"`        // summed 24h volume
}

// Skew is the smile asymmetry at the front expiry. Legs are nil when the
// corresponding OTM quote or the ATM IV is missing.
type Skew struct {
	PutSkew   *float64 `json:"put_skew"`   // OTM put IV - ATM IV
	CallSkew  *float64 `json:"call_skew"`  // OTM call IV - ATM IV
	TotalSkew *float64 `json:"total_skew"` // OTM put IV - OTM call IV
	PutIV     *float64 `json:"put_iv"`
	CallIV    *float64 `json:"call_iv"`
}

// Surface is the (DTE x strike) IV matrix view of the chain. Matrix rows
// follow DTEs, columns follow Strikes; nil cells are missing.
type Surface struct {
	Spot      float64        `json:"spot"`
	Timestamp time.Time      `json:"timestamp"`
	Strikes   []float64      `json:"strikes"` // sorted unique
	DTEs      []int          `json:"dtes"`    // sorted unique
	Points    []SurfacePoint `json:"points"`  // sorted by (dte, strike)
	AvgIV     [][]*float64   `json:"avg_iv"`
	CallIV    [][]*float64   `json:"call_iv"`
	PutIV     [][]*float64   `json:"put_iv"`

	ATMStrike   float64 `json:"atm_strike"`
	ATMIV       float64 `json:"atm_iv"`
	SmallestDTE int     `json:"smallest_dte"`
	Skew        Skew    `json:"skew"`

	OptionsUsed    int `json:"options_used"`
	OptionsDropped int `json:"options_dropped"`
}

// PointAt returns the surface point for (dte, strike), nil when missing.
func (s *Surface) PointAt(dte int, strike float64) *SurfacePoint {
	for i := range s.Points {
		if s.Points[i].DTE == dte && s.Points[i].Strike == strike {
			return &s.Points[i]
		}
	}
	return nil
}

// PointsForDTE returns the curve at one expiry, sorted by strike.
func (s *Surface) PointsForDTE(dte int) []SurfacePoint {
	var out []SurfacePoint
	for i := range s.Points {
		if s.Points[i].DTE == dte {
			out = append(out, s.Points[i])
		}
	}
	return out
}

type cellAcc struct {
	callIVOI, callOI float64
	callIVSum        float64
	callN            int
	putIVOI, putOI   float64
	putIVSum         float64
	putN             int
	volume           float64
}

// BuildSurface filters the chain to options with positive mark IV, positive
// strike and a real expiry, then aggregates OI-weighted IVs per (DTE,
// strike) cell. Cells with zero total OI fall back to arithmetic means.
func BuildSurface(opts []*options.Option, spot float64, now time.Time) (*Surface, error) {
	if spot <= 0 {
		return nil, fmt.Errorf("volatility: invalid spot price %.4f", spot)
	}

	cells := make(map[int]map[float64]*cellAcc)
	used, dropped := 0, 0

	for _, opt := range opts {
		if opt.MarkIV <= 0 || opt.Strike <= 0 || opt.Expiry.IsZero() {
			dropped++
			continue
		}
		used++

		dte := opt.DTE(now)
		row, ok := cells[dte]
		if !ok {
			row = make(map[float64]*cellAcc)
			cells[dte] = row
		}
		acc, ok := row[opt.Strike]
		if !ok {
			acc = &cellAcc{}
			row[opt.Strike] = acc
		}

		if opt.Side == options.SideCall {
			acc.callIVOI += opt.MarkIV * opt.OpenInterest
			acc.callOI += opt.OpenInterest
			acc.callIVSum += opt.MarkIV
			acc.callN++
		} else {
			acc.putIVOI += opt.MarkIV * opt.OpenInterest
			acc.putOI += opt.OpenInterest
			acc.putIVSum += opt.MarkIV
			acc.putN++
		}
		acc.volume += opt.Volume24h
	}

	s := &Surface{
		Spot:           spot,
		Timestamp:      now,
		OptionsUsed:    used,
		OptionsDropped: dropped,
	}
	if len(cells) == 0 {
		return s, nil
	}

	dteSet := make(map[int]struct{})
	strikeSet := make(map[float64]struct{})
	for dte, row := range cells {
		dteSet[dte] = struct{}{}
		for strike := range row {
			strikeSet[strike] = struct{}{}
		}
	}
	for dte := range dteSet {
		s.DTEs = append(s.DTEs, dte)
	}
	sort.Ints(s.DTEs)
	for strike := range strikeSet {
		s.Strikes = append(s.Strikes, strike)
	}
	sort.Float64s(s.Strikes)

	s.AvgIV = make([][]*float64, len(s.DTEs))
	s.CallIV = make([][]*float64, len(s.DTEs))
	s.PutIV = make([][]*float64, len(s.DTEs))

	for i, dte := range s.DTEs {
		s.AvgIV[i] = make([]*float64, len(s.Strikes))
		s.CallIV[i] = make([]*float64, len(s.Strikes))
		s.PutIV[i] = make([]*float64, len(s.Strikes))

		for j, strike := range s.Strikes {
			acc, ok := cells[dte][strike]
			if !ok {
				continue
			}

			point := SurfacePoint{
				DTE:          dte,
				Strike:       strike,
				Moneyness:    strike / spot,
				OpenInterest: acc.callOI + acc.putOI,
				Volume:       acc.volume,
			}

			if acc.callN > 0 {
				point.CallIV = weightedIV(acc.callIVOI, acc.callOI, acc.callIVSum, acc.callN)
				point.HasCall = true
				s.CallIV[i][j] = ptr(point.CallIV)
			}
			if acc.putN > 0 {
				point.PutIV = weightedIV(acc.putIVOI, acc.putOI, acc.putIVSum, acc.putN)
				point.HasPut = true
				s.PutIV[i][j] = ptr(point.PutIV)
			}
			point.AvgIV = weightedIV(acc.callIVOI+acc.putIVOI, acc.callOI+acc.putOI,
				acc.callIVSum+acc.putIVSum, acc.callN+acc.putN)
			s.AvgIV[i][j] = ptr(point.AvgIV)

			s.Points = append(s.Points, point)
		}
	}

	s.SmallestDTE = s.DTEs[0]
	s.computeATM()
	s.computeSkew()

	return s, nil
}

// weightedIV is the OI-weighted mean, falling back to the arithmetic mean
// when the cell has no open interest.
func weightedIV(ivOI, oi, ivSum float64, n int) float64 {
	if oi > 0 {
		return ivOI / oi
	}
	if n > 0 {
		return ivSum / float64(n)
	}
	return 0
}

// computeATM picks the strike nearest spot and reads the pooled IV at the
// front expiry, walking outward to the nearest populated cell when the
// exact one is missing.
func (s *Surface) computeATM() {
	bestDist := math.Inf(1)
	for _, strike := range s.Strikes {
		if d := math.Abs(strike - s.Spot); d < bestDist {
			bestDist = d
			s.ATMStrike = strike
		}
	}

	front := s.PointsForDTE(s.SmallestDTE)
	if len(front) == 0 {
		return
	}
	bestDist = math.Inf(1)
	for _, p := range front {
		if p.AvgIV <= 0 {
			continue
		}
		if d := math.Abs(p.Strike - s.ATMStrike); d < bestDist {
			bestDist = d
			s.ATMIV = p.AvgIV
		}
	}
}

// computeSkew measures the front-expiry smile: the highest-strike OTM put
// at or below 0.90 moneyness and the lowest-strike OTM call at or above
// 1.10 moneyness.
func (s *Surface) computeSkew() {
	front := s.PointsForDTE(s.SmallestDTE)

	var putLeg, callLeg *SurfacePoint
	for i := range front {
		p := &front[i]
		if p.HasPut && p.Moneyness <= OTMPutMoneyness {
			if putLeg == nil || p.Strike > putLeg.Strike {
				putLeg = p
			}
		}
		if p.HasCall && p.Moneyness >= OTMCallMoneyness {
			if callLeg == nil || p.Strike < callLeg.Strike {
				callLeg = p
			}
		}
	}

	if putLeg != nil {
		s.Skew.PutIV = ptr(putLeg.PutIV)
		if s.ATMIV > 0 {
			s.Skew.PutSkew = ptr(putLeg.PutIV - s.ATMIV)
		}
	}
	if callLeg != nil {
		s.Skew.CallIV = ptr(callLeg.CallIV)
		if s.ATMIV > 0 {
			s.Skew.CallSkew = ptr(callLeg.CallIV - s.ATMIV)
		}
	}
	if putLeg != nil && callLeg != nil {
		s.Skew.TotalSkew = ptr(putLeg.PutIV - callLeg.CallIV)
	}
}

func ptr(v float64) *float64 { return &v }
