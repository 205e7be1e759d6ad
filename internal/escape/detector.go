// Package escape fuses the order-book, liquidation, iceberg and gamma
// readings into a per-second classification of the current move: H1 a
// genuine escape carried by sustained flow, H2 a false escape dying into
// a strong wall, H3 a liquidity collapse, or NONE. Each tick scores all
// three hypotheses against fixed check maps and keeps bounded history
// and alert rings.
package escape

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantarc/halfpipe/internal/gex"
	"github.com/quantarc/halfpipe/internal/iceberg"
	"github.com/quantarc/halfpipe/internal/liquidation"
	"github.com/quantarc/halfpipe/internal/orderbook"
)

// Config bounds the rings and carries the normalization constants.
type Config struct {
	HistorySize   int           `yaml:"history_size"`
	HistoryWindow time.Duration `yaml:"history_window"`
	AlertSize     int           `yaml:"alert_size"`
	GEXNormUSD    float64       `yaml:"gex_norm_usd"`    // totalGEX saturation
	WallNormUSD   float64       `yaml:"wall_norm_usd"`   // wall strength saturation
	DepthNormUSD  float64       `yaml:"depth_norm_usd"`  // liquidity depth saturation
	LowGEXUSD     float64       `yaml:"low_gex_usd"`     // inactive-regime indicator
	HighIceberg   float64       `yaml:"high_iceberg"`    // inactive-regime indicator
}

// DefaultConfig returns the production constants.
func DefaultConfig() Config {
	return Config{
		HistorySize:   3600,
		HistoryWindow: time.Hour,
		AlertSize:     50,
		GEXNormUSD:    5e8,
		WallNormUSD:   1e9,
		DepthNormUSD:  50e6,
		LowGEXUSD:     50e6,
		HighIceberg:   0.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = d.HistoryWindow
	}
	if c.AlertSize <= 0 {
		c.AlertSize = d.AlertSize
	}
	if c.GEXNormUSD <= 0 {
		c.GEXNormUSD = d.GEXNormUSD
	}
	if c.WallNormUSD <= 0 {
		c.WallNormUSD = d.WallNormUSD
	}
	if c.DepthNormUSD <= 0 {
		c.DepthNormUSD = d.DepthNormUSD
	}
	if c.LowGEXUSD <= 0 {
		c.LowGEXUSD = d.LowGEXUSD
	}
	if c.HighIceberg <= 0 {
		c.HighIceberg = d.HighIceberg
	}
	return c
}

// Inputs is the read snapshot of every upstream component for one tick.
// Book, Liquidation, Energy and Spot are required; the rest degrade to
// zero contributions when absent.
type Inputs struct {
	Book        *orderbook.Metrics
	Liquidation *liquidation.Stats
	Energy      *liquidation.Energy
	Iceberg     *iceberg.Detection
	GEX         *gex.Totals
	Walls       *gex.Walls
	Spot        float64
}

// Detector owns the escape-type state machine. Single writer (the engine
// tick loop); readers take the RLock.
type Detector struct {
	cfg Config

	mu      sync.RWMutex
	last    Detection
	history []HistoryPoint
	alerts  []Alert

	nowFn func() time.Time
}

// NewDetector returns a Detector with cfg's zero fields defaulted.
func NewDetector(cfg Config) *Detector {
	return &Detector{
		cfg:   cfg.withDefaults(),
		nowFn: time.Now,
	}
}

// tickState is the flattened measurement set the hypothesis checks read.
type tickState struct {
	persistence   float64
	sustained     float64
	injected      float64
	cascade       bool
	depthChange   float64
	spreadQuality float64
	spreadPulse   float64
	wallDistance  float64 // 1.0 sentinel when no wall in play
	wallStrength  float64
	pEscape       float64
}

// Evaluate runs one full detection tick against the supplied snapshot.
func (d *Detector) Evaluate(in Inputs) Detection {
	now := d.nowFn()

	d.mu.Lock()
	defer d.mu.Unlock()

	if in.Book == nil || in.Liquidation == nil || in.Energy == nil || in.Spot <= 0 {
		det := Detection{
			Timestamp: now,
			Type:      TypeNone,
			Direction: DirectionNeutral,
			Reason:    "Insufficient data",
		}
		d.commitLocked(det, now)
		return det
	}

	sustained := clamp01(in.Book.SustainedEnergy)
	injected := clamp01(in.Energy.Score)
	total := (sustained + injected) / 2.0

	pot := d.potential(in, now)
	pEscape := 0.0
	if pot.Total > 0 {
		pEscape = clamp01(total / pot.Total)
	}

	dir := combineDirection(in, injected)
	wall := nearestWall(in.Walls, dir, in.Spot, d.cfg.WallNormUSD)

	st := tickState{
		persistence:   in.Book.Persistence,
		sustained:     sustained,
		injected:      injected,
		cascade:       in.Liquidation.Cascade,
		depthChange:   in.Book.Depth.Change,
		spreadQuality: in.Book.Spread.Quality,
		spreadPulse:   in.Book.Spread.Pulse,
		wallDistance:  1.0,
		pEscape:       pEscape,
	}
	if wall != nil {
		st.wallDistance = wall.Distance
		st.wallStrength = wall.Strength
	}

	hypotheses := map[HypothesisType]HypothesisResult{
		TypeH1: evalH1(st),
		TypeH2: evalH2(st),
		TypeH3: evalH3(st),
	}

	det := Detection{
		Timestamp: now,
		Type:      TypeNone,
		Direction: dir,
		Metrics: FusedMetrics{
			SustainedEnergy: sustained,
			InjectedEnergy:  injected,
			TotalEnergy:     total,
			Potential:       pot,
			PEscape:         pEscape,
		},
		Wall:       wall,
		Hypotheses: hypotheses,
	}

	candidates := 0
	for _, ht := range []HypothesisType{TypeH1, TypeH2, TypeH3} {
		res := hypotheses[ht]
		if !res.Candidate {
			continue
		}
		candidates++
		if res.Confidence > det.Confidence {
			det.Type = ht
			det.Confidence = res.Confidence
		}
	}
	if candidates > 1 {
		log.Debug().
			Int("candidates", candidates).
			Str("selected", string(det.Type)).
			Float64("confidence", det.Confidence).
			Msg("multiple escape hypotheses qualified")
	}

	if det.Type == TypeNone {
		det.Reason = "No clear pattern"
	}
	det.Interpretation = interpret(det)

	d.commitLocked(det, now)
	return det
}

// commitLocked stores the detection, appends history and fires alerts.
func (d *Detector) commitLocked(det Detection, now time.Time) {
	d.last = det

	d.history = append(d.history, HistoryPoint{
		Timestamp:  det.Timestamp,
		Type:       det.Type,
		Confidence: det.Confidence,
		PEscape:    det.Metrics.PEscape,
		Direction:  det.Direction,
	})
	cutoff := now.Add(-d.cfg.HistoryWindow)
	drop := 0
	for drop < len(d.history) && d.history[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		d.history = append(d.history[:0], d.history[drop:]...)
	}
	if excess := len(d.history) - d.cfg.HistorySize; excess > 0 {
		d.history = append(d.history[:0], d.history[excess:]...)
	}

	for _, a := range alertsFor(det) {
		d.alerts = append(d.alerts, a)
	}
	if excess := len(d.alerts) - d.cfg.AlertSize; excess > 0 {
		d.alerts = append(d.alerts[:0], d.alerts[excess:]...)
	}
}

// potential composes the adaptive energy barrier for this tick.
func (d *Detector) potential(in Inputs, now time.Time) Potential {
	totalGEX := 0.0
	if in.GEX != nil {
		totalGEX = in.GEX.Total
	}

	var putWall, callWall *gex.Wall
	if in.Walls != nil {
		putWall = in.Walls.PutWall
		callWall = in.Walls.CallWall
	}

	gexPart := math.Min(1, math.Abs(totalGEX)/d.cfg.GEXNormUSD) * 0.6

	maxWall := 0.0
	if putWall != nil {
		maxWall = math.Abs(putWall.GEX)
	}
	if callWall != nil && math.Abs(callWall.GEX) > maxWall {
		maxWall = math.Abs(callWall.GEX)
	}
	gexPart += math.Min(1, maxWall/d.cfg.WallNormUSD) * 0.3

	minDist := math.Inf(1)
	if putWall != nil && in.Spot > 0 {
		minDist = math.Abs(putWall.Strike-in.Spot) / in.Spot
	}
	if callWall != nil && in.Spot > 0 {
		if dist := math.Abs(callWall.Strike-in.Spot) / in.Spot; dist < minDist {
			minDist = dist
		}
	}
	if !math.IsInf(minDist, 1) {
		gexPart += math.Max(0, 1-minDist) * 0.1
	}

	icebergScore := 0.0
	if in.Iceberg != nil {
		icebergScore = clamp01(in.Iceberg.Score)
	}

	spreadPct := in.Book.Spread.SpreadBps / 10000.0
	liquidity := 0.5*math.Min(1, in.Book.Depth.DepthUSD/d.cfg.DepthNormUSD) +
		0.3*math.Min(1, spreadPct*1000) +
		0.2*(1-math.Abs(in.Book.Imbalance.BI))

	regime, weights, floor := d.regime(totalGEX, icebergScore, now)

	pot := Potential{
		GEX:       clamp01(gexPart),
		Iceberg:   icebergScore,
		Liquidity: clamp01(liquidity),
		Regime:    regime,
		Weights:   weights,
		Floor:     floor,
	}
	pot.Total = clamp01(weights.GEX*pot.GEX + weights.Iceberg*pot.Iceberg + weights.Liquidity*pot.Liquidity)
	if pot.Total < floor {
		pot.Total = floor
	}
	return pot
}

// regime counts the inactive-options indicators and picks the weight
// preset. Three or more indicators flip the blend toward iceberg and
// liquidity; the gamma surface is not the barrier when nobody trades it.
func (d *Detector) regime(totalGEX, icebergScore float64, now time.Time) (RegimeTag, Weights, float64) {
	utc := now.UTC()
	indicators := 0
	if math.Abs(totalGEX) < d.cfg.LowGEXUSD {
		indicators++
	}
	if icebergScore > d.cfg.HighIceberg {
		indicators++
	}
	if wd := utc.Weekday(); wd == time.Saturday || wd == time.Sunday {
		indicators++
	}
	if h := utc.Hour(); h < 13 || h > 21 {
		indicators++
	}

	switch {
	case indicators >= 3:
		return RegimeOptionsInactive, Weights{GEX: 0.10, Iceberg: 0.60, Liquidity: 0.30}, 0.4
	case indicators == 2:
		return RegimeTransition, Weights{GEX: 0.40, Iceberg: 0.40, Liquidity: 0.20}, 0.3
	default:
		return RegimeOptionsActive, Weights{GEX: 0.60, Iceberg: 0.20, Liquidity: 0.20}, 0.3
	}
}

// combineDirection merges book imbalance and liquidation flow direction.
func combineDirection(in Inputs, injected float64) Direction {
	biDir := fromBookDirection(in.Book.Imbalance.Direction)
	liqDir := fromLiquidationDirection(in.Energy.Direction)

	switch {
	case biDir == liqDir && biDir != DirectionNeutral:
		return biDir
	case math.Abs(in.Book.Imbalance.BI) > 0.6:
		return biDir
	case injected > 0.6:
		return liqDir
	default:
		return DirectionNeutral
	}
}

func fromBookDirection(d orderbook.Direction) Direction {
	switch d {
	case orderbook.Bullish:
		return DirectionUp
	case orderbook.Bearish:
		return DirectionDown
	default:
		return DirectionNeutral
	}
}

func fromLiquidationDirection(d liquidation.Direction) Direction {
	switch d {
	case liquidation.Bullish:
		return DirectionUp
	case liquidation.Bearish:
		return DirectionDown
	default:
		return DirectionNeutral
	}
}

// nearestWall picks the gamma wall standing in the way of the move: the
// call wall for an upward move, the put wall for a downward one, the
// closer of the two when direction is neutral.
func nearestWall(walls *gex.Walls, dir Direction, spot, wallNorm float64) *WallInfo {
	if walls == nil || spot <= 0 {
		return nil
	}

	build := func(w *gex.Wall, side string) *WallInfo {
		if w == nil {
			return nil
		}
		return &WallInfo{
			Side:     side,
			Strike:   w.Strike,
			GEX:      w.GEX,
			Strength: math.Min(1, math.Abs(w.GEX)/wallNorm),
			Distance: math.Abs(w.Strike-spot) / spot,
		}
	}

	call := build(walls.CallWall, "CALL")
	put := build(walls.PutWall, "PUT")

	switch dir {
	case DirectionUp:
		return call
	case DirectionDown:
		return put
	}
	switch {
	case call == nil:
		return put
	case put == nil:
		return call
	case put.Distance < call.Distance:
		return put
	default:
		return call
	}
}

func evalH1(st tickState) HypothesisResult {
	return evalHypothesis(TypeH1, 0.6, []checkSpec{
		{"persistence", st.persistence > 0.7, st.persistence, "> 0.7", 0.20},
		{"sustained_energy", st.sustained > 0.6, st.sustained, "> 0.6", 0.20},
		{"injected_band", st.injected >= 0.4 && st.injected <= 0.7, st.injected, "[0.4, 0.7]", 0.15},
		{"no_cascade", !st.cascade, boolValue(!st.cascade), "false", 0.10},
		{"depth_change", st.depthChange > -0.2, st.depthChange, "> -0.2", 0.10},
		{"spread_quality", st.spreadQuality > 0.7, st.spreadQuality, "> 0.7", 0.10},
		{"wall_distance", st.wallDistance < 0.05, st.wallDistance, "< 0.05", 0.05},
		{"p_escape", st.pEscape > 0.6, st.pEscape, "> 0.6", 0.10},
	})
}

func evalH2(st tickState) HypothesisResult {
	return evalHypothesis(TypeH2, 0.6, []checkSpec{
		{"persistence", st.persistence < 0.4, st.persistence, "< 0.4", 0.25},
		{"sustained_band", st.sustained > 0.3 && st.sustained < 0.7, st.sustained, "(0.3, 0.7)", 0.15},
		{"injected", st.injected < 0.4, st.injected, "< 0.4", 0.15},
		{"no_cascade", !st.cascade, boolValue(!st.cascade), "false", 0.10},
		{"wall_distance", st.wallDistance < 0.03, st.wallDistance, "< 0.03", 0.10},
		{"wall_strength", st.wallStrength > 0.7, st.wallStrength, "> 0.7", 0.15},
		{"p_escape", st.pEscape < 0.4, st.pEscape, "< 0.4", 0.10},
	})
}

func evalH3(st tickState) HypothesisResult {
	return evalHypothesis(TypeH3, 0.5, []checkSpec{
		{"injected", st.injected > 0.7, st.injected, "> 0.7", 0.25},
		{"cascade", st.cascade, boolValue(st.cascade), "true", 0.30},
		{"depth_drop", st.depthChange < -0.3, st.depthChange, "< -0.3", 0.15},
		{"spread_quality", st.spreadQuality < 0.5, st.spreadQuality, "< 0.5", 0.10},
		{"spread_pulse", st.spreadPulse > 2.0, st.spreadPulse, "> 2.0", 0.10},
		{"p_escape", st.pEscape > 0.8, st.pEscape, "> 0.8", 0.10},
	})
}

type checkSpec struct {
	name      string
	met       bool
	value     float64
	threshold string
	weight    float64
}

// evalHypothesis folds the check list into a result. A hypothesis is a
// candidate only when its met ratio clears the floor; confidence is the
// sum of met-check weights.
func evalHypothesis(ht HypothesisType, floor float64, specs []checkSpec) HypothesisResult {
	res := HypothesisResult{Type: ht, Checks: make(map[string]Check, len(specs))}
	met := 0
	for _, s := range specs {
		res.Checks[s.name] = Check{Met: s.met, Value: s.value, Threshold: s.threshold, Weight: s.weight}
		if s.met {
			met++
			res.Confidence += s.weight
		}
	}
	res.MetRatio = float64(met) / float64(len(specs))
	res.Candidate = res.MetRatio > floor
	res.Confidence = clamp01(res.Confidence)
	return res
}

// interpret renders the practitioner-facing one-liner. H2 inverts the
// probability: a low P_escape against a strong wall means the move is
// likely to come back.
func interpret(det Detection) string {
	p := det.Metrics.PEscape
	switch det.Type {
	case TypeH1:
		return fmt.Sprintf("Genuine escape %s: sustained flow with P_escape %.2f at %.0f%% confidence",
			det.Direction, p, det.Confidence*100)
	case TypeH2:
		return fmt.Sprintf("False escape %s: weak flow into a strong wall, reversal probability %.2f",
			det.Direction, 1-p)
	case TypeH3:
		return fmt.Sprintf("Liquidity collapse %s: cascading liquidations with failing book, P_escape %.2f",
			det.Direction, p)
	default:
		return det.Reason
	}
}

// alertsFor applies the alert rules to one detection.
func alertsFor(det Detection) []Alert {
	var out []Alert
	add := func(kind string, sev Severity, msg string) {
		out = append(out, Alert{
			ID:         uuid.NewString(),
			Timestamp:  det.Timestamp,
			Kind:       kind,
			Severity:   sev,
			Type:       det.Type,
			Confidence: det.Confidence,
			PEscape:    det.Metrics.PEscape,
			Direction:  det.Direction,
			Message:    msg,
		})
	}

	switch det.Type {
	case TypeH1:
		if det.Confidence > 0.7 {
			add(AlertH1, SeverityHigh, det.Interpretation)
		}
	case TypeH2:
		if det.Confidence > 0.7 {
			add(AlertH2, SeverityMedium, det.Interpretation)
		}
	case TypeH3:
		add(AlertH3, SeverityCritical, det.Interpretation)
	}

	if det.Metrics.PEscape > 0.8 && det.Type != TypeH2 {
		add(AlertHighPEscape, SeverityMedium,
			fmt.Sprintf("Escape probability %.2f exceeds 0.8", det.Metrics.PEscape))
	}
	return out
}

// Last returns the most recent detection.
func (d *Detector) Last() Detection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

// History returns the retained points newer than the given age in
// minutes; zero or negative returns the full ring.
func (d *Detector) History(minutes int) []HistoryPoint {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if minutes <= 0 {
		out := make([]HistoryPoint, len(d.history))
		copy(out, d.history)
		return out
	}
	cutoff := d.nowFn().Add(-time.Duration(minutes) * time.Minute)
	idx := len(d.history)
	for i, p := range d.history {
		if !p.Timestamp.Before(cutoff) {
			idx = i
			break
		}
	}
	out := make([]HistoryPoint, len(d.history)-idx)
	copy(out, d.history[idx:])
	return out
}

// Alerts returns the alert ring, oldest first.
func (d *Detector) Alerts() []Alert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Alert, len(d.alerts))
	copy(out, d.alerts)
	return out
}

// Stats aggregates the retained history.
func (d *Detector) Stats() HistoryStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := HistoryStats{ByType: make(map[HypothesisType]int)}
	st.Count = len(d.history)
	sum := 0.0
	for _, p := range d.history {
		st.ByType[p.Type]++
		sum += p.PEscape
		if p.PEscape > st.MaxPEscape {
			st.MaxPEscape = p.PEscape
		}
	}
	if st.Count > 0 {
		st.AvgPEscape = sum / float64(st.Count)
	}
	return st
}

// Probability is the P_escape view of the last detection.
func (d *Detector) Probability() Probability {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p := Probability{
		PEscape:     d.last.Metrics.PEscape,
		TotalEnergy: d.last.Metrics.TotalEnergy,
		Potential:   d.last.Metrics.Potential,
	}
	switch {
	case p.PEscape >= 0.7:
		p.Classification = "HIGH"
	case p.PEscape >= 0.4:
		p.Classification = "MEDIUM"
	default:
		p.Classification = "LOW"
	}
	return p
}

// Summary bundles detection, history, stats and alerts for one query.
func (d *Detector) Summary() Summary {
	return Summary{
		Detection: d.Last(),
		History:   d.History(0),
		Stats:     d.Stats(),
		Alerts:    d.Alerts(),
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
