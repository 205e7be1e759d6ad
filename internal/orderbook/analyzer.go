// Package orderbook derives rolling microstructure metrics from a futures
// order book snapshot stream: book imbalance with persistence, depth
// history, spread pulse, resting-wall detection, and a sustained-energy
// composite.
package orderbook

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Config tunes the analyzer. Zero values fall back to defaults.
type Config struct {
	TopLevels       int     `yaml:"top_levels"`        // levels per side entering the metrics
	WindowSeconds   int     `yaml:"window_seconds"`    // rolling window for persistence/depth/pulse
	NeutralEpsilon  float64 `yaml:"neutral_epsilon"`   // |BI| at or below is NEUTRAL
	WallRatio       float64 `yaml:"wall_ratio"`        // size multiple of side average
	DepthNormUSD    float64 `yaml:"depth_norm_usd"`    // USD depth mapping to component 1.0
	SpreadFloorBps  float64 `yaml:"spread_floor_bps"`  // quality hits 0 at this many bps
	MaxHistoryItems int     `yaml:"max_history_items"` // hard cap on window entries
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TopLevels:       10,
		WindowSeconds:   60,
		NeutralEpsilon:  0.05,
		WallRatio:       10,
		DepthNormUSD:    50e6,
		SpreadFloorBps:  10,
		MaxHistoryItems: 1200,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TopLevels <= 0 {
		c.TopLevels = d.TopLevels
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = d.WindowSeconds
	}
	if c.NeutralEpsilon <= 0 {
		c.NeutralEpsilon = d.NeutralEpsilon
	}
	if c.WallRatio <= 0 {
		c.WallRatio = d.WallRatio
	}
	if c.DepthNormUSD <= 0 {
		c.DepthNormUSD = d.DepthNormUSD
	}
	if c.SpreadFloorBps <= 0 {
		c.SpreadFloorBps = d.SpreadFloorBps
	}
	if c.MaxHistoryItems <= 0 {
		c.MaxHistoryItems = d.MaxHistoryItems
	}
	return c
}

// Analyzer consumes snapshots from a single writer and serves metrics to
// many readers.
type Analyzer struct {
	cfg Config

	mu      sync.RWMutex
	history []HistoryPoint
	current *Metrics
}

// NewAnalyzer creates an analyzer with the given config.
func NewAnalyzer(cfg Config) *Analyzer {
	c := cfg.withDefaults()
	return &Analyzer{
		cfg:     c,
		history: make([]HistoryPoint, 0, c.MaxHistoryItems),
	}
}

// Apply ingests one snapshot, updates the rolling window and returns the
// refreshed metrics.
func (a *Analyzer) Apply(snap *Snapshot) (*Metrics, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	bids := topN(snap.Bids, a.cfg.TopLevels)
	asks := topN(snap.Asks, a.cfg.TopLevels)

	bidVol, bidUSD := sideTotals(bids)
	askVol, askUSD := sideTotals(asks)

	bi := 0.0
	if bidVol+askVol > 0 {
		bi = (bidVol - askVol) / (bidVol + askVol)
	}

	mid := snap.Mid()
	point := HistoryPoint{
		Timestamp:  snap.Timestamp,
		BI:         bi,
		TotalDepth: bidVol + askVol,
		SpreadBps:  snap.SpreadBps(),
		Mid:        mid,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.history = append(a.history, point)
	a.prune(snap.Timestamp)

	m := &Metrics{
		Timestamp:     snap.Timestamp,
		WindowSamples: len(a.history),
	}

	m.Imbalance = Imbalance{
		BI:         bi,
		SmoothedBI: a.meanBI(),
		Direction:  a.direction(bi),
		Strength:   strengthFor(math.Abs(bi)),
		BidVolume:  bidVol,
		AskVolume:  askVol,
	}
	m.Persistence = a.persistence(bi)

	m.Depth = DepthMetrics{
		BidDepth:   bidVol,
		AskDepth:   askVol,
		TotalDepth: bidVol + askVol,
		DepthUSD:   bidUSD + askUSD,
	}
	if askVol > 0 {
		m.Depth.Ratio = bidVol / askVol
	}
	m.Depth.Change = a.depthChange(bidVol + askVol)

	m.Spread = a.spreadMetrics(snap)
	m.Walls = a.detectWalls(bids, asks, mid)

	depthComponent := math.Min(1, m.Depth.DepthUSD/a.cfg.DepthNormUSD)
	m.SustainedEnergy = clamp01(0.4*math.Abs(bi) + 0.3*m.Persistence + 0.2*m.Spread.Quality + 0.1*depthComponent)
	m.EnergyBucket = energyBucket(m.SustainedEnergy)

	a.current = m
	return m, nil
}

// Current returns the metrics from the latest applied snapshot, nil before
// the first one.
func (a *Analyzer) Current() *Metrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.current == nil {
		return nil
	}
	cp := *a.current
	return &cp
}

// History returns windowed samples no older than windowSeconds, newest last.
func (a *Analyzer) History(windowSeconds int) []HistoryPoint {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.history) == 0 {
		return nil
	}
	if windowSeconds <= 0 || windowSeconds > a.cfg.WindowSeconds {
		windowSeconds = a.cfg.WindowSeconds
	}
	cutoff := a.history[len(a.history)-1].Timestamp.Add(-time.Duration(windowSeconds) * time.Second)

	out := make([]HistoryPoint, 0, len(a.history))
	for _, p := range a.history {
		if !p.Timestamp.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

// prune drops entries outside the window, holding the lock.
func (a *Analyzer) prune(now time.Time) {
	cutoff := now.Add(-time.Duration(a.cfg.WindowSeconds) * time.Second)
	idx := 0
	for idx < len(a.history) && a.history[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		a.history = a.history[idx:]
	}
	if excess := len(a.history) - a.cfg.MaxHistoryItems; excess > 0 {
		a.history = a.history[excess:]
	}
}

func (a *Analyzer) direction(bi float64) Direction {
	switch {
	case math.Abs(bi) <= a.cfg.NeutralEpsilon:
		return Neutral
	case bi > 0:
		return Bullish
	default:
		return Bearish
	}
}

// persistence is the share of windowed updates whose BI sign matches the
// current one.
func (a *Analyzer) persistence(current float64) float64 {
	if len(a.history) == 0 {
		return 0
	}
	sign := biSign(current, a.cfg.NeutralEpsilon)
	same := 0
	for _, p := range a.history {
		if biSign(p.BI, a.cfg.NeutralEpsilon) == sign {
			same++
		}
	}
	return float64(same) / float64(len(a.history))
}

func (a *Analyzer) meanBI() float64 {
	if len(a.history) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range a.history {
		sum += p.BI
	}
	return sum / float64(len(a.history))
}

// depthChange compares current total depth to the window mean.
func (a *Analyzer) depthChange(current float64) float64 {
	if len(a.history) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range a.history {
		sum += p.TotalDepth
	}
	mean := sum / float64(len(a.history))
	if mean <= 0 {
		return 0
	}
	return (current - mean) / mean
}

func (a *Analyzer) spreadMetrics(snap *Snapshot) SpreadMetrics {
	sm := SpreadMetrics{
		Spread:    snap.Spread(),
		SpreadBps: snap.SpreadBps(),
		Mid:       snap.Mid(),
		Samples:   len(a.history),
	}
	sm.Quality = math.Max(0, 1-sm.SpreadBps/a.cfg.SpreadFloorBps)

	if len(a.history) == 0 {
		return sm
	}
	xs := make([]float64, len(a.history))
	sm.MinBps, sm.MaxBps = math.Inf(1), math.Inf(-1)
	for i, p := range a.history {
		xs[i] = p.SpreadBps
		if p.SpreadBps < sm.MinBps {
			sm.MinBps = p.SpreadBps
		}
		if p.SpreadBps > sm.MaxBps {
			sm.MaxBps = p.SpreadBps
		}
	}
	sm.AvgBps = stat.Mean(xs, nil)
	sm.Pulse = stat.PopVariance(xs, nil)
	return sm
}

// detectWalls flags levels holding at least WallRatio times the side's
// average size, strongest first.
func (a *Analyzer) detectWalls(bids, asks []PriceLevel, mid float64) []BookWall {
	var walls []BookWall
	walls = append(walls, sideWalls(bids, Bullish, mid, a.cfg.WallRatio)...)
	walls = append(walls, sideWalls(asks, Bearish, mid, a.cfg.WallRatio)...)

	for i := 1; i < len(walls); i++ {
		for j := i; j > 0 && walls[j].Ratio > walls[j-1].Ratio; j-- {
			walls[j], walls[j-1] = walls[j-1], walls[j]
		}
	}
	return walls
}

// sideWalls compares each level against the average of the other levels on
// its side; including the candidate would cap the ratio below the level
// count and make walls undetectable on shallow books.
func sideWalls(levels []PriceLevel, side Direction, mid, ratio float64) []BookWall {
	if len(levels) < 2 {
		return nil
	}
	sum := 0.0
	for _, l := range levels {
		sum += l.Size
	}

	var out []BookWall
	for _, l := range levels {
		avgOthers := (sum - l.Size) / float64(len(levels)-1)
		if avgOthers <= 0 || l.Size < ratio*avgOthers {
			continue
		}
		out = append(out, BookWall{
			Side:        side,
			Price:       l.Price,
			Size:        l.Size,
			Value:       l.Price * l.Size,
			Ratio:       l.Size / avgOthers,
			DistancePct: (l.Price - mid) / mid * 100.0,
		})
	}
	return out
}

func topN(levels []PriceLevel, n int) []PriceLevel {
	if len(levels) <= n {
		return levels
	}
	return levels[:n]
}

func sideTotals(levels []PriceLevel) (vol, usd float64) {
	for _, l := range levels {
		vol += l.Size
		usd += l.Size * l.Price
	}
	return vol, usd
}

func biSign(bi, eps float64) int {
	switch {
	case bi > eps:
		return 1
	case bi < -eps:
		return -1
	default:
		return 0
	}
}

func strengthFor(absBI float64) Strength {
	switch {
	case absBI >= 0.6:
		return StrengthStrong
	case absBI >= 0.3:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

func energyBucket(e float64) EnergyBucket {
	switch {
	case e >= 0.7:
		return EnergyHigh
	case e >= 0.4:
		return EnergyMedium
	default:
		return EnergyLow
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
