// Package iceberg infers hidden resting liquidity from order-book and tape
// patterns: levels that refill to the same size, executed volume far above
// what the visible book shows, prices that keep rejecting at the same
// bucket, depth that regenerates after being consumed, and suspiciously
// uniform ask sizes. Each pattern yields a detected flag plus a normalized
// sub-score; the composite blends the fired signals only.
package iceberg

import (
	"math"
	"sync"
	"time"

	"github.com/quantarc/halfpipe/internal/orderbook"
)

// Config carries the detection thresholds and history bounds.
type Config struct {
	MaxSnapshots int           `yaml:"max_snapshots"`
	MaxTrades    int           `yaml:"max_trades"`
	TradeWindow  time.Duration `yaml:"trade_window"`
	MaxPoints    int           `yaml:"max_points"` // mid and depth histories

	RefillingMinLevels      int     `yaml:"refilling_min_levels"`
	RefillingMinOccurrences int     `yaml:"refilling_min_occurrences"`
	SmallSizeMax            float64 `yaml:"small_size_max"` // base units

	VolumeAnomalyRatio float64 `yaml:"volume_anomaly_ratio"`
	VisibleLevels      int     `yaml:"visible_levels"`

	RejectionMinCount  int     `yaml:"rejection_min_count"`
	RejectionBucketUSD float64 `yaml:"rejection_bucket_usd"`

	RegenMinDrop      float64 `yaml:"regen_min_drop"`
	RegenMinRecovery  float64 `yaml:"regen_min_recovery"`
	RegenMinSequences int     `yaml:"regen_min_sequences"`

	ConsistentSizeBin            float64 `yaml:"consistent_size_bin"`
	ConsistentSizeMinOccurrences int     `yaml:"consistent_size_min_occurrences"`
}

// DefaultConfig returns the BTC-calibrated thresholds.
func DefaultConfig() Config {
	return Config{
		MaxSnapshots:                 100,
		MaxTrades:                    5000,
		TradeWindow:                  5 * time.Minute,
		MaxPoints:                    300,
		RefillingMinLevels:           3,
		RefillingMinOccurrences:      5,
		SmallSizeMax:                 5.0,
		VolumeAnomalyRatio:           2.0,
		VisibleLevels:                10,
		RejectionMinCount:            3,
		RejectionBucketUSD:           100.0,
		RegenMinDrop:                 0.20,
		RegenMinRecovery:             0.15,
		RegenMinSequences:            2,
		ConsistentSizeBin:            0.1,
		ConsistentSizeMinOccurrences: 5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSnapshots <= 0 {
		c.MaxSnapshots = d.MaxSnapshots
	}
	if c.MaxTrades <= 0 {
		c.MaxTrades = d.MaxTrades
	}
	if c.TradeWindow <= 0 {
		c.TradeWindow = d.TradeWindow
	}
	if c.MaxPoints <= 0 {
		c.MaxPoints = d.MaxPoints
	}
	if c.RefillingMinLevels <= 0 {
		c.RefillingMinLevels = d.RefillingMinLevels
	}
	if c.RefillingMinOccurrences <= 0 {
		c.RefillingMinOccurrences = d.RefillingMinOccurrences
	}
	if c.SmallSizeMax <= 0 {
		c.SmallSizeMax = d.SmallSizeMax
	}
	if c.VolumeAnomalyRatio <= 0 {
		c.VolumeAnomalyRatio = d.VolumeAnomalyRatio
	}
	if c.VisibleLevels <= 0 {
		c.VisibleLevels = d.VisibleLevels
	}
	if c.RejectionMinCount <= 0 {
		c.RejectionMinCount = d.RejectionMinCount
	}
	if c.RejectionBucketUSD <= 0 {
		c.RejectionBucketUSD = d.RejectionBucketUSD
	}
	if c.RegenMinDrop <= 0 {
		c.RegenMinDrop = d.RegenMinDrop
	}
	if c.RegenMinRecovery <= 0 {
		c.RegenMinRecovery = d.RegenMinRecovery
	}
	if c.RegenMinSequences <= 0 {
		c.RegenMinSequences = d.RegenMinSequences
	}
	if c.ConsistentSizeBin <= 0 {
		c.ConsistentSizeBin = d.ConsistentSizeBin
	}
	if c.ConsistentSizeMinOccurrences <= 0 {
		c.ConsistentSizeMinOccurrences = d.ConsistentSizeMinOccurrences
	}
	return c
}

// signalWeights for the composite; applied only to detected signals.
var signalWeights = map[string]float64{
	SignalRefilling:      0.30,
	SignalVolumeAnomaly:  0.25,
	SignalPriceRejection: 0.20,
	SignalDepthRegen:     0.15,
	SignalConsistentSize: 0.10,
}

// Detector keeps four bounded histories (book snapshots, trades, mid
// prices, total depth) and evaluates the five iceberg signals against
// them on each Detect call. Single writer; safe for concurrent reads.
type Detector struct {
	cfg Config

	mu        sync.RWMutex
	snapshots []orderbook.Snapshot
	trades    []Trade
	mids      []float64
	depths    []float64
	last      Detection

	nowFn func() time.Time
}

// NewDetector returns a Detector with cfg's zero fields defaulted.
func NewDetector(cfg Config) *Detector {
	return &Detector{
		cfg:   cfg.withDefaults(),
		nowFn: time.Now,
	}
}

// AddTrade records one executed trade into the tape history.
func (d *Detector) AddTrade(t Trade) {
	if t.Timestamp.IsZero() {
		t.Timestamp = d.nowFn()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trades = append(d.trades, t)
	d.pruneTradesLocked(d.nowFn())
}

// Detect pushes the snapshot (and any trades) into the histories and
// evaluates all five signals. Invalid books leave state untouched and
// yield an empty VERY_LOW detection.
func (d *Detector) Detect(book orderbook.Snapshot, trades ...Trade) Detection {
	now := d.nowFn()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := book.Validate(); err != nil {
		det := Detection{
			Timestamp:  now,
			Confidence: ConfidenceVeryLow,
			Signals:    map[string]Signal{},
		}
		d.last = det
		return det
	}

	for _, t := range trades {
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		d.trades = append(d.trades, t)
	}
	d.pruneTradesLocked(now)

	d.snapshots = append(d.snapshots, book)
	if len(d.snapshots) > d.cfg.MaxSnapshots {
		d.snapshots = d.snapshots[len(d.snapshots)-d.cfg.MaxSnapshots:]
	}
	d.mids = pushBounded(d.mids, book.Mid(), d.cfg.MaxPoints)
	d.depths = pushBounded(d.depths, totalSize(book), d.cfg.MaxPoints)

	signals := map[string]Signal{
		SignalRefilling:      d.refillingLocked(),
		SignalVolumeAnomaly:  d.volumeAnomalyLocked(book, now),
		SignalPriceRejection: d.priceRejectionLocked(),
		SignalDepthRegen:     d.depthRegenLocked(),
		SignalConsistentSize: d.consistentSizeLocked(book),
	}

	score := 0.0
	for name, s := range signals {
		if s.Detected {
			score += signalWeights[name] * s.Score
		}
	}
	score = math.Min(1, math.Max(0, score))

	visible := topSize(book, 5)
	det := Detection{
		Timestamp:           now,
		Score:               score,
		Confidence:          confidenceFor(score),
		Signals:             signals,
		VisibleTop5:         visible,
		EstimatedHiddenSize: visible*(1+10*score) - visible,
	}
	d.last = det
	return det
}

// Last returns the most recent detection.
func (d *Detector) Last() Detection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

func (d *Detector) pruneTradesLocked(now time.Time) {
	cutoff := now.Add(-d.cfg.TradeWindow)
	kept := d.trades[:0]
	for _, t := range d.trades {
		if !t.Timestamp.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	d.trades = kept
	if excess := len(d.trades) - d.cfg.MaxTrades; excess > 0 {
		d.trades = append(d.trades[:0], d.trades[excess:]...)
	}
}

type levelKey struct {
	price float64
	size  float64
}

// refillingLocked counts (price, size) pairs under the small-size cap that
// recur across the snapshot history: the footprint of a level refilling to
// the same display quantity after fills.
func (d *Detector) refillingLocked() Signal {
	counts := make(map[levelKey]int)
	for i := range d.snapshots {
		snap := &d.snapshots[i]
		for _, lvl := range snap.Bids {
			d.countLevel(counts, lvl)
		}
		for _, lvl := range snap.Asks {
			d.countLevel(counts, lvl)
		}
	}

	levels := 0
	for _, n := range counts {
		if n >= d.cfg.RefillingMinOccurrences {
			levels++
		}
	}
	return Signal{
		Detected: levels >= d.cfg.RefillingMinLevels,
		Score:    normScore(float64(levels), float64(d.cfg.RefillingMinLevels)),
		Metric:   float64(levels),
	}
}

func (d *Detector) countLevel(counts map[levelKey]int, lvl orderbook.PriceLevel) {
	if lvl.Size <= 0 || lvl.Size >= d.cfg.SmallSizeMax {
		return
	}
	key := levelKey{
		price: roundTo(lvl.Price, 0.01),
		size:  roundTo(lvl.Size, 0.0001),
	}
	counts[key]++
}

// volumeAnomalyLocked compares executed tape volume over the trade window
// against the size visible in the top levels. Executions far beyond the
// display imply hidden replenishment.
func (d *Detector) volumeAnomalyLocked(book orderbook.Snapshot, now time.Time) Signal {
	cutoff := now.Add(-d.cfg.TradeWindow)
	executed := 0.0
	for _, t := range d.trades {
		if !t.Timestamp.Before(cutoff) {
			executed += t.Quantity
		}
	}

	visible := topSize(book, d.cfg.VisibleLevels)
	if visible <= 0 || executed <= 0 {
		return Signal{}
	}
	ratio := executed / visible
	return Signal{
		Detected: ratio >= d.cfg.VolumeAnomalyRatio,
		Score:    normScore(ratio, d.cfg.VolumeAnomalyRatio),
		Metric:   ratio,
	}
}

// priceRejectionLocked buckets local extrema of the mid history to the
// nearest RejectionBucketUSD and looks for the same bucket recurring.
func (d *Detector) priceRejectionLocked() Signal {
	if len(d.mids) < 3 {
		return Signal{}
	}
	counts := make(map[float64]int)
	for i := 1; i < len(d.mids)-1; i++ {
		prev, cur, next := d.mids[i-1], d.mids[i], d.mids[i+1]
		isMax := cur > prev && cur > next
		isMin := cur < prev && cur < next
		if !isMax && !isMin {
			continue
		}
		counts[roundTo(cur, d.cfg.RejectionBucketUSD)]++
	}

	best := 0
	for _, n := range counts {
		if n > best {
			best = n
		}
	}
	return Signal{
		Detected: best >= d.cfg.RejectionMinCount,
		Score:    normScore(float64(best), float64(d.cfg.RejectionMinCount)),
		Metric:   float64(best),
	}
}

// depthRegenLocked walks the depth history with a peak/trough state
// machine, counting drop>=RegenMinDrop then recover>=RegenMinRecovery
// sequences.
func (d *Detector) depthRegenLocked() Signal {
	if len(d.depths) < 3 {
		return Signal{}
	}
	sequences := 0
	peak := d.depths[0]
	trough := 0.0
	inDrop := false
	for _, depth := range d.depths[1:] {
		if !inDrop {
			if depth > peak {
				peak = depth
				continue
			}
			if peak > 0 && (peak-depth)/peak >= d.cfg.RegenMinDrop {
				inDrop = true
				trough = depth
			}
			continue
		}
		if depth < trough {
			trough = depth
			continue
		}
		if trough > 0 && (depth-trough)/trough >= d.cfg.RegenMinRecovery {
			sequences++
			inDrop = false
			peak = depth
		}
	}
	return Signal{
		Detected: sequences >= d.cfg.RegenMinSequences,
		Score:    normScore(float64(sequences), float64(d.cfg.RegenMinSequences)),
		Metric:   float64(sequences),
	}
}

// consistentSizeLocked bins the current ask sizes and flags one bin
// dominating the side. Identical display sizes down the book are the
// classic iceberg tell.
func (d *Detector) consistentSizeLocked(book orderbook.Snapshot) Signal {
	counts := make(map[float64]int)
	best := 0
	for _, lvl := range book.Asks {
		if lvl.Size <= 0 {
			continue
		}
		bin := roundTo(lvl.Size, d.cfg.ConsistentSizeBin)
		if bin <= 0 {
			continue
		}
		counts[bin]++
		if counts[bin] > best {
			best = counts[bin]
		}
	}
	return Signal{
		Detected: best >= d.cfg.ConsistentSizeMinOccurrences,
		Score:    normScore(float64(best), float64(d.cfg.ConsistentSizeMinOccurrences)),
		Metric:   float64(best),
	}
}

func confidenceFor(score float64) Confidence {
	switch {
	case score >= 0.7:
		return ConfidenceVeryHigh
	case score >= 0.5:
		return ConfidenceHigh
	case score >= 0.3:
		return ConfidenceMedium
	case score >= 0.15:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// normScore maps a raw measurement to [0,1] so that the detection
// threshold lands at 0.5 and twice the threshold saturates.
func normScore(metric, threshold float64) float64 {
	if threshold <= 0 || metric <= 0 {
		return 0
	}
	return math.Min(1, metric/(2*threshold))
}

func roundTo(v, step float64) float64 {
	return math.Round(v/step) * step
}

func pushBounded(s []float64, v float64, max int) []float64 {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

func totalSize(book orderbook.Snapshot) float64 {
	sum := 0.0
	for _, lvl := range book.Bids {
		sum += lvl.Size
	}
	for _, lvl := range book.Asks {
		sum += lvl.Size
	}
	return sum
}

// topSize sums the visible size over the top n levels of both sides.
func topSize(book orderbook.Snapshot, n int) float64 {
	sum := 0.0
	for i := 0; i < n && i < len(book.Bids); i++ {
		sum += book.Bids[i].Size
	}
	for i := 0; i < n && i < len(book.Asks); i++ {
		sum += book.Asks[i].Size
	}
	return sum
}
