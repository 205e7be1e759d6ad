package orderbook

import (
	"fmt"
	"time"
)

// PriceLevel is one side entry of a book snapshot.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Snapshot is a top-N view of the futures order book. Bids descend by
// price, asks ascend.
type Snapshot struct {
	Timestamp time.Time    `json:"timestamp"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	LastPrice float64      `json:"last_price,omitempty"`
}

// Validate rejects snapshots the analyzer cannot price.
func (s *Snapshot) Validate() error {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return fmt.Errorf("incomplete order book: %d bids, %d asks", len(s.Bids), len(s.Asks))
	}
	bid, ask := s.Bids[0].Price, s.Asks[0].Price
	if bid <= 0 || ask <= 0 {
		return fmt.Errorf("invalid prices: bid=%.6f, ask=%.6f", bid, ask)
	}
	if ask <= bid {
		return fmt.Errorf("crossed book: bid=%.6f >= ask=%.6f", bid, ask)
	}
	return nil
}

// Mid returns the midpoint of the best quotes.
func (s *Snapshot) Mid() float64 {
	return (s.Bids[0].Price + s.Asks[0].Price) / 2.0
}

// Spread returns the absolute top-of-book spread.
func (s *Snapshot) Spread() float64 {
	return s.Asks[0].Price - s.Bids[0].Price
}

// SpreadBps returns the spread in basis points of mid.
func (s *Snapshot) SpreadBps() float64 {
	mid := s.Mid()
	if mid <= 0 {
		return 0
	}
	return s.Spread() / mid * 10000.0
}

// Direction labels which side of the book dominates.
type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
	Neutral Direction = "NEUTRAL"
)

// Strength buckets |BI| at the 0.3/0.6 thresholds.
type Strength string

const (
	StrengthWeak     Strength = "WEAK"
	StrengthModerate Strength = "MODERATE"
	StrengthStrong   Strength = "STRONG"
)

// EnergyBucket buckets the sustained-energy composite.
type EnergyBucket string

const (
	EnergyLow    EnergyBucket = "LOW"
	EnergyMedium EnergyBucket = "MEDIUM"
	EnergyHigh   EnergyBucket = "HIGH"
)

// Imbalance is the book-imbalance reading for one snapshot.
type Imbalance struct {
	BI         float64   `json:"bi"` // (bid-ask)/(bid+ask) over top-N
	SmoothedBI float64   `json:"smoothed_bi"`
	Direction  Direction `json:"direction"`
	Strength   Strength  `json:"strength"`
	BidVolume  float64   `json:"bid_volume"`
	AskVolume  float64   `json:"ask_volume"`
}

// DepthMetrics aggregates size over the top-N levels.
type DepthMetrics struct {
	BidDepth   float64 `json:"bid_depth"`
	AskDepth   float64 `json:"ask_depth"`
	TotalDepth float64 `json:"total_depth"`
	DepthUSD   float64 `json:"depth_usd"`
	Ratio      float64 `json:"ratio"`  // bid/ask
	Change     float64 `json:"change"` // vs rolling window mean
}

// SpreadMetrics carries the current spread and its rolling behavior.
type SpreadMetrics struct {
	Spread    float64 `json:"spread"`
	SpreadBps float64 `json:"spread_bps"`
	Mid       float64 `json:"mid"`
	Quality   float64 `json:"quality"` // 1 at zero spread, 0 at >= 10 bps
	Pulse     float64 `json:"pulse"`   // variance of windowed spreads, bps^2
	AvgBps    float64 `json:"avg_bps"`
	MinBps    float64 `json:"min_bps"`
	MaxBps    float64 `json:"max_bps"`
	Samples   int     `json:"samples"`
}

// BookWall is a resting level holding disproportionate size.
type BookWall struct {
	Side        Direction `json:"side"` // BULLISH for bid walls, BEARISH for ask walls
	Price       float64   `json:"price"`
	Size        float64   `json:"size"`
	Value       float64   `json:"value"` // price * size
	Ratio       float64   `json:"ratio"` // size / avg level size on that side
	DistancePct float64   `json:"distance_pct"`
}

// Metrics is the full rolling metrics object emitted per snapshot.
type Metrics struct {
	Timestamp       time.Time     `json:"timestamp"`
	Imbalance       Imbalance     `json:"imbalance"`
	Persistence     float64       `json:"persistence"`
	Depth           DepthMetrics  `json:"depth"`
	Spread          SpreadMetrics `json:"spread"`
	Walls           []BookWall    `json:"walls,omitempty"`
	SustainedEnergy float64       `json:"sustained_energy"`
	EnergyBucket    EnergyBucket  `json:"energy_bucket"`
	WindowSamples   int           `json:"window_samples"`
}

// HistoryPoint is a compact windowed sample for history queries.
type HistoryPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	BI         float64   `json:"bi"`
	TotalDepth float64   `json:"total_depth"`
	SpreadBps  float64   `json:"spread_bps"`
	Mid        float64   `json:"mid"`
}
