package liquidation

import (
	"time"
)

// Side is the taker side of the forced order. A SELL liquidation closes a
// long position, a BUY closes a short.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SizeClass buckets events by notional value.
type SizeClass string

const (
	ClassSmall   SizeClass = "SMALL"   // < $10k
	ClassMedium  SizeClass = "MEDIUM"  // < $100k
	ClassLarge   SizeClass = "LARGE"   // < $1M
	ClassMassive SizeClass = "MASSIVE" // >= $1M
)

// ClassifyValue maps a notional value to its size class.
func ClassifyValue(value float64) SizeClass {
	switch {
	case value >= 1_000_000:
		return ClassMassive
	case value >= 100_000:
		return ClassLarge
	case value >= 10_000:
		return ClassMedium
	default:
		return ClassSmall
	}
}

// Event is one forced liquidation.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Value     float64   `json:"value"` // price * quantity
	Class     SizeClass `json:"class"`
}

// Direction is the market pressure implied by liquidation flow.
type Direction string

const (
	Bullish Direction = "BULLISH" // shorts being liquidated
	Bearish Direction = "BEARISH" // longs being liquidated
	Neutral Direction = "NEUTRAL"
)

// WindowStats aggregates one lookback window.
type WindowStats struct {
	Count      int     `json:"count"`
	TotalValue float64 `json:"total_value"`
	BuyCount   int     `json:"buy_count"`
	SellCount  int     `json:"sell_count"`
	BuyValue   float64 `json:"buy_value"`
	SellValue  float64 `json:"sell_value"`
}

// Stats is the tracker's aggregate view.
type Stats struct {
	Timestamp        time.Time              `json:"timestamp"`
	Windows          map[string]WindowStats `json:"windows"` // keys 1h, 4h, 24h
	LongValue1h      float64                `json:"long_value_1h"`  // SELL events
	ShortValue1h     float64                `json:"short_value_1h"` // BUY events
	LongShare1h      float64                `json:"long_share_1h"`  // long / (long+short)
	Direction        Direction              `json:"direction"`
	Largest          *Event                 `json:"largest,omitempty"`
	Cascade          bool                   `json:"cascade"`
	EventsLastMinute int                    `json:"events_last_minute"`
}

// EnergyBucket grades the injected-energy score.
type EnergyBucket string

const (
	EnergyVeryLow EnergyBucket = "VERY_LOW"
	EnergyLow     EnergyBucket = "LOW"
	EnergyMedium  EnergyBucket = "MEDIUM"
	EnergyHigh    EnergyBucket = "HIGH"
	EnergyExtreme EnergyBucket = "EXTREME"
)

// EnergyComponents itemizes the injected-energy blend.
type EnergyComponents struct {
	Value        float64 `json:"value"`
	Frequency    float64 `json:"frequency"`
	Imbalance    float64 `json:"imbalance"`
	CascadeBonus float64 `json:"cascade_bonus"`
}

// Energy is the injected-energy reading over the last hour.
type Energy struct {
	Score      float64          `json:"score"`
	Bucket     EnergyBucket     `json:"bucket"`
	Direction  Direction        `json:"direction"`
	Cascade    bool             `json:"cascade"`
	Components EnergyComponents `json:"components"`
}

// Risk labels the early-spike analysis.
type Risk string

const (
	RiskHigh   Risk = "HIGH"
	RiskMedium Risk = "MEDIUM"
	RiskLow    Risk = "LOW"
)

// EarlySpike reports how front-loaded the active liquidation window is.
type EarlySpike struct {
	Share       float64   `json:"share"`
	Risk        Risk      `json:"risk"`
	WindowStart time.Time `json:"window_start"`
	Minutes     int       `json:"minutes"`
	Total       int       `json:"total"`
	EarlyCount  int       `json:"early_count"`
}

// Trend labels the growth analysis.
type Trend string

const (
	TrendIncreasing Trend = "INCREASING"
	TrendStable     Trend = "STABLE"
	TrendDecreasing Trend = "DECREASING"
)

// GrowthBucket is one 5-minute aggregation period.
type GrowthBucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
	Value float64   `json:"value"`
}

// Growth reports the recent liquidation trend.
type Growth struct {
	Buckets []GrowthBucket `json:"buckets"`
	Rate    float64        `json:"rate"` // regression slope over mean bucket value
	Trend   Trend          `json:"trend"`
}

// Summary bundles the individual views for one query.
type Summary struct {
	Stats  Stats      `json:"stats"`
	Energy Energy     `json:"energy"`
	Early  EarlySpike `json:"early"`
	Growth Growth     `json:"growth"`
}
