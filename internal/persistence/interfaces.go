// Package persistence defines the storage contracts for periodic market
// snapshots, anomaly logs, regime transitions and option history. The
// engine treats a nil Repository as "persistence disabled".
package persistence

import (
	"context"
	"time"
)

// TimeRange is a [From, To] window for history queries.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// regimeColumnLen matches the VARCHAR(20) regime column.
const regimeColumnLen = 20

// TruncateRegime fits a regime label into the snapshot schema column.
func TruncateRegime(label string) string {
	if len(label) <= regimeColumnLen {
		return label
	}
	return label[:regimeColumnLen]
}

// MarketSnapshot is one row of the periodic engine dump: headline GEX
// metrics, max pain, sentiment and the packed volatility surface.
type MarketSnapshot struct {
	ID            int64     `json:"id" db:"id"`
	Asset         string    `json:"asset" db:"asset"`
	Timestamp     time.Time `json:"timestamp" db:"ts"`
	Spot          float64   `json:"spot" db:"spot"`
	TotalGEX      float64   `json:"total_gex" db:"total_gex"`
	MaxGEXStrike  float64   `json:"max_gex_strike" db:"max_gex_strike"`
	Regime        string    `json:"regime" db:"regime"`
	MaxPainStrike float64   `json:"max_pain_strike" db:"max_pain_strike"`
	Sentiment     string    `json:"sentiment" db:"sentiment"`
	PCOIRatio     float64   `json:"pc_oi_ratio" db:"pc_oi_ratio"`
	PCVolumeRatio float64   `json:"pc_volume_ratio" db:"pc_volume_ratio"`
	// VolSurface is the msgpack-encoded surface payload.
	VolSurface []byte    `json:"-" db:"vol_surface_data"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// AnomalyRecord is one logged volatility anomaly.
type AnomalyRecord struct {
	ID            int64     `json:"id" db:"id"`
	Asset         string    `json:"asset" db:"asset"`
	AnomalyType   string    `json:"anomaly_type" db:"anomaly_type"`
	Severity      string    `json:"severity" db:"severity"`
	Strike        float64   `json:"strike" db:"strike"`
	DTE           int       `json:"dte" db:"dte"`
	ZScore        float64   `json:"z_score" db:"z_score"`
	SpreadPct     float64   `json:"spread_pct" db:"spread_pct"`
	OIVolumeRatio float64   `json:"oi_volume_ratio" db:"oi_volume_ratio"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// RegimeRecord marks the regime in force at a point in time; rows are
// written when the label changes.
type RegimeRecord struct {
	ID         int64     `json:"id" db:"id"`
	Asset      string    `json:"asset" db:"asset"`
	Timestamp  time.Time `json:"timestamp" db:"ts"`
	Regime     string    `json:"regime" db:"regime"`
	Spot       float64   `json:"spot" db:"spot"`
	FlipStrike float64   `json:"flip_strike" db:"flip_strike"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// OptionRecord is one per-contract history row captured alongside a
// snapshot.
type OptionRecord struct {
	ID           int64     `json:"id" db:"id"`
	Asset        string    `json:"asset" db:"asset"`
	Timestamp    time.Time `json:"timestamp" db:"ts"`
	Symbol       string    `json:"symbol" db:"symbol"`
	Strike       float64   `json:"strike" db:"strike"`
	Expiry       time.Time `json:"expiry" db:"expiry"`
	Side         string    `json:"side" db:"side"`
	MarkIV       float64   `json:"mark_iv" db:"mark_iv"`
	Gamma        float64   `json:"gamma" db:"gamma"`
	OpenInterest float64   `json:"open_interest" db:"open_interest"`
	Volume24h    float64   `json:"volume_24h" db:"volume_24h"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// SnapshotRepo stores and serves market snapshots.
type SnapshotRepo interface {
	Insert(ctx context.Context, snap MarketSnapshot) error
	ListRange(ctx context.Context, asset string, tr TimeRange, limit int) ([]MarketSnapshot, error)
	Latest(ctx context.Context, asset string) (*MarketSnapshot, error)
}

// AnomalyRepo stores and serves anomaly log rows.
type AnomalyRepo interface {
	InsertBatch(ctx context.Context, records []AnomalyRecord) error
	ListRange(ctx context.Context, asset string, tr TimeRange, limit int) ([]AnomalyRecord, error)
	CountByType(ctx context.Context, asset string, tr TimeRange) (map[string]int64, error)
}

// RegimeRepo stores and serves regime transitions.
type RegimeRepo interface {
	Insert(ctx context.Context, rec RegimeRecord) error
	ListRange(ctx context.Context, asset string, tr TimeRange) ([]RegimeRecord, error)
}

// OptionRepo stores per-contract history rows.
type OptionRepo interface {
	InsertBatch(ctx context.Context, records []OptionRecord) error
	ListRange(ctx context.Context, symbol string, tr TimeRange, limit int) ([]OptionRecord, error)
}

// Repository aggregates the storage interfaces behind one handle.
type Repository struct {
	Snapshots SnapshotRepo
	Anomalies AnomalyRepo
	Regimes   RegimeRepo
	Options   OptionRepo
}
