package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quantarc/halfpipe/internal/persistence"
)

type snapshotRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSnapshotRepo creates the market_snapshots repository.
func NewSnapshotRepo(db *sqlx.DB, timeout time.Duration) persistence.SnapshotRepo {
	return &snapshotRepo{db: db, timeout: timeout}
}

func (r *snapshotRepo) Insert(ctx context.Context, snap persistence.MarketSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if snap.Asset == "" {
		return fmt.Errorf("snapshot asset is required")
	}

	assetID, err := ensureAsset(ctx, r.db, snap.Asset)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO market_snapshots
		(asset_id, ts, spot, total_gex, max_gex_strike, regime,
		 max_pain_strike, sentiment, pc_oi_ratio, pc_volume_ratio, vol_surface_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.ExecContext(ctx, query,
		assetID, snap.Timestamp, snap.Spot, snap.TotalGEX, snap.MaxGEXStrike,
		persistence.TruncateRegime(snap.Regime), snap.MaxPainStrike,
		snap.Sentiment, snap.PCOIRatio, snap.PCVolumeRatio, snap.VolSurface)
	if err != nil {
		return fmt.Errorf("insert market snapshot: %w", err)
	}
	return nil
}

const snapshotColumns = `
	s.id, a.symbol AS asset, s.ts, s.spot, s.total_gex, s.max_gex_strike,
	s.regime, s.max_pain_strike, s.sentiment, s.pc_oi_ratio,
	s.pc_volume_ratio, s.vol_surface_data, s.created_at`

func (r *snapshotRepo) ListRange(ctx context.Context, asset string, tr persistence.TimeRange, limit int) ([]persistence.MarketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + snapshotColumns + `
		FROM market_snapshots s
		JOIN assets a ON a.id = s.asset_id
		WHERE a.symbol = $1 AND s.ts >= $2 AND s.ts <= $3
		ORDER BY s.ts DESC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, asset, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshot range: %w", err)
	}
	defer rows.Close()

	var out []persistence.MarketSnapshot
	for rows.Next() {
		var s persistence.MarketSnapshot
		if err := rows.StructScan(&s); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

func (r *snapshotRepo) Latest(ctx context.Context, asset string) (*persistence.MarketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + snapshotColumns + `
		FROM market_snapshots s
		JOIN assets a ON a.id = s.asset_id
		WHERE a.symbol = $1
		ORDER BY s.ts DESC
		LIMIT 1`

	var s persistence.MarketSnapshot
	if err := r.db.GetContext(ctx, &s, query, asset); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	return &s, nil
}
