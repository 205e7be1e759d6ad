package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quantarc/halfpipe/internal/persistence"
)

type regimeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRegimeRepo creates the regime_history repository.
func NewRegimeRepo(db *sqlx.DB, timeout time.Duration) persistence.RegimeRepo {
	return &regimeRepo{db: db, timeout: timeout}
}

func (r *regimeRepo) Insert(ctx context.Context, rec persistence.RegimeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if rec.Asset == "" {
		return fmt.Errorf("regime asset is required")
	}

	assetID, err := ensureAsset(ctx, r.db, rec.Asset)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO regime_history (asset_id, ts, regime, spot, flip_strike)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = r.db.ExecContext(ctx, query,
		assetID, rec.Timestamp, rec.Regime, rec.Spot, rec.FlipStrike)
	if err != nil {
		return fmt.Errorf("insert regime record: %w", err)
	}
	return nil
}

func (r *regimeRepo) ListRange(ctx context.Context, asset string, tr persistence.TimeRange) ([]persistence.RegimeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT h.id, a.symbol AS asset, h.ts, h.regime, h.spot, h.flip_strike, h.created_at
		FROM regime_history h
		JOIN assets a ON a.id = h.asset_id
		WHERE a.symbol = $1 AND h.ts >= $2 AND h.ts <= $3
		ORDER BY h.ts DESC`

	rows, err := r.db.QueryxContext(ctx, query, asset, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("query regime range: %w", err)
	}
	defer rows.Close()

	var out []persistence.RegimeRecord
	for rows.Next() {
		var rec persistence.RegimeRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("scan regime record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate regime records: %w", err)
	}
	return out, nil
}
