package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quantarc/halfpipe/internal/persistence"
)

type anomalyRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAnomalyRepo creates the anomalies_log repository.
func NewAnomalyRepo(db *sqlx.DB, timeout time.Duration) persistence.AnomalyRepo {
	return &anomalyRepo{db: db, timeout: timeout}
}

func (r *anomalyRepo) InsertBatch(ctx context.Context, records []persistence.AnomalyRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin anomaly batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO anomalies_log
		(asset_id, anomaly_type, severity, strike, dte, z_score, spread_pct, oi_volume_ratio, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("prepare anomaly insert: %w", err)
	}
	defer stmt.Close()

	assetIDs := make(map[string]int64)
	for _, rec := range records {
		if rec.Asset == "" {
			return fmt.Errorf("anomaly asset is required")
		}
		assetID, ok := assetIDs[rec.Asset]
		if !ok {
			assetID, err = ensureAsset(ctx, tx, rec.Asset)
			if err != nil {
				return err
			}
			assetIDs[rec.Asset] = assetID
		}

		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		if _, err := stmt.ExecContext(ctx,
			assetID, rec.AnomalyType, rec.Severity, rec.Strike, rec.DTE,
			rec.ZScore, rec.SpreadPct, rec.OIVolumeRatio, createdAt); err != nil {
			return fmt.Errorf("insert anomaly: %w", err)
		}
	}

	return tx.Commit()
}

func (r *anomalyRepo) ListRange(ctx context.Context, asset string, tr persistence.TimeRange, limit int) ([]persistence.AnomalyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT l.id, a.symbol AS asset, l.anomaly_type, l.severity, l.strike,
		       l.dte, l.z_score, l.spread_pct, l.oi_volume_ratio, l.created_at
		FROM anomalies_log l
		JOIN assets a ON a.id = l.asset_id
		WHERE a.symbol = $1 AND l.created_at >= $2 AND l.created_at <= $3
		ORDER BY l.created_at DESC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, asset, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("query anomaly range: %w", err)
	}
	defer rows.Close()

	var out []persistence.AnomalyRecord
	for rows.Next() {
		var rec persistence.AnomalyRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anomalies: %w", err)
	}
	return out, nil
}

func (r *anomalyRepo) CountByType(ctx context.Context, asset string, tr persistence.TimeRange) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT l.anomaly_type, COUNT(*)
		FROM anomalies_log l
		JOIN assets a ON a.id = l.asset_id
		WHERE a.symbol = $1 AND l.created_at >= $2 AND l.created_at <= $3
		GROUP BY l.anomaly_type`

	rows, err := r.db.QueryxContext(ctx, query, asset, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("query anomaly counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan anomaly count: %w", err)
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anomaly counts: %w", err)
	}
	return counts, nil
}
