package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quantarc/halfpipe/internal/persistence"
)

type optionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOptionRepo creates the options_history repository.
func NewOptionRepo(db *sqlx.DB, timeout time.Duration) persistence.OptionRepo {
	return &optionRepo{db: db, timeout: timeout}
}

func (r *optionRepo) InsertBatch(ctx context.Context, records []persistence.OptionRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin option batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO options_history
		(asset_id, ts, symbol, strike, expiry, side, mark_iv, gamma, open_interest, volume_24h)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
	if err != nil {
		return fmt.Errorf("prepare option insert: %w", err)
	}
	defer stmt.Close()

	assetIDs := make(map[string]int64)
	for _, rec := range records {
		if rec.Asset == "" {
			return fmt.Errorf("option asset is required")
		}
		assetID, ok := assetIDs[rec.Asset]
		if !ok {
			assetID, err = ensureAsset(ctx, tx, rec.Asset)
			if err != nil {
				return err
			}
			assetIDs[rec.Asset] = assetID
		}

		if _, err := stmt.ExecContext(ctx,
			assetID, rec.Timestamp, rec.Symbol, rec.Strike, rec.Expiry, rec.Side,
			rec.MarkIV, rec.Gamma, rec.OpenInterest, rec.Volume24h); err != nil {
			return fmt.Errorf("insert option row %s: %w", rec.Symbol, err)
		}
	}

	return tx.Commit()
}

func (r *optionRepo) ListRange(ctx context.Context, symbol string, tr persistence.TimeRange, limit int) ([]persistence.OptionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT o.id, a.symbol AS asset, o.ts, o.symbol, o.strike, o.expiry,
		       o.side, o.mark_iv, o.gamma, o.open_interest, o.volume_24h, o.created_at
		FROM options_history o
		JOIN assets a ON a.id = o.asset_id
		WHERE o.symbol = $1 AND o.ts >= $2 AND o.ts <= $3
		ORDER BY o.ts DESC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, symbol, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("query option range: %w", err)
	}
	defer rows.Close()

	var out []persistence.OptionRecord
	for rows.Next() {
		var rec persistence.OptionRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("scan option row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate option rows: %w", err)
	}
	return out, nil
}
