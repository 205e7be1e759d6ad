// Package postgres implements the persistence interfaces on PostgreSQL
// via sqlx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Schema is the DDL for all halfpipe tables. Statements are idempotent
// so EnsureSchema can run on every startup.
const Schema = `
CREATE TABLE IF NOT EXISTS assets (
    id         SERIAL PRIMARY KEY,
    symbol     VARCHAR(20) NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS market_snapshots (
    id               BIGSERIAL PRIMARY KEY,
    asset_id         INTEGER NOT NULL REFERENCES assets(id),
    ts               TIMESTAMPTZ NOT NULL,
    spot             DOUBLE PRECISION NOT NULL,
    total_gex        DOUBLE PRECISION NOT NULL,
    max_gex_strike   DOUBLE PRECISION NOT NULL DEFAULT 0,
    regime           VARCHAR(20) NOT NULL,
    max_pain_strike  DOUBLE PRECISION NOT NULL DEFAULT 0,
    sentiment        VARCHAR(20) NOT NULL DEFAULT '',
    pc_oi_ratio      DOUBLE PRECISION NOT NULL DEFAULT 0,
    pc_volume_ratio  DOUBLE PRECISION NOT NULL DEFAULT 0,
    vol_surface_data BYTEA,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_market_snapshots_asset_ts
    ON market_snapshots (asset_id, ts DESC);

CREATE TABLE IF NOT EXISTS options_history (
    id            BIGSERIAL PRIMARY KEY,
    asset_id      INTEGER NOT NULL REFERENCES assets(id),
    ts            TIMESTAMPTZ NOT NULL,
    symbol        VARCHAR(40) NOT NULL,
    strike        DOUBLE PRECISION NOT NULL,
    expiry        TIMESTAMPTZ NOT NULL,
    side          VARCHAR(4) NOT NULL,
    mark_iv       DOUBLE PRECISION NOT NULL DEFAULT 0,
    gamma         DOUBLE PRECISION NOT NULL DEFAULT 0,
    open_interest DOUBLE PRECISION NOT NULL DEFAULT 0,
    volume_24h    DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_options_history_ts
    ON options_history (ts DESC);
CREATE INDEX IF NOT EXISTS idx_options_history_symbol_ts
    ON options_history (symbol, ts DESC);

CREATE TABLE IF NOT EXISTS anomalies_log (
    id              BIGSERIAL PRIMARY KEY,
    asset_id        INTEGER NOT NULL REFERENCES assets(id),
    anomaly_type    VARCHAR(20) NOT NULL,
    severity        VARCHAR(10) NOT NULL,
    strike          DOUBLE PRECISION NOT NULL DEFAULT 0,
    dte             INTEGER NOT NULL DEFAULT 0,
    z_score         DOUBLE PRECISION NOT NULL DEFAULT 0,
    spread_pct      DOUBLE PRECISION NOT NULL DEFAULT 0,
    oi_volume_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_anomalies_log_created
    ON anomalies_log (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_anomalies_log_type
    ON anomalies_log (anomaly_type, created_at DESC);

CREATE TABLE IF NOT EXISTS regime_history (
    id          BIGSERIAL PRIMARY KEY,
    asset_id    INTEGER NOT NULL REFERENCES assets(id),
    ts          TIMESTAMPTZ NOT NULL,
    regime      VARCHAR(32) NOT NULL,
    spot        DOUBLE PRECISION NOT NULL,
    flip_strike DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_regime_history_asset_ts
    ON regime_history (asset_id, ts DESC);
`

// Open connects, verifies the connection and applies the schema.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema applies the DDL.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ensureAsset returns the assets row id for symbol, creating it when
// missing. The upsert keeps concurrent writers from racing on first
// insert.
func ensureAsset(ctx context.Context, q sqlx.QueryerContext, symbol string) (int64, error) {
	var id int64
	query := `
		INSERT INTO assets (symbol) VALUES ($1)
		ON CONFLICT (symbol) DO UPDATE SET symbol = EXCLUDED.symbol
		RETURNING id`
	if err := sqlx.GetContext(ctx, q, &id, query, symbol); err != nil {
		return 0, fmt.Errorf("ensure asset %s: %w", symbol, err)
	}
	return id, nil
}
