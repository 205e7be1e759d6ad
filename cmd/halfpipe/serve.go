package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quantarc/halfpipe/internal/cache"
	"github.com/quantarc/halfpipe/internal/config"
	"github.com/quantarc/halfpipe/internal/engine"
	"github.com/quantarc/halfpipe/internal/escape"
	"github.com/quantarc/halfpipe/internal/gex"
	"github.com/quantarc/halfpipe/internal/httpapi"
	"github.com/quantarc/halfpipe/internal/iceberg"
	"github.com/quantarc/halfpipe/internal/ingest"
	"github.com/quantarc/halfpipe/internal/liquidation"
	"github.com/quantarc/halfpipe/internal/options"
	"github.com/quantarc/halfpipe/internal/orderbook"
	"github.com/quantarc/halfpipe/internal/persistence"
	"github.com/quantarc/halfpipe/internal/persistence/postgres"
	"github.com/quantarc/halfpipe/internal/telemetry"
	"github.com/quantarc/halfpipe/internal/volatility"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetString("underlying"); v != "" {
		cfg.Underlying = strings.ToUpper(v)
	}
	if v, _ := cmd.Flags().GetString("http-addr"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	setLogLevel(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.NewMetrics()
	store := options.NewStore(0)

	var repo *persistence.Repository
	if cfg.Postgres.DSN != "" {
		db, err := postgres.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer db.Close()
		repo = &persistence.Repository{
			Snapshots: postgres.NewSnapshotRepo(db, cfg.Postgres.QueryTimeout),
			Anomalies: postgres.NewAnomalyRepo(db, cfg.Postgres.QueryTimeout),
			Regimes:   postgres.NewRegimeRepo(db, cfg.Postgres.QueryTimeout),
			Options:   postgres.NewOptionRepo(db, cfg.Postgres.QueryTimeout),
		}
		log.Info().Msg("postgres persistence enabled")
	}

	eng, err := engine.New(engine.Config{
		Underlying:       cfg.Underlying,
		MetricCacheTTL:   cfg.Engine.MetricCacheTTL,
		EscapeInterval:   cfg.Engine.EscapeInterval,
		SnapshotSchedule: cfg.Engine.SnapshotSchedule,
	}, engine.Deps{
		Store:        store,
		GEX:          gex.NewCalculator(gex.Config{}),
		Book:         orderbook.NewAnalyzer(orderbook.Config{}),
		Liquidations: liquidation.NewTracker(liquidation.Config{CascadeThreshold: cfg.Liquidation.CascadeThreshold}),
		Iceberg: iceberg.NewDetector(iceberg.Config{
			RefillingMinOccurrences:      cfg.Iceberg.RefillingMinOccurrences,
			VolumeAnomalyRatio:           cfg.Iceberg.VolumeAnomalyRatio,
			RejectionMinCount:            cfg.Iceberg.RejectionMinCount,
			RegenMinDrop:                 cfg.Iceberg.RegenMinDrop,
			RegenMinRecovery:             cfg.Iceberg.RegenMinRecovery,
			ConsistentSizeMinOccurrences: cfg.Iceberg.ConsistentSizeMinOccurrences,
		}),
		Escape:    escape.NewDetector(escape.Config{}),
		Anomalies: volatility.NewDetector(volatility.DetectorConfig{}),
		Cache:     cache.New(cfg.Redis.Addr, cfg.Redis.DB),
		Repo:      repo,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	ing, err := ingest.New(ingest.Config{
		Underlying:             cfg.Underlying,
		OptionsWSURL:           cfg.Ingest.OptionsWSURL,
		FuturesWSURL:           cfg.Ingest.FuturesWSURL,
		RESTURL:                cfg.Ingest.RESTURL,
		GreeksPollInterval:     cfg.Ingest.GreeksPollInterval,
		OIPollInterval:         cfg.Ingest.OIPollInterval,
		InstrumentPollInterval: cfg.Ingest.InstrumentPollInterval,
		ReconnectDelay:         cfg.Ingest.ReconnectDelay,
		RESTRateLimit:          cfg.Ingest.RESTRateLimit,
		RESTBurst:              cfg.Ingest.RESTBurst,
	}, store, eng, metrics)
	if err != nil {
		return err
	}

	srv, err := httpapi.New(httpapi.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, eng, ing, metrics)
	if err != nil {
		return err
	}

	log.Info().
		Str("version", version).
		Str("underlying", cfg.Underlying).
		Str("addr", cfg.HTTP.Addr).
		Msg("halfpipe starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return ing.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("halfpipe stopped")
	return nil
}

// setLogLevel applies the configured zerolog level, keeping the current
// one when the label does not parse.
func setLogLevel(level string) {
	lv, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lv == zerolog.NoLevel {
		log.Warn().Str("level", level).Msg("unknown log level, keeping info")
		return
	}
	zerolog.SetGlobalLevel(lv)
}
