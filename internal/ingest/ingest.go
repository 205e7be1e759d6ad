// Package ingest connects the engine to the derivatives venue: two
// websocket streams (options chain, perpetual futures) plus REST
// pollers for greeks, open interest and the instrument list. The
// package owns all wire parsing; the rest of the system only sees
// typed updates.
package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/quantarc/halfpipe/internal/iceberg"
	"github.com/quantarc/halfpipe/internal/liquidation"
	"github.com/quantarc/halfpipe/internal/options"
	"github.com/quantarc/halfpipe/internal/orderbook"
	"github.com/quantarc/halfpipe/internal/telemetry"
)

// Sink receives the parsed futures-side updates. The engine satisfies
// it; tests substitute a recorder.
type Sink interface {
	SetSpot(px float64, ts time.Time)
	ApplyBook(snap *orderbook.Snapshot) error
	AddTrade(t iceberg.Trade)
	AddLiquidation(e liquidation.Event)
}

// Config holds venue endpoints and polling cadence.
type Config struct {
	Underlying string

	OptionsWSURL string
	FuturesWSURL string
	RESTURL      string

	GreeksPollInterval     time.Duration
	OIPollInterval         time.Duration
	InstrumentPollInterval time.Duration
	ReconnectDelay         time.Duration

	RESTRateLimit float64
	RESTBurst     int
}

// DefaultConfig returns production endpoints and cadence.
func DefaultConfig() Config {
	return Config{
		Underlying:             "BTC",
		OptionsWSURL:           "wss://nbstream.binance.com/eoptions/ws",
		FuturesWSURL:           "wss://fstream.binance.com/ws",
		RESTURL:                "https://eapi.binance.com",
		GreeksPollInterval:     30 * time.Second,
		OIPollInterval:         time.Minute,
		InstrumentPollInterval: 5 * time.Minute,
		ReconnectDelay:         5 * time.Second,
		RESTRateLimit:          5,
		RESTBurst:              10,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Underlying == "" {
		c.Underlying = def.Underlying
	}
	if c.OptionsWSURL == "" {
		c.OptionsWSURL = def.OptionsWSURL
	}
	if c.FuturesWSURL == "" {
		c.FuturesWSURL = def.FuturesWSURL
	}
	if c.RESTURL == "" {
		c.RESTURL = def.RESTURL
	}
	if c.GreeksPollInterval <= 0 {
		c.GreeksPollInterval = def.GreeksPollInterval
	}
	if c.OIPollInterval <= 0 {
		c.OIPollInterval = def.OIPollInterval
	}
	if c.InstrumentPollInterval <= 0 {
		c.InstrumentPollInterval = def.InstrumentPollInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	if c.RESTRateLimit <= 0 {
		c.RESTRateLimit = def.RESTRateLimit
	}
	if c.RESTBurst <= 0 {
		c.RESTBurst = def.RESTBurst
	}
	return c
}

// Status reports ingestion health for the status endpoint.
type Status struct {
	OptionsStream StreamStatus `json:"options_stream"`
	FuturesStream StreamStatus `json:"futures_stream"`

	GreeksPolls       int64 `json:"greeks_polls"`
	OpenInterestPolls int64 `json:"open_interest_polls"`
	InstrumentPolls   int64 `json:"instrument_polls"`
}

// Service runs the streams and pollers for one underlying.
type Service struct {
	cfg     Config
	store   *options.Store
	sink    Sink
	metrics *telemetry.Metrics

	rest    *restClient
	options *optionsStream
	futures *futuresStream

	greeksPolls     atomic.Int64
	oiPolls         atomic.Int64
	instrumentPolls atomic.Int64
}

// New wires the streams and pollers. metrics may be nil.
func New(cfg Config, store *options.Store, sink Sink, m *telemetry.Metrics) (*Service, error) {
	if store == nil {
		return nil, errors.New("ingest: options store is required")
	}
	if sink == nil {
		return nil, errors.New("ingest: sink is required")
	}

	cfg = cfg.withDefaults()
	s := &Service{cfg: cfg, store: store, sink: sink, metrics: m}
	s.rest = newRESTClient(cfg, m)
	s.options = newOptionsStream(cfg, store, m)
	s.futures = newFuturesStream(cfg, sink, m)
	return s, nil
}

// Run blocks until ctx ends, keeping both streams connected and the
// pollers on cadence. The first failing goroutine tears down the rest.
func (s *Service) Run(ctx context.Context) error {
	log.Info().
		Str("underlying", s.cfg.Underlying).
		Str("options_ws", s.cfg.OptionsWSURL).
		Str("futures_ws", s.cfg.FuturesWSURL).
		Msg("ingest starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.options.ws.Run(ctx) })
	g.Go(func() error { return s.futures.ws.Run(ctx) })
	g.Go(func() error {
		return s.pollLoop(ctx, "instruments", s.cfg.InstrumentPollInterval, s.pollInstruments)
	})
	g.Go(func() error {
		return s.pollLoop(ctx, "greeks", s.cfg.GreeksPollInterval, s.pollGreeks)
	})
	g.Go(func() error {
		return s.pollLoop(ctx, "open_interest", s.cfg.OIPollInterval, s.pollOpenInterest)
	})
	return g.Wait()
}

// pollLoop runs fn once immediately, then on every tick. Failures are
// logged and retried on the next tick; only ctx ends the loop.
func (s *Service) pollLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	run := func() {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("poller", name).Msg("poll failed")
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}

// Status snapshots stream and poller health.
func (s *Service) Status() Status {
	return Status{
		OptionsStream:     s.options.ws.Status(),
		FuturesStream:     s.futures.ws.Status(),
		GreeksPolls:       s.greeksPolls.Load(),
		OpenInterestPolls: s.oiPolls.Load(),
		InstrumentPolls:   s.instrumentPolls.Load(),
	}
}
