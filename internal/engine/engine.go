// Package engine owns the live analytics components, the TTL metric
// cache, the 1 Hz escape loop and the periodic snapshot dispatcher.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/quantarc/halfpipe/internal/cache"
	"github.com/quantarc/halfpipe/internal/escape"
	"github.com/quantarc/halfpipe/internal/gex"
	"github.com/quantarc/halfpipe/internal/iceberg"
	"github.com/quantarc/halfpipe/internal/liquidation"
	"github.com/quantarc/halfpipe/internal/marketstate"
	"github.com/quantarc/halfpipe/internal/options"
	"github.com/quantarc/halfpipe/internal/orderbook"
	"github.com/quantarc/halfpipe/internal/persistence"
	"github.com/quantarc/halfpipe/internal/strategy"
	"github.com/quantarc/halfpipe/internal/telemetry"
	"github.com/quantarc/halfpipe/internal/volatility"
)

// ErrNotReady marks queries whose producing component has no data yet.
// The HTTP layer maps it to a structured 503 envelope.
var ErrNotReady = errors.New("not ready")

func notReady(what string) error {
	return fmt.Errorf("%s unavailable: %w", what, ErrNotReady)
}

// Config carries the engine-level knobs.
type Config struct {
	Underlying       string        `yaml:"underlying"`
	MetricCacheTTL   time.Duration `yaml:"metric_cache_ttl"`
	EscapeInterval   time.Duration `yaml:"escape_interval"`
	SnapshotSchedule string        `yaml:"snapshot_schedule"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Underlying:       "BTC",
		MetricCacheTTL:   5 * time.Second,
		EscapeInterval:   time.Second,
		SnapshotSchedule: "@every 1m",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Underlying == "" {
		c.Underlying = d.Underlying
	}
	if c.MetricCacheTTL <= 0 {
		c.MetricCacheTTL = d.MetricCacheTTL
	}
	if c.EscapeInterval <= 0 {
		c.EscapeInterval = d.EscapeInterval
	}
	if c.SnapshotSchedule == "" {
		c.SnapshotSchedule = d.SnapshotSchedule
	}
	return c
}

// Deps are the component handles the engine coordinates. Repo and
// Metrics are optional; everything else is required.
type Deps struct {
	Store        *options.Store
	GEX          *gex.Calculator
	Book         *orderbook.Analyzer
	Liquidations *liquidation.Tracker
	Iceberg      *iceberg.Detector
	Escape       *escape.Detector
	Anomalies    *volatility.Detector
	Cache        cache.Cache
	Repo         *persistence.Repository
	Metrics      *telemetry.Metrics
}

func (d Deps) validate() error {
	switch {
	case d.Store == nil:
		return errors.New("engine: option store is required")
	case d.GEX == nil:
		return errors.New("engine: gex calculator is required")
	case d.Book == nil:
		return errors.New("engine: order book analyzer is required")
	case d.Liquidations == nil:
		return errors.New("engine: liquidation tracker is required")
	case d.Iceberg == nil:
		return errors.New("engine: iceberg detector is required")
	case d.Escape == nil:
		return errors.New("engine: escape detector is required")
	case d.Anomalies == nil:
		return errors.New("engine: anomaly detector is required")
	case d.Cache == nil:
		return errors.New("engine: cache is required")
	}
	return nil
}

// Engine coordinates the analytics components and serves the query API
// consumed by the HTTP surface.
type Engine struct {
	cfg Config

	store     *options.Store
	calc      *gex.Calculator
	book      *orderbook.Analyzer
	liq       *liquidation.Tracker
	ice       *iceberg.Detector
	esc       *escape.Detector
	anomalies *volatility.Detector
	cache     cache.Cache
	repo      *persistence.Repository
	metrics   *telemetry.Metrics
	cron      *cron.Cron

	mu         sync.RWMutex
	spot       float64
	spotTS     time.Time
	lastRegime marketstate.Regime
	startedAt  time.Time

	nowFn func() time.Time
}

// New wires an engine. Missing required dependencies abort startup.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg.withDefaults(),
		store:     deps.Store,
		calc:      deps.GEX,
		book:      deps.Book,
		liq:       deps.Liquidations,
		ice:       deps.Iceberg,
		esc:       deps.Escape,
		anomalies: deps.Anomalies,
		cache:     deps.Cache,
		repo:      deps.Repo,
		metrics:   deps.Metrics,
		cron:      cron.New(),
		nowFn:     time.Now,
	}, nil
}

// Component accessors for the ingest and HTTP layers.

func (e *Engine) Underlying() string                 { return e.cfg.Underlying }
func (e *Engine) Store() *options.Store              { return e.store }
func (e *Engine) Book() *orderbook.Analyzer          { return e.book }
func (e *Engine) Liquidations() *liquidation.Tracker { return e.liq }
func (e *Engine) Iceberg() *iceberg.Detector         { return e.ice }
func (e *Engine) Escape() *escape.Detector           { return e.esc }
func (e *Engine) Repo() *persistence.Repository      { return e.repo }

// StartedAt reports when Run began; zero before that.
func (e *Engine) StartedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.startedAt
}

// Uptime is the elapsed run time, zero before Run.
func (e *Engine) Uptime() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.startedAt.IsZero() {
		return 0
	}
	return e.nowFn().Sub(e.startedAt)
}

// SetSpot records the latest underlying index price. Called by the
// index stream.
func (e *Engine) SetSpot(px float64, ts time.Time) {
	if px <= 0 {
		return
	}
	e.mu.Lock()
	e.spot = px
	e.spotTS = ts
	e.mu.Unlock()
}

// Spot returns the last index price and its timestamp.
func (e *Engine) Spot() (float64, time.Time) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.spot, e.spotTS
}

// ApplyBook feeds one depth snapshot to the book analyzer and runs the
// iceberg scan against it.
func (e *Engine) ApplyBook(snap *orderbook.Snapshot) error {
	if _, err := e.book.Apply(snap); err != nil {
		return err
	}
	e.ice.Detect(*snap)
	return nil
}

// AddTrade feeds one executed trade to the iceberg detector.
func (e *Engine) AddTrade(t iceberg.Trade) {
	e.ice.AddTrade(t)
}

// AddLiquidation feeds one forced order to the tracker.
func (e *Engine) AddLiquidation(ev liquidation.Event) {
	e.liq.Add(ev)
}

// profile computes a fresh gamma profile from the live chain.
func (e *Engine) profile() (*gex.Profile, float64, error) {
	spot, _ := e.Spot()
	if spot <= 0 {
		return nil, 0, notReady("spot price")
	}
	opts := e.store.All()
	if len(opts) == 0 {
		return nil, 0, notReady("options chain")
	}
	p, err := e.calc.Profile(opts, spot, e.nowFn())
	if err != nil {
		return nil, 0, err
	}
	return p, spot, nil
}

// MetricsBundle is the cached headline response.
type MetricsBundle struct {
	Timestamp      time.Time                  `json:"timestamp"`
	Spot           float64                    `json:"spot"`
	TotalGEX       gex.Totals                 `json:"total_gex"`
	GammaProfile   []gex.StrikeGEX            `json:"gamma_profile"`
	GammaFlip      *gex.GammaFlip             `json:"gamma_flip"`
	Walls          *gex.Walls                 `json:"walls"`
	MaxGEXStrike   float64                    `json:"max_gex_strike"`
	Regime         marketstate.Regime         `json:"regime"`
	RegimeAnalysis marketstate.RegimeAnalysis `json:"regime_analysis"`
}

// Metrics returns the headline bundle, byte-stable within the cache TTL.
func (e *Engine) Metrics() (json.RawMessage, error) {
	key := "metrics:" + e.cfg.Underlying
	if b, ok := e.cache.Get(key); ok {
		e.metrics.RecordCacheHit()
		return json.RawMessage(b), nil
	}
	e.metrics.RecordCacheMiss()

	bundle, err := e.buildMetrics()
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("marshal metrics bundle: %w", err)
	}
	e.cache.Set(key, b, e.cfg.MetricCacheTTL)
	return json.RawMessage(b), nil
}

func (e *Engine) buildMetrics() (*MetricsBundle, error) {
	p, spot, err := e.profile()
	if err != nil {
		return nil, err
	}
	flip := e.calc.Flip(p)
	walls := e.calc.Walls(p)
	ra := marketstate.ClassifyRegime(spot, p.Totals, *flip)
	e.metrics.SetRegime(string(ra.Regime))

	return &MetricsBundle{
		Timestamp:      p.Timestamp,
		Spot:           spot,
		TotalGEX:       p.Totals,
		GammaProfile:   p.ByStrike,
		GammaFlip:      flip,
		Walls:          walls,
		MaxGEXStrike:   p.MaxGEXStrike,
		Regime:         ra.Regime,
		RegimeAnalysis: ra,
	}, nil
}

// TotalGEX returns the exposure totals.
func (e *Engine) TotalGEX() (*gex.Totals, error) {
	p, _, err := e.profile()
	if err != nil {
		return nil, err
	}
	t := p.Totals
	return &t, nil
}

// GammaFlip locates the zero-gamma level.
func (e *Engine) GammaFlip() (*gex.GammaFlip, error) {
	p, _, err := e.profile()
	if err != nil {
		return nil, err
	}
	return e.calc.Flip(p), nil
}

// Walls returns the dominant call and put strikes.
func (e *Engine) Walls() (*gex.Walls, error) {
	p, _, err := e.profile()
	if err != nil {
		return nil, err
	}
	return e.calc.Walls(p), nil
}

// WallZones returns the per-side zones; threshold <= 0 uses the default.
func (e *Engine) WallZones(threshold float64) ([]gex.WallZone, error) {
	p, _, err := e.profile()
	if err != nil {
		return nil, err
	}
	if threshold > 0 {
		return e.calc.ZonesWithThreshold(p, threshold), nil
	}
	return e.calc.Zones(p), nil
}

// GammaProfile returns the transport-compacted profile. With auto the
// window expands to cover wall zones; otherwise it is a strict range cut.
func (e *Engine) GammaProfile(rangePct, gexThresholdPct float64, auto bool) (*gex.RangedProfile, error) {
	p, _, err := e.profile()
	if err != nil {
		return nil, err
	}
	var zones []gex.WallZone
	if auto {
		zones = e.calc.Zones(p)
	}
	return e.calc.SmartRangeWith(p, zones, rangePct, gexThresholdPct), nil
}

// VolSurface builds the IV surface from the live chain.
func (e *Engine) VolSurface() (*volatility.Surface, error) {
	spot, _ := e.Spot()
	if spot <= 0 {
		return nil, notReady("spot price")
	}
	opts := e.store.All()
	if len(opts) == 0 {
		return nil, notReady("options chain")
	}
	return volatility.BuildSurface(opts, spot, e.nowFn())
}

// AnomalyFilters echoes the query filters back in the report.
type AnomalyFilters struct {
	Kind     volatility.AnomalyKind `json:"kind,omitempty"`
	Severity volatility.Severity    `json:"severity,omitempty"`
	Limit    int                    `json:"limit,omitempty"`
}

// AnomalyReport is the volAnomalies response payload.
type AnomalyReport struct {
	Anomalies []volatility.Anomaly `json:"anomalies"`
	Stats     volatility.Stats     `json:"stats"`
	Threshold float64              `json:"threshold"`
	SpotPrice float64              `json:"spot_price"`
	Filters   AnomalyFilters       `json:"filters"`
}

// VolAnomalies scans the current surface. threshold <= 0 uses the
// detector default; kind/severity filter when non-empty; limit > 0 caps
// the result after priority ordering.
func (e *Engine) VolAnomalies(threshold float64, kind volatility.AnomalyKind, severity volatility.Severity, limit int) (*AnomalyReport, error) {
	surface, err := e.VolSurface()
	if err != nil {
		return nil, err
	}

	anoms := e.anomalies.DetectWithThreshold(surface, threshold)
	anoms = volatility.Filter(anoms, kind, severity)
	stats := volatility.Summarize(anoms)
	if limit > 0 && len(anoms) > limit {
		anoms = anoms[:limit]
	}

	if threshold <= 0 {
		threshold = volatility.DefaultDetectorConfig().ZThreshold
	}
	return &AnomalyReport{
		Anomalies: anoms,
		Stats:     stats,
		Threshold: threshold,
		SpotPrice: surface.Spot,
		Filters:   AnomalyFilters{Kind: kind, Severity: severity, Limit: limit},
	}, nil
}

// MaxPain aggregates open interest per strike.
func (e *Engine) MaxPain() (*marketstate.MaxPain, error) {
	spot, _ := e.Spot()
	opts := e.store.All()
	if len(opts) == 0 {
		return nil, notReady("options chain")
	}
	mp := marketstate.CalculateMaxPain(opts, spot)
	return &mp, nil
}

// Sentiment returns put/call ratios and the bucketed label.
func (e *Engine) Sentiment() (*marketstate.SentimentAnalysis, error) {
	opts := e.store.All()
	if len(opts) == 0 {
		return nil, notReady("options chain")
	}
	sa := marketstate.CalculateSentiment(opts)
	return &sa, nil
}

// MarketState condenses the current market picture for the strategy
// recommender.
func (e *Engine) MarketState() (strategy.MarketState, error) {
	p, spot, err := e.profile()
	if err != nil {
		return strategy.MarketState{}, err
	}
	flip := e.calc.Flip(p)
	ra := marketstate.ClassifyRegime(spot, p.Totals, *flip)

	opts := e.store.All()
	mp := marketstate.CalculateMaxPain(opts, spot)
	sent := marketstate.CalculateSentiment(opts)

	ms := strategy.MarketState{
		Regime:              ra.Regime,
		GEXSign:             strategy.SignOf(p.Totals.Total),
		MaxPainDistPct:      mp.DistancePct,
		Sentiment:           sent.Sentiment,
		SentimentDivergence: sent.Divergence(),
	}

	if surface, err := volatility.BuildSurface(opts, spot, e.nowFn()); err == nil {
		ms.VolBucket = strategy.BucketVol(surface.ATMIV)
		ms.SkewBucket = strategy.BucketSkew(surface.Skew)
		ms.Anomalies = e.anomalies.Detect(surface)
	} else {
		ms.VolBucket = strategy.BucketVol(0)
		ms.SkewBucket = strategy.BucketSkew(volatility.Skew{})
	}
	return ms, nil
}

// Recommendations scores the catalog against the current state. minScore
// filters before the topN cut.
func (e *Engine) Recommendations(topN int, minScore float64) ([]strategy.Recommendation, error) {
	ms, err := e.MarketState()
	if err != nil {
		return nil, err
	}
	recs := strategy.Recommend(ms, 0)
	if minScore > 0 {
		kept := recs[:0]
		for _, r := range recs {
			if r.Score >= minScore {
				kept = append(kept, r)
			}
		}
		recs = kept
	}
	if topN > 0 && len(recs) > topN {
		recs = recs[:topN]
	}
	return recs, nil
}

// EvaluateEscape runs one detection tick against fresh component reads.
func (e *Engine) EvaluateEscape() escape.Detection {
	start := time.Now()

	spot, _ := e.Spot()
	stats := e.liq.Stats()
	energy := e.liq.Energy()
	iceDet := e.ice.Last()

	in := escape.Inputs{
		Book:        e.book.Current(),
		Liquidation: &stats,
		Energy:      &energy,
		Iceberg:     &iceDet,
		Spot:        spot,
	}

	if p, _, err := e.profile(); err == nil {
		totals := p.Totals
		in.GEX = &totals
		in.Walls = e.calc.Walls(p)
	} else if !errors.Is(err, ErrNotReady) {
		log.Debug().Err(err).Msg("escape tick without gamma profile")
	}

	det := e.esc.Evaluate(in)
	e.metrics.ObserveTick(time.Since(start))
	return det
}

// Run drives the escape loop and the snapshot cron until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.startedAt.IsZero() {
		e.startedAt = e.nowFn()
	}
	e.mu.Unlock()

	if e.repo != nil && e.repo.Snapshots != nil {
		if _, err := e.cron.AddFunc(e.cfg.SnapshotSchedule, e.dispatchSnapshot); err != nil {
			return fmt.Errorf("schedule snapshots: %w", err)
		}
		e.cron.Start()
		defer e.cron.Stop()
	} else {
		log.Warn().Msg("persistence disabled, snapshots will not be stored")
	}

	log.Info().
		Str("underlying", e.cfg.Underlying).
		Dur("escape_interval", e.cfg.EscapeInterval).
		Str("snapshot_schedule", e.cfg.SnapshotSchedule).
		Msg("engine started")

	ticker := time.NewTicker(e.cfg.EscapeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("engine stopped")
			return ctx.Err()
		case <-ticker.C:
			det := e.EvaluateEscape()
			if det.Type != escape.TypeNone {
				log.Info().
					Str("type", string(det.Type)).
					Float64("confidence", det.Confidence).
					Str("direction", string(det.Direction)).
					Float64("p_escape", det.Metrics.PEscape).
					Msg("escape detection")
			}
		}
	}
}
