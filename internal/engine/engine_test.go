package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantarc/halfpipe/internal/cache"
	"github.com/quantarc/halfpipe/internal/escape"
	"github.com/quantarc/halfpipe/internal/gex"
	"github.com/quantarc/halfpipe/internal/iceberg"
	"github.com/quantarc/halfpipe/internal/liquidation"
	"github.com/quantarc/halfpipe/internal/options"
	"github.com/quantarc/halfpipe/internal/orderbook"
	"github.com/quantarc/halfpipe/internal/persistence"
	"github.com/quantarc/halfpipe/internal/volatility"
)

// The store checks freshness and expiry against the wall clock, so the
// fixture anchors to it instead of a fixed date.
var engineNow = time.Now().UTC().Truncate(time.Second)

func newTestEngine(t *testing.T, repo *persistence.Repository) *Engine {
	t.Helper()
	eng, err := New(Config{Underlying: "BTC"}, Deps{
		Store:        options.NewStore(time.Hour),
		GEX:          gex.NewCalculator(gex.DefaultConfig()),
		Book:         orderbook.NewAnalyzer(orderbook.DefaultConfig()),
		Liquidations: liquidation.NewTracker(liquidation.DefaultConfig()),
		Iceberg:      iceberg.NewDetector(iceberg.DefaultConfig()),
		Escape:       escape.NewDetector(escape.DefaultConfig()),
		Anomalies:    volatility.NewDetector(volatility.DefaultDetectorConfig()),
		Cache:        cache.NewMemory(),
		Repo:         repo,
	})
	require.NoError(t, err)
	eng.nowFn = func() time.Time { return engineNow }
	return eng
}

// seedChain loads four contracts across three strikes. At spot 100000
// the net GEX is +3.76e6 with the flip interpolated at 96875.
func seedChain(t *testing.T, store *options.Store) {
	t.Helper()
	expiry := engineNow.AddDate(0, 0, 28)
	for _, c := range []struct {
		strike float64
		side   options.Side
		gamma  float64
		oi     float64
	}{
		{95000, options.SidePut, 2.5e-5, 1200},
		{100000, options.SideCall, 1.0e-3, 100},
		{100000, options.SidePut, 1.0e-3, 50},
		{105000, options.SideCall, 2.2e-5, 800},
	} {
		sym := options.FormatSymbol("BTC", expiry, c.strike, c.side)
		_, err := store.UpsertContract(options.ContractMeta{Symbol: sym, Strike: c.strike, Side: c.side})
		require.NoError(t, err)
		require.NoError(t, store.ApplyGreeks(sym, options.Greeks{Gamma: c.gamma}, engineNow))
		require.NoError(t, store.ApplyOpenInterest(sym, c.oi, engineNow))
		require.NoError(t, store.ApplyMark(sym, 1500, 0.6, 0.58, 0.62, engineNow))
	}
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.ErrorContains(t, err, "option store")

	deps := Deps{Store: options.NewStore(time.Hour)}
	_, err = New(Config{}, deps)
	assert.ErrorContains(t, err, "gex calculator")
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "BTC", cfg.Underlying)
	assert.Equal(t, 5*time.Second, cfg.MetricCacheTTL)
	assert.Equal(t, time.Second, cfg.EscapeInterval)
	assert.Equal(t, "@every 1m", cfg.SnapshotSchedule)
}

func TestMetricsNotReady(t *testing.T) {
	eng := newTestEngine(t, nil)

	_, err := eng.Metrics()
	require.ErrorIs(t, err, ErrNotReady)
	assert.ErrorContains(t, err, "spot price")

	eng.SetSpot(100000, engineNow)
	_, err = eng.Metrics()
	require.ErrorIs(t, err, ErrNotReady)
	assert.ErrorContains(t, err, "options chain")
}

func TestMetricsBundleCached(t *testing.T) {
	eng := newTestEngine(t, nil)
	seedChain(t, eng.Store())
	eng.SetSpot(100000, engineNow)

	first, err := eng.Metrics()
	require.NoError(t, err)

	var bundle MetricsBundle
	require.NoError(t, json.Unmarshal(first, &bundle))
	assert.InDelta(t, 100000.0, bundle.Spot, 1e-9)
	assert.InDelta(t, 3.76e6, bundle.TotalGEX.Total, 1)
	assert.Equal(t, 100000.0, bundle.MaxGEXStrike)
	assert.Equal(t, "POSITIVE_GAMMA_ABOVE_FLIP", string(bundle.Regime))
	require.NotNil(t, bundle.GammaFlip)
	assert.InDelta(t, 96875.0, bundle.GammaFlip.Price, 1e-6)
	require.Len(t, bundle.GammaProfile, 3)

	// A mutation inside the TTL must not change the served bytes.
	eng.SetSpot(123456, engineNow)
	second, err := eng.Metrics()
	require.NoError(t, err)
	assert.Equal(t, []byte(first), []byte(second))
}

func TestQueryFamily(t *testing.T) {
	eng := newTestEngine(t, nil)
	seedChain(t, eng.Store())
	eng.SetSpot(100000, engineNow)

	totals, err := eng.TotalGEX()
	require.NoError(t, err)
	assert.InDelta(t, 3.76e6, totals.Total, 1)

	flip, err := eng.GammaFlip()
	require.NoError(t, err)
	assert.Equal(t, gex.FlipHigh, flip.Confidence)

	walls, err := eng.Walls()
	require.NoError(t, err)
	require.NotNil(t, walls.CallWall)
	require.NotNil(t, walls.PutWall)
	assert.Equal(t, 100000.0, walls.CallWall.Strike)
	assert.Equal(t, 100000.0, walls.PutWall.Strike)

	mp, err := eng.MaxPain()
	require.NoError(t, err)
	assert.Equal(t, 95000.0, mp.Strike)

	sent, err := eng.Sentiment()
	require.NoError(t, err)
	assert.InDelta(t, 1250.0/900.0, sent.PutCallOIRatio, 1e-9)
	assert.Equal(t, "VERY_BEARISH", string(sent.Sentiment))

	ranged, err := eng.GammaProfile(0.30, 0.02, false)
	require.NoError(t, err)
	assert.NotEmpty(t, ranged.Strikes)

	auto, err := eng.GammaProfile(0, 0, true)
	require.NoError(t, err)
	assert.NotEmpty(t, auto.Strikes)
}

func TestVolSurfaceAndAnomalies(t *testing.T) {
	eng := newTestEngine(t, nil)
	seedChain(t, eng.Store())
	eng.SetSpot(100000, engineNow)

	surface, err := eng.VolSurface()
	require.NoError(t, err)
	assert.InDelta(t, 0.6, surface.ATMIV, 1e-9)

	report, err := eng.VolAnomalies(0, "", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, report.Threshold)
	assert.InDelta(t, 100000.0, report.SpotPrice, 1e-9)
}

func TestRecommendations(t *testing.T) {
	eng := newTestEngine(t, nil)
	seedChain(t, eng.Store())
	eng.SetSpot(100000, engineNow)

	all, err := eng.Recommendations(0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
	}

	top, err := eng.Recommendations(3, 0)
	require.NoError(t, err)
	assert.Len(t, top, 3)

	strict, err := eng.Recommendations(0, 101)
	require.NoError(t, err)
	assert.Empty(t, strict)
}

func TestEvaluateEscapeColdStart(t *testing.T) {
	eng := newTestEngine(t, nil)

	det := eng.EvaluateEscape()
	assert.Equal(t, escape.TypeNone, det.Type)
	assert.Equal(t, "Insufficient data", det.Reason)
}

type fakeSnapshotRepo struct{ rows []persistence.MarketSnapshot }

func (f *fakeSnapshotRepo) Insert(_ context.Context, s persistence.MarketSnapshot) error {
	f.rows = append(f.rows, s)
	return nil
}

func (f *fakeSnapshotRepo) ListRange(context.Context, string, persistence.TimeRange, int) ([]persistence.MarketSnapshot, error) {
	return f.rows, nil
}

func (f *fakeSnapshotRepo) Latest(context.Context, string) (*persistence.MarketSnapshot, error) {
	if len(f.rows) == 0 {
		return nil, nil
	}
	return &f.rows[len(f.rows)-1], nil
}

type fakeAnomalyRepo struct{ rows []persistence.AnomalyRecord }

func (f *fakeAnomalyRepo) InsertBatch(_ context.Context, recs []persistence.AnomalyRecord) error {
	f.rows = append(f.rows, recs...)
	return nil
}

func (f *fakeAnomalyRepo) ListRange(context.Context, string, persistence.TimeRange, int) ([]persistence.AnomalyRecord, error) {
	return f.rows, nil
}

func (f *fakeAnomalyRepo) CountByType(context.Context, string, persistence.TimeRange) (map[string]int64, error) {
	return nil, nil
}

type fakeRegimeRepo struct{ rows []persistence.RegimeRecord }

func (f *fakeRegimeRepo) Insert(_ context.Context, rec persistence.RegimeRecord) error {
	f.rows = append(f.rows, rec)
	return nil
}

func (f *fakeRegimeRepo) ListRange(context.Context, string, persistence.TimeRange) ([]persistence.RegimeRecord, error) {
	return f.rows, nil
}

type fakeOptionRepo struct{ rows []persistence.OptionRecord }

func (f *fakeOptionRepo) InsertBatch(_ context.Context, recs []persistence.OptionRecord) error {
	f.rows = append(f.rows, recs...)
	return nil
}

func (f *fakeOptionRepo) ListRange(context.Context, string, persistence.TimeRange, int) ([]persistence.OptionRecord, error) {
	return f.rows, nil
}

func TestWriteSnapshot(t *testing.T) {
	snaps := &fakeSnapshotRepo{}
	regimes := &fakeRegimeRepo{}
	repo := &persistence.Repository{
		Snapshots: snaps,
		Anomalies: &fakeAnomalyRepo{},
		Regimes:   regimes,
		Options:   &fakeOptionRepo{},
	}
	eng := newTestEngine(t, repo)
	seedChain(t, eng.Store())
	eng.SetSpot(100000, engineNow)

	require.NoError(t, eng.writeSnapshot(context.Background()))
	require.Len(t, snaps.rows, 1)

	row := snaps.rows[0]
	assert.Equal(t, "BTC", row.Asset)
	assert.Equal(t, engineNow, row.Timestamp)
	assert.InDelta(t, 100000.0, row.Spot, 1e-9)
	assert.InDelta(t, 3.76e6, row.TotalGEX, 1)
	assert.Equal(t, 100000.0, row.MaxGEXStrike)
	assert.Equal(t, "POSITIVE_GAMMA", row.Regime)
	assert.Equal(t, 95000.0, row.MaxPainStrike)
	assert.Equal(t, "VERY_BEARISH", row.Sentiment)
	assert.InDelta(t, 1250.0/900.0, row.PCOIRatio, 1e-9)
	assert.NotEmpty(t, row.VolSurface)

	opts := repo.Options.(*fakeOptionRepo)
	assert.Len(t, opts.rows, 4)

	require.Len(t, regimes.rows, 1)
	assert.Equal(t, "POSITIVE_GAMMA_ABOVE_FLIP", regimes.rows[0].Regime)
	assert.InDelta(t, 96875.0, regimes.rows[0].FlipStrike, 1e-6)

	// Unchanged regime: the second snapshot adds no transition row.
	require.NoError(t, eng.writeSnapshot(context.Background()))
	assert.Len(t, snaps.rows, 2)
	assert.Len(t, regimes.rows, 1)
}

func TestWriteSnapshotNotReady(t *testing.T) {
	repo := &persistence.Repository{Snapshots: &fakeSnapshotRepo{}}
	eng := newTestEngine(t, repo)

	err := eng.writeSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}
