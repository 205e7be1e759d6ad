package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/quantarc/halfpipe/internal/marketstate"
	"github.com/quantarc/halfpipe/internal/persistence"
	"github.com/quantarc/halfpipe/internal/volatility"
)

const snapshotTimeout = 10 * time.Second

// dispatchSnapshot is the cron entry point. It skips quietly while the
// market picture is still warming up.
func (e *Engine) dispatchSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	err := e.writeSnapshot(ctx)
	switch {
	case err == nil:
		e.metrics.RecordSnapshotWrite(nil)
	case errors.Is(err, ErrNotReady):
		log.Debug().Err(err).Msg("snapshot skipped")
	default:
		e.metrics.RecordSnapshotWrite(err)
		log.Warn().Err(err).Msg("snapshot write failed")
	}
}

// writeSnapshot composes one market snapshot and persists it together
// with the anomaly log, option history and any regime transition.
func (e *Engine) writeSnapshot(ctx context.Context) error {
	p, spot, err := e.profile()
	if err != nil {
		return err
	}

	now := e.nowFn()
	asset := e.cfg.Underlying
	opts := e.store.All()
	flip := e.calc.Flip(p)
	ra := marketstate.ClassifyRegime(spot, p.Totals, *flip)
	mp := marketstate.CalculateMaxPain(opts, spot)
	sent := marketstate.CalculateSentiment(opts)

	var surfaceBlob []byte
	var anoms []volatility.Anomaly
	if surface, serr := volatility.BuildSurface(opts, spot, now); serr == nil {
		if blob, merr := msgpack.Marshal(surface); merr == nil {
			surfaceBlob = blob
		} else {
			log.Debug().Err(merr).Msg("surface encode failed")
		}
		anoms = e.anomalies.Detect(surface)
	}

	snap := persistence.MarketSnapshot{
		Asset:         asset,
		Timestamp:     now,
		Spot:          spot,
		TotalGEX:      p.Totals.Total,
		MaxGEXStrike:  p.MaxGEXStrike,
		Regime:        ra.Regime.GammaLabel(),
		MaxPainStrike: mp.Strike,
		Sentiment:     string(sent.Sentiment),
		PCOIRatio:     sent.PutCallOIRatio,
		PCVolumeRatio: sent.PutCallVolumeRatio,
		VolSurface:    surfaceBlob,
	}
	if err := e.repo.Snapshots.Insert(ctx, snap); err != nil {
		return err
	}

	var firstErr error
	if e.repo.Anomalies != nil && len(anoms) > 0 {
		if err := e.repo.Anomalies.InsertBatch(ctx, anomalyRecords(asset, now, anoms)); err != nil {
			log.Warn().Err(err).Int("count", len(anoms)).Msg("anomaly log write failed")
			firstErr = err
		}
	}
	if e.repo.Options != nil && len(opts) > 0 {
		recs := make([]persistence.OptionRecord, 0, len(opts))
		for _, o := range opts {
			if o == nil {
				continue
			}
			recs = append(recs, persistence.OptionRecord{
				Asset:        asset,
				Timestamp:    now,
				Symbol:       o.Symbol,
				Strike:       o.Strike,
				Expiry:       o.Expiry,
				Side:         string(o.Side),
				MarkIV:       o.MarkIV,
				Gamma:        o.Greeks.Gamma,
				OpenInterest: o.OpenInterest,
				Volume24h:    o.Volume24h,
			})
		}
		if err := e.repo.Options.InsertBatch(ctx, recs); err != nil {
			log.Warn().Err(err).Int("count", len(recs)).Msg("option history write failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := e.recordRegimeChange(ctx, now, spot, ra); err != nil {
		log.Warn().Err(err).Msg("regime transition write failed")
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// recordRegimeChange inserts a regime_history row when the label moves.
func (e *Engine) recordRegimeChange(ctx context.Context, now time.Time, spot float64, ra marketstate.RegimeAnalysis) error {
	if e.repo.Regimes == nil {
		return nil
	}

	e.mu.Lock()
	changed := ra.Regime != e.lastRegime
	if changed {
		e.lastRegime = ra.Regime
	}
	e.mu.Unlock()
	if !changed {
		return nil
	}

	log.Info().
		Str("regime", string(ra.Regime)).
		Float64("spot", spot).
		Float64("flip", ra.FlipLevel).
		Msg("regime transition")
	return e.repo.Regimes.Insert(ctx, persistence.RegimeRecord{
		Asset:      e.cfg.Underlying,
		Timestamp:  now,
		Regime:     string(ra.Regime),
		Spot:       spot,
		FlipStrike: ra.FlipLevel,
	})
}

func anomalyRecords(asset string, now time.Time, anoms []volatility.Anomaly) []persistence.AnomalyRecord {
	recs := make([]persistence.AnomalyRecord, 0, len(anoms))
	for _, a := range anoms {
		var oiVol float64
		if a.Volume > 0 {
			oiVol = a.OpenInterest / a.Volume
		}
		recs = append(recs, persistence.AnomalyRecord{
			Asset:         asset,
			AnomalyType:   string(a.Kind),
			Severity:      string(a.Severity),
			Strike:        a.Strike,
			DTE:           a.DTE,
			ZScore:        a.ZScore,
			SpreadPct:     a.ObservedSpread,
			OIVolumeRatio: oiVol,
			CreatedAt:     now,
		})
	}
	return recs
}
