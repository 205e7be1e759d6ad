package ingest

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/quantarc/halfpipe/internal/options"
	"github.com/quantarc/halfpipe/internal/telemetry"
)

// optionsStream consumes the options venue stream: mark prices for the
// whole underlying plus per-expiry 24h tickers. It is the chain store's
// single writer together with the REST pollers.
type optionsStream struct {
	underlying string
	store      *options.Store
	metrics    *telemetry.Metrics
	ws         *wsStream
}

func newOptionsStream(cfg Config, store *options.Store, m *telemetry.Metrics) *optionsStream {
	o := &optionsStream{underlying: cfg.Underlying, store: store, metrics: m}
	o.ws = newWSStream("options", cfg.OptionsWSURL, cfg.ReconnectDelay, m, o.handle)
	// Queued until the first connect.
	_ = o.ws.Subscribe(cfg.Underlying + "@markPrice")
	return o
}

// SubscribeExpiries adds the per-expiry ticker streams for newly listed
// expiry dates (YYMMDD).
func (o *optionsStream) SubscribeExpiries(dates []string) {
	params := make([]string, 0, len(dates))
	for _, d := range dates {
		params = append(params, o.underlying+"@ticker@"+d)
	}
	if err := o.ws.Subscribe(params...); err != nil {
		log.Warn().Err(err).Str("stream", "options").Msg("ticker subscribe failed")
	}
}

// markPriceEvent is one entry of the markPrice stream payload.
type markPriceEvent struct {
	EventTime int64   `json:"E"`
	Symbol    string  `json:"s"`
	MarkPrice numeric `json:"mp"`
}

// optionTickerEvent is one entry of the per-expiry ticker payload. IVs
// are decimals, greeks contract-level.
type optionTickerEvent struct {
	EventTime int64   `json:"E"`
	Symbol    string  `json:"s"`
	LastPrice numeric `json:"c"`
	Volume    numeric `json:"V"`
	BidPrice  numeric `json:"bo"`
	AskPrice  numeric `json:"ao"`
	BidSize   numeric `json:"bq"`
	AskSize   numeric `json:"aq"`
	BidIV     numeric `json:"b"`
	AskIV     numeric `json:"a"`
	Delta     numeric `json:"d"`
	Theta     numeric `json:"t"`
	Gamma     numeric `json:"g"`
	Vega      numeric `json:"v"`
	MarkIV    numeric `json:"vo"`
	MarkPrice numeric `json:"mp"`
}

// handle routes one raw frame. Event payloads arrive as arrays; control
// frames (subscription acks) as single objects without an "e" tag.
func (o *optionsStream) handle(data []byte) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return
	}
	if data[0] != '[' {
		o.handleEvent(data)
		return
	}

	var events []json.RawMessage
	if err := json.Unmarshal(data, &events); err != nil {
		o.parseError(err)
		return
	}
	for _, ev := range events {
		o.handleEvent(ev)
	}
}

func (o *optionsStream) handleEvent(data []byte) {
	var head struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		o.parseError(err)
		return
	}

	switch head.Event {
	case "markPrice":
		var ev markPriceEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			o.parseError(err)
			return
		}
		o.applyMarkPrice(ev)
	case "ticker":
		var ev optionTickerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			o.parseError(err)
			return
		}
		o.applyTicker(ev)
	case "":
		// Subscription ack.
	default:
		log.Debug().Str("stream", "options").Str("event", head.Event).Msg("unhandled event")
	}
}

func (o *optionsStream) applyMarkPrice(ev markPriceEvent) {
	if !o.ours(ev.Symbol) || ev.MarkPrice <= 0 {
		return
	}
	if err := o.store.ApplyMarkPrice(ev.Symbol, float64(ev.MarkPrice), msTime(ev.EventTime)); err != nil {
		o.parseError(err)
	}
}

func (o *optionsStream) applyTicker(ev optionTickerEvent) {
	if !o.ours(ev.Symbol) {
		return
	}
	ts := msTime(ev.EventTime)
	sym := ev.Symbol

	if err := o.store.ApplyTicker(sym, float64(ev.Volume),
		float64(ev.BidPrice), float64(ev.AskPrice), float64(ev.LastPrice), ts); err != nil {
		o.parseError(err)
		return
	}
	_ = o.store.ApplyQuote(sym,
		float64(ev.BidPrice), float64(ev.BidSize),
		float64(ev.AskPrice), float64(ev.AskSize), 0, ts)
	if ev.MarkPrice > 0 || ev.MarkIV > 0 {
		_ = o.store.ApplyMark(sym, float64(ev.MarkPrice), float64(ev.MarkIV),
			float64(ev.BidIV), float64(ev.AskIV), ts)
	}
	_ = o.store.ApplyGreeks(sym, options.Greeks{
		Delta: float64(ev.Delta),
		Gamma: float64(ev.Gamma),
		Vega:  float64(ev.Vega),
		Theta: float64(ev.Theta),
	}, ts)
}

// ours filters out contracts of other underlyings sharing the stream.
func (o *optionsStream) ours(symbol string) bool {
	return strings.HasPrefix(symbol, o.underlying+"-")
}

func (o *optionsStream) parseError(err error) {
	o.metrics.RecordParseError("options")
	log.Debug().Err(err).Str("stream", "options").Msg("message dropped")
}
