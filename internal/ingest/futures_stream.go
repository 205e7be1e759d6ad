package ingest

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/quantarc/halfpipe/internal/iceberg"
	"github.com/quantarc/halfpipe/internal/liquidation"
	"github.com/quantarc/halfpipe/internal/orderbook"
	"github.com/quantarc/halfpipe/internal/telemetry"
)

// futuresStream consumes the perpetual-futures stream: partial book
// depth, forced liquidations, aggregate trades and the index price.
type futuresStream struct {
	pair    string
	sink    Sink
	metrics *telemetry.Metrics
	ws      *wsStream
}

// futuresPair maps an options underlying to its perpetual symbol,
// "BTC" -> "btcusdt".
func futuresPair(underlying string) string {
	return strings.ToLower(underlying) + "usdt"
}

func newFuturesStream(cfg Config, sink Sink, m *telemetry.Metrics) *futuresStream {
	f := &futuresStream{pair: futuresPair(cfg.Underlying), sink: sink, metrics: m}
	f.ws = newWSStream("futures", cfg.FuturesWSURL, cfg.ReconnectDelay, m, f.handle)
	_ = f.ws.Subscribe(
		f.pair+"@depth20@100ms",
		f.pair+"@forceOrder",
		f.pair+"@aggTrade",
		f.pair+"@markPrice@1s",
	)
	return f
}

type depthEvent struct {
	TradeTime int64       `json:"T"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

type forceOrderEvent struct {
	Order struct {
		Side      string  `json:"S"`
		Quantity  numeric `json:"q"`
		AvgPrice  numeric `json:"ap"`
		TradeTime int64   `json:"T"`
	} `json:"o"`
}

type aggTradeEvent struct {
	Price     numeric `json:"p"`
	Quantity  numeric `json:"q"`
	TradeTime int64   `json:"T"`
}

type indexEvent struct {
	EventTime  int64   `json:"E"`
	IndexPrice numeric `json:"i"`
}

func (f *futuresStream) handle(data []byte) {
	var head struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		f.parseError(err)
		return
	}

	switch head.Event {
	case "depthUpdate":
		var ev depthEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			f.parseError(err)
			return
		}
		f.applyDepth(ev)
	case "forceOrder":
		var ev forceOrderEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			f.parseError(err)
			return
		}
		f.applyLiquidation(ev)
	case "aggTrade":
		var ev aggTradeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			f.parseError(err)
			return
		}
		f.sink.AddTrade(iceberg.Trade{
			Timestamp: msTime(ev.TradeTime),
			Price:     float64(ev.Price),
			Quantity:  float64(ev.Quantity),
		})
	case "markPriceUpdate":
		var ev indexEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			f.parseError(err)
			return
		}
		if ev.IndexPrice > 0 {
			f.sink.SetSpot(float64(ev.IndexPrice), msTime(ev.EventTime))
		}
	case "":
		// Subscription ack.
	default:
		log.Debug().Str("stream", "futures").Str("event", head.Event).Msg("unhandled event")
	}
}

func (f *futuresStream) applyDepth(ev depthEvent) {
	snap := &orderbook.Snapshot{
		Timestamp: msTime(ev.TradeTime),
		Bids:      parseLevels(ev.Bids),
		Asks:      parseLevels(ev.Asks),
	}
	if err := f.sink.ApplyBook(snap); err != nil {
		f.parseError(err)
	}
}

func (f *futuresStream) applyLiquidation(ev forceOrderEvent) {
	side := liquidation.SideSell
	if strings.EqualFold(ev.Order.Side, "BUY") {
		side = liquidation.SideBuy
	}
	f.sink.AddLiquidation(liquidation.Event{
		Timestamp: msTime(ev.Order.TradeTime),
		Side:      side,
		Price:     float64(ev.Order.AvgPrice),
		Quantity:  float64(ev.Order.Quantity),
	})
}

// parseLevels converts [price, size] string pairs, dropping unparsable
// or empty levels.
func parseLevels(raw [][2]string) []orderbook.PriceLevel {
	out := make([]orderbook.PriceLevel, 0, len(raw))
	for _, lv := range raw {
		px, err1 := parseFloat(lv[0])
		sz, err2 := parseFloat(lv[1])
		if err1 != nil || err2 != nil || px <= 0 || sz <= 0 {
			continue
		}
		out = append(out, orderbook.PriceLevel{Price: px, Size: sz})
	}
	return out
}

func (f *futuresStream) parseError(err error) {
	f.metrics.RecordParseError("futures")
	log.Debug().Err(err).Str("stream", "futures").Msg("message dropped")
}
