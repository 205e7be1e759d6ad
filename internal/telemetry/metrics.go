// Package telemetry holds the Prometheus instrumentation shared by the
// engine, ingestion adapters and HTTP surface.
package telemetry

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector on its own registry so test binaries
// can build several instances without colliding.
type Metrics struct {
	registry *prometheus.Registry

	IngestMessages *prometheus.CounterVec
	ParseErrors    *prometheus.CounterVec
	WSReconnects   *prometheus.CounterVec
	RESTRequests   *prometheus.CounterVec

	TickDuration prometheus.Histogram

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	ActiveRegime   prometheus.Gauge
	SnapshotWrites prometheus.Counter
	SnapshotErrors prometheus.Counter
}

// NewMetrics creates and registers all halfpipe collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		IngestMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halfpipe_ingest_messages_total",
				Help: "Messages accepted per ingest stream",
			},
			[]string{"stream"},
		),
		ParseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halfpipe_ingest_parse_errors_total",
				Help: "Messages dropped for parse failures per ingest stream",
			},
			[]string{"stream"},
		),
		WSReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halfpipe_ws_reconnects_total",
				Help: "WebSocket reconnect attempts per stream",
			},
			[]string{"stream"},
		),
		RESTRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halfpipe_rest_requests_total",
				Help: "REST poller requests by endpoint and result",
			},
			[]string{"endpoint", "result"},
		),

		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "halfpipe_escape_tick_seconds",
				Help:    "Duration of one escape detection tick",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "halfpipe_metric_cache_hits_total",
				Help: "Metric bundle cache hits",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "halfpipe_metric_cache_misses_total",
				Help: "Metric bundle cache misses",
			},
		),

		ActiveRegime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "halfpipe_active_regime",
				Help: "Current gamma regime (0-3, see halfpipe regime labels; -1 unknown)",
			},
		),
		SnapshotWrites: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "halfpipe_snapshot_writes_total",
				Help: "Market snapshots handed to the persistence sink",
			},
		),
		SnapshotErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "halfpipe_snapshot_errors_total",
				Help: "Market snapshot writes that failed",
			},
		),
	}

	m.registry.MustRegister(
		m.IngestMessages,
		m.ParseErrors,
		m.WSReconnects,
		m.RESTRequests,
		m.TickDuration,
		m.CacheHits,
		m.CacheMisses,
		m.ActiveRegime,
		m.SnapshotWrites,
		m.SnapshotErrors,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The record helpers tolerate a nil receiver so components can run
// uninstrumented in tests.

func (m *Metrics) RecordMessage(stream string) {
	if m == nil {
		return
	}
	m.IngestMessages.WithLabelValues(stream).Inc()
}

func (m *Metrics) RecordParseError(stream string) {
	if m == nil {
		return
	}
	m.ParseErrors.WithLabelValues(stream).Inc()
}

func (m *Metrics) RecordReconnect(stream string) {
	if m == nil {
		return
	}
	m.WSReconnects.WithLabelValues(stream).Inc()
}

func (m *Metrics) RecordRESTRequest(endpoint, result string) {
	if m == nil {
		return
	}
	m.RESTRequests.WithLabelValues(endpoint, result).Inc()
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

func (m *Metrics) RecordSnapshotWrite(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SnapshotErrors.Inc()
		return
	}
	m.SnapshotWrites.Inc()
}

// SetRegime maps a regime label onto the gauge.
func (m *Metrics) SetRegime(label string) {
	if m == nil {
		return
	}
	m.ActiveRegime.Set(regimeGaugeValue(label))
}

func regimeGaugeValue(label string) float64 {
	switch strings.ToUpper(label) {
	case "POSITIVE_GAMMA_ABOVE_FLIP":
		return 0
	case "POSITIVE_GAMMA_BELOW_FLIP":
		return 1
	case "NEGATIVE_GAMMA_BELOW_FLIP":
		return 2
	case "NEGATIVE_GAMMA_ABOVE_FLIP":
		return 3
	default:
		return -1
	}
}
