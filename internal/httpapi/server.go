// Package httpapi exposes the engine's query surface over HTTP. It is a
// thin read-only adapter: every handler calls one engine or component
// query and wraps the result in the response envelope.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/quantarc/halfpipe/internal/engine"
	"github.com/quantarc/halfpipe/internal/ingest"
	"github.com/quantarc/halfpipe/internal/telemetry"
)

const (
	requestTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Config holds the listener settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns the local development listener settings.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	return c
}

// StatusSource reports ingestion health for the status endpoint. A nil
// source reports everything disconnected.
type StatusSource interface {
	Status() ingest.Status
}

// Server is the read-only HTTP API.
type Server struct {
	cfg     Config
	eng     *engine.Engine
	ingest  StatusSource
	metrics *telemetry.Metrics

	router *mux.Router
	srv    *http.Server
}

// New builds the server and its route table. src and m may be nil.
func New(cfg Config, eng *engine.Engine, src StatusSource, m *telemetry.Metrics) (*Server, error) {
	if eng == nil {
		return nil, errors.New("httpapi: engine is required")
	}

	cfg = cfg.withDefaults()
	s := &Server{cfg: cfg, eng: eng, ingest: src, metrics: m}
	s.routes()

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// Handler returns the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware, s.loggingMiddleware, s.timeoutMiddleware, s.corsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/gex/profile", s.handleGammaProfile).Methods(http.MethodGet)
	api.HandleFunc("/gex/total", s.handleTotalGEX).Methods(http.MethodGet)
	api.HandleFunc("/gex/flip", s.handleGammaFlip).Methods(http.MethodGet)
	api.HandleFunc("/gex/walls", s.handleWalls).Methods(http.MethodGet)
	api.HandleFunc("/gex/zones", s.handleWallZones).Methods(http.MethodGet)

	api.HandleFunc("/volatility/surface", s.handleVolSurface).Methods(http.MethodGet)
	api.HandleFunc("/volatility/anomalies", s.handleVolAnomalies).Methods(http.MethodGet)

	api.HandleFunc("/options", s.handleOptions).Methods(http.MethodGet)
	api.HandleFunc("/options/strikes", s.handleStrikes).Methods(http.MethodGet)
	api.HandleFunc("/options/expiries", s.handleExpiries).Methods(http.MethodGet)
	api.HandleFunc("/options/strike/{strike}", s.handleOptionsByStrike).Methods(http.MethodGet)

	api.HandleFunc("/maxpain", s.handleMaxPain).Methods(http.MethodGet)
	api.HandleFunc("/sentiment", s.handleSentiment).Methods(http.MethodGet)

	api.HandleFunc("/liquidations", s.handleLiquidationStats).Methods(http.MethodGet)
	api.HandleFunc("/liquidations/energy", s.handleLiquidationEnergy).Methods(http.MethodGet)
	api.HandleFunc("/liquidations/summary", s.handleLiquidationSummary).Methods(http.MethodGet)
	api.HandleFunc("/liquidations/recent", s.handleLiquidationRecent).Methods(http.MethodGet)
	api.HandleFunc("/liquidations/early", s.handleLiquidationEarly).Methods(http.MethodGet)
	api.HandleFunc("/liquidations/growth", s.handleLiquidationGrowth).Methods(http.MethodGet)
	api.HandleFunc("/liquidations/cascade", s.handleLiquidationCascade).Methods(http.MethodGet)

	api.HandleFunc("/orderbook", s.handleBookMetrics).Methods(http.MethodGet)
	api.HandleFunc("/orderbook/imbalance", s.handleBookImbalance).Methods(http.MethodGet)
	api.HandleFunc("/orderbook/depth", s.handleBookDepth).Methods(http.MethodGet)
	api.HandleFunc("/orderbook/spread", s.handleBookSpread).Methods(http.MethodGet)
	api.HandleFunc("/orderbook/walls", s.handleBookWalls).Methods(http.MethodGet)
	api.HandleFunc("/orderbook/energy", s.handleBookEnergy).Methods(http.MethodGet)
	api.HandleFunc("/orderbook/history", s.handleBookHistory).Methods(http.MethodGet)

	api.HandleFunc("/escape", s.handleEscapeDetect).Methods(http.MethodGet)
	api.HandleFunc("/escape/probability", s.handleEscapeProbability).Methods(http.MethodGet)
	api.HandleFunc("/escape/energy", s.handleEscapeEnergy).Methods(http.MethodGet)
	api.HandleFunc("/escape/conditions", s.handleEscapeConditions).Methods(http.MethodGet)
	api.HandleFunc("/escape/history", s.handleEscapeHistory).Methods(http.MethodGet)
	api.HandleFunc("/escape/summary", s.handleEscapeSummary).Methods(http.MethodGet)
	api.HandleFunc("/escape/alerts", s.handleEscapeAlerts).Methods(http.MethodGet)

	api.HandleFunc("/strategies", s.handleStrategies).Methods(http.MethodGet)
	api.HandleFunc("/strategies/recommend", s.handleRecommend).Methods(http.MethodGet)
	api.HandleFunc("/strategies/{id}", s.handleStrategyByID).Methods(http.MethodGet)

	api.HandleFunc("/history/market", s.handleMarketHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/regimes", s.handleRegimeHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/anomalies", s.handleAnomalyHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/options", s.handleOptionHistory).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	s.router = r
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shCtx); err != nil {
		return err
	}
	<-errCh
	log.Info().Msg("http server stopped")
	return ctx.Err()
}

type ctxKey int

const ctxKeyRequestID ctxKey = iota

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return id
	}
	return "unknown"
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware allows browser tooling served from localhost.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// statusWriter captures the response code for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// query parameter helpers; bad values fall back to the default.

func queryFloat(r *http.Request, key string, def float64) float64 {
	if v := r.URL.Query().Get(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func queryBool(r *http.Request, key string, def bool) bool {
	if v := r.URL.Query().Get(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
