package httpapi

import (
	"net/http"
	"time"

	"github.com/quantarc/halfpipe/internal/persistence"
)

func (s *Server) handleMarketHistory(w http.ResponseWriter, r *http.Request) {
	repo := s.eng.Repo()
	if repo == nil || repo.Snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	hours := queryInt(r, "hours", 24)
	limit := queryInt(r, "limit", 100)
	now := time.Now().UTC()
	tr := persistence.TimeRange{From: now.Add(-time.Duration(hours) * time.Hour), To: now}

	rows, err := repo.Snapshots.ListRange(r.Context(), s.eng.Underlying(), tr, limit)
	if err != nil {
		respond(w, nil, err)
		return
	}

	writeData(w, struct {
		Hours     int                          `json:"hours"`
		Count     int                          `json:"count"`
		Snapshots []persistence.MarketSnapshot `json:"snapshots"`
	}{hours, len(rows), rows})
}

func (s *Server) handleRegimeHistory(w http.ResponseWriter, r *http.Request) {
	repo := s.eng.Repo()
	if repo == nil || repo.Regimes == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	hours := queryInt(r, "hours", 24)
	now := time.Now().UTC()
	tr := persistence.TimeRange{From: now.Add(-time.Duration(hours) * time.Hour), To: now}

	rows, err := repo.Regimes.ListRange(r.Context(), s.eng.Underlying(), tr)
	if err != nil {
		respond(w, nil, err)
		return
	}

	writeData(w, struct {
		Hours   int                        `json:"hours"`
		Count   int                        `json:"count"`
		Regimes []persistence.RegimeRecord `json:"regimes"`
	}{hours, len(rows), rows})
}

func (s *Server) handleOptionHistory(w http.ResponseWriter, r *http.Request) {
	repo := s.eng.Repo()
	if repo == nil || repo.Options == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter is required")
		return
	}

	hours := queryInt(r, "hours", 24)
	limit := queryInt(r, "limit", 500)
	now := time.Now().UTC()
	tr := persistence.TimeRange{From: now.Add(-time.Duration(hours) * time.Hour), To: now}

	rows, err := repo.Options.ListRange(r.Context(), symbol, tr, limit)
	if err != nil {
		respond(w, nil, err)
		return
	}

	writeData(w, struct {
		Symbol string                     `json:"symbol"`
		Hours  int                        `json:"hours"`
		Count  int                        `json:"count"`
		Rows   []persistence.OptionRecord `json:"rows"`
	}{symbol, hours, len(rows), rows})
}

func (s *Server) handleAnomalyHistory(w http.ResponseWriter, r *http.Request) {
	repo := s.eng.Repo()
	if repo == nil || repo.Anomalies == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	hours := queryInt(r, "hours", 24)
	limit := queryInt(r, "limit", 100)
	now := time.Now().UTC()
	tr := persistence.TimeRange{From: now.Add(-time.Duration(hours) * time.Hour), To: now}

	rows, err := repo.Anomalies.ListRange(r.Context(), s.eng.Underlying(), tr, limit)
	if err != nil {
		respond(w, nil, err)
		return
	}
	counts, err := repo.Anomalies.CountByType(r.Context(), s.eng.Underlying(), tr)
	if err != nil {
		respond(w, nil, err)
		return
	}

	writeData(w, struct {
		Hours     int                         `json:"hours"`
		Count     int                         `json:"count"`
		ByType    map[string]int64            `json:"by_type"`
		Anomalies []persistence.AnomalyRecord `json:"anomalies"`
	}{hours, len(rows), counts, rows})
}
