package httpapi

import (
	"net/http"
	"time"

	"github.com/quantarc/halfpipe/internal/escape"
)

func (s *Server) handleEscapeDetect(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.eng.Escape().Last())
}

func (s *Server) handleEscapeProbability(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.eng.Escape().Probability())
}

func (s *Server) handleEscapeEnergy(w http.ResponseWriter, r *http.Request) {
	last := s.eng.Escape().Last()

	writeData(w, struct {
		Timestamp time.Time             `json:"timestamp"`
		Metrics   escape.FusedMetrics   `json:"metrics"`
		Type      escape.HypothesisType `json:"type"`
	}{last.Timestamp, last.Metrics, last.Type})
}

func (s *Server) handleEscapeConditions(w http.ResponseWriter, r *http.Request) {
	last := s.eng.Escape().Last()

	writeData(w, struct {
		Timestamp  time.Time                                         `json:"timestamp"`
		Type       escape.HypothesisType                             `json:"type"`
		Hypotheses map[escape.HypothesisType]escape.HypothesisResult `json:"hypotheses"`
	}{last.Timestamp, last.Type, last.Hypotheses})
}

func (s *Server) handleEscapeHistory(w http.ResponseWriter, r *http.Request) {
	minutes := queryInt(r, "minutes", 60)
	points := s.eng.Escape().History(minutes)

	writeData(w, struct {
		Minutes int                   `json:"minutes"`
		Count   int                   `json:"count"`
		Points  []escape.HistoryPoint `json:"points"`
	}{minutes, len(points), points})
}

func (s *Server) handleEscapeSummary(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.eng.Escape().Summary())
}

func (s *Server) handleEscapeAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.eng.Escape().Alerts()

	writeData(w, struct {
		Count  int            `json:"count"`
		Alerts []escape.Alert `json:"alerts"`
	}{len(alerts), alerts})
}
