package httpapi

import (
	"net/http"

	"github.com/quantarc/halfpipe/internal/liquidation"
	"github.com/quantarc/halfpipe/internal/orderbook"
)

func (s *Server) handleLiquidationStats(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.eng.Liquidations().Stats())
}

func (s *Server) handleLiquidationEnergy(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.eng.Liquidations().Energy())
}

func (s *Server) handleLiquidationSummary(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.eng.Liquidations().Summary())
}

func (s *Server) handleLiquidationRecent(w http.ResponseWriter, r *http.Request) {
	minutes := queryInt(r, "minutes", 60)
	events := s.eng.Liquidations().Recent(minutes)

	writeData(w, struct {
		Minutes int                 `json:"minutes"`
		Count   int                 `json:"count"`
		Events  []liquidation.Event `json:"events"`
	}{minutes, len(events), events})
}

func (s *Server) handleLiquidationEarly(w http.ResponseWriter, r *http.Request) {
	minutes := queryInt(r, "minutes", 10)
	writeData(w, s.eng.Liquidations().Early(minutes))
}

func (s *Server) handleLiquidationGrowth(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.eng.Liquidations().Growth())
}

func (s *Server) handleLiquidationCascade(w http.ResponseWriter, r *http.Request) {
	stats := s.eng.Liquidations().Stats()

	writeData(w, struct {
		Cascade          bool                  `json:"cascade"`
		EventsLastMinute int                   `json:"events_last_minute"`
		Direction        liquidation.Direction `json:"direction"`
	}{stats.Cascade, stats.EventsLastMinute, stats.Direction})
}

// currentBook answers nil and a written 503 when no snapshot has been
// applied yet.
func (s *Server) currentBook(w http.ResponseWriter) *orderbook.Metrics {
	cur := s.eng.Book().Current()
	if cur == nil {
		writeError(w, http.StatusServiceUnavailable, "order book not ready: no snapshot yet")
	}
	return cur
}

func (s *Server) handleBookMetrics(w http.ResponseWriter, r *http.Request) {
	if cur := s.currentBook(w); cur != nil {
		writeData(w, cur)
	}
}

func (s *Server) handleBookImbalance(w http.ResponseWriter, r *http.Request) {
	if cur := s.currentBook(w); cur != nil {
		writeData(w, cur.Imbalance)
	}
}

func (s *Server) handleBookDepth(w http.ResponseWriter, r *http.Request) {
	if cur := s.currentBook(w); cur != nil {
		writeData(w, cur.Depth)
	}
}

func (s *Server) handleBookSpread(w http.ResponseWriter, r *http.Request) {
	if cur := s.currentBook(w); cur != nil {
		writeData(w, cur.Spread)
	}
}

func (s *Server) handleBookWalls(w http.ResponseWriter, r *http.Request) {
	cur := s.currentBook(w)
	if cur == nil {
		return
	}
	writeData(w, struct {
		Count int                  `json:"count"`
		Walls []orderbook.BookWall `json:"walls"`
	}{len(cur.Walls), cur.Walls})
}

func (s *Server) handleBookEnergy(w http.ResponseWriter, r *http.Request) {
	cur := s.currentBook(w)
	if cur == nil {
		return
	}
	writeData(w, struct {
		SustainedEnergy float64                `json:"sustained_energy"`
		Bucket          orderbook.EnergyBucket `json:"energy_bucket"`
	}{cur.SustainedEnergy, cur.EnergyBucket})
}

func (s *Server) handleBookHistory(w http.ResponseWriter, r *http.Request) {
	window := queryInt(r, "window", 60)
	points := s.eng.Book().History(window)

	writeData(w, struct {
		WindowSeconds int                      `json:"window_seconds"`
		Count         int                      `json:"count"`
		Points        []orderbook.HistoryPoint `json:"points"`
	}{window, len(points), points})
}
