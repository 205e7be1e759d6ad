package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/quantarc/halfpipe/internal/options"
	"github.com/quantarc/halfpipe/internal/volatility"
)

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	raw, err := s.eng.Metrics()
	respond(w, raw, err)
}

func (s *Server) handleGammaProfile(w http.ResponseWriter, r *http.Request) {
	rangePct := queryFloat(r, "range", 0)
	threshold := queryFloat(r, "threshold", 0)
	auto := queryBool(r, "auto", false)

	p, err := s.eng.GammaProfile(rangePct, threshold, auto)
	respond(w, p, err)
}

func (s *Server) handleTotalGEX(w http.ResponseWriter, r *http.Request) {
	t, err := s.eng.TotalGEX()
	respond(w, t, err)
}

func (s *Server) handleGammaFlip(w http.ResponseWriter, r *http.Request) {
	f, err := s.eng.GammaFlip()
	respond(w, f, err)
}

func (s *Server) handleWalls(w http.ResponseWriter, r *http.Request) {
	walls, err := s.eng.Walls()
	respond(w, walls, err)
}

func (s *Server) handleWallZones(w http.ResponseWriter, r *http.Request) {
	threshold := queryFloat(r, "threshold", 0)

	zones, err := s.eng.WallZones(threshold)
	respond(w, zones, err)
}

func (s *Server) handleVolSurface(w http.ResponseWriter, r *http.Request) {
	surf, err := s.eng.VolSurface()
	respond(w, surf, err)
}

func (s *Server) handleVolAnomalies(w http.ResponseWriter, r *http.Request) {
	threshold := queryFloat(r, "threshold", 0)
	limit := queryInt(r, "limit", 20)
	kind := volatility.AnomalyKind(strings.ToUpper(r.URL.Query().Get("type")))
	severity := volatility.Severity(strings.ToUpper(r.URL.Query().Get("severity")))

	report, err := s.eng.VolAnomalies(threshold, kind, severity, limit)
	respond(w, report, err)
}

type optionsPayload struct {
	Count   int               `json:"count"`
	Options []*options.Option `json:"options"`
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	all := s.eng.Store().All()
	writeData(w, optionsPayload{Count: len(all), Options: all})
}

func (s *Server) handleOptionsByStrike(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["strike"]
	strike, err := strconv.ParseFloat(raw, 64)
	if err != nil || strike <= 0 {
		writeError(w, http.StatusBadRequest, "invalid strike "+strconv.Quote(raw))
		return
	}

	opts := s.eng.Store().ByStrike(strike)
	writeData(w, struct {
		Strike float64 `json:"strike"`
		optionsPayload
	}{strike, optionsPayload{Count: len(opts), Options: opts}})
}

func (s *Server) handleStrikes(w http.ResponseWriter, r *http.Request) {
	strikes := s.eng.Store().Strikes()
	writeData(w, struct {
		Count   int       `json:"count"`
		Strikes []float64 `json:"strikes"`
	}{len(strikes), strikes})
}

func (s *Server) handleExpiries(w http.ResponseWriter, r *http.Request) {
	expiries := s.eng.Store().Expiries()
	writeData(w, struct {
		Count    int         `json:"count"`
		Expiries []time.Time `json:"expiries"`
	}{len(expiries), expiries})
}

func (s *Server) handleMaxPain(w http.ResponseWriter, r *http.Request) {
	mp, err := s.eng.MaxPain()
	respond(w, mp, err)
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	sent, err := s.eng.Sentiment()
	respond(w, sent, err)
}
