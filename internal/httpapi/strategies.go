package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/quantarc/halfpipe/internal/strategy"
)

// strategyView is the catalog entry shape served over the API.
type strategyView struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Category  strategy.Category `json:"category"`
	Structure string            `json:"structure"`
}

// strategyID slugs a catalog name for use in URLs: "Short Strangle"
// becomes "short-strangle".
func strategyID(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "-"))
}

func strategyViews() []strategyView {
	cat := strategy.Catalog()
	out := make([]strategyView, 0, len(cat))
	for _, st := range cat {
		out = append(out, strategyView{
			ID:        strategyID(st.Name),
			Name:      st.Name,
			Category:  st.Category,
			Structure: st.Structure,
		})
	}
	return out
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	views := strategyViews()
	writeData(w, struct {
		Count      int            `json:"count"`
		Strategies []strategyView `json:"strategies"`
	}{len(views), views})
}

func (s *Server) handleStrategyByID(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(mux.Vars(r)["id"])

	for _, v := range strategyViews() {
		if v.ID == id || strings.EqualFold(v.Name, id) {
			writeData(w, v)
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown strategy "+id)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	topN := queryInt(r, "top", 5)
	minScore := queryFloat(r, "min_score", 0)

	state, err := s.eng.MarketState()
	if err != nil {
		respond(w, nil, err)
		return
	}
	recs, err := s.eng.Recommendations(topN, minScore)
	if err != nil {
		respond(w, nil, err)
		return
	}

	writeData(w, struct {
		State           strategy.MarketState      `json:"state"`
		Count           int                       `json:"count"`
		Recommendations []strategy.Recommendation `json:"recommendations"`
	}{state, len(recs), recs})
}
