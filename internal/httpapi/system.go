package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/quantarc/halfpipe/internal/ingest"
)

type healthPayload struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Underlying    string    `json:"underlying"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Goroutines    int       `json:"goroutines"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemPercent    float64   `json:"mem_percent"`
	MemUsedMB     float64   `json:"mem_used_mb"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct, memUsedMB := systemStats()

	writeData(w, healthPayload{
		Status:        "ok",
		Timestamp:     time.Now().UTC(),
		Underlying:    s.eng.Underlying(),
		UptimeSeconds: s.eng.Uptime().Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		CPUPercent:    cpuPct,
		MemPercent:    memPct,
		MemUsedMB:     memUsedMB,
	})
}

// systemStats samples CPU over a short interval so the endpoint stays
// responsive for dashboard polling.
func systemStats() (cpuPct, memPct, memUsedMB float64) {
	pcts, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		log.Warn().Err(err).Msg("cpu stats unavailable")
	} else if len(pcts) > 0 {
		cpuPct = pcts[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Warn().Err(err).Msg("memory stats unavailable")
		return cpuPct, 0, 0
	}
	return cpuPct, vm.UsedPercent, float64(vm.Used) / 1024 / 1024
}

type statusPayload struct {
	Underlying string    `json:"underlying"`
	Timestamp  time.Time `json:"timestamp"`

	Spot     float64   `json:"spot"`
	SpotTime time.Time `json:"spot_time"`

	Ingest ingest.Status `json:"ingest"`

	Contracts      int `json:"contracts"`
	FreshContracts int `json:"fresh_contracts"`
	Strikes        int `json:"strikes"`
	Expiries       int `json:"expiries"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	spot, spotTS := s.eng.Spot()
	store := s.eng.Store()

	p := statusPayload{
		Underlying:     s.eng.Underlying(),
		Timestamp:      time.Now().UTC(),
		Spot:           spot,
		SpotTime:       spotTS,
		Contracts:      store.Count(),
		FreshContracts: store.FreshCount(),
		Strikes:        len(store.Strikes()),
		Expiries:       len(store.Expiries()),
	}
	if s.ingest != nil {
		p.Ingest = s.ingest.Status()
	}
	writeData(w, p)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusNotFound, "endpoint not found")
}
