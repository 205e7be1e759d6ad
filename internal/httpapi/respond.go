package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/quantarc/halfpipe/internal/engine"
)

// envelope is the wire shape of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"success":false,"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// respond translates query errors: producers that have not seen data
// yet answer 503, everything else 500.
func respond(w http.ResponseWriter, data any, err error) {
	switch {
	case err == nil:
		writeData(w, data)
	case errors.Is(err, engine.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
