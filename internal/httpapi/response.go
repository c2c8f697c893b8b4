package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/freeeve/weakscan/internal/eval"
)

// StatusResponse is the body of /status.
type StatusResponse struct {
	RunID   string           `json:"run_id,omitempty"`
	Started time.Time        `json:"started"`
	Uptime  string           `json:"uptime"`
	Pool    *eval.PoolStatus `json:"pool,omitempty"`
	Cache   *eval.CacheStats `json:"cache,omitempty"`
	Store   *eval.StoreStats `json:"store,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
