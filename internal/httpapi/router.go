// Package httpapi serves the status endpoints of a running analysis.
package httpapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/freeeve/weakscan/internal/eval"
)

// Sources supplies the live counters shown by /status. Any may be nil.
type Sources struct {
	RunID string
	Pool  func() eval.PoolStatus
	Cache func() eval.CacheStats
	// Store reports what the persistent evaluation store holds.
	Store func() (eval.StoreStats, error)
}

type handler struct {
	src     Sources
	started time.Time
	log     zerolog.Logger
}

// NewRouter builds the status server handler.
func NewRouter(log zerolog.Logger, src Sources) http.Handler {
	h := &handler{src: src, started: time.Now().UTC(), log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.health)
	mux.HandleFunc("/status", h.status)
	mux.Handle("/metrics", promhttp.Handler())

	return RequestID(AccessLog(log, mux))
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := StatusResponse{
		RunID:   h.src.RunID,
		Started: h.started,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}
	if h.src.Pool != nil {
		ps := h.src.Pool()
		resp.Pool = &ps
	}
	if h.src.Cache != nil {
		cs := h.src.Cache()
		resp.Cache = &cs
	}
	if h.src.Store != nil {
		ss, err := h.src.Store()
		if err != nil {
			h.log.Error().Err(err).Msg("store stats")
			writeError(w, http.StatusInternalServerError, "store unavailable")
			return
		}
		resp.Store = &ss
	}
	writeJSON(w, http.StatusOK, resp)
}
