package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rl1809/stock-ledger/internal/observability"
)

const readinessTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB and *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HTTPHandler serves the operational endpoints. The ledger has no business
// HTTP API of its own.
type HTTPHandler struct {
	db      Pinger
	metrics *observability.Metrics
}

func NewHTTPHandler(db Pinger, metrics *observability.Metrics) *HTTPHandler {
	return &HTTPHandler{db: db, metrics: metrics}
}

func (h *HTTPHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/ready", h.Readiness)
	mux.Handle("/metrics", h.metrics.Handler())
	return mux
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// Readiness fails while the ledger store is unreachable.
func (h *HTTPHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "unavailable", Error: "ledger store unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ready"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
