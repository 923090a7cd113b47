// Package api exposes the diagnostics HTTP surface for the worker process:
// a liveness check and per-queue job state counts. It's operational
// tooling, not a business API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dashngshop/dash-jobs/internal/jobqueue"
)

// StatsProvider reports per-queue job counts.
type StatsProvider interface {
	QueueStats(ctx context.Context) ([]jobqueue.QueueStats, error)
}

// Handler is the diagnostics HTTP handler.
type Handler struct {
	logger *slog.Logger
	stats  StatsProvider
}

// NewHandler returns the diagnostics router.
func NewHandler(stats StatsProvider, logger *slog.Logger) http.Handler {
	h := &Handler{logger: logger, stats: stats}

	r := mux.NewRouter()
	r.HandleFunc("/api/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/api/queues", h.queues).Methods(http.MethodGet)
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) queues(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.QueueStats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "api: error fetching queue stats", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch queue stats"})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"queues": stats})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("api: error encoding response", slog.String("error", err.Error()))
	}
}
