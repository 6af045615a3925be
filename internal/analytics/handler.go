package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const maxTop = 100

// Snapshot is one persisted copy of the aggregated stats.
type Snapshot struct {
	Stats      AggregatedStats `json:"stats"`
	CapturedAt time.Time       `json:"captured_at"`
}

// History lists persisted snapshots, newest first.
type History interface {
	Recent(ctx context.Context, limit int) ([]Snapshot, error)
}

type Handler struct {
	aggregator *Aggregator
	history    History
	logger     *slog.Logger
}

// NewHandler serves live stats from aggregator. history may be nil when
// snapshots are not kept.
func NewHandler(aggregator *Aggregator, history History) *Handler {
	return &Handler{
		aggregator: aggregator,
		history:    history,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/analytics/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", h.Snapshots)
}

// Stats serves the live aggregate. ?top=N sizes the ranked lists.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	top, ok := h.limitParam(w, r, "top", DefaultTop)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.aggregator.StatsTop(top))
}

// Snapshots serves the most recent persisted snapshots (?limit=N).
func (h *Handler) Snapshots(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "snapshots are disabled"})
		return
	}
	limit, ok := h.limitParam(w, r, "limit", 10)
	if !ok {
		return
	}
	snaps, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing snapshots failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing snapshots failed"})
		return
	}
	if snaps == nil {
		snaps = []Snapshot{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (h *Handler) limitParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxTop {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": name + " must be an integer between 1 and " + strconv.Itoa(maxTop),
		})
		return 0, false
	}
	return n, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}
