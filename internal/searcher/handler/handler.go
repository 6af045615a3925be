package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/logger"
)

// Searcher runs a request and reports whether the result was cached.
type Searcher interface {
	Search(ctx context.Context, req executor.Request) (*executor.Result, bool, error)
}

// Tracker receives one event per answered search.
type Tracker interface {
	TrackSearch(ev analytics.SearchEvent)
}

type Handler struct {
	searcher Searcher
	cache    *cache.QueryCache
	tracker  Tracker
	logger   *slog.Logger
}

// New returns a Handler. queryCache and tracker may be nil.
func New(s Searcher, queryCache *cache.QueryCache, tracker Tracker) *Handler {
	return &Handler{
		searcher: s,
		cache:    queryCache,
		tracker:  tracker,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

type searchResponse struct {
	*executor.Result
	CacheHit  bool  `json:"cache_hit"`
	LatencyMs int64 `json:"latency_ms"`
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search serves GET /api/v1/search. A missing or empty q yields an empty
// result, not an error.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	req, err := parseRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, cacheHit, err := h.searcher.Search(ctx, req)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Error("search execution failed", "query", req.Query, "error", err, "status_code", status)
		h.writeError(w, status, "search failed")
		return
	}
	latencyMs := time.Since(start).Milliseconds()

	log.Info("search completed",
		"query", req.Query,
		"candidates", result.Candidates,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"latency_ms", latencyMs,
	)
	if h.tracker != nil {
		h.tracker.TrackSearch(analytics.SearchEvent{
			Query:      req.Query,
			Terms:      result.Terms,
			Collection: req.Collection,
			Candidates: result.Candidates,
			Returned:   len(result.Results),
			LatencyMs:  latencyMs,
			CacheHit:   cacheHit,
			RequestID:  logger.RequestID(ctx),
		})
	}

	h.writeJSON(w, http.StatusOK, searchResponse{Result: result, CacheHit: cacheHit, LatencyMs: latencyMs})
}

func parseRequest(r *http.Request) (executor.Request, error) {
	q := r.URL.Query()
	req := executor.Request{
		Query:      q.Get("q"),
		Collection: q.Get("collection"),
		Fields:     q["field"],
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"per_page", &req.PerPage},
		{"page", &req.Page},
		{"total_pages", &req.TotalPages},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return req, fmt.Errorf("%s must be a positive integer", p.name)
		}
		*p.dst = n
	}
	return req, nil
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"breaker":  h.cache.BreakerState(),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
