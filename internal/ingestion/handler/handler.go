package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/logger"
)

const maxBodyBytes = 4 << 20

type Handler struct {
	publisher *publisher.Publisher
	logger    *slog.Logger
}

func New(pub *publisher.Publisher) *Handler {
	return &Handler{
		publisher: pub,
		logger:    slog.Default().With("component", "ingestion-handler"),
	}
}

// Register mounts the record routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/records", h.Index)
	mux.HandleFunc("DELETE /api/v1/records/{collection}/{key}", h.Delete)
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req ingestion.IndexRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateIndexRequest(&req); err != nil {
		h.writeValidationError(w, err)
		return
	}

	resp, err := h.publisher.Index(ctx, &req)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("indexing failed",
			"collection", req.Collection,
			"key", req.Key,
			"error", err,
			"status_code", statusCode,
		)
		h.writeError(w, statusCode, "indexing failed")
		return
	}
	log.Info("record accepted", "owner", resp.Owner, "status", resp.Status)

	status := http.StatusOK
	if resp.Status == ingestion.StatusScheduled {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := store.Owner{Collection: r.PathValue("collection"), Key: r.PathValue("key")}
	if err := validator.ValidateOwner(owner.Collection, owner.Key); err != nil {
		h.writeValidationError(w, err)
		return
	}

	resp, err := h.publisher.Remove(ctx, owner)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		logger.FromContext(ctx).Error("unindexing failed",
			"owner", owner.String(),
			"error", err,
			"status_code", statusCode,
		)
		h.writeError(w, statusCode, "unindexing failed")
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeValidationError(w http.ResponseWriter, err error) {
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
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
