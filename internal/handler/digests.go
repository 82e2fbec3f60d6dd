package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/compliance-intelligence/internal/middleware"
	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/internal/pulse"
	"github.com/capitalize-ai/compliance-intelligence/internal/store"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
)

// DigestRunner produces a digest for one client.
type DigestRunner interface {
	Run(ctx context.Context, clientID string, periodDays int) (*model.Digest, error)
}

// DigestLister reads stored digests.
type DigestLister interface {
	ListDigests(ctx context.Context, clientID string, limit int) ([]*model.Digest, error)
	GetDigest(ctx context.Context, id string) (*model.Digest, error)
}

// DigestHandler handles pulse digest endpoints.
type DigestHandler struct {
	runner            DigestRunner
	lister            DigestLister
	defaultPeriodDays int
	logger            *logger.Logger
}

// NewDigestHandler creates a new digest handler.
func NewDigestHandler(runner DigestRunner, lister DigestLister, defaultPeriodDays int, log *logger.Logger) *DigestHandler {
	return &DigestHandler{
		runner:            runner,
		lister:            lister,
		defaultPeriodDays: defaultPeriodDays,
		logger:            log,
	}
}

func (h *DigestHandler) clientID(w http.ResponseWriter, r *http.Request) (string, bool) {
	clientID := chi.URLParam(r, "clientID")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "client id is required")
		return "", false
	}
	if err := middleware.ValidateIdentifier("client_id", clientID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	if !middleware.CanAccessClient(r.Context(), clientID) {
		writeError(w, http.StatusForbidden, "token is not valid for this client")
		return "", false
	}
	return clientID, true
}

// Create handles POST /api/v1/digests/{clientID}
func (h *DigestHandler) Create(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.clientID(w, r)
	if !ok {
		return
	}

	periodDays := h.defaultPeriodDays
	if p := r.URL.Query().Get("period_days"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "period_days must be an integer")
			return
		}
		periodDays = parsed
	}

	digest, err := h.runner.Run(r.Context(), clientID, periodDays)
	if err != nil {
		if errors.Is(err, pulse.ErrInvalidPeriod) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if r.Context().Err() != nil {
			return
		}
		h.logger.Error("Digest run failed", zap.String("client_id", clientID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "digest run failed")
		return
	}

	writeJSON(w, http.StatusCreated, digest)
}

// List handles GET /api/v1/digests/{clientID}
func (h *DigestHandler) List(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.clientID(w, r)
	if !ok {
		return
	}

	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	digests, err := h.lister.ListDigests(r.Context(), clientID, limit)
	if err != nil {
		h.logger.Error("Failed to list digests", zap.String("client_id", clientID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list digests")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"client_id": clientID,
		"digests":   digests,
	})
}

// Get handles GET /api/v1/digests/{clientID}/{digestID}
func (h *DigestHandler) Get(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.clientID(w, r)
	if !ok {
		return
	}
	digestID := chi.URLParam(r, "digestID")
	if digestID == "" {
		writeError(w, http.StatusBadRequest, "digest id is required")
		return
	}

	digest, err := h.lister.GetDigest(r.Context(), digestID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "digest not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get digest",
			zap.String("client_id", clientID),
			zap.String("digest_id", digestID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to get digest")
		return
	}
	// A digest of another client is reported as missing.
	if digest.ClientID != clientID {
		writeError(w, http.StatusNotFound, "digest not found")
		return
	}

	writeJSON(w, http.StatusOK, digest)
}
