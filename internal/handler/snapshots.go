package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/compliance-intelligence/internal/compliance"
	"github.com/capitalize-ai/compliance-intelligence/internal/middleware"
	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
)

// Snapshotter runs the compliance workflow for one key.
type Snapshotter interface {
	Snapshot(ctx context.Context, key model.Key) (*model.Snapshot, error)
}

// SnapshotHandler handles on-demand snapshots.
type SnapshotHandler struct {
	snapshots Snapshotter
	logger    *logger.Logger
}

// NewSnapshotHandler creates a new snapshot handler.
func NewSnapshotHandler(s Snapshotter, log *logger.Logger) *SnapshotHandler {
	return &SnapshotHandler{snapshots: s, logger: log}
}

// Create handles POST /api/v1/snapshots
func (h *SnapshotHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var key model.Key
	if err := decodeJSON(w, r, &key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := errors.Join(
		middleware.ValidateIdentifier("client_id", key.ClientID),
		middleware.ValidateProductID(key.ProductID),
		middleware.ValidateLaneID(key.LaneID),
	); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if key.ClientID == "" || key.ProductID == "" || key.LaneID == "" {
		writeError(w, http.StatusBadRequest, "client_id, product_id and lane_id are required")
		return
	}
	if !middleware.CanAccessClient(ctx, key.ClientID) {
		writeError(w, http.StatusForbidden, "token is not valid for this client")
		return
	}

	snap, err := h.snapshots.Snapshot(ctx, key)
	if err != nil {
		if errors.Is(err, compliance.ErrNoSnapshot) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if ctx.Err() != nil {
			return
		}
		h.logger.Error("Snapshot failed",
			zap.String("client_id", key.ClientID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "snapshot failed")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}
