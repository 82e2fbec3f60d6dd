package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/compliance-intelligence/internal/middleware"
	"github.com/capitalize-ai/compliance-intelligence/internal/router"
	"github.com/capitalize-ai/compliance-intelligence/pkg/fsm"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
)

// TurnRouter handles one conversational turn.
type TurnRouter interface {
	HandleTurn(ctx context.Context, t *router.Turn) (*router.Turn, error)
}

// TurnRequest is the body of POST /api/v1/turns.
type TurnRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
	ClientID  string `json:"client_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	LaneID    string `json:"lane_id,omitempty"`
}

func (req TurnRequest) validate() error {
	return errors.Join(
		middleware.ValidateQuery(req.Query),
		middleware.ValidateIdentifier("session_id", req.SessionID),
		middleware.ValidateIdentifier("client_id", req.ClientID),
		middleware.ValidateProductID(req.ProductID),
		middleware.ValidateLaneID(req.LaneID),
	)
}

// TurnHandler handles conversational turns.
type TurnHandler struct {
	router TurnRouter
	logger *logger.Logger
}

// NewTurnHandler creates a new turn handler.
func NewTurnHandler(r TurnRouter, log *logger.Logger) *TurnHandler {
	return &TurnHandler{router: r, logger: log}
}

// Create handles POST /api/v1/turns
func (h *TurnHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// a token bound to a client always acts for that client
	clientID := req.ClientID
	if bound := middleware.GetClientID(ctx); bound != "" {
		if clientID != "" && clientID != bound {
			writeError(w, http.StatusForbidden, "token is not valid for this client")
			return
		}
		clientID = bound
	}

	turn := &router.Turn{
		Query:     req.Query,
		UserID:    middleware.GetUserID(ctx),
		SessionID: req.SessionID,
		ClientID:  clientID,
		ProductID: req.ProductID,
		LaneID:    req.LaneID,
	}

	turn, err := h.router.HandleTurn(ctx, turn)
	if err != nil {
		if errors.Is(err, fsm.ErrAbandoned) {
			// client went away; nothing useful to write
			return
		}
		h.logger.Error("Turn failed",
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
			zap.Error(err),
		)
	}

	writeJSON(w, http.StatusOK, turn)
}
