package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/openforecast/predictd/internal/domain"
	"github.com/openforecast/predictd/internal/server/middleware"
)

// PositionService defines the query methods the position handler uses.
type PositionService interface {
	GetPositions(ctx context.Context, userID, marketID string) ([]domain.PositionReport, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
}

// PositionHandler serves position and balance queries.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logger}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.PositionReport `json:"positions"`
}

// ListPositions returns the calling user's holdings on a market.
// GET /api/positions?market_id=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header required")
		return
	}
	marketID := r.URL.Query().Get("market_id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "market_id query parameter required")
		return
	}

	positions, err := h.positions.GetPositions(r.Context(), userID, marketID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if positions == nil {
		positions = []domain.PositionReport{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// balanceResponse reports a balance in ticks plus the human-readable unit
// value.
type balanceResponse struct {
	Balance int64   `json:"balance"`
	Units   float64 `json:"units"`
}

// GetBalance returns the calling user's balance.
// GET /api/balance
func (h *PositionHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header required")
		return
	}

	balance, err := h.positions.GetBalance(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		Balance: balance,
		Units:   domain.Units(balance),
	})
}
