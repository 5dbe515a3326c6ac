package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/openforecast/predictd/internal/domain"
	"github.com/openforecast/predictd/internal/server/middleware"
)

// ExchangeService defines the methods that the order handler requires from
// the service layer.
type ExchangeService interface {
	PlaceOrder(ctx context.Context, userID, marketID string, side domain.OrderSide, position domain.Outcome, amount int64) (domain.TradeResult, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	exchange ExchangeService
	logger   *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(exchange ExchangeService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{exchange: exchange, logger: logger}
}

// placeOrderRequest is the JSON body for order placement.
type placeOrderRequest struct {
	MarketID string `json:"market_id"`
	Side     string `json:"side"`
	Position string `json:"position"`
	Amount   int64  `json:"amount"`
}

// PlaceOrder executes a market order for the calling user.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header required")
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "market_id is required")
		return
	}
	side := domain.OrderSide(req.Side)
	position := domain.Outcome(req.Position)
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	if !position.Valid() {
		writeError(w, http.StatusBadRequest, "position must be yes or no")
		return
	}

	result, err := h.exchange.PlaceOrder(r.Context(), userID, req.MarketID, side, position, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}
