package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/openforecast/predictd/internal/domain"
	"github.com/openforecast/predictd/internal/server/middleware"
	"github.com/openforecast/predictd/internal/service"
)

// MarketService defines the market lifecycle methods the handler uses.
type MarketService interface {
	CreateMarket(ctx context.Context, p service.CreateMarketParams) (domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error)
}

// SettlementService defines the resolution entry point the handler uses.
type SettlementService interface {
	Resolve(ctx context.Context, marketID string, outcome bool, resolverID string) (domain.SettlementResult, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets    MarketService
	settlement SettlementService
	logger     *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given services and logger.
func NewMarketHandler(markets MarketService, settlement SettlementService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, settlement: settlement, logger: logger}
}

// createMarketRequest is the JSON body for market creation.
type createMarketRequest struct {
	Question    string    `json:"question"`
	ClosingDate time.Time `json:"closing_date"`
	MinAmount   int64     `json:"min_amount"`
	MaxAmount   int64     `json:"max_amount"`
}

// CreateMarket opens a new market owned by the calling user.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header required")
		return
	}

	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	market, err := h.markets.CreateMarket(r.Context(), service.CreateMarketParams{
		Question:    req.Question,
		CreatorID:   userID,
		ClosingDate: req.ClosingDate,
		MinAmount:   req.MinAmount,
		MaxAmount:   req.MaxAmount,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, market)
}

// GetMarket returns one market by id.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// listMarketsResponse wraps the list markets response.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
}

// ListMarkets returns markets filtered by status (default open).
// GET /api/markets?status=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	status := domain.MarketStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.MarketStatusOpen
	}

	markets, err := h.markets.ListMarkets(r.Context(), status, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets})
}

// resolveRequest is the JSON body for market resolution.
type resolveRequest struct {
	Outcome *bool `json:"outcome"`
}

// Resolve records the market outcome and runs settlement. Admin only.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Outcome == nil {
		writeError(w, http.StatusBadRequest, "outcome is required")
		return
	}

	resolverID := middleware.UserID(r.Context())
	result, err := h.settlement.Resolve(r.Context(), id, *req.Outcome, resolverID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
