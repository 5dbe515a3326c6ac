package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openforecast/predictd/internal/domain"
)

// Default per-order share bounds for markets created without explicit
// limits.
const (
	defaultMinAmount = 1
	defaultMaxAmount = 100_000
)

// CreateMarketParams carries the caller-supplied fields of a new market.
type CreateMarketParams struct {
	Question    string
	CreatorID   string
	ClosingDate time.Time
	MinAmount   int64
	MaxAmount   int64
}

// MarketService manages market lifecycle: creation, lookup and the sweep
// that closes markets past their closing date.
type MarketService struct {
	markets domain.MarketStore
	audit   domain.AuditStore
	logger  *slog.Logger
}

func NewMarketService(markets domain.MarketStore, audit domain.AuditStore, logger *slog.Logger) *MarketService {
	return &MarketService{markets: markets, audit: audit, logger: logger}
}

// CreateMarket opens a new market seeded at even odds.
func (s *MarketService) CreateMarket(ctx context.Context, p CreateMarketParams) (domain.Market, error) {
	if strings.TrimSpace(p.Question) == "" {
		return domain.Market{}, fmt.Errorf("service: market question is required")
	}
	if p.CreatorID == "" {
		return domain.Market{}, fmt.Errorf("service: market creator is required")
	}
	now := time.Now().UTC()
	if !p.ClosingDate.After(now) {
		return domain.Market{}, fmt.Errorf("service: closing date must be in the future")
	}
	if p.MinAmount <= 0 {
		p.MinAmount = defaultMinAmount
	}
	if p.MaxAmount <= 0 {
		p.MaxAmount = defaultMaxAmount
	}
	if p.MinAmount > p.MaxAmount {
		return domain.Market{}, fmt.Errorf("service: min amount %d exceeds max amount %d", p.MinAmount, p.MaxAmount)
	}

	market := domain.Market{
		ID:             uuid.NewString(),
		Question:       strings.TrimSpace(p.Question),
		CreatorID:      p.CreatorID,
		ProbabilityYes: 0.5,
		ProbabilityNo:  0.5,
		Status:         domain.MarketStatusOpen,
		MinAmount:      p.MinAmount,
		MaxAmount:      p.MaxAmount,
		ClosingDate:    p.ClosingDate.UTC(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.markets.Create(ctx, market); err != nil {
		return domain.Market{}, fmt.Errorf("service: create market: %w", err)
	}

	if s.audit != nil {
		err := s.audit.Log(ctx, "market_created", map[string]any{
			"market_id":    market.ID,
			"creator_id":   market.CreatorID,
			"closing_date": market.ClosingDate,
		})
		if err != nil {
			s.logger.Warn("failed to write audit entry", "event", "market_created", "error", err)
		}
	}
	s.logger.Info("market created", "market_id", market.ID, "creator_id", market.CreatorID, "closing_date", market.ClosingDate)
	return market, nil
}

// GetMarket returns one market by id.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	market, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("service: get market: %w", err)
	}
	return market, nil
}

// ListMarkets returns markets in the given status, newest first.
func (s *MarketService) ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list markets: %w", err)
	}
	return markets, nil
}

// CloseExpired transitions open markets whose closing date has passed to
// closed and returns how many it moved. Losing a race on an individual
// market is fine, some other instance already closed it.
func (s *MarketService) CloseExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.markets.ListExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("service: list expired markets: %w", err)
	}

	closed := 0
	for _, market := range expired {
		err := s.markets.UpdateStatus(ctx, market.ID, domain.MarketStatusOpen, domain.MarketStatusClosed)
		if err != nil {
			s.logger.Warn("failed to close expired market", "market_id", market.ID, "error", err)
			continue
		}
		closed++
		s.logger.Info("market closed", "market_id", market.ID, "closing_date", market.ClosingDate)
	}
	return closed, nil
}
