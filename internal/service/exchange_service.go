package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openforecast/predictd/internal/domain"
	"github.com/openforecast/predictd/internal/ledger"
	"github.com/openforecast/predictd/internal/pricing"
)

// orderRateWindow bounds how many orders a single user may place per window.
const orderRateWindow = time.Minute

// ExchangeService executes buy and sell orders against market pools.
// Every order runs inside one serializable transaction: balance check,
// debit or credit, order insert and market update commit together or
// not at all.
type ExchangeService struct {
	txr      domain.TxRunner
	orders   domain.OrderStore
	profiles domain.ProfileStore
	limiter  domain.RateLimiter
	bus      domain.SignalBus
	audit    domain.AuditStore
	logger   *slog.Logger

	initialBalance int64
	ordersPerMin   int
}

// ExchangeOption configures optional collaborators of the exchange.
type ExchangeOption func(*ExchangeService)

// WithRateLimiter enables per-user order throttling.
func WithRateLimiter(rl domain.RateLimiter, ordersPerMin int) ExchangeOption {
	return func(s *ExchangeService) {
		s.limiter = rl
		s.ordersPerMin = ordersPerMin
	}
}

// WithSignalBus publishes trade events after each fill.
func WithSignalBus(bus domain.SignalBus) ExchangeOption {
	return func(s *ExchangeService) { s.bus = bus }
}

// WithAuditStore records an audit entry for each executed order.
func WithAuditStore(audit domain.AuditStore) ExchangeOption {
	return func(s *ExchangeService) { s.audit = audit }
}

func NewExchangeService(txr domain.TxRunner, orders domain.OrderStore, profiles domain.ProfileStore, initialBalance int64, logger *slog.Logger, opts ...ExchangeOption) *ExchangeService {
	s := &ExchangeService{
		txr:            txr,
		orders:         orders,
		profiles:       profiles,
		logger:         logger,
		initialBalance: initialBalance,
		ordersPerMin:   60,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder executes a market order for the given user. Buys quote a
// price from the current pool state, debit the cost and credit shares.
// Sells consume the user's FIFO lots and credit the proceeds at the
// average acquisition price of the consumed shares.
func (s *ExchangeService) PlaceOrder(ctx context.Context, userID, marketID string, side domain.OrderSide, position domain.Outcome, amount int64) (domain.TradeResult, error) {
	if !side.Valid() {
		return domain.TradeResult{}, fmt.Errorf("service: invalid order side %q", side)
	}
	if !position.Valid() {
		return domain.TradeResult{}, fmt.Errorf("service: invalid position %q", position)
	}
	if amount <= 0 {
		return domain.TradeResult{}, fmt.Errorf("%w: amount must be positive", domain.ErrAmountOutOfBounds)
	}
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "orders:"+userID, s.ordersPerMin, orderRateWindow)
		if err != nil {
			s.logger.Warn("rate limiter unavailable, allowing order", "user_id", userID, "error", err)
		} else if !ok {
			return domain.TradeResult{}, fmt.Errorf("%w: too many orders", domain.ErrRateLimited)
		}
	}

	var result domain.TradeResult
	err := s.txr.RunTx(ctx, func(tx domain.Tx) error {
		market, err := tx.Markets().GetForUpdate(ctx, marketID)
		if err != nil {
			return err
		}
		if market.ResolvedValue != nil {
			return fmt.Errorf("%w: market already resolved", domain.ErrAlreadyResolved)
		}
		if !market.AcceptsOrders(time.Now().UTC()) {
			return fmt.Errorf("%w: market %s is not accepting orders", domain.ErrMarketClosed, marketID)
		}
		if amount < market.MinAmount || amount > market.MaxAmount {
			return fmt.Errorf("%w: amount %d outside [%d, %d]", domain.ErrAmountOutOfBounds, amount, market.MinAmount, market.MaxAmount)
		}

		profile, err := tx.Profiles().GetOrCreate(ctx, userID, s.initialBalance)
		if err != nil {
			return err
		}

		switch side {
		case domain.OrderSideBuy:
			result, err = executeBuy(ctx, tx, market, profile, position, amount)
		case domain.OrderSideSell:
			result, err = executeSell(ctx, tx, market, profile, position, amount)
		}
		return err
	})
	if err != nil {
		return domain.TradeResult{}, classify(err)
	}

	s.publishTrade(ctx, result)
	s.recordAudit(ctx, "order_executed", map[string]any{
		"order_id":  result.OrderID,
		"market_id": result.MarketID,
		"user_id":   userID,
		"side":      result.Side,
		"position":  result.Position,
		"shares":    result.Shares,
		"price":     result.Price,
	})
	s.logger.Info("order executed",
		"order_id", result.OrderID,
		"market_id", marketID,
		"user_id", userID,
		"side", result.Side,
		"position", result.Position,
		"shares", result.Shares,
		"price_cents", domain.PricePercent(result.Price))
	return result, nil
}

func executeBuy(ctx context.Context, tx domain.Tx, market domain.Market, profile domain.Profile, position domain.Outcome, amount int64) (domain.TradeResult, error) {
	quote, err := pricing.Buy(market, position, amount)
	if err != nil {
		return domain.TradeResult{}, err
	}

	cost := quote.Price * quote.Shares
	if profile.Balance < cost {
		return domain.TradeResult{}, fmt.Errorf("%w: need %d, have %d", domain.ErrInsufficientBalance, cost, profile.Balance)
	}
	if err := tx.Profiles().Credit(ctx, profile.ID, -cost); err != nil {
		return domain.TradeResult{}, err
	}

	order := domain.Order{
		ID:           uuid.NewString(),
		MarketID:     market.ID,
		UserID:       profile.ID,
		Side:         domain.OrderSideBuy,
		Position:     position,
		Price:        quote.Price,
		Amount:       amount,
		FilledAmount: quote.Shares,
		Status:       domain.OrderStatusFilled,
		CreatedAt:    time.Now().UTC(),
	}
	if err := tx.Orders().Create(ctx, order); err != nil {
		return domain.TradeResult{}, err
	}

	market.ProbabilityYes = quote.ProbabilityYes
	market.ProbabilityNo = quote.ProbabilityNo
	market.TotalVolume += cost
	if err := tx.Markets().Update(ctx, market); err != nil {
		return domain.TradeResult{}, err
	}

	return domain.TradeResult{
		OrderID:        order.ID,
		MarketID:       market.ID,
		Side:           string(order.Side),
		Position:       string(position),
		Shares:         quote.Shares,
		Price:          quote.Price,
		NewBalance:     profile.Balance - cost,
		ProbabilityYes: quote.ProbabilityYes,
		ProbabilityNo:  quote.ProbabilityNo,
	}, nil
}

func executeSell(ctx context.Context, tx domain.Tx, market domain.Market, profile domain.Profile, position domain.Outcome, amount int64) (domain.TradeResult, error) {
	history, err := tx.Orders().ListFilledByUser(ctx, market.ID, profile.ID)
	if err != nil {
		return domain.TradeResult{}, err
	}
	book, err := ledger.Replay(history)
	if err != nil {
		return domain.TradeResult{}, err
	}
	if held := book.Queue(position).Held(); held < amount {
		return domain.TradeResult{}, fmt.Errorf("%w: selling %d, holding %d", domain.ErrInsufficientShares, amount, held)
	}

	probYes, probNo, err := pricing.Sell(market, position, amount)
	if err != nil {
		return domain.TradeResult{}, err
	}

	totalValue, err := book.Queue(position).Consume(amount)
	if err != nil {
		return domain.TradeResult{}, err
	}
	price := domain.RoundToCent(totalValue / amount)
	proceeds := price * amount

	if err := tx.Profiles().Credit(ctx, profile.ID, proceeds); err != nil {
		return domain.TradeResult{}, err
	}

	order := domain.Order{
		ID:           uuid.NewString(),
		MarketID:     market.ID,
		UserID:       profile.ID,
		Side:         domain.OrderSideSell,
		Position:     position,
		Price:        price,
		Amount:       amount,
		FilledAmount: amount,
		Status:       domain.OrderStatusFilled,
		CreatedAt:    time.Now().UTC(),
	}
	if err := tx.Orders().Create(ctx, order); err != nil {
		return domain.TradeResult{}, err
	}

	market.ProbabilityYes = probYes
	market.ProbabilityNo = probNo
	market.TotalVolume += proceeds
	if err := tx.Markets().Update(ctx, market); err != nil {
		return domain.TradeResult{}, err
	}

	return domain.TradeResult{
		OrderID:        order.ID,
		MarketID:       market.ID,
		Side:           string(order.Side),
		Position:       string(position),
		Shares:         amount,
		Price:          price,
		NewBalance:     profile.Balance + proceeds,
		ProbabilityYes: probYes,
		ProbabilityNo:  probNo,
	}, nil
}

// GetBalance returns the user's balance, provisioning the profile with
// the default starting balance on first contact.
func (s *ExchangeService) GetBalance(ctx context.Context, userID string) (int64, error) {
	profile, err := s.profiles.GetOrCreate(ctx, userID, s.initialBalance)
	if err != nil {
		return 0, fmt.Errorf("service: get balance: %w", err)
	}
	return profile.Balance, nil
}

// GetPositions replays the user's fills on a market into per-outcome
// holdings with FIFO cost basis.
func (s *ExchangeService) GetPositions(ctx context.Context, userID, marketID string) ([]domain.PositionReport, error) {
	history, err := s.orders.ListFilledByUser(ctx, marketID, userID)
	if err != nil {
		return nil, fmt.Errorf("service: get positions: %w", err)
	}
	book, err := ledger.Replay(history)
	if err != nil {
		return nil, fmt.Errorf("service: get positions: %w", err)
	}

	var reports []domain.PositionReport
	for _, position := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
		queue := book.Queue(position)
		if queue.Held() == 0 {
			continue
		}
		var cost int64
		lots := queue.Lots()
		for _, lot := range lots {
			cost += lot.Price * lot.RemainingShares
		}
		reports = append(reports, domain.PositionReport{
			MarketID:  marketID,
			Position:  string(position),
			Shares:    queue.Held(),
			CostBasis: cost,
			LotCount:  len(lots),
		})
	}
	return reports, nil
}

func (s *ExchangeService) publishTrade(ctx context.Context, result domain.TradeResult) {
	if s.bus == nil {
		return
	}
	payload := fmt.Sprintf(`{"type":"trade","market_id":%q,"position":%q,"probability_yes":%g,"probability_no":%g}`,
		result.MarketID, result.Position, result.ProbabilityYes, result.ProbabilityNo)
	if err := s.bus.Publish(ctx, domain.EventsChannel, []byte(payload)); err != nil {
		s.logger.Warn("failed to publish trade event", "market_id", result.MarketID, "error", err)
	}
}

func (s *ExchangeService) recordAudit(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.Warn("failed to write audit entry", "event", event, "error", err)
	}
}

// rejections lists the errors a caller can act on. Everything else that
// surfaces from a transaction is an execution failure.
var rejections = []error{
	domain.ErrNotFound,
	domain.ErrMarketClosed,
	domain.ErrAmountOutOfBounds,
	domain.ErrInsufficientBalance,
	domain.ErrInsufficientShares,
	domain.ErrPricingUnavailable,
	domain.ErrAlreadyResolved,
	domain.ErrSettlementAlreadyRun,
	domain.ErrRateLimited,
}

func classify(err error) error {
	for _, sentinel := range rejections {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrExecutionFailed, err)
}
