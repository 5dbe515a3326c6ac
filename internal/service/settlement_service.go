package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/openforecast/predictd/internal/domain"
)

// settlementLockTTL bounds how long one settlement run may hold the
// distributed lock before it expires on its own.
const settlementLockTTL = 30 * time.Second

// Fee rates in basis points of the losing pool.
const (
	creatorFeeBps   = 30
	validatorFeeBps = 20
)

// SettlementArchiver writes a durable record of a completed settlement.
type SettlementArchiver interface {
	ArchiveSettlement(ctx context.Context, result domain.SettlementResult) error
}

// SettlementService resolves markets and redistributes the losing pool
// to winners pro-rata by their net winning stake. Resolution, payouts
// and the status transition to settled run in one transaction, so a
// settlement either happens exactly once or not at all.
type SettlementService struct {
	txr      domain.TxRunner
	profiles domain.ProfileStore
	locks    domain.LockManager
	bus      domain.SignalBus
	audit    domain.AuditStore
	archiver SettlementArchiver
	logger   *slog.Logger

	initialBalance int64
}

// SettlementOption configures optional collaborators of the settlement
// service.
type SettlementOption func(*SettlementService)

// WithLockManager guards each settlement run with a distributed lock.
func WithLockManager(locks domain.LockManager) SettlementOption {
	return func(s *SettlementService) { s.locks = locks }
}

// WithSettlementBus publishes a settlement event after each run.
func WithSettlementBus(bus domain.SignalBus) SettlementOption {
	return func(s *SettlementService) { s.bus = bus }
}

// WithSettlementAudit records an audit entry for each settlement.
func WithSettlementAudit(audit domain.AuditStore) SettlementOption {
	return func(s *SettlementService) { s.audit = audit }
}

// WithArchiver stores a settlement record in blob storage after each run.
func WithArchiver(archiver SettlementArchiver) SettlementOption {
	return func(s *SettlementService) { s.archiver = archiver }
}

func NewSettlementService(txr domain.TxRunner, profiles domain.ProfileStore, initialBalance int64, logger *slog.Logger, opts ...SettlementOption) *SettlementService {
	s := &SettlementService{
		txr:            txr,
		profiles:       profiles,
		logger:         logger,
		initialBalance: initialBalance,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve records the market outcome and settles it: winning shares pay
// out one unit each plus a pro-rata slice of the losing pool net of
// fees. Running it again for an already settled market fails with
// ErrSettlementAlreadyRun and changes nothing.
func (s *SettlementService) Resolve(ctx context.Context, marketID string, outcome bool, resolverID string) (domain.SettlementResult, error) {
	if s.locks != nil {
		release, err := s.locks.Acquire(ctx, "settle:"+marketID, settlementLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return domain.SettlementResult{}, fmt.Errorf("%w: settlement in progress", domain.ErrSettlementAlreadyRun)
			}
			return domain.SettlementResult{}, fmt.Errorf("service: acquire settlement lock: %w", err)
		}
		defer release()
	}

	var (
		result    domain.SettlementResult
		creatorID string
	)
	err := s.txr.RunTx(ctx, func(tx domain.Tx) error {
		market, err := tx.Markets().GetForUpdate(ctx, marketID)
		if err != nil {
			return err
		}
		if market.Status == domain.MarketStatusSettled {
			return fmt.Errorf("%w: market %s", domain.ErrSettlementAlreadyRun, marketID)
		}
		if market.ResolvedValue != nil {
			return fmt.Errorf("%w: market %s", domain.ErrAlreadyResolved, marketID)
		}
		creatorID = market.CreatorID

		if err := tx.Markets().SetResolved(ctx, marketID, outcome); err != nil {
			return err
		}

		orders, err := tx.Orders().ListFilledByMarket(ctx, marketID)
		if err != nil {
			return err
		}

		winning := domain.OutcomeNo
		if outcome {
			winning = domain.OutcomeYes
		}
		pools := poolsFromOrders(orders, winning)

		creatorFee := pools.losing * creatorFeeBps / 10000
		validatorFee := pools.losing * validatorFeeBps / 10000
		remaining := pools.losing - creatorFee - validatorFee

		payouts := computePayouts(pools, remaining)
		for _, p := range payouts {
			if _, err := tx.Profiles().GetOrCreate(ctx, p.UserID, s.initialBalance); err != nil {
				return err
			}
			if err := tx.Profiles().Credit(ctx, p.UserID, p.Amount); err != nil {
				return err
			}
		}

		if err := tx.Markets().UpdateStatus(ctx, marketID, domain.MarketStatusResolved, domain.MarketStatusSettled); err != nil {
			return err
		}

		result = domain.SettlementResult{
			MarketID:           marketID,
			WinningPosition:    winning,
			RedistributedTicks: pools.winning + pools.losing,
			WinnersCount:       len(payouts),
			CreatorFee:         creatorFee,
			ValidatorFee:       validatorFee,
			SettledAt:          time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return domain.SettlementResult{}, classify(err)
	}

	s.creditFees(ctx, creatorID, resolverID, result)
	s.recordAudit(ctx, result, resolverID)
	s.publish(ctx, result)
	s.archive(ctx, result)

	s.logger.Info("market settled",
		"market_id", marketID,
		"winning_position", string(result.WinningPosition),
		"winners", result.WinnersCount,
		"redistributed", result.RedistributedTicks,
		"creator_fee", result.CreatorFee,
		"validator_fee", result.ValidatorFee)
	return result, nil
}

type marketPools struct {
	winning int64
	losing  int64
	// net winning value per user, insertion ordered
	users []string
	net   map[string]int64
}

// poolsFromOrders folds the order log into the winning and losing pools
// and each user's net stake on the winning side. Only buy-side stakes
// fund the pools; sells reduce the seller's net but leave the pools
// untouched.
func poolsFromOrders(orders []domain.Order, winning domain.Outcome) marketPools {
	pools := marketPools{net: make(map[string]int64)}
	for _, o := range orders {
		if o.Status != domain.OrderStatusFilled {
			continue
		}
		value := o.Value()
		onWinning := o.Position == winning

		if o.Side == domain.OrderSideBuy {
			if onWinning {
				pools.winning += value
			} else {
				pools.losing += value
			}
		} else {
			value = -value
		}
		if onWinning {
			if _, seen := pools.net[o.UserID]; !seen {
				pools.users = append(pools.users, o.UserID)
			}
			pools.net[o.UserID] += value
		}
	}
	return pools
}

// computePayouts returns each winner's payout: their net stake back plus
// a slice of the remaining losing pool proportional to that stake. Share
// math goes through big.Int so large pools cannot overflow the
// intermediate product.
func computePayouts(pools marketPools, remaining int64) []domain.Payout {
	var payouts []domain.Payout
	for _, userID := range pools.users {
		net := pools.net[userID]
		if net <= 0 {
			continue
		}
		payout := net
		if pools.winning > 0 && remaining > 0 {
			share := new(big.Int).Mul(big.NewInt(net), big.NewInt(remaining))
			share.Quo(share, big.NewInt(pools.winning))
			payout += share.Int64()
		}
		payouts = append(payouts, domain.Payout{UserID: userID, Amount: payout})
	}
	return payouts
}

// creditFees pays the market creator and the resolver their cut of the
// losing pool. Fee crediting is best-effort: a failure here is logged
// and does not unwind the settlement.
func (s *SettlementService) creditFees(ctx context.Context, creatorID, resolverID string, result domain.SettlementResult) {
	for _, fee := range []struct {
		userID string
		amount int64
		kind   string
	}{
		{creatorID, result.CreatorFee, "creator"},
		{resolverID, result.ValidatorFee, "validator"},
	} {
		if fee.amount <= 0 || fee.userID == "" {
			continue
		}
		if _, err := s.profiles.GetOrCreate(ctx, fee.userID, s.initialBalance); err != nil {
			s.logger.Warn("failed to provision fee recipient", "user_id", fee.userID, "fee", fee.kind, "error", err)
			continue
		}
		if err := s.profiles.Credit(ctx, fee.userID, fee.amount); err != nil {
			s.logger.Warn("failed to credit fee", "user_id", fee.userID, "fee", fee.kind, "amount", fee.amount, "error", err)
		}
	}
}

func (s *SettlementService) recordAudit(ctx context.Context, result domain.SettlementResult, resolverID string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Log(ctx, "market_settled", map[string]any{
		"market_id":        result.MarketID,
		"winning_position": string(result.WinningPosition),
		"resolver_id":      resolverID,
		"winners":          result.WinnersCount,
		"redistributed":    result.RedistributedTicks,
		"creator_fee":      result.CreatorFee,
		"validator_fee":    result.ValidatorFee,
	})
	if err != nil {
		s.logger.Warn("failed to write audit entry", "event", "market_settled", "error", err)
	}
}

func (s *SettlementService) publish(ctx context.Context, result domain.SettlementResult) {
	if s.bus == nil {
		return
	}
	payload := fmt.Sprintf(`{"type":"settlement","market_id":%q,"winning_position":%q,"winners":%d}`,
		result.MarketID, result.WinningPosition, result.WinnersCount)
	if err := s.bus.Publish(ctx, domain.EventsChannel, []byte(payload)); err != nil {
		s.logger.Warn("failed to publish settlement event", "market_id", result.MarketID, "error", err)
	}
}

func (s *SettlementService) archive(ctx context.Context, result domain.SettlementResult) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.ArchiveSettlement(ctx, result); err != nil {
		s.logger.Warn("failed to archive settlement", "market_id", result.MarketID, "error", err)
	}
}
