package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openforecast/predictd/internal/domain"
	"github.com/openforecast/predictd/internal/store/memory"
)

func newSettlement(st *memory.Store, opts ...SettlementOption) *SettlementService {
	return NewSettlementService(st, st.Profiles(), 0, discardLogger(), opts...)
}

func seedFill(t *testing.T, st *memory.Store, marketID, userID string, side domain.OrderSide, pos domain.Outcome, priceCents, shares int64) {
	t.Helper()
	err := st.Orders().Create(context.Background(), domain.Order{
		ID:           userID + "-" + string(side) + "-" + string(pos),
		MarketID:     marketID,
		UserID:       userID,
		Side:         side,
		Position:     pos,
		Price:        domain.PriceFromPercent(priceCents),
		Amount:       shares,
		FilledAmount: shares,
		Status:       domain.OrderStatusFilled,
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
}

func provision(t *testing.T, st *memory.Store, userID string, balance int64) {
	t.Helper()
	_, err := st.Profiles().GetOrCreate(context.Background(), userID, balance)
	require.NoError(t, err)
}

func balanceOf(t *testing.T, st *memory.Store, userID string) int64 {
	t.Helper()
	p, err := st.Profiles().GetByID(context.Background(), userID)
	require.NoError(t, err)
	return p.Balance
}

func TestResolve_OneWinnerOneLoser(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := seedMarket(t, st, func(m *domain.Market) {
		m.TotalVolume = 1000 * domain.TickScale
	})
	seedFill(t, st, m.ID, "alice", domain.OrderSideBuy, domain.OutcomeYes, 50, 1000)
	seedFill(t, st, m.ID, "bob", domain.OrderSideBuy, domain.OutcomeNo, 50, 1000)
	provision(t, st, "alice", 0)
	provision(t, st, "bob", 0)
	svc := newSettlement(st)

	res, err := svc.Resolve(ctx, m.ID, true, "validator")
	require.NoError(t, err)

	// Pools of 500 units each: creator fee 1.5, validator fee 1.0,
	// remaining losing pool 497.5, sole winner gets 500 + 497.5.
	assert.Equal(t, domain.OutcomeYes, res.WinningPosition)
	assert.Equal(t, 1, res.WinnersCount)
	assert.Equal(t, domain.Ticks(1.5), res.CreatorFee)
	assert.Equal(t, domain.Ticks(1.0), res.ValidatorFee)
	assert.Equal(t, domain.Ticks(1000), res.RedistributedTicks)

	assert.Equal(t, domain.Ticks(997.5), balanceOf(t, st, "alice"))
	assert.Zero(t, balanceOf(t, st, "bob"))
	assert.Equal(t, domain.Ticks(1.5), balanceOf(t, st, "creator"))
	assert.Equal(t, domain.Ticks(1.0), balanceOf(t, st, "validator"))

	stored, err := st.Markets().GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusSettled, stored.Status)
	require.NotNil(t, stored.ResolvedValue)
	assert.True(t, *stored.ResolvedValue)
}

func TestResolve_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := seedMarket(t, st, nil)
	seedFill(t, st, m.ID, "alice", domain.OrderSideBuy, domain.OutcomeYes, 50, 1000)
	seedFill(t, st, m.ID, "bob", domain.OrderSideBuy, domain.OutcomeNo, 50, 1000)
	provision(t, st, "alice", 0)
	provision(t, st, "bob", 0)
	svc := newSettlement(st)

	_, err := svc.Resolve(ctx, m.ID, true, "validator")
	require.NoError(t, err)
	settled := balanceOf(t, st, "alice")

	_, err = svc.Resolve(ctx, m.ID, true, "validator")
	assert.ErrorIs(t, err, domain.ErrSettlementAlreadyRun)
	assert.Equal(t, settled, balanceOf(t, st, "alice"), "second run must not double-credit")

	_, err = svc.Resolve(ctx, m.ID, false, "validator")
	assert.ErrorIs(t, err, domain.ErrSettlementAlreadyRun)
}

func TestResolve_Conservation(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := seedMarket(t, st, nil)

	fills := []struct {
		user   string
		pos    domain.Outcome
		price  int64
		shares int64
	}{
		{"alice", domain.OutcomeYes, 50, 1000},
		{"bob", domain.OutcomeYes, 55, 370},
		{"carol", domain.OutcomeYes, 61, 93},
		{"dave", domain.OutcomeNo, 45, 777},
		{"erin", domain.OutcomeNo, 40, 1234},
	}
	var winningPool, losingPool int64
	winners := 0
	for _, f := range fills {
		seedFill(t, st, m.ID, f.user, domain.OrderSideBuy, f.pos, f.price, f.shares)
		provision(t, st, f.user, 0)
		value := domain.PriceFromPercent(f.price) * f.shares
		if f.pos == domain.OutcomeYes {
			winningPool += value
			winners++
		} else {
			losingPool += value
		}
	}
	svc := newSettlement(st)

	res, err := svc.Resolve(ctx, m.ID, true, "validator")
	require.NoError(t, err)
	require.Equal(t, winners, res.WinnersCount)

	var credited int64
	for _, f := range fills {
		credited += balanceOf(t, st, f.user)
	}
	credited += balanceOf(t, st, "creator")
	credited += balanceOf(t, st, "validator")

	// Pro-rata shares floor per winner, so at most winnersCount ticks of
	// the pools go undistributed.
	total := winningPool + losingPool
	assert.LessOrEqual(t, credited, total)
	assert.Greater(t, credited, total-int64(winners+1))
}

func TestResolve_NoWinners(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := seedMarket(t, st, nil)
	seedFill(t, st, m.ID, "bob", domain.OrderSideBuy, domain.OutcomeNo, 50, 1000)
	provision(t, st, "bob", 0)
	svc := newSettlement(st)

	res, err := svc.Resolve(ctx, m.ID, true, "validator")
	require.NoError(t, err)

	assert.Zero(t, res.WinnersCount)
	assert.Equal(t, domain.Ticks(500), res.RedistributedTicks)
	assert.Equal(t, domain.Ticks(1.5), res.CreatorFee)
	assert.Equal(t, domain.Ticks(1.0), res.ValidatorFee)
	assert.Zero(t, balanceOf(t, st, "bob"))

	stored, err := st.Markets().GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusSettled, stored.Status)
}

func TestResolve_SellerStakeReduced(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	m := seedMarket(t, st, nil)
	seedFill(t, st, m.ID, "alice", domain.OrderSideBuy, domain.OutcomeYes, 50, 1000)
	seedFill(t, st, m.ID, "alice", domain.OrderSideSell, domain.OutcomeYes, 50, 500)
	seedFill(t, st, m.ID, "bob", domain.OrderSideBuy, domain.OutcomeNo, 50, 1000)
	provision(t, st, "alice", 0)
	provision(t, st, "bob", 0)
	svc := newSettlement(st)

	res, err := svc.Resolve(ctx, m.ID, true, "validator")
	require.NoError(t, err)

	// The winning pool stays at alice's 500-unit buy stake; her sell only
	// halves her net, so she gets 250 back plus half the remaining losing
	// pool: 250 + (250/500)*497.5 = 498.75.
	require.Equal(t, 1, res.WinnersCount)
	assert.Equal(t, domain.Ticks(498.75), balanceOf(t, st, "alice"))
	assert.Equal(t, domain.Ticks(1000), res.RedistributedTicks)
}

func TestResolve_UnknownMarket(t *testing.T) {
	st := memory.New()
	svc := newSettlement(st)

	_, err := svc.Resolve(context.Background(), "missing", true, "validator")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type fakeLocks struct {
	err error
}

func (f fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	return func() {}, nil
}

func TestResolve_LockHeld(t *testing.T) {
	st := memory.New()
	m := seedMarket(t, st, nil)
	seedFill(t, st, m.ID, "alice", domain.OrderSideBuy, domain.OutcomeYes, 50, 1000)
	svc := newSettlement(st, WithLockManager(fakeLocks{err: domain.ErrLockHeld}))

	_, err := svc.Resolve(context.Background(), m.ID, true, "validator")
	assert.ErrorIs(t, err, domain.ErrSettlementAlreadyRun)

	stored, err := st.Markets().GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, stored.Status)
	assert.Nil(t, stored.ResolvedValue)
}
