package ledger

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openforecast/predictd/internal/domain"
)

func buy(pos domain.Outcome, pricePercent, shares int64) domain.Order {
	return order(domain.OrderSideBuy, pos, pricePercent, shares)
}

func sell(pos domain.Outcome, pricePercent, shares int64) domain.Order {
	return order(domain.OrderSideSell, pos, pricePercent, shares)
}

var orderSeq int

func order(side domain.OrderSide, pos domain.Outcome, pricePercent, shares int64) domain.Order {
	orderSeq++
	return domain.Order{
		ID:           fmt.Sprintf("o%d", orderSeq),
		MarketID:     "m1",
		UserID:       "u1",
		Side:         side,
		Position:     pos,
		Price:        domain.PriceFromPercent(pricePercent),
		Amount:       shares,
		FilledAmount: shares,
		Status:       domain.OrderStatusFilled,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestQueue_ConsumeFIFO(t *testing.T) {
	q := &Queue{}
	q.Push(domain.PriceFromPercent(40), 100)
	q.Push(domain.PriceFromPercent(60), 100)

	// 150 shares: all of the 40c lot plus half the 60c lot.
	value, err := q.Consume(150)
	require.NoError(t, err)
	assert.Equal(t, 100*domain.PriceFromPercent(40)+50*domain.PriceFromPercent(60), value)

	assert.Equal(t, int64(50), q.Held())
	lots := q.Lots()
	require.Len(t, lots, 1)
	assert.Equal(t, domain.PriceFromPercent(60), lots[0].Price)
	assert.Equal(t, int64(50), lots[0].RemainingShares)
}

func TestQueue_ExhaustedLotsRemoved(t *testing.T) {
	q := &Queue{}
	q.Push(domain.PriceFromPercent(50), 10)

	_, err := q.Consume(10)
	require.NoError(t, err)
	assert.Empty(t, q.Lots())
	assert.Equal(t, int64(0), q.Held())
}

func TestQueue_OversellRejectedWithoutMutation(t *testing.T) {
	q := &Queue{}
	q.Push(domain.PriceFromPercent(50), 10)

	_, err := q.Consume(11)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)
	assert.Equal(t, int64(10), q.Held())
}

func TestBook_ApplyTracksBothOutcomes(t *testing.T) {
	b := NewBook()
	require.NoError(t, b.Apply(buy(domain.OutcomeYes, 50, 100)))
	require.NoError(t, b.Apply(buy(domain.OutcomeNo, 30, 40)))
	require.NoError(t, b.Apply(sell(domain.OutcomeYes, 50, 25)))

	h := b.Holdings()
	assert.Equal(t, int64(75), h.Yes)
	assert.Equal(t, int64(40), h.No)
}

func TestBook_SellAcrossOutcomesIsIndependent(t *testing.T) {
	b := NewBook()
	require.NoError(t, b.Apply(buy(domain.OutcomeNo, 30, 40)))

	err := b.Apply(sell(domain.OutcomeYes, 50, 1))
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestBook_IgnoresNonFilledOrders(t *testing.T) {
	b := NewBook()
	o := buy(domain.OutcomeYes, 50, 100)
	o.Status = domain.OrderStatusCancelled

	require.NoError(t, b.Apply(o))
	assert.Equal(t, int64(0), b.Holdings().Yes)
}

// Replaying a history from scratch must match incremental application,
// including remaining lot contents, for arbitrary valid buy/sell sequences.
func TestReplayMatchesIncremental(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		incremental := NewBook()
		var history []domain.Order

		for i := 0; i < 40; i++ {
			pos := domain.OutcomeYes
			if rng.Intn(2) == 0 {
				pos = domain.OutcomeNo
			}
			price := int64(1 + rng.Intn(99))
			shares := int64(1 + rng.Intn(200))

			var o domain.Order
			if rng.Intn(3) == 0 && incremental.Queue(pos).Held() > 0 {
				held := incremental.Queue(pos).Held()
				o = sell(pos, price, 1+rng.Int63n(held))
			} else {
				o = buy(pos, price, shares)
			}

			require.NoError(t, incremental.Apply(o))
			history = append(history, o)
		}

		replayed, err := Replay(history)
		require.NoError(t, err)

		assert.Equal(t, incremental.Holdings(), replayed.Holdings())
		for _, pos := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
			assert.Equal(t, incremental.Queue(pos).Lots(), replayed.Queue(pos).Lots())
		}
	}
}

// The sum of remaining lot shares always equals net held shares, and a sell
// can never push any lot negative.
func TestLotInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := NewBook()
	netYes := int64(0)

	for i := 0; i < 500; i++ {
		if rng.Intn(3) == 0 && netYes > 0 {
			amount := 1 + rng.Int63n(netYes)
			require.NoError(t, b.Apply(sell(domain.OutcomeYes, 50, amount)))
			netYes -= amount
		} else {
			shares := int64(1 + rng.Intn(100))
			require.NoError(t, b.Apply(buy(domain.OutcomeYes, int64(1+rng.Intn(99)), shares)))
			netYes += shares
		}

		assert.Equal(t, netYes, b.Queue(domain.OutcomeYes).Held())
		for _, lot := range b.Queue(domain.OutcomeYes).Lots() {
			assert.Positive(t, lot.RemainingShares)
		}
	}
}
