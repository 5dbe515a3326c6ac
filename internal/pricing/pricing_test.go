package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openforecast/predictd/internal/domain"
)

func openMarket(probYes float64, volume int64) domain.Market {
	return domain.Market{
		ID:             "m1",
		ProbabilityYes: probYes,
		ProbabilityNo:  1 - probYes,
		TotalVolume:    volume,
		Status:         domain.MarketStatusOpen,
	}
}

func TestBuy_Bootstrap(t *testing.T) {
	m := openMarket(0.73, 0) // stored probability is ignored on the first trade

	q, err := Buy(m, domain.OutcomeYes, 500)
	require.NoError(t, err)

	assert.Equal(t, domain.PriceFromPercent(50), q.Price)
	assert.Equal(t, int64(1000), q.Shares)
}

func TestBuy_MarketImpact(t *testing.T) {
	m := openMarket(0.5, domain.Ticks(1000))

	q, err := Buy(m, domain.OutcomeYes, 80)
	require.NoError(t, err)

	// k = clamp(0.8, 0.01, 0.1) = 0.1; p' = 0.5 + 0.1*0.5 = 0.55
	assert.Equal(t, domain.PriceFromPercent(55), q.Price)
	assert.Equal(t, int64(80), q.Shares)
	assert.InDelta(t, 0.55, q.ProbabilityYes, 1e-9)
	assert.InDelta(t, 0.45, q.ProbabilityNo, 1e-9)
}

func TestBuy_NoLeg(t *testing.T) {
	m := openMarket(0.6, domain.Ticks(1000))

	q, err := Buy(m, domain.OutcomeNo, 50)
	require.NoError(t, err)

	// NO leg starts at 0.4: k = clamp(0.5, 0.01, 0.1) = 0.1,
	// p' = 0.4 + 0.1*0.6 = 0.46
	assert.InDelta(t, 0.46, q.ProbabilityNo, 1e-9)
	assert.InDelta(t, 0.54, q.ProbabilityYes, 1e-9)
	assert.Equal(t, domain.PriceFromPercent(46), q.Price)
}

func TestBuy_SmallOrderImpactFloor(t *testing.T) {
	m := openMarket(0.5, domain.Ticks(1000))

	q, err := Buy(m, domain.OutcomeYes, 1)
	require.NoError(t, err)

	// k floors at 0.01: p' = 0.5 + 0.01*0.5 = 0.505, price rounds to 51
	assert.InDelta(t, 0.505, q.ProbabilityYes, 1e-9)
	assert.Equal(t, domain.PriceFromPercent(51), q.Price)
}

func TestBuy_ClampedAtCeiling(t *testing.T) {
	m := openMarket(0.989, domain.Ticks(1000))

	// k = 0.1 would push p' to 0.9901, past the ceiling.
	q, err := Buy(m, domain.OutcomeYes, 1000)
	require.NoError(t, err)

	assert.InDelta(t, domain.ProbabilityCeil, q.ProbabilityYes, 1e-9)
	assert.InDelta(t, domain.ProbabilityFloor, q.ProbabilityNo, 1e-9)
	assert.Equal(t, domain.PriceFromPercent(99), q.Price)
}

func TestBuy_DegenerateAtBound(t *testing.T) {
	m := openMarket(0.99, domain.Ticks(1000))

	_, err := Buy(m, domain.OutcomeYes, 10)
	assert.ErrorIs(t, err, domain.ErrPricingUnavailable)
}

func TestSell_MovesProbabilityDown(t *testing.T) {
	m := openMarket(0.5, domain.Ticks(1000))

	yes, no, err := Sell(m, domain.OutcomeYes, 80)
	require.NoError(t, err)

	// k = 0.1; p' = 0.5 - 0.1*0.5 = 0.45
	assert.InDelta(t, 0.45, yes, 1e-9)
	assert.InDelta(t, 0.55, no, 1e-9)
}

func TestSell_AtFloorLeavesProbabilityUnchanged(t *testing.T) {
	m := openMarket(0.01, domain.Ticks(1000))

	// A collapsed leg must still be sellable so holders can liquidate.
	yes, no, err := Sell(m, domain.OutcomeYes, 10)
	require.NoError(t, err)
	assert.InDelta(t, domain.ProbabilityFloor, yes, 1e-9)
	assert.InDelta(t, domain.ProbabilityCeil, no, 1e-9)
}

func TestProbabilityBoundsHoldForAllTrades(t *testing.T) {
	probs := []float64{0.01, 0.02, 0.25, 0.5, 0.75, 0.98, 0.99}
	amounts := []int64{1, 10, 80, 500, 10000}

	for _, p := range probs {
		for _, amount := range amounts {
			for _, pos := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
				m := openMarket(p, domain.Ticks(1000))

				if q, err := Buy(m, pos, amount); err == nil {
					assert.GreaterOrEqual(t, q.ProbabilityYes, domain.ProbabilityFloor)
					assert.LessOrEqual(t, q.ProbabilityYes, domain.ProbabilityCeil)
					assert.InDelta(t, 1.0, q.ProbabilityYes+q.ProbabilityNo, 1e-9)
				}
				if yes, no, err := Sell(m, pos, amount); err == nil {
					assert.GreaterOrEqual(t, yes, domain.ProbabilityFloor)
					assert.LessOrEqual(t, yes, domain.ProbabilityCeil)
					assert.InDelta(t, 1.0, yes+no, 1e-9)
				}
			}
		}
	}
}
