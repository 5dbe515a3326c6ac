// Package pricing converts a market's current probabilities plus a requested
// trade size into an execution price and post-trade probabilities. Orders are
// filled against a synthetic market maker, so the only price input is the
// market itself; there is no counterparty book.
package pricing

import (
	"math"

	"github.com/openforecast/predictd/internal/domain"
)

// Impact factor bounds: a trade moves the market by between 1% and 10% of the
// remaining probability range, proportional to its size.
const (
	impactPerShare = 1.0 / 100
	impactFloor    = 0.01
	impactCeil     = 0.1
)

// bootstrapProbability seeds the very first trade on a market.
const bootstrapProbability = 0.5

// Quote is the priced result of a prospective buy.
type Quote struct {
	Price          int64 // ticks per share, whole currency units
	Shares         int64 // shares credited to the buyer
	ProbabilityYes float64
	ProbabilityNo  float64
}

// Buy prices a buy of amount shares on pos. On the first trade of a market
// (zero volume) the probability is seeded at 0.5 and the share count is
// amount/0.5; afterwards the share count equals amount and the price moves
// with the impact factor.
func Buy(m domain.Market, pos domain.Outcome, amount int64) (Quote, error) {
	p, shares := base(m, pos, amount)
	if p >= domain.ProbabilityCeil {
		return Quote{}, domain.ErrPricingUnavailable
	}

	k := impact(amount)
	moved := math.Min(domain.ProbabilityCeil, p+k*(1-p))

	// The first trade fills at the seed probability itself; impact only
	// affects the post-trade probabilities.
	price := priceTicks(moved)
	if m.TotalVolume == 0 {
		price = priceTicks(p)
	}

	return Quote{
		Price:          price,
		Shares:         shares,
		ProbabilityYes: probabilityYes(pos, moved),
		ProbabilityNo:  1 - probabilityYes(pos, moved),
	}, nil
}

// Sell computes the post-trade probabilities for a sell of amount shares on
// pos. Sell proceeds are priced off the seller's own purchase lots, not the
// market, so no execution price is returned here. A leg already at the
// probability floor sells with unchanged probabilities; the holder can always
// liquidate.
func Sell(m domain.Market, pos domain.Outcome, amount int64) (probYes, probNo float64, err error) {
	p, _ := base(m, pos, amount)

	k := impact(amount)
	moved := math.Max(domain.ProbabilityFloor, p-k*p)

	yes := probabilityYes(pos, moved)
	return yes, 1 - yes, nil
}

// base returns the starting probability for the traded leg and the share
// count the trade yields.
func base(m domain.Market, pos domain.Outcome, amount int64) (p float64, shares int64) {
	if m.TotalVolume == 0 {
		return bootstrapProbability, int64(float64(amount) / bootstrapProbability)
	}
	if pos == domain.OutcomeYes {
		return m.ProbabilityYes, amount
	}
	return m.ProbabilityNo, amount
}

func impact(amount int64) float64 {
	k := float64(amount) * impactPerShare
	if k < impactFloor {
		return impactFloor
	}
	if k > impactCeil {
		return impactCeil
	}
	return k
}

// priceTicks converts a probability to a per-share execution price in ticks:
// the probability on the 0-100 scale, rounded to a whole percent.
func priceTicks(p float64) int64 {
	return domain.PriceFromPercent(int64(math.Round(p * 100)))
}

// probabilityYes maps the moved probability of the traded leg back to the
// YES leg, clamped to the allowed range.
func probabilityYes(pos domain.Outcome, moved float64) float64 {
	moved = domain.ClampProbability(moved)
	if pos == domain.OutcomeYes {
		return moved
	}
	return domain.ClampProbability(1 - moved)
}
