package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
	MarketStatusSettled  MarketStatus = "settled"
)

// Probability bounds for either side of a market. Prices are derived from
// probabilities, so keeping both legs inside these bounds keeps every quote
// strictly between 1 and 99 units.
const (
	ProbabilityFloor = 0.01
	ProbabilityCeil  = 0.99
)

// Market is a binary YES/NO prediction market. ProbabilityYes and
// ProbabilityNo always sum to 1 and are mutated only by order execution;
// Status and ResolvedValue are mutated only by settlement.
type Market struct {
	ID             string
	Question       string
	CreatorID      string
	ProbabilityYes float64
	ProbabilityNo  float64
	TotalVolume    int64 // ticks, non-decreasing until settlement
	Status         MarketStatus
	ResolvedValue  *bool
	MinAmount      int64 // shares per trade
	MaxAmount      int64 // shares per trade
	ClosingDate    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AcceptsOrders reports whether the market can take new trades at the given
// instant. A market past its closing date rejects orders even before the
// background sweep flips its status.
func (m Market) AcceptsOrders(now time.Time) bool {
	return m.Status == MarketStatusOpen &&
		m.ResolvedValue == nil &&
		now.Before(m.ClosingDate)
}

// ClampProbability bounds p to the allowed probability range.
func ClampProbability(p float64) float64 {
	if p < ProbabilityFloor {
		return ProbabilityFloor
	}
	if p > ProbabilityCeil {
		return ProbabilityCeil
	}
	return p
}
