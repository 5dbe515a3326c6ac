package domain

import "time"

// SettlementResult summarizes a completed settlement pass.
type SettlementResult struct {
	MarketID           string
	WinningPosition    Outcome
	RedistributedTicks int64 // yes volume plus no volume at resolution
	WinnersCount       int
	CreatorFee         int64 // ticks
	ValidatorFee       int64 // ticks
	SettledAt          time.Time
}

// Payout is one winner's credit computed during settlement.
type Payout struct {
	UserID string
	Amount int64 // ticks: net winning stake plus pro-rata losing-pool share
}
