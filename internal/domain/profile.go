package domain

import "time"

// Profile holds a user's spendable balance. Balances are debited by buys,
// credited by sells, and credited by settlement payouts and fee distribution.
// A successful trade validation never leaves the balance negative.
type Profile struct {
	ID        string
	Balance   int64 // ticks
	UpdatedAt time.Time
}
