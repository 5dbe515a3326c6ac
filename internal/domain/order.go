package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Valid reports whether the side is one of the two defined values.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Outcome is the side of the market an order trades.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Opposite returns the complementary outcome.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Valid reports whether the outcome is one of the two defined values.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// OrderStatus tracks the order lifecycle. Orders fill completely or are
// rejected before creation, so the only transitions are pending -> filled and
// pending -> cancelled.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a single executed trade against the market maker. Filled orders
// are immutable; together they form the append-only log that settlement and
// the position ledger derive everything from.
type Order struct {
	ID           string
	MarketID     string
	UserID       string
	Side         OrderSide
	Position     Outcome
	Price        int64 // ticks per share at fill time
	Amount       int64 // requested shares
	FilledAmount int64
	Status       OrderStatus
	CreatedAt    time.Time
}

// Value returns the monetary notional of the fill in ticks.
func (o Order) Value() int64 {
	return o.Price * o.FilledAmount
}
