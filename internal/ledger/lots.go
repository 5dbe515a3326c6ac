// Package ledger derives per-user share holdings from the filled-order log.
// Holdings are an ordered queue of purchase lots per outcome, consumed
// oldest-first on sells. The ledger is a pure projection: replaying a user's
// order history from scratch and applying orders incrementally must produce
// identical state.
package ledger

import (
	"fmt"

	"github.com/openforecast/predictd/internal/domain"
)

// Lot is a parcel of shares bought at a single price.
type Lot struct {
	Price           int64 // ticks per share
	RemainingShares int64
}

// Queue is the FIFO lot queue for one (user, market, outcome).
type Queue struct {
	lots []Lot
}

// Push appends a purchase lot.
func (q *Queue) Push(price, shares int64) {
	if shares <= 0 {
		return
	}
	q.lots = append(q.lots, Lot{Price: price, RemainingShares: shares})
}

// Held returns the net shares across all lots.
func (q *Queue) Held() int64 {
	var total int64
	for _, l := range q.lots {
		total += l.RemainingShares
	}
	return total
}

// Lots returns a copy of the remaining lots in purchase order.
func (q *Queue) Lots() []Lot {
	out := make([]Lot, len(q.lots))
	copy(out, q.lots)
	return out
}

// Consume drains amount shares oldest-first and returns the total purchase
// value of the consumed shares. Exhausted lots are removed, not zeroed.
// Returns ErrInsufficientShares without mutating the queue when fewer than
// amount shares are held.
func (q *Queue) Consume(amount int64) (totalValue int64, err error) {
	if amount <= 0 {
		return 0, fmt.Errorf("ledger: consume %d shares: %w", amount, domain.ErrInsufficientShares)
	}
	if q.Held() < amount {
		return 0, domain.ErrInsufficientShares
	}

	remaining := amount
	for remaining > 0 {
		lot := &q.lots[0]
		take := min(remaining, lot.RemainingShares)
		totalValue += lot.Price * take
		lot.RemainingShares -= take
		remaining -= take
		if lot.RemainingShares == 0 {
			q.lots = q.lots[1:]
		}
	}
	return totalValue, nil
}

// Holdings is a user's net position in a market.
type Holdings struct {
	Yes int64
	No  int64
}

// Book tracks one user's lot queues for a single market, one queue per
// outcome.
type Book struct {
	queues map[domain.Outcome]*Queue
}

// NewBook returns an empty Book.
func NewBook() *Book {
	return &Book{queues: map[domain.Outcome]*Queue{
		domain.OutcomeYes: {},
		domain.OutcomeNo:  {},
	}}
}

// Queue returns the lot queue for the given outcome.
func (b *Book) Queue(pos domain.Outcome) *Queue {
	return b.queues[pos]
}

// Holdings returns the net yes/no shares held.
func (b *Book) Holdings() Holdings {
	return Holdings{
		Yes: b.queues[domain.OutcomeYes].Held(),
		No:  b.queues[domain.OutcomeNo].Held(),
	}
}

// Apply folds one filled order into the book: buys push a lot, sells drain
// FIFO. Non-filled orders are ignored.
func (b *Book) Apply(o domain.Order) error {
	if o.Status != domain.OrderStatusFilled {
		return nil
	}
	q := b.queues[o.Position]
	if q == nil {
		return fmt.Errorf("ledger: order %s has unknown position %q", o.ID, o.Position)
	}

	switch o.Side {
	case domain.OrderSideBuy:
		q.Push(o.Price, o.FilledAmount)
	case domain.OrderSideSell:
		if _, err := q.Consume(o.FilledAmount); err != nil {
			return fmt.Errorf("ledger: order %s oversells %s: %w", o.ID, o.Position, err)
		}
	default:
		return fmt.Errorf("ledger: order %s has unknown side %q", o.ID, o.Side)
	}
	return nil
}

// Replay builds a Book from a user's filled-order history in chronological
// order.
func Replay(orders []domain.Order) (*Book, error) {
	b := NewBook()
	for _, o := range orders {
		if err := b.Apply(o); err != nil {
			return nil, err
		}
	}
	return b, nil
}
