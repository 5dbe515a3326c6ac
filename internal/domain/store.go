package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists markets.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	// ListExpired returns open markets whose closing date is at or before now.
	ListExpired(ctx context.Context, now time.Time) ([]Market, error)
	UpdateStatus(ctx context.Context, id string, from, to MarketStatus) error
}

// OrderStore persists the append-only order log.
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	// ListFilledByMarket returns every filled order for a market in creation
	// order. Settlement pool math is derived from this list.
	ListFilledByMarket(ctx context.Context, marketID string) ([]Order, error)
	// ListFilledByUser returns a user's filled orders for a market in creation
	// order, the replay input for the FIFO position ledger.
	ListFilledByUser(ctx context.Context, marketID, userID string) ([]Order, error)
}

// ProfileStore persists user balances.
type ProfileStore interface {
	// GetOrCreate returns the profile for id, lazily provisioning one with
	// the given starting balance on first contact.
	GetOrCreate(ctx context.Context, id string, initialBalance int64) (Profile, error)
	GetByID(ctx context.Context, id string) (Profile, error)
	// Credit atomically adds delta ticks to the balance. Negative deltas
	// debit; the store rejects a debit below zero.
	Credit(ctx context.Context, id string, delta int64) error
}

// Tx bundles the stores participating in one atomic operation. Every
// mutation made through a Tx commits together or not at all.
type Tx interface {
	Markets() MarketTx
	Orders() OrderTx
	Profiles() ProfileTx
}

// MarketTx is the transactional view of the market store.
type MarketTx interface {
	// GetForUpdate reads the market and locks it against concurrent
	// read-modify-write of its probabilities and volume.
	GetForUpdate(ctx context.Context, id string) (Market, error)
	Update(ctx context.Context, m Market) error
	UpdateStatus(ctx context.Context, id string, from, to MarketStatus) error
	SetResolved(ctx context.Context, id string, outcome bool) error
}

// OrderTx is the transactional view of the order log.
type OrderTx interface {
	Create(ctx context.Context, o Order) error
	ListFilledByMarket(ctx context.Context, marketID string) ([]Order, error)
	ListFilledByUser(ctx context.Context, marketID, userID string) ([]Order, error)
}

// ProfileTx is the transactional view of the profile store.
type ProfileTx interface {
	GetOrCreate(ctx context.Context, id string, initialBalance int64) (Profile, error)
	Credit(ctx context.Context, id string, delta int64) error
}

// TxRunner executes fn inside one atomic transaction. Implementations retry
// fn on serialization conflicts, so fn must be safe to run more than once
// and must keep all its side effects inside the Tx.
type TxRunner interface {
	RunTx(ctx context.Context, fn func(tx Tx) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
