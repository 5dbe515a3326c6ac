// Package memory implements the domain store interfaces in process memory.
// It backs the "memory" store driver for local development and gives service
// tests real transactional semantics without a database: RunTx stages all
// mutations on a copy of the state and swaps it in atomically on commit, so
// a failed operation leaves no partial effect.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openforecast/predictd/internal/domain"
)

// Store is a mutex-guarded in-memory implementation of the market, order,
// profile and audit stores plus the transaction runner.
type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	markets  map[string]domain.Market
	orders   []domain.Order
	profiles map[string]domain.Profile
	audit    []domain.AuditEntry
	auditSeq int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{state: &state{
		markets:  make(map[string]domain.Market),
		profiles: make(map[string]domain.Profile),
	}}
}

func (s *state) clone() *state {
	cp := &state{
		markets:  make(map[string]domain.Market, len(s.markets)),
		orders:   make([]domain.Order, len(s.orders)),
		profiles: make(map[string]domain.Profile, len(s.profiles)),
		audit:    make([]domain.AuditEntry, len(s.audit)),
		auditSeq: s.auditSeq,
	}
	for k, v := range s.markets {
		cp.markets[k] = v
	}
	copy(cp.orders, s.orders)
	for k, v := range s.profiles {
		cp.profiles[k] = v
	}
	copy(cp.audit, s.audit)
	return cp
}

// RunTx implements domain.TxRunner. The whole store serializes on one mutex,
// which trivially satisfies the isolation the engine needs.
func (s *Store) RunTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(&tx{st: staged}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

type tx struct {
	st *state
}

func (t *tx) Markets() domain.MarketTx   { return &marketView{st: t.st} }
func (t *tx) Orders() domain.OrderTx     { return &orderView{st: t.st} }
func (t *tx) Profiles() domain.ProfileTx { return &profileView{st: t.st} }

// --- markets ---

type marketView struct {
	st *state
}

// Markets returns the non-transactional market store view.
func (s *Store) Markets() domain.MarketStore { return &lockedMarkets{s: s} }

type lockedMarkets struct {
	s *Store
}

func (l *lockedMarkets) Create(ctx context.Context, m domain.Market) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return (&marketView{st: l.s.state}).create(m)
}

func (l *lockedMarkets) GetByID(ctx context.Context, id string) (domain.Market, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return (&marketView{st: l.s.state}).get(id)
}

func (l *lockedMarkets) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	var out []domain.Market
	for _, m := range l.s.state.markets {
		if m.Status == status {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

func (l *lockedMarkets) ListExpired(ctx context.Context, now time.Time) ([]domain.Market, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	var out []domain.Market
	for _, m := range l.s.state.markets {
		if m.Status == domain.MarketStatusOpen && !m.ClosingDate.After(now) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosingDate.Before(out[j].ClosingDate) })
	return out, nil
}

func (l *lockedMarkets) UpdateStatus(ctx context.Context, id string, from, to domain.MarketStatus) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return (&marketView{st: l.s.state}).UpdateStatus(ctx, id, from, to)
}

func (v *marketView) create(m domain.Market) error {
	v.st.markets[m.ID] = m
	return nil
}

func (v *marketView) get(id string) (domain.Market, error) {
	m, ok := v.st.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (v *marketView) GetForUpdate(ctx context.Context, id string) (domain.Market, error) {
	return v.get(id)
}

func (v *marketView) Update(ctx context.Context, m domain.Market) error {
	if _, ok := v.st.markets[m.ID]; !ok {
		return domain.ErrNotFound
	}
	m.UpdatedAt = time.Now().UTC()
	v.st.markets[m.ID] = m
	return nil
}

func (v *marketView) UpdateStatus(ctx context.Context, id string, from, to domain.MarketStatus) error {
	m, ok := v.st.markets[id]
	if !ok || m.Status != from {
		return domain.ErrNotFound
	}
	m.Status = to
	m.UpdatedAt = time.Now().UTC()
	v.st.markets[id] = m
	return nil
}

func (v *marketView) SetResolved(ctx context.Context, id string, outcome bool) error {
	m, ok := v.st.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if m.ResolvedValue != nil {
		return domain.ErrAlreadyResolved
	}
	m.ResolvedValue = &outcome
	m.Status = domain.MarketStatusResolved
	m.UpdatedAt = time.Now().UTC()
	v.st.markets[id] = m
	return nil
}

// --- orders ---

type orderView struct {
	st *state
}

// Orders returns the non-transactional order store view.
func (s *Store) Orders() domain.OrderStore { return &lockedOrders{s: s} }

type lockedOrders struct {
	s *Store
}

func (l *lockedOrders) Create(ctx context.Context, o domain.Order) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return (&orderView{st: l.s.state}).Create(ctx, o)
}

func (l *lockedOrders) GetByID(ctx context.Context, id string) (domain.Order, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for _, o := range l.s.state.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (l *lockedOrders) ListFilledByMarket(ctx context.Context, marketID string) ([]domain.Order, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return (&orderView{st: l.s.state}).ListFilledByMarket(ctx, marketID)
}

func (l *lockedOrders) ListFilledByUser(ctx context.Context, marketID, userID string) ([]domain.Order, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return (&orderView{st: l.s.state}).ListFilledByUser(ctx, marketID, userID)
}

func (v *orderView) Create(ctx context.Context, o domain.Order) error {
	v.st.orders = append(v.st.orders, o)
	return nil
}

func (v *orderView) ListFilledByMarket(ctx context.Context, marketID string) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range v.st.orders {
		if o.MarketID == marketID && o.Status == domain.OrderStatusFilled {
			out = append(out, o)
		}
	}
	return out, nil
}

func (v *orderView) ListFilledByUser(ctx context.Context, marketID, userID string) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range v.st.orders {
		if o.MarketID == marketID && o.UserID == userID && o.Status == domain.OrderStatusFilled {
			out = append(out, o)
		}
	}
	return out, nil
}

// --- profiles ---

type profileView struct {
	st *state
}

// Profiles returns the non-transactional profile store view.
func (s *Store) Profiles() domain.ProfileStore { return &lockedProfiles{s: s} }

type lockedProfiles struct {
	s *Store
}

func (l *lockedProfiles) GetOrCreate(ctx context.Context, id string, initialBalance int64) (domain.Profile, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return (&profileView{st: l.s.state}).GetOrCreate(ctx, id, initialBalance)
}

func (l *lockedProfiles) GetByID(ctx context.Context, id string) (domain.Profile, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	p, ok := l.s.state.profiles[id]
	if !ok {
		return domain.Profile{}, domain.ErrNotFound
	}
	return p, nil
}

func (l *lockedProfiles) Credit(ctx context.Context, id string, delta int64) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return (&profileView{st: l.s.state}).Credit(ctx, id, delta)
}

func (v *profileView) GetOrCreate(ctx context.Context, id string, initialBalance int64) (domain.Profile, error) {
	if p, ok := v.st.profiles[id]; ok {
		return p, nil
	}
	p := domain.Profile{ID: id, Balance: initialBalance, UpdatedAt: time.Now().UTC()}
	v.st.profiles[id] = p
	return p, nil
}

func (v *profileView) Credit(ctx context.Context, id string, delta int64) error {
	p, ok := v.st.profiles[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Balance+delta < 0 {
		return domain.ErrInsufficientBalance
	}
	p.Balance += delta
	p.UpdatedAt = time.Now().UTC()
	v.st.profiles[id] = p
	return nil
}

// --- audit ---

// Audit returns the in-memory audit store.
func (s *Store) Audit() domain.AuditStore { return &lockedAudit{s: s} }

type lockedAudit struct {
	s *Store
}

func (l *lockedAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	st := l.s.state
	st.auditSeq++
	st.audit = append(st.audit, domain.AuditEntry{
		ID:        st.auditSeq,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (l *lockedAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	entries := make([]domain.AuditEntry, len(l.s.state.audit))
	copy(entries, l.s.state.audit)
	// Newest first, matching the SQL store.
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })
	return paginate(entries, opts), nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

var (
	_ domain.TxRunner = (*Store)(nil)
)
