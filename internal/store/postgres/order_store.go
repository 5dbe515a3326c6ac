package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openforecast/predictd/internal/domain"
)

// OrderStore implements domain.OrderStore and domain.OrderTx using
// PostgreSQL. Filled orders are append-only; nothing here updates them.
type OrderStore struct {
	db querier
}

// NewOrderStore creates an OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{db: pool}
}

const orderCols = `id, market_id, user_id, side, position, price,
	amount, filled_amount, status, created_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var side, position, status string
	err := row.Scan(
		&o.ID, &o.MarketID, &o.UserID, &side, &position, &o.Price,
		&o.Amount, &o.FilledAmount, &status, &o.CreatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Position = domain.Outcome(position)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// Create appends an order to the log.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, market_id, user_id, side, position, price,
			amount, filled_amount, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.Exec(ctx, query,
		o.ID, o.MarketID, o.UserID, string(o.Side), string(o.Position), o.Price,
		o.Amount, o.FilledAmount, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// GetByID retrieves a single order.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListFilledByMarket returns every filled order for a market in creation
// order.
func (s *OrderStore) ListFilledByMarket(ctx context.Context, marketID string) ([]domain.Order, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE market_id = $1 AND status = $2
		 ORDER BY created_at, id`,
		marketID, string(domain.OrderStatusFilled),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list filled orders for market %s: %w", marketID, err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// ListFilledByUser returns one user's filled orders for a market in creation
// order, the replay input for the FIFO lot ledger.
func (s *OrderStore) ListFilledByUser(ctx context.Context, marketID, userID string) ([]domain.Order, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE market_id = $1 AND user_id = $2 AND status = $3
		 ORDER BY created_at, id`,
		marketID, userID, string(domain.OrderStatusFilled),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list filled orders for user %s: %w", userID, err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
