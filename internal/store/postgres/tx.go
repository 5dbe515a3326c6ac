package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openforecast/predictd/internal/domain"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same store code serves both standalone and transactional access.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner implements domain.TxRunner with serializable transactions.
// Order execution and settlement are read-modify-write over shared market and
// balance rows; serializable isolation plus retry is what makes concurrent
// placements safe without a global lock.
type TxRunner struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

// NewTxRunner creates a TxRunner on the given pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool, maxAttempts: 5}
}

// RunTx runs fn inside a serializable transaction, retrying on serialization
// failures (SQLSTATE 40001) and deadlocks (40P01) with a short backoff. Any
// other error from fn rolls back and is returned unchanged so callers can
// inspect domain sentinels.
func (r *TxRunner) RunTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
			}
		}

		err := r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("postgres: tx retries exhausted: %w", lastErr)
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&storeTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// storeTx adapts a pgx.Tx to the domain.Tx store bundle.
type storeTx struct {
	tx pgx.Tx
}

func (t *storeTx) Markets() domain.MarketTx   { return &MarketStore{db: t.tx} }
func (t *storeTx) Orders() domain.OrderTx     { return &OrderStore{db: t.tx} }
func (t *storeTx) Profiles() domain.ProfileTx { return &ProfileStore{db: t.tx} }

// Compile-time interface check.
var _ domain.TxRunner = (*TxRunner)(nil)
