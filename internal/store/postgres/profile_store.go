package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openforecast/predictd/internal/domain"
)

// ProfileStore implements domain.ProfileStore and domain.ProfileTx using
// PostgreSQL.
type ProfileStore struct {
	db querier
}

// NewProfileStore creates a ProfileStore backed by the given connection pool.
func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{db: pool}
}

func scanProfile(row pgx.Row) (domain.Profile, error) {
	var p domain.Profile
	err := row.Scan(&p.ID, &p.Balance, &p.UpdatedAt)
	return p, err
}

// GetByID retrieves a profile.
func (s *ProfileStore) GetByID(ctx context.Context, id string) (domain.Profile, error) {
	row := s.db.QueryRow(ctx, `SELECT id, balance, updated_at FROM profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Profile{}, domain.ErrNotFound
		}
		return domain.Profile{}, fmt.Errorf("postgres: get profile %s: %w", id, err)
	}
	return p, nil
}

// GetOrCreate returns the profile, lazily provisioning it with the starting
// balance on first contact.
func (s *ProfileStore) GetOrCreate(ctx context.Context, id string, initialBalance int64) (domain.Profile, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO profiles (id, balance) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, initialBalance,
	)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("postgres: provision profile %s: %w", id, err)
	}
	return s.GetByID(ctx, id)
}

// Credit atomically adjusts the balance by delta ticks. The balance check
// constraint backs up the service-level validation: a debit below zero is
// reported as insufficient balance.
func (s *ProfileStore) Credit(ctx context.Context, id string, delta int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE profiles SET balance = balance + $2, updated_at = NOW() WHERE id = $1`,
		id, delta,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" { // check_violation
			return domain.ErrInsufficientBalance
		}
		return fmt.Errorf("postgres: credit profile %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
