package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openforecast/predictd/internal/domain"
)

// MarketStore implements domain.MarketStore and domain.MarketTx using
// PostgreSQL.
type MarketStore struct {
	db querier
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{db: pool}
}

const marketCols = `id, question, creator_id, probability_yes, probability_no,
	total_volume, status, resolved_value, min_amount, max_amount,
	closing_date, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	err := row.Scan(
		&m.ID, &m.Question, &m.CreatorID, &m.ProbabilityYes, &m.ProbabilityNo,
		&m.TotalVolume, &status, &m.ResolvedValue, &m.MinAmount, &m.MaxAmount,
		&m.ClosingDate, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, creator_id, probability_yes, probability_no,
			total_volume, status, resolved_value, min_amount, max_amount,
			closing_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`

	_, err := s.db.Exec(ctx, query,
		m.ID, m.Question, m.CreatorID, m.ProbabilityYes, m.ProbabilityNo,
		m.TotalVolume, string(m.Status), m.ResolvedValue, m.MinAmount, m.MaxAmount,
		m.ClosingDate, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a single market.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.db.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// GetForUpdate reads the market under a row lock so concurrent order
// placements serialize on its probabilities and volume.
func (s *MarketStore) GetForUpdate(ctx context.Context, id string) (domain.Market, error) {
	row := s.db.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1 FOR UPDATE`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s for update: %w", id, err)
	}
	return m, nil
}

// Update writes the mutable aggregate fields back.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets
		SET probability_yes = $2, probability_no = $3, total_volume = $4,
			status = $5, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		m.ID, m.ProbabilityYes, m.ProbabilityNo, m.TotalVolume, string(m.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus transitions the market status only if it currently has the
// expected value. The guarded check-and-set is what makes the
// resolved -> settled transition run at most once.
func (s *MarketStore) UpdateStatus(ctx context.Context, id string, from, to domain.MarketStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE markets SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetResolved records the outcome exactly once.
func (s *MarketStore) SetResolved(ctx context.Context, id string, outcome bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE markets
		 SET resolved_value = $2, status = $3, updated_at = NOW()
		 WHERE id = $1 AND resolved_value IS NULL`,
		id, outcome, string(domain.MarketStatusResolved),
	)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyResolved
	}
	return nil
}

// ListByStatus returns markets in the given status, newest first.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = $1 ORDER BY created_at DESC`
	args := []any{string(status)}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by status: %w", err)
	}
	defer rows.Close()

	return collectMarkets(rows)
}

// ListExpired returns open markets whose closing date has passed.
func (s *MarketStore) ListExpired(ctx context.Context, now time.Time) ([]domain.Market, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+marketCols+` FROM markets WHERE status = $1 AND closing_date <= $2`,
		string(domain.MarketStatusOpen), now,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired markets: %w", err)
	}
	defer rows.Close()

	return collectMarkets(rows)
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}
