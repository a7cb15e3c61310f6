package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyclaw/internal/domain"
)

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)

// PositionStore implements domain.PositionStore using PostgreSQL. Status
// changes lock the row, so the forward-only rule holds across processes.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `position_id, market_id, condition_id, question, side,
	token_id, entry_time, entry_amount, entry_price, split_tx,
	clob_order_id, clob_filled, status, notes`

func scanPosition(row pgx.Row) (domain.PositionRecord, error) {
	var r domain.PositionRecord
	var side, status string
	err := row.Scan(
		&r.PositionID, &r.MarketID, &r.ConditionID, &r.Question, &side,
		&r.TokenID, &r.EntryTime, &r.EntryAmount, &r.EntryPrice, &r.SplitTx,
		&r.ClobOrderID, &r.ClobFilled, &status, &r.Notes,
	)
	if err != nil {
		return domain.PositionRecord{}, err
	}
	r.Position = domain.Side(side)
	r.Status = domain.PositionStatus(status)
	return r, nil
}

func (s *PositionStore) list(ctx context.Context, where string, args ...any) ([]domain.PositionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	out := []domain.PositionRecord{}
	for rows.Next() {
		r, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadAll returns every record in insertion order.
func (s *PositionStore) LoadAll(ctx context.Context) ([]domain.PositionRecord, error) {
	return s.list(ctx, "")
}

// GetByMarket returns all records for a market.
func (s *PositionStore) GetByMarket(ctx context.Context, marketID string) ([]domain.PositionRecord, error) {
	return s.list(ctx, "WHERE market_id = $1", marketID)
}

// GetOpen returns records still in status open.
func (s *PositionStore) GetOpen(ctx context.Context) ([]domain.PositionRecord, error) {
	return s.list(ctx, "WHERE status = 'open'")
}

// Get retrieves a single record.
func (s *PositionStore) Get(ctx context.Context, id string) (domain.PositionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE position_id = $1`, id)
	r, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PositionRecord{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PositionRecord{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return r, nil
}

// Count returns the number of stored records.
func (s *PositionStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM positions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count positions: %w", err)
	}
	return n, nil
}

// Add inserts a validated record.
func (s *PositionStore) Add(ctx context.Context, r domain.PositionRecord) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("postgres: add: %w", err)
	}
	const query = `
		INSERT INTO positions (
			position_id, market_id, condition_id, question, side,
			token_id, entry_time, entry_amount, entry_price, split_tx,
			clob_order_id, clob_filled, status, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.pool.Exec(ctx, query,
		r.PositionID, r.MarketID, r.ConditionID, r.Question, string(r.Position),
		r.TokenID, r.EntryTime, r.EntryAmount, r.EntryPrice, r.SplitTx,
		r.ClobOrderID, r.ClobFilled, string(r.Status), r.Notes,
	)
	return insertError(r.PositionID, err)
}

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

func insertError(id string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("postgres: position %s: %w", id, domain.ErrAlreadyExists)
	}
	return fmt.Errorf("postgres: add position %s: %w", id, err)
}

// statusChange decides what UpdateStatus does with the locked row: write
// reports whether an UPDATE is needed. A missing row is ErrNotFound.
func statusChange(id string, lockErr error, current string, next domain.PositionStatus) (write bool, err error) {
	if errors.Is(lockErr, pgx.ErrNoRows) {
		return false, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
	}
	if lockErr != nil {
		return false, fmt.Errorf("postgres: lock position %s: %w", id, lockErr)
	}
	from := domain.PositionStatus(current)
	if !domain.CanTransition(from, next) {
		return false, fmt.Errorf("postgres: position %s %s -> %s: %w", id, from, next, domain.ErrInvalidTransition)
	}
	return from != next, nil
}

// UpdateStatus moves a record forward. The current status is read under
// FOR UPDATE so concurrent writers queue behind each other.
func (s *PositionStore) UpdateStatus(ctx context.Context, id string, status domain.PositionStatus) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var cur string
		lockErr := tx.QueryRow(ctx,
			`SELECT status FROM positions WHERE position_id = $1 FOR UPDATE`, id).Scan(&cur)
		write, err := statusChange(id, lockErr, cur, status)
		if err != nil || !write {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE positions SET status = $2, updated_at = NOW() WHERE position_id = $1`,
			id, string(status)); err != nil {
			return fmt.Errorf("postgres: update status %s: %w", id, err)
		}
		return nil
	})
}

// UpdateNotes replaces the notes of a record.
func (s *PositionStore) UpdateNotes(ctx context.Context, id, notes string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET notes = $2, updated_at = NOW() WHERE position_id = $1`, id, notes)
	if err != nil {
		return fmt.Errorf("postgres: update notes %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Delete removes a record.
func (s *PositionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE position_id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
