package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelhorn/tradewarden/internal/domain"
)

// DrawdownStore implements domain.DrawdownStore using PostgreSQL.
type DrawdownStore struct {
	pool *pgxpool.Pool
}

// NewDrawdownStore creates a new DrawdownStore backed by the given pool.
func NewDrawdownStore(pool *pgxpool.Pool) *DrawdownStore {
	return &DrawdownStore{pool: pool}
}

// Upsert writes a drawdown window keyed by scope, creating it when absent.
func (s *DrawdownStore) Upsert(ctx context.Context, w domain.DrawdownWindow) error {
	const query = `
		INSERT INTO drawdown_windows (
			scope, start_balance, cumulative_loss, window_start, locked_until, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (scope) DO UPDATE SET
			start_balance   = EXCLUDED.start_balance,
			cumulative_loss = EXCLUDED.cumulative_loss,
			window_start    = EXCLUDED.window_start,
			locked_until    = EXCLUDED.locked_until,
			updated_at      = NOW()`

	_, err := s.pool.Exec(ctx, query,
		w.Scope, w.StartBalance, w.CumulativeLoss, w.WindowStart, w.LockedUntil)
	if err != nil {
		return fmt.Errorf("postgres: upsert drawdown window %s: %w", w.Scope, err)
	}
	return nil
}

// Get retrieves one window by scope.
func (s *DrawdownStore) Get(ctx context.Context, scope string) (domain.DrawdownWindow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT scope, start_balance, cumulative_loss, window_start, locked_until, updated_at
		 FROM drawdown_windows WHERE scope = $1`, scope)

	var w domain.DrawdownWindow
	err := row.Scan(&w.Scope, &w.StartBalance, &w.CumulativeLoss, &w.WindowStart, &w.LockedUntil, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DrawdownWindow{}, domain.ErrNotFound
		}
		return domain.DrawdownWindow{}, fmt.Errorf("postgres: get drawdown window %s: %w", scope, err)
	}
	return w, nil
}

// List returns all tracked windows.
func (s *DrawdownStore) List(ctx context.Context) ([]domain.DrawdownWindow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT scope, start_balance, cumulative_loss, window_start, locked_until, updated_at
		 FROM drawdown_windows ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list drawdown windows: %w", err)
	}
	defer rows.Close()

	var windows []domain.DrawdownWindow
	for rows.Next() {
		var w domain.DrawdownWindow
		if err := rows.Scan(&w.Scope, &w.StartBalance, &w.CumulativeLoss, &w.WindowStart, &w.LockedUntil, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan drawdown window: %w", err)
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// Compile-time interface check.
var _ domain.DrawdownStore = (*DrawdownStore)(nil)
