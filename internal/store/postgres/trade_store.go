package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelhorn/tradewarden/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, direction, strategy_tag, entry_price, stop_loss,
	take_profit, lot_size, open_time, close_time, close_price, pnl,
	status, broker_order_id, broker_position_id, risk_amount, risk_reward_ratio, notes`

func scanTradeRow(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var direction, status string

	err := row.Scan(
		&t.ID, &t.Symbol, &direction, &t.StrategyTag,
		&t.EntryPrice, &t.StopLoss, &t.TakeProfit, &t.LotSize,
		&t.OpenTime, &t.CloseTime, &t.ClosePrice, &t.PnL,
		&status, &t.BrokerOrderID, &t.BrokerPositionID,
		&t.RiskAmount, &t.RiskRewardRatio, &t.Notes,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Direction = domain.Direction(direction)
	t.Status = domain.TradeStatus(status)
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTradeRow(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Create inserts a new trade.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, symbol, direction, strategy_tag, entry_price, stop_loss,
			take_profit, lot_size, open_time, close_time, close_price, pnl,
			status, broker_order_id, broker_position_id, risk_amount,
			risk_reward_ratio, notes, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Symbol, string(t.Direction), t.StrategyTag,
		t.EntryPrice, t.StopLoss, t.TakeProfit, t.LotSize,
		t.OpenTime, t.CloseTime, t.ClosePrice, t.PnL,
		string(t.Status), t.BrokerOrderID, t.BrokerPositionID,
		t.RiskAmount, t.RiskRewardRatio, t.Notes,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a trade.
func (s *TradeStore) Update(ctx context.Context, t domain.Trade) error {
	const query = `
		UPDATE trades SET
			symbol             = $2,
			direction          = $3,
			strategy_tag       = $4,
			entry_price        = $5,
			stop_loss          = $6,
			take_profit        = $7,
			lot_size           = $8,
			close_time         = $9,
			close_price        = $10,
			pnl                = $11,
			status             = $12,
			broker_order_id    = $13,
			broker_position_id = $14,
			risk_amount        = $15,
			risk_reward_ratio  = $16,
			notes              = $17,
			updated_at         = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		t.ID, t.Symbol, string(t.Direction), t.StrategyTag,
		t.EntryPrice, t.StopLoss, t.TakeProfit, t.LotSize,
		t.CloseTime, t.ClosePrice, t.PnL,
		string(t.Status), t.BrokerOrderID, t.BrokerPositionID,
		t.RiskAmount, t.RiskRewardRatio, t.Notes,
	)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateNotes overwrites only the notes scratch space.
func (s *TradeStore) UpdateNotes(ctx context.Context, id string, notes string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trades SET notes = $2, updated_at = NOW() WHERE id = $1`, id, notes)
	if err != nil {
		return fmt.Errorf("postgres: update notes %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close marks a trade CLOSED. The WHERE status guard makes close idempotent
// and keeps status transitions monotonic. A non-empty Reason is appended to
// the notes so an unknown-price close is explicit rather than fabricated.
func (s *TradeStore) Close(ctx context.Context, id string, close domain.TradeClose) error {
	const query = `
		UPDATE trades SET
			status      = 'CLOSED',
			close_price = $2,
			pnl         = $3,
			close_time  = $4,
			notes       = CASE WHEN $5 = '' THEN notes
			                   ELSE COALESCE(notes || ' | ', '') || $5 END,
			updated_at  = NOW()
		WHERE id = $1 AND status = 'OPEN'`

	tag, err := s.pool.Exec(ctx, query, id, close.Price, close.PnL, close.Time, close.Reason)
	if err != nil {
		return fmt.Errorf("postgres: close trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single trade.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)

	t, err := scanTradeRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// GetOpenByBrokerPositionID returns the single OPEN trade for a broker
// position id.
func (s *TradeStore) GetOpenByBrokerPositionID(ctx context.Context, positionID string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE broker_position_id = $1 AND status = 'OPEN'`, positionID)

	t, err := scanTradeRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get open trade for position %s: %w", positionID, err)
	}
	return t, nil
}

// GetByBrokerPositionID returns the most recent trade for a broker position
// id regardless of status.
func (s *TradeStore) GetByBrokerPositionID(ctx context.Context, positionID string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE broker_position_id = $1
		 ORDER BY open_time DESC LIMIT 1`, positionID)

	t, err := scanTradeRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade for position %s: %w", positionID, err)
	}
	return t, nil
}

// ListOpen returns all OPEN trades, newest first.
func (s *TradeStore) ListOpen(ctx context.Context) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE status = 'OPEN' ORDER BY open_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open trades: %w", err)
	}
	return trades, nil
}

// ListClosedSince returns CLOSED trades whose close time is at or after since.
func (s *TradeStore) ListClosedSince(ctx context.Context, since time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE status = 'CLOSED' AND close_time >= $1
		 ORDER BY close_time DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades: %w", err)
	}
	return trades, nil
}

// ListHistory returns trades with pagination and optional time filtering.
func (s *TradeStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE TRUE`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND open_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND open_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY open_time DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade history: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade history: %w", err)
	}
	return trades, nil
}

// SumLossSince sums absolute losses over CLOSED trades since the given time.
func (s *TradeStore) SumLossSince(ctx context.Context, since time.Time) (float64, error) {
	var loss float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(-pnl), 0) FROM trades
		 WHERE status = 'CLOSED' AND pnl < 0 AND close_time >= $1`, since,
	).Scan(&loss)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum loss: %w", err)
	}
	return loss, nil
}

// CountOpen counts OPEN trades.
func (s *TradeStore) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE status = 'OPEN'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open trades: %w", err)
	}
	return n, nil
}

// CountOpenBySymbol counts OPEN trades on a symbol.
func (s *TradeStore) CountOpenBySymbol(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE status = 'OPEN' AND symbol = $1`, symbol).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open trades for %s: %w", symbol, err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
