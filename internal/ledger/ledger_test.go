package ledger

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelhorn/tradewarden/internal/domain"
	"github.com/avelhorn/tradewarden/internal/risk"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memTradeStore is an in-memory domain.TradeStore with the same monotonic
// close guarantee as the real one.
type memTradeStore struct {
	trades map[string]domain.Trade
}

func newMemTradeStore() *memTradeStore {
	return &memTradeStore{trades: make(map[string]domain.Trade)}
}

func (s *memTradeStore) Create(_ context.Context, t domain.Trade) error {
	if _, ok := s.trades[t.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.trades[t.ID] = t
	return nil
}

func (s *memTradeStore) Update(_ context.Context, t domain.Trade) error {
	if _, ok := s.trades[t.ID]; !ok {
		return domain.ErrNotFound
	}
	s.trades[t.ID] = t
	return nil
}

func (s *memTradeStore) UpdateNotes(_ context.Context, id string, notes string) error {
	t, ok := s.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Notes = &notes
	s.trades[id] = t
	return nil
}

func (s *memTradeStore) Close(_ context.Context, id string, close domain.TradeClose) error {
	t, ok := s.trades[id]
	if !ok || t.Status != domain.TradeStatusOpen {
		return domain.ErrNotFound
	}
	t.Status = domain.TradeStatusClosed
	ct := close.Time
	t.CloseTime = &ct
	t.ClosePrice = close.Price
	t.PnL = close.PnL
	if close.Reason != "" {
		reason := close.Reason
		if t.Notes != nil {
			reason = *t.Notes + " | " + close.Reason
		}
		t.Notes = &reason
	}
	s.trades[id] = t
	return nil
}

func (s *memTradeStore) GetByID(_ context.Context, id string) (domain.Trade, error) {
	t, ok := s.trades[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *memTradeStore) GetOpenByBrokerPositionID(_ context.Context, positionID string) (domain.Trade, error) {
	for _, t := range s.trades {
		if t.BrokerPositionID != nil && *t.BrokerPositionID == positionID && t.IsOpen() {
			return t, nil
		}
	}
	return domain.Trade{}, domain.ErrNotFound
}

func (s *memTradeStore) GetByBrokerPositionID(_ context.Context, positionID string) (domain.Trade, error) {
	var (
		found bool
		best  domain.Trade
	)
	for _, t := range s.trades {
		if t.BrokerPositionID == nil || *t.BrokerPositionID != positionID {
			continue
		}
		if !found || t.OpenTime.After(best.OpenTime) {
			best = t
			found = true
		}
	}
	if !found {
		return domain.Trade{}, domain.ErrNotFound
	}
	return best, nil
}

func (s *memTradeStore) ListOpen(context.Context) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range s.trades {
		if t.IsOpen() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memTradeStore) ListClosedSince(_ context.Context, since time.Time) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range s.trades {
		if t.Status == domain.TradeStatusClosed && t.CloseTime != nil && !t.CloseTime.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTradeStore) ListHistory(_ context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range s.trades {
		if opts.Since != nil && t.OpenTime.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && t.OpenTime.After(*opts.Until) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.After(out[j].OpenTime) })
	return out, nil
}

func (s *memTradeStore) SumLossSince(_ context.Context, since time.Time) (float64, error) {
	var loss float64
	for _, t := range s.trades {
		if t.Status != domain.TradeStatusClosed || t.PnL == nil || t.CloseTime == nil {
			continue
		}
		if t.CloseTime.Before(since) {
			continue
		}
		if *t.PnL < 0 {
			loss += -*t.PnL
		}
	}
	return loss, nil
}

func (s *memTradeStore) CountOpen(ctx context.Context) (int, error) {
	open, _ := s.ListOpen(ctx)
	return len(open), nil
}

func (s *memTradeStore) CountOpenBySymbol(ctx context.Context, symbol string) (int, error) {
	open, _ := s.ListOpen(ctx)
	n := 0
	for _, t := range open {
		if t.Symbol == symbol {
			n++
		}
	}
	return n, nil
}

var _ domain.TradeStore = (*memTradeStore)(nil)

func newTestLedger(store domain.TradeStore, cfg Config) *Ledger {
	breaker := risk.NewDrawdownBreaker(risk.DrawdownConfig{
		StartBalance:   10000,
		MaxLossPercent: 6,
		Window:         12 * time.Hour,
	}, nil, testLogger())
	return New(store, breaker, nil, nil, cfg, testLogger())
}

func openTrade(id, posID, symbol string, dir domain.Direction) domain.Trade {
	pid := posID
	return domain.Trade{
		ID:               id,
		Symbol:           symbol,
		Direction:        dir,
		StrategyTag:      "alpha",
		EntryPrice:       100,
		StopLoss:         90,
		LotSize:          1,
		OpenTime:         time.Now().UTC().Add(-time.Hour),
		Status:           domain.TradeStatusOpen,
		BrokerPositionID: &pid,
	}
}

func TestRecordTrade_AssignsIDAndStatus(t *testing.T) {
	store := newMemTradeStore()
	l := newTestLedger(store, Config{})

	rec, err := l.RecordTrade(context.Background(), domain.Trade{
		Symbol: "XAUUSD", Direction: domain.DirectionBuy, EntryPrice: 2000, StopLoss: 1990, LotSize: 1,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, domain.TradeStatusOpen, rec.Status)
	assert.False(t, rec.OpenTime.IsZero())
}

func TestRecordTrade_RejectsSecondOpenPerPosition(t *testing.T) {
	store := newMemTradeStore()
	l := newTestLedger(store, Config{})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, openTrade("t1", "pos-1", "XAUUSD", domain.DirectionBuy)))

	pid := "pos-1"
	_, err := l.RecordTrade(ctx, domain.Trade{
		Symbol: "XAUUSD", Direction: domain.DirectionBuy, BrokerPositionID: &pid,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCloseTrade_ComputesPnLAndIsIdempotent(t *testing.T) {
	store := newMemTradeStore()
	l := newTestLedger(store, Config{})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, openTrade("t1", "pos-1", "XAUUSD", domain.DirectionBuy)))

	at := time.Now().UTC()
	require.NoError(t, l.CloseTrade(ctx, "t1", 110, at))

	got, err := store.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, got.Status)
	require.NotNil(t, got.PnL)
	assert.InDelta(t, 10, *got.PnL, 1e-9)

	// Closing again is a no-op, not an error.
	require.NoError(t, l.CloseTrade(ctx, "t1", 120, at))
	got, _ = store.GetByID(ctx, "t1")
	assert.InDelta(t, 10, *got.PnL, 1e-9)
}

func TestCloseTradeFromBroker_UnknownPositionIsSkipped(t *testing.T) {
	store := newMemTradeStore()
	l := newTestLedger(store, Config{})

	err := l.CloseTradeFromBroker(context.Background(), "never-seen", 100, 5, time.Now().UTC())
	assert.NoError(t, err)
}

func TestCloseTradeFromBroker_LossFeedsCircuitBreaker(t *testing.T) {
	store := newMemTradeStore()
	l := newTestLedger(store, Config{})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, openTrade("t1", "pos-1", "XAUUSD", domain.DirectionBuy)))

	require.NoError(t, l.CloseTradeFromBroker(ctx, "pos-1", 90, -700, time.Now().UTC()))

	// A 700 loss breaches the 600 threshold.
	assert.True(t, l.IsSymbolLocked("XAUUSD"))
	err := l.CanOpenTrade(ctx, "XAUUSD", domain.DirectionBuy)
	assert.ErrorIs(t, err, domain.ErrTradingLocked)
}

func TestCanOpenTrade_MaxOpenTrades(t *testing.T) {
	store := newMemTradeStore()
	l := newTestLedger(store, Config{MaxOpenTrades: 2})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, openTrade("t1", "p1", "XAUUSD", domain.DirectionBuy)))
	require.NoError(t, store.Create(ctx, openTrade("t2", "p2", "EURUSD", domain.DirectionBuy)))

	err := l.CanOpenTrade(ctx, "GBPUSD", domain.DirectionBuy)
	assert.ErrorIs(t, err, domain.ErrTradeLimitReached)
}

func TestCanOpenTrade_MaxPerSymbol(t *testing.T) {
	store := newMemTradeStore()
	l := newTestLedger(store, Config{MaxOpenTrades: 10, MaxPerSymbol: 1})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, openTrade("t1", "p1", "XAUUSD", domain.DirectionBuy)))

	assert.ErrorIs(t, l.CanOpenTrade(ctx, "XAUUSD", domain.DirectionBuy), domain.ErrTradeLimitReached)
	assert.NoError(t, l.CanOpenTrade(ctx, "EURUSD", domain.DirectionBuy))
}

func TestCanOpenTrade_BlocksOppositeDirection(t *testing.T) {
	store := newMemTradeStore()
	l := newTestLedger(store, Config{BlockOppositeDirection: true})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, openTrade("t1", "p1", "XAUUSD", domain.DirectionBuy)))

	assert.ErrorIs(t, l.CanOpenTrade(ctx, "XAUUSD", domain.DirectionSell), domain.ErrContradictingTrade)
	assert.NoError(t, l.CanOpenTrade(ctx, "XAUUSD", domain.DirectionBuy))
}

func TestCanOpenTrade_TrailingWindowLossCeiling(t *testing.T) {
	store := newMemTradeStore()
	l := newTestLedger(store, Config{MaxWindowLoss: 500, LossWindow: 12 * time.Hour})
	ctx := context.Background()

	// A closed loss inside the window, persisted rather than in-memory, so
	// the ceiling holds across restarts.
	tr := openTrade("t1", "p1", "XAUUSD", domain.DirectionBuy)
	require.NoError(t, store.Create(ctx, tr))
	pnl := -600.0
	price := 90.0
	require.NoError(t, store.Close(ctx, "t1", domain.TradeClose{Price: &price, PnL: &pnl, Time: time.Now().UTC()}))

	err := l.CanOpenTrade(ctx, "EURUSD", domain.DirectionBuy)
	assert.ErrorIs(t, err, domain.ErrTradingLocked)
}

func TestCanOpenTrade_OldLossesOutsideWindowIgnored(t *testing.T) {
	store := newMemTradeStore()
	l := newTestLedger(store, Config{MaxWindowLoss: 500, LossWindow: 12 * time.Hour})
	ctx := context.Background()

	tr := openTrade("t1", "p1", "XAUUSD", domain.DirectionBuy)
	require.NoError(t, store.Create(ctx, tr))
	pnl := -600.0
	price := 90.0
	require.NoError(t, store.Close(ctx, "t1", domain.TradeClose{
		Price: &price, PnL: &pnl, Time: time.Now().UTC().Add(-13 * time.Hour),
	}))

	assert.NoError(t, l.CanOpenTrade(ctx, "EURUSD", domain.DirectionBuy))
}
