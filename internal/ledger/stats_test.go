package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelhorn/tradewarden/internal/domain"
)

func closedTrade(id, strategy string, pnl float64, closedAgo time.Duration) domain.Trade {
	ct := time.Now().UTC().Add(-closedAgo)
	price := 100.0
	return domain.Trade{
		ID:          id,
		Symbol:      "XAUUSD",
		Direction:   domain.DirectionBuy,
		StrategyTag: strategy,
		EntryPrice:  100,
		LotSize:     1,
		OpenTime:    ct.Add(-time.Hour),
		CloseTime:   &ct,
		ClosePrice:  &price,
		PnL:         &pnl,
		Status:      domain.TradeStatusClosed,
	}
}

func TestGetStatistics_AggregatesClosedTrades(t *testing.T) {
	store := newMemTradeStore()
	l := newTestLedger(store, Config{})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, closedTrade("t1", "alpha", 100, time.Hour)))
	require.NoError(t, store.Create(ctx, closedTrade("t2", "alpha", -50, 2*time.Hour)))
	require.NoError(t, store.Create(ctx, closedTrade("t3", "beta", 25, 3*time.Hour)))

	stats, err := l.GetStatistics(ctx, 30)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalTrades)
	assert.Equal(t, 2, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, 75, stats.TotalPnL, 1e-9)
	assert.InDelta(t, 66.666, stats.WinRate, 0.01)
	assert.InDelta(t, 2.5, stats.ProfitFactor, 1e-9) // 125 gross profit / 50 gross loss

	require.Len(t, stats.ByStrategy, 2)
	assert.Equal(t, "alpha", stats.ByStrategy[0].StrategyTag)
	assert.Equal(t, 2, stats.ByStrategy[0].Trades)
	assert.Equal(t, "beta", stats.ByStrategy[1].StrategyTag)
}

func TestGetStatistics_ExcludesUnknownPnL(t *testing.T) {
	store := newMemTradeStore()
	l := newTestLedger(store, Config{})
	ctx := context.Background()

	// Externally-closed trade with no recorded price or pnl.
	tr := openTrade("t1", "p1", "XAUUSD", domain.DirectionBuy)
	require.NoError(t, store.Create(ctx, tr))
	require.NoError(t, store.Close(ctx, "t1", domain.TradeClose{Time: time.Now().UTC(), Reason: ClosedExternallyMarker}))

	stats, err := l.GetStatistics(ctx, 30)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalTrades)
}

func TestGetStatistics_RespectsWindow(t *testing.T) {
	store := newMemTradeStore()
	l := newTestLedger(store, Config{})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, closedTrade("t1", "alpha", 100, time.Hour)))
	require.NoError(t, store.Create(ctx, closedTrade("t2", "alpha", 100, 40*24*time.Hour)))

	stats, err := l.GetStatistics(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalTrades)
}

func TestGetStatus_ReportsOpenTradesAndDrawdown(t *testing.T) {
	store := newMemTradeStore()
	l := newTestLedger(store, Config{})
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, openTrade("t1", "p1", "XAUUSD", domain.DirectionBuy)))
	l.RecordLoss(ctx, "XAUUSD", 700)

	st, err := l.GetStatus(ctx, "live", "breakeven", 3)
	require.NoError(t, err)

	assert.Equal(t, "live", st.Mode)
	assert.Equal(t, "breakeven", st.RiskStrategy)
	assert.Equal(t, 1, st.OpenTrades)
	assert.Equal(t, 3, st.TrackedStates)
	assert.True(t, st.Drawdown.GlobalLocked)
	assert.False(t, st.GeneratedAt.IsZero())
}
