package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/avelhorn/tradewarden/internal/domain"
	"github.com/avelhorn/tradewarden/internal/metrics"
)

// GetStatistics computes win rate, profit factor and the per-strategy
// breakdown over the trailing number of days, purely from persisted CLOSED
// trades.
func (l *Ledger) GetStatistics(ctx context.Context, days int) (domain.Statistics, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	closed, err := l.trades.ListClosedSince(ctx, since)
	if err != nil {
		return domain.Statistics{}, fmt.Errorf("trade_ledger: list closed since %s: %w", since.Format(time.RFC3339), err)
	}

	stats := domain.Statistics{Days: days}
	byStrategy := make(map[string]*domain.StrategyStats)

	for _, t := range closed {
		if t.PnL == nil {
			// Closed externally with unknown price; excluded rather than
			// counted as a zero-pnl trade.
			continue
		}
		pnl := *t.PnL
		stats.TotalTrades++
		stats.TotalPnL += pnl

		s, ok := byStrategy[t.StrategyTag]
		if !ok {
			s = &domain.StrategyStats{StrategyTag: t.StrategyTag}
			byStrategy[t.StrategyTag] = s
		}
		s.Trades++
		s.TotalPnL += pnl

		if pnl >= 0 {
			stats.Wins++
			stats.GrossProfit += pnl
			s.Wins++
		} else {
			stats.Losses++
			stats.GrossLoss += -pnl
			s.Losses++
		}
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades) * 100
	}
	if stats.GrossLoss > 0 {
		stats.ProfitFactor = stats.GrossProfit / stats.GrossLoss
	}

	for _, s := range byStrategy {
		if s.Trades > 0 {
			s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
		}
		stats.ByStrategy = append(stats.ByStrategy, *s)
	}
	sort.Slice(stats.ByStrategy, func(i, j int) bool {
		return stats.ByStrategy[i].StrategyTag < stats.ByStrategy[j].StrategyTag
	})

	return stats, nil
}

// GetStatus assembles the read-only engine snapshot served by the API.
func (l *Ledger) GetStatus(ctx context.Context, mode, riskStrategy string, tracked int) (domain.Status, error) {
	open, err := l.trades.CountOpen(ctx)
	if err != nil {
		return domain.Status{}, fmt.Errorf("trade_ledger: count open: %w", err)
	}

	dd := l.breaker.Status()
	metrics.SetOpenTrades(open)
	locked := len(dd.Locks)
	if dd.GlobalLocked {
		locked++
	}
	metrics.SetLockedScopes(locked)

	return domain.Status{
		Mode:          mode,
		RiskStrategy:  riskStrategy,
		OpenTrades:    open,
		TrackedStates: tracked,
		Drawdown:      dd,
		GeneratedAt:   time.Now().UTC(),
	}, nil
}

// GetDrawdownStatus returns the circuit breaker snapshot.
func (l *Ledger) GetDrawdownStatus() domain.DrawdownStatus {
	return l.breaker.Status()
}
