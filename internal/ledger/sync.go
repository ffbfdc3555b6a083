package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avelhorn/tradewarden/internal/domain"
)

// commentTagPrefix is the structured comment convention used on orders this
// system places: "tw:<strategy>[:<signal id>]". Imports parse the strategy
// back out of it; anything else falls back to the EXTERNAL tag.
const commentTagPrefix = "tw:"

// SyncResult summarizes one reconciliation pass.
type SyncResult struct {
	Imported int
	Closed   int
}

// HistResult summarizes one historical-deal import.
type HistResult struct {
	Imported int
	Skipped  int
}

// ParseStrategyTag extracts the strategy from a position comment following
// the structured convention, or StrategyTagExternal when unparseable.
func ParseStrategyTag(comment string) string {
	c := strings.TrimSpace(comment)
	if !strings.HasPrefix(c, commentTagPrefix) {
		return domain.StrategyTagExternal
	}
	rest := strings.TrimPrefix(c, commentTagPrefix)
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		rest = rest[:i]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return domain.StrategyTagExternal
	}
	return rest
}

// SyncWithBrokerPositions reconciles the ledger against the broker's current
// live position list. Local OPEN trades absent from the list are marked CLOSED
// now with the explicit unknown-price marker; broker positions absent locally
// are imported as new OPEN trades. Individual failures are logged and the
// pass continues.
func (l *Ledger) SyncWithBrokerPositions(ctx context.Context, live []domain.PositionSnapshot) (SyncResult, error) {
	var res SyncResult

	liveByID := make(map[string]domain.PositionSnapshot, len(live))
	for _, p := range live {
		liveByID[p.ID] = p
	}

	open, err := l.trades.ListOpen(ctx)
	if err != nil {
		return res, fmt.Errorf("trade_ledger: list open for sync: %w", err)
	}

	// Pass 1: local OPEN trades the broker no longer reports were closed
	// outside this system. The final price is unknown; nothing is fabricated.
	tracked := make(map[string]bool, len(open))
	for _, t := range open {
		if t.BrokerPositionID == nil {
			continue
		}
		tracked[*t.BrokerPositionID] = true
		if _, ok := liveByID[*t.BrokerPositionID]; ok {
			continue
		}

		if err := l.trades.Close(ctx, t.ID, domain.TradeClose{
			Time:   time.Now().UTC(),
			Reason: ClosedExternallyMarker,
		}); err != nil {
			l.logger.ErrorContext(ctx, "mark externally-closed trade failed",
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Closed++
		l.afterClose(ctx, t, nil, nil)
		l.logger.WarnContext(ctx, "local open trade absent from broker, closed with unknown price",
			slog.String("trade_id", t.ID),
			slog.String("position_id", *t.BrokerPositionID),
		)
	}

	// Pass 2: broker positions with no local record were opened outside this
	// system's control; import them so risk management can pick them up.
	for _, p := range live {
		if tracked[p.ID] {
			continue
		}
		posID := p.ID
		t := domain.Trade{
			ID:               uuid.New().String(),
			Symbol:           p.Symbol,
			Direction:        p.Side,
			StrategyTag:      ParseStrategyTag(p.Comment),
			EntryPrice:       p.OpenPrice,
			StopLoss:         p.StopLoss,
			TakeProfit:       p.TakeProfit,
			LotSize:          p.Volume,
			OpenTime:         p.OpenTime,
			Status:           domain.TradeStatusOpen,
			BrokerPositionID: &posID,
		}
		if err := l.trades.Create(ctx, t); err != nil {
			l.logger.ErrorContext(ctx, "import broker position failed",
				slog.String("position_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Imported++
		l.logger.InfoContext(ctx, "imported broker position as trade",
			slog.String("trade_id", t.ID),
			slog.String("position_id", p.ID),
			slog.String("strategy", t.StrategyTag),
		)
	}

	return res, nil
}

// SyncHistoricalTrades imports raw broker deals. Deals are grouped by position
// id; the earliest fill in a group is the entry, the latest (when more than
// one exists) is the exit, and the realized pnl comes strictly from the exit
// fill's reported profit. Groups matching an existing local trade are skipped,
// except to backfill a close when the local trade is still OPEN and an exit
// fill has since appeared.
func (l *Ledger) SyncHistoricalTrades(ctx context.Context, deals []domain.RawDeal) (HistResult, error) {
	var res HistResult

	groups := make(map[string][]domain.RawDeal)
	for _, d := range deals {
		if d.PositionID == "" {
			res.Skipped++
			continue
		}
		groups[d.PositionID] = append(groups[d.PositionID], d)
	}

	for posID, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].Time.Before(group[j].Time) })
		entry := group[0]
		var exit *domain.RawDeal
		if len(group) > 1 {
			exit = &group[len(group)-1]
		}

		existing, err := l.trades.GetByBrokerPositionID(ctx, posID)
		switch {
		case err == nil:
			if existing.IsOpen() && exit != nil {
				// Backfill the close that happened since the trade was recorded.
				price, pnl := exit.Price, exit.Profit
				if err := l.trades.Close(ctx, existing.ID, domain.TradeClose{
					Price: &price,
					PnL:   &pnl,
					Time:  exit.Time,
				}); err != nil {
					l.logger.ErrorContext(ctx, "backfill close failed",
						slog.String("trade_id", existing.ID),
						slog.String("error", err.Error()),
					)
					continue
				}
				l.afterClose(ctx, existing, &price, &pnl)
				res.Imported++
				continue
			}
			res.Skipped++
			continue
		case !errors.Is(err, domain.ErrNotFound):
			l.logger.ErrorContext(ctx, "lookup historical group failed",
				slog.String("position_id", posID),
				slog.String("error", err.Error()),
			)
			continue
		}

		pid := posID
		t := domain.Trade{
			ID:               uuid.New().String(),
			Symbol:           entry.Symbol,
			Direction:        entry.Side,
			StrategyTag:      ParseStrategyTag(entry.Comment),
			EntryPrice:       entry.Price,
			LotSize:          entry.Volume,
			OpenTime:         entry.Time,
			Status:           domain.TradeStatusOpen,
			BrokerPositionID: &pid,
		}
		if exit != nil {
			t.Status = domain.TradeStatusClosed
			closeTime := exit.Time
			price, pnl := exit.Price, exit.Profit
			t.CloseTime = &closeTime
			t.ClosePrice = &price
			t.PnL = &pnl
		}

		if err := l.trades.Create(ctx, t); err != nil {
			l.logger.ErrorContext(ctx, "import historical trade failed",
				slog.String("position_id", posID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Imported++
	}

	l.logger.InfoContext(ctx, "historical deal import finished",
		slog.Int("groups", len(groups)),
		slog.Int("imported", res.Imported),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}
