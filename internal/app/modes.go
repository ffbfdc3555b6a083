package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avelhorn/tradewarden/internal/domain"
	"github.com/avelhorn/tradewarden/internal/engine"
	"github.com/avelhorn/tradewarden/internal/feed"
	"github.com/avelhorn/tradewarden/internal/risk"
	"github.com/avelhorn/tradewarden/internal/server"
	"github.com/avelhorn/tradewarden/internal/server/handler"
)

// historicalSyncLookback is how far back SyncMode reaches for broker deals.
const historicalSyncLookback = 30 * 24 * time.Hour

// LiveMode runs the full position lifecycle engine: the broker feed delivers
// position batches to the router, which drives the configured risk controller
// and the trade ledger. The HTTP API starts when enabled.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")

	g, ctx := errgroup.WithContext(ctx)

	controller, err := a.buildController(deps)
	if err != nil {
		return fmt.Errorf("live mode: %w", err)
	}
	router := a.startEngine(ctx, g, deps, controller)

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.RunLoop(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, router.Tracked)
	}

	return g.Wait()
}

// MonitorMode mirrors live mode but never mutates broker state: the feed and
// the snapshot cache stay current and external closes are still recorded, yet
// no stop is moved and no tier is fired. The HTTP API always runs.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	router := a.startEngine(ctx, g, deps, passiveController{})
	a.startHTTPServer(ctx, g, deps, router.Tracked)

	return g.Wait()
}

// ServerMode starts only the HTTP API over persisted state. No feed, no
// broker calls.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, func() int { return 0 })
	return g.Wait()
}

// SyncMode imports recent historical deals from the broker into the ledger
// and exits. Deals that already have a trade row are skipped, so reruns are
// safe.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	end := time.Now().UTC()
	start := end.Add(-historicalSyncLookback)

	deals, err := deps.Broker.GetHistoricalDeals(ctx, start, end)
	if err != nil {
		return fmt.Errorf("sync mode: fetch historical deals: %w", err)
	}

	res, err := deps.Ledger.SyncHistoricalTrades(ctx, deals)
	if err != nil {
		return fmt.Errorf("sync mode: import deals: %w", err)
	}
	a.logger.InfoContext(ctx, "historical sync complete",
		slog.Int("deals", len(deals)),
		slog.Int("imported", res.Imported),
		slog.Int("skipped", res.Skipped),
	)
	return nil
}

// FullMode runs everything: the live engine, the archiver, and the HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	controller, err := a.buildController(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	router := a.startEngine(ctx, g, deps, controller)

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.RunLoop(ctx)
		})
	}

	a.startHTTPServer(ctx, g, deps, router.Tracked)

	return g.Wait()
}

// startEngine builds the router around the given controller, performs the
// initial state rebuild, and launches the broker feed goroutine. Every
// reconnect triggers another rebuild before batches resume, so the engine
// never acts on a stale picture of the account.
func (a *App) startEngine(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	controller engine.RiskController,
) *engine.Router {
	router := engine.NewRouter(deps.Ledger, deps.SnapshotCache, controller, deps.Broker, deps.Notifier, a.logger)

	if err := router.Rebuild(ctx); err != nil {
		a.logger.WarnContext(ctx, "initial state rebuild failed, feed reconnect will retry",
			slog.String("error", err.Error()),
		)
	}

	wsFeed := feed.NewBrokerWSFeed(
		a.cfg.Broker.WSURL,
		func(ctx context.Context, batch domain.PositionUpdateBatch) error {
			router.HandleBatch(ctx, batch)
			return nil
		},
		router.Rebuild,
		a.logger,
	)
	g.Go(func() error {
		return wsFeed.Run(ctx)
	})

	return router
}

// buildController constructs the single risk controller selected by config.
// Exactly one strategy manages positions per run; the choice is validated at
// config load so an unknown name never reaches this switch in practice.
func (a *App) buildController(deps *Dependencies) (engine.RiskController, error) {
	switch a.cfg.Risk.Strategy {
	case "breakeven":
		c := risk.NewBreakeven(risk.BreakevenConfig{
			TriggerR:   a.cfg.Risk.Breakeven.TriggerR,
			BufferPips: a.cfg.Risk.Breakeven.BufferPips,
		}, deps.Broker, deps.Broker, deps.TradeStore, a.logger)
		c.SetAlerter(deps.Notifier)
		return c, nil
	case "tiered_tp":
		tcfg := a.cfg.Risk.TieredTP
		c := risk.NewTieredTP(risk.TieredTPConfig{
			Tiers: [3]risk.TierConfig{
				{TargetR: tcfg.TP1.TargetR, Percent: tcfg.TP1.Percent},
				{TargetR: tcfg.TP2.TargetR, Percent: tcfg.TP2.Percent},
				{TargetR: tcfg.TP3.TargetR, Percent: tcfg.TP3.Percent},
			},
			BufferPips:      tcfg.BufferPips,
			RatchetAfterTP1: tcfg.RatchetAfterTP1,
			RatchetAfterTP2: tcfg.RatchetAfterTP2,
		}, deps.Broker, deps.Broker, deps.TradeStore, a.logger)
		c.SetAlerter(deps.Notifier)
		return c, nil
	case "trailing":
		rcfg := a.cfg.Risk.Trailing
		return risk.NewTrailer(risk.TrailerConfig{
			Profile: risk.TrailProfile{
				ActivationR: rcfg.ActivationR,
				BufferPips:  rcfg.BufferPips,
				MinSwingAge: rcfg.MinSwingAge,
			},
			Timeframe:  rcfg.Timeframe,
			WindowSize: rcfg.WindowSize,
		}, deps.Broker, deps.Broker, deps.Broker, deps.TradeStore, a.logger), nil
	default:
		return nil, fmt.Errorf("unknown risk strategy %q", a.cfg.Risk.Strategy)
	}
}

// startHTTPServer adds the API server and its graceful-shutdown watcher to
// the errgroup. trackedFn reports how many positions the controller holds,
// zero in server mode where no controller runs.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, trackedFn func() int) {
	statusFn := func(ctx context.Context) (domain.Status, error) {
		return deps.Ledger.GetStatus(ctx, a.cfg.Mode, a.cfg.Risk.Strategy, trackedFn())
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health:     handler.NewHealthHandler(a.logger),
			Status:     handler.NewStatusHandler(statusFn, a.logger),
			Drawdown:   handler.NewDrawdownHandler(deps.Ledger, a.logger),
			Statistics: handler.NewStatisticsHandler(deps.Ledger, a.logger),
			Trades:     handler.NewTradesHandler(deps.TradeStore, a.logger),
			Audit:      handler.NewAuditHandler(deps.AuditStore, a.logger),
		},
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// passiveController satisfies the router without ever calling the broker.
// Monitor mode uses it to keep cache and ledger current while guaranteeing
// no order state is touched.
type passiveController struct{}

func (passiveController) Check(context.Context, domain.PositionSnapshot) error { return nil }
func (passiveController) Forget(string)                                        {}
func (passiveController) Rebuild(context.Context, []domain.PositionSnapshot)   {}
func (passiveController) Tracked() int                                         { return 0 }
