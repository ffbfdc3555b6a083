package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/avelhorn/tradewarden/internal/blob/s3"
	"github.com/avelhorn/tradewarden/internal/broker"
	"github.com/avelhorn/tradewarden/internal/cache/redis"
	"github.com/avelhorn/tradewarden/internal/config"
	"github.com/avelhorn/tradewarden/internal/crypto"
	"github.com/avelhorn/tradewarden/internal/domain"
	"github.com/avelhorn/tradewarden/internal/ledger"
	"github.com/avelhorn/tradewarden/internal/notify"
	"github.com/avelhorn/tradewarden/internal/pipeline"
	"github.com/avelhorn/tradewarden/internal/risk"
	"github.com/avelhorn/tradewarden/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	TradeStore    domain.TradeStore
	DrawdownStore domain.DrawdownStore
	AuditStore    domain.AuditStore

	// Caches
	SnapshotCache domain.SnapshotCache
	SignalBus     domain.SignalBus

	// Broker connector
	Broker domain.Broker

	// Services
	Breaker *risk.DrawdownBreaker
	Ledger  *ledger.Ledger

	// Archiver is nil unless archiving is enabled in config.
	Archiver *pipeline.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsBroker returns true for modes that talk to the broker connector.
// Server mode only reads persisted state.
func needsBroker(mode string) bool {
	return mode != "server"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.DrawdownStore = postgres.NewDrawdownStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.SnapshotCache = redis.NewSnapshotCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Broker connector (only for modes that call it) ---
	if needsBroker(cfg.Mode) {
		token, err := crypto.LoadToken(crypto.TokenConfig{
			RawToken:        cfg.Broker.APIToken,
			SealedTokenPath: cfg.Broker.SealedTokenPath,
			TokenPassword:   cfg.Broker.TokenPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: broker token: %w", err)
		}
		deps.Broker = broker.NewBridgeClient(broker.BridgeConfig{
			BaseURL:  cfg.Broker.BaseURL,
			APIToken: token,
			Timeout:  cfg.Broker.Timeout.Duration,
		}, logger)
	}

	// --- Drawdown circuit breaker, restored from its persisted windows ---
	deps.Breaker = risk.NewDrawdownBreaker(risk.DrawdownConfig{
		StartBalance:   cfg.Risk.Drawdown.StartBalance,
		MaxLossPercent: cfg.Risk.Drawdown.MaxLossPercent,
		Window:         cfg.Risk.Drawdown.Window.Duration,
	}, deps.DrawdownStore, logger)
	if err := deps.Breaker.Load(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: restore drawdown windows: %w", err)
	}

	// --- Trade ledger ---
	deps.Ledger = ledger.New(
		deps.TradeStore,
		deps.Breaker,
		deps.AuditStore,
		deps.SignalBus,
		ledger.Config{
			MaxOpenTrades:          cfg.Risk.Limits.MaxOpenTrades,
			MaxPerSymbol:           cfg.Risk.Limits.MaxPerSymbol,
			BlockOppositeDirection: cfg.Risk.Limits.BlockOppositeDirection,
			MaxWindowLoss:          cfg.Risk.Limits.MaxWindowLoss,
			LossWindow:             cfg.Risk.Limits.LossWindow.Duration,
		},
		logger,
	)

	// --- S3 cold storage (only when archiving is enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 bucket check: %w", err)
		}

		blobArchiver := s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.TradeStore, deps.AuditStore)
		interval := cfg.Archive.Interval.Duration
		if interval <= 0 {
			interval = 24 * time.Hour
		}
		deps.Archiver = pipeline.NewArchiver(blobArchiver, interval, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Ledger.SetNotifier(deps.Notifier)
	deps.Breaker.SetAlerter(deps.Notifier)

	return deps, cleanup, nil
}
