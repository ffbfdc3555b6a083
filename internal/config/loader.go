package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WARDEN_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WARDEN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.BaseURL, "WARDEN_BROKER_BASE_URL")
	setStr(&cfg.Broker.WSURL, "WARDEN_BROKER_WS_URL")
	setStr(&cfg.Broker.APIToken, "WARDEN_BROKER_API_TOKEN")
	setStr(&cfg.Broker.SealedTokenPath, "WARDEN_BROKER_SEALED_TOKEN_PATH")
	setStr(&cfg.Broker.TokenPassword, "WARDEN_BROKER_TOKEN_PASSWORD")
	setDuration(&cfg.Broker.Timeout, "WARDEN_BROKER_TIMEOUT")

	// ── Database ──
	setStr(&cfg.Database.DSN, "WARDEN_DATABASE_DSN")
	setStr(&cfg.Database.Host, "WARDEN_DATABASE_HOST")
	setInt(&cfg.Database.Port, "WARDEN_DATABASE_PORT")
	setStr(&cfg.Database.Database, "WARDEN_DATABASE_NAME")
	setStr(&cfg.Database.User, "WARDEN_DATABASE_USER")
	setStr(&cfg.Database.Password, "WARDEN_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "WARDEN_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "WARDEN_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "WARDEN_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "WARDEN_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WARDEN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WARDEN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WARDEN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WARDEN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WARDEN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WARDEN_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "WARDEN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WARDEN_S3_REGION")
	setStr(&cfg.S3.Bucket, "WARDEN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WARDEN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WARDEN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WARDEN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WARDEN_S3_FORCE_PATH_STYLE")

	// ── Risk ──
	setStr(&cfg.Risk.Strategy, "WARDEN_RISK_STRATEGY")
	setFloat64(&cfg.Risk.Breakeven.TriggerR, "WARDEN_RISK_BREAKEVEN_TRIGGER_R")
	setFloat64(&cfg.Risk.Breakeven.BufferPips, "WARDEN_RISK_BREAKEVEN_BUFFER_PIPS")
	setFloat64(&cfg.Risk.Trailing.ActivationR, "WARDEN_RISK_TRAILING_ACTIVATION_R")
	setFloat64(&cfg.Risk.Drawdown.StartBalance, "WARDEN_RISK_DRAWDOWN_START_BALANCE")
	setFloat64(&cfg.Risk.Drawdown.MaxLossPercent, "WARDEN_RISK_DRAWDOWN_MAX_LOSS_PERCENT")
	setDuration(&cfg.Risk.Drawdown.Window, "WARDEN_RISK_DRAWDOWN_WINDOW")
	setInt(&cfg.Risk.Limits.MaxOpenTrades, "WARDEN_RISK_LIMITS_MAX_OPEN_TRADES")
	setInt(&cfg.Risk.Limits.MaxPerSymbol, "WARDEN_RISK_LIMITS_MAX_PER_SYMBOL")
	setBool(&cfg.Risk.Limits.BlockOppositeDirection, "WARDEN_RISK_LIMITS_BLOCK_OPPOSITE_DIRECTION")
	setFloat64(&cfg.Risk.Limits.MaxWindowLoss, "WARDEN_RISK_LIMITS_MAX_WINDOW_LOSS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "WARDEN_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "WARDEN_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WARDEN_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WARDEN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WARDEN_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WARDEN_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WARDEN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WARDEN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WARDEN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WARDEN_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WARDEN_MODE")
	setStr(&cfg.LogLevel, "WARDEN_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
