// Package config defines the top-level configuration for the engine and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WARDEN_* environment variables.
type Config struct {
	Broker   BrokerConfig   `toml:"broker"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Risk     RiskConfig     `toml:"risk"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BrokerConfig holds connector sidecar endpoints and credentials.
type BrokerConfig struct {
	BaseURL         string   `toml:"base_url"`
	WSURL           string   `toml:"ws_url"`
	APIToken        string   `toml:"api_token"`
	SealedTokenPath string   `toml:"sealed_token_path"`
	TokenPassword   string   `toml:"token_password"`
	Timeout         duration `toml:"timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RiskConfig selects and tunes the position risk strategy. Exactly one
// strategy manages live positions at a time.
type RiskConfig struct {
	// Strategy is one of "breakeven", "tiered_tp", "trailing".
	Strategy string `toml:"strategy"`

	Breakeven BreakevenConfig `toml:"breakeven"`
	TieredTP  TieredTPConfig  `toml:"tiered_tp"`
	Trailing  TrailingConfig  `toml:"trailing"`
	Drawdown  DrawdownConfig  `toml:"drawdown"`
	Limits    LimitsConfig    `toml:"limits"`
}

// BreakevenConfig tunes the breakeven strategy.
type BreakevenConfig struct {
	TriggerR   float64 `toml:"trigger_r"`
	BufferPips float64 `toml:"buffer_pips"`
}

// TierConfig is one take-profit tier.
type TierConfig struct {
	TargetR float64 `toml:"target_r"`
	Percent float64 `toml:"percent"`
}

// TieredTPConfig tunes the tiered take-profit strategy.
type TieredTPConfig struct {
	TP1             TierConfig `toml:"tp1"`
	TP2             TierConfig `toml:"tp2"`
	TP3             TierConfig `toml:"tp3"`
	BufferPips      float64    `toml:"buffer_pips"`
	RatchetAfterTP1 bool       `toml:"ratchet_after_tp1"`
	RatchetAfterTP2 bool       `toml:"ratchet_after_tp2"`
}

// TrailingConfig tunes the structure-trailing strategy.
type TrailingConfig struct {
	ActivationR float64  `toml:"activation_r"`
	BufferPips  float64  `toml:"buffer_pips"`
	MinSwingAge int      `toml:"min_swing_age"`
	Timeframe   string   `toml:"timeframe"`
	WindowSize  int      `toml:"window_size"`
}

// DrawdownConfig tunes the rolling-loss circuit breaker.
type DrawdownConfig struct {
	StartBalance   float64  `toml:"start_balance"`
	MaxLossPercent float64  `toml:"max_loss_percent"`
	Window         duration `toml:"window"`
}

// LimitsConfig caps concurrent exposure.
type LimitsConfig struct {
	MaxOpenTrades          int      `toml:"max_open_trades"`
	MaxPerSymbol           int      `toml:"max_per_symbol"`
	BlockOppositeDirection bool     `toml:"block_opposite_direction"`
	MaxWindowLoss          float64  `toml:"max_window_loss"`
	LossWindow             duration `toml:"loss_window"`
}

// ArchiveConfig tunes the cold-storage archiver.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials and the event filter.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration for TOML decoding.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "12h".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible development defaults.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			BaseURL: "http://127.0.0.1:8787",
			WSURL:   "ws://127.0.0.1:8787/ws",
			Timeout: duration{15 * time.Second},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradewarden",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradewarden-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Risk: RiskConfig{
			Strategy: "breakeven",
			Breakeven: BreakevenConfig{
				TriggerR:   1.0,
				BufferPips: 5,
			},
			TieredTP: TieredTPConfig{
				TP1:             TierConfig{TargetR: 1.0, Percent: 50},
				TP2:             TierConfig{TargetR: 2.0, Percent: 30},
				TP3:             TierConfig{TargetR: 3.0, Percent: 20},
				BufferPips:      5,
				RatchetAfterTP1: true,
				RatchetAfterTP2: true,
			},
			Trailing: TrailingConfig{
				ActivationR: 1.5,
				BufferPips:  8,
				MinSwingAge: 3,
				Timeframe:   "M5",
				WindowSize:  100,
			},
			Drawdown: DrawdownConfig{
				StartBalance:   10_000,
				MaxLossPercent: 6,
				Window:         duration{12 * time.Hour},
			},
			Limits: LimitsConfig{
				MaxOpenTrades:          5,
				MaxPerSymbol:           1,
				BlockOppositeDirection: true,
				MaxWindowLoss:          0,
				LossWindow:             duration{12 * time.Hour},
			},
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Interval: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_opened", "trade_closed", "tier_hit", "trading_locked"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":    true,
	"monitor": true,
	"server":  true,
	"sync":    true,
	"full":    true,
}

// validStrategies enumerates the accepted values for Risk.Strategy.
var validStrategies = map[string]bool{
	"breakeven": true,
	"tiered_tp": true,
	"trailing":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, monitor, server, sync, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// The broker connector is required for every mode except server.
	if c.Mode != "server" {
		if c.Broker.BaseURL == "" {
			errs = append(errs, "broker: base_url must not be empty")
		}
		if (c.Mode == "live" || c.Mode == "monitor" || c.Mode == "full") && c.Broker.WSURL == "" {
			errs = append(errs, "broker: ws_url must not be empty for mode "+c.Mode)
		}
		if c.Broker.SealedTokenPath != "" && c.Broker.TokenPassword == "" {
			errs = append(errs, "broker: token_password is required when sealed_token_path is set")
		}
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}

	// Risk
	strategy := strings.ToLower(c.Risk.Strategy)
	if !validStrategies[strategy] {
		errs = append(errs, fmt.Sprintf("risk: unknown strategy %q (valid: breakeven, tiered_tp, trailing)", c.Risk.Strategy))
	}
	switch strategy {
	case "breakeven":
		if c.Risk.Breakeven.TriggerR <= 0 {
			errs = append(errs, "risk.breakeven: trigger_r must be positive")
		}
	case "tiered_tp":
		tiers := []TierConfig{c.Risk.TieredTP.TP1, c.Risk.TieredTP.TP2, c.Risk.TieredTP.TP3}
		var pctTotal, prevR float64
		for i, t := range tiers {
			if t.TargetR <= prevR {
				errs = append(errs, fmt.Sprintf("risk.tiered_tp: tp%d target_r must exceed tp%d", i+1, i))
			}
			if t.Percent <= 0 || t.Percent > 100 {
				errs = append(errs, fmt.Sprintf("risk.tiered_tp: tp%d percent must be in (0, 100]", i+1))
			}
			pctTotal += t.Percent
			prevR = t.TargetR
		}
		if pctTotal > 100.0001 {
			errs = append(errs, fmt.Sprintf("risk.tiered_tp: tier percents sum to %.1f, must not exceed 100", pctTotal))
		}
	case "trailing":
		if c.Risk.Trailing.ActivationR <= 0 {
			errs = append(errs, "risk.trailing: activation_r must be positive")
		}
		if c.Risk.Trailing.MinSwingAge < 1 {
			errs = append(errs, "risk.trailing: min_swing_age must be >= 1")
		}
	}
	if c.Risk.Drawdown.StartBalance <= 0 {
		errs = append(errs, "risk.drawdown: start_balance must be positive")
	}
	if c.Risk.Drawdown.MaxLossPercent <= 0 || c.Risk.Drawdown.MaxLossPercent >= 100 {
		errs = append(errs, "risk.drawdown: max_loss_percent must be in (0, 100)")
	}
	if c.Risk.Drawdown.Window.Duration <= 0 {
		errs = append(errs, "risk.drawdown: window must be positive")
	}
	if c.Risk.Limits.MaxOpenTrades < 0 || c.Risk.Limits.MaxPerSymbol < 0 {
		errs = append(errs, "risk.limits: trade caps must not be negative")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "archive: s3.bucket must be set when archiving is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %d problem(s):\n  - %s", len(errs), strings.Join(errs, "\n  - "))
	}
	return nil
}
