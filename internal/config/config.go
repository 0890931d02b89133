// Package config defines the configuration of the bidding engine and its
// validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BIDENGINE_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Identity IdentityConfig `toml:"identity"`
	Payment  PaymentConfig  `toml:"payment"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds auction timing parameters.
type EngineConfig struct {
	// GraceWindow is the anti-snipe window: a bid accepted closer than this
	// to the end pushes the end to acceptance time plus GraceWindow.
	GraceWindow      duration `toml:"grace_window"`
	BidWaitTimeout   duration `toml:"bid_wait_timeout"`
	CloseTimeout     duration `toml:"close_timeout"`
	SubscriberBuffer int      `toml:"subscriber_buffer"`
	// DistributedLock additionally guards each auction with a Redis lock.
	// Required when several instances serve the same auctions.
	DistributedLock bool `toml:"distributed_lock"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Addr          string   `toml:"addr"`
	Password      string   `toml:"password"`
	DB            int      `toml:"db"`
	PoolSize      int      `toml:"pool_size"`
	MaxRetries    int      `toml:"max_retries"`
	TLSEnabled    bool     `toml:"tls_enabled"`
	StreamMaxLen  int64    `toml:"stream_max_len"`
	StateCacheTTL duration `toml:"state_cache_ttl"`
}

// S3Config holds the archive bucket parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PartSizeMB     int    `toml:"part_size_mb"`
}

// IdentityConfig points at the user-identity service. An empty BaseURL
// treats every bidder as unrated.
type IdentityConfig struct {
	BaseURL   string   `toml:"base_url"`
	APIKey    string   `toml:"api_key"`
	Timeout   duration `toml:"timeout"`
	CacheSize int      `toml:"cache_size"`
	CacheTTL  duration `toml:"cache_ttl"`
}

// PaymentConfig points at the payment/order service.
type PaymentConfig struct {
	BaseURL       string   `toml:"base_url"`
	APIKey        string   `toml:"api_key"`
	Timeout       duration `toml:"timeout"`
	MaxAttempts   int      `toml:"max_attempts"`
	StaleAfter    duration `toml:"stale_after"`
	SweepInterval duration `toml:"sweep_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	APIKey        string   `toml:"api_key"`
	BidRateLimit  int      `toml:"bid_rate_limit"`
	BidRateWindow duration `toml:"bid_rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			GraceWindow:      duration{5 * time.Minute},
			BidWaitTimeout:   duration{2 * time.Second},
			CloseTimeout:     duration{30 * time.Second},
			SubscriberBuffer: 64,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bidengine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      20,
			MaxRetries:    3,
			StreamMaxLen:  1000,
			StateCacheTTL: duration{time.Hour},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bidengine-archive",
			ForcePathStyle: true,
			PartSizeMB:     5,
		},
		Identity: IdentityConfig{
			Timeout:   duration{5 * time.Second},
			CacheSize: 4096,
			CacheTTL:  duration{30 * time.Second},
		},
		Payment: PaymentConfig{
			Timeout:       duration{10 * time.Second},
			MaxAttempts:   5,
			StaleAfter:    duration{2 * time.Minute},
			SweepInterval: duration{time.Minute},
		},
		Server: ServerConfig{
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			BidRateLimit:  10,
			BidRateWindow: duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"auction_sold", "settlement_failed"},
		},
		Mode:     "standalone",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"standalone": true,
	"server":     true,
	"full":       true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: standalone, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Engine.GraceWindow.Duration <= 0 {
		errs = append(errs, "engine: grace_window must be > 0")
	}
	if c.Engine.BidWaitTimeout.Duration <= 0 {
		errs = append(errs, "engine: bid_wait_timeout must be > 0")
	}
	if c.Engine.CloseTimeout.Duration <= 0 {
		errs = append(errs, "engine: close_timeout must be > 0")
	}
	if c.Engine.SubscriberBuffer < 1 {
		errs = append(errs, "engine: subscriber_buffer must be >= 1")
	}

	backed := mode == "server" || mode == "full"
	if backed {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	} else if c.Engine.DistributedLock {
		errs = append(errs, "engine: distributed_lock requires mode server or full")
	}

	if mode == "full" && c.Payment.BaseURL == "" {
		errs = append(errs, "payment: base_url is required for mode full")
	}
	if c.Payment.MaxAttempts < 1 {
		errs = append(errs, "payment: max_attempts must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.BidRateLimit > 0 && c.Server.BidRateWindow.Duration <= 0 {
		errs = append(errs, "server: bid_rate_window must be > 0 when bid_rate_limit is set")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
