package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges, in order: built-in defaults, the TOML file at path (skipped
// when path is empty), a .env file if present, and BIDENGINE_* environment
// variables. The result is not validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from BIDENGINE_* variables that
// are set and non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setDuration(&cfg.Engine.GraceWindow, "BIDENGINE_ENGINE_GRACE_WINDOW")
	setDuration(&cfg.Engine.BidWaitTimeout, "BIDENGINE_ENGINE_BID_WAIT_TIMEOUT")
	setDuration(&cfg.Engine.CloseTimeout, "BIDENGINE_ENGINE_CLOSE_TIMEOUT")
	setInt(&cfg.Engine.SubscriberBuffer, "BIDENGINE_ENGINE_SUBSCRIBER_BUFFER")
	setBool(&cfg.Engine.DistributedLock, "BIDENGINE_ENGINE_DISTRIBUTED_LOCK")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BIDENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform convention
	setStr(&cfg.Postgres.Host, "BIDENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BIDENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BIDENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BIDENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BIDENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BIDENGINE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BIDENGINE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BIDENGINE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BIDENGINE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BIDENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BIDENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BIDENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BIDENGINE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BIDENGINE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BIDENGINE_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "BIDENGINE_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.StateCacheTTL, "BIDENGINE_REDIS_STATE_CACHE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BIDENGINE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BIDENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BIDENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "BIDENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BIDENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BIDENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BIDENGINE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BIDENGINE_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.PartSizeMB, "BIDENGINE_S3_PART_SIZE_MB")

	// ── Identity ──
	setStr(&cfg.Identity.BaseURL, "BIDENGINE_IDENTITY_BASE_URL")
	setStr(&cfg.Identity.APIKey, "BIDENGINE_IDENTITY_API_KEY")
	setDuration(&cfg.Identity.Timeout, "BIDENGINE_IDENTITY_TIMEOUT")
	setInt(&cfg.Identity.CacheSize, "BIDENGINE_IDENTITY_CACHE_SIZE")
	setDuration(&cfg.Identity.CacheTTL, "BIDENGINE_IDENTITY_CACHE_TTL")

	// ── Payment ──
	setStr(&cfg.Payment.BaseURL, "BIDENGINE_PAYMENT_BASE_URL")
	setStr(&cfg.Payment.APIKey, "BIDENGINE_PAYMENT_API_KEY")
	setDuration(&cfg.Payment.Timeout, "BIDENGINE_PAYMENT_TIMEOUT")
	setInt(&cfg.Payment.MaxAttempts, "BIDENGINE_PAYMENT_MAX_ATTEMPTS")
	setDuration(&cfg.Payment.StaleAfter, "BIDENGINE_PAYMENT_STALE_AFTER")
	setDuration(&cfg.Payment.SweepInterval, "BIDENGINE_PAYMENT_SWEEP_INTERVAL")

	// ── Server ──
	setInt(&cfg.Server.Port, "BIDENGINE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BIDENGINE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BIDENGINE_SERVER_API_KEY")
	setInt(&cfg.Server.BidRateLimit, "BIDENGINE_SERVER_BID_RATE_LIMIT")
	setDuration(&cfg.Server.BidRateWindow, "BIDENGINE_SERVER_BID_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BIDENGINE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BIDENGINE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BIDENGINE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BIDENGINE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BIDENGINE_MODE")
	setStr(&cfg.LogLevel, "BIDENGINE_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
