package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/bidengine/internal/auction"
	s3blob "github.com/alanyoungcy/bidengine/internal/blob/s3"
	"github.com/alanyoungcy/bidengine/internal/cache/redis"
	"github.com/alanyoungcy/bidengine/internal/config"
	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/notify"
	"github.com/alanyoungcy/bidengine/internal/platform/identity"
	"github.com/alanyoungcy/bidengine/internal/platform/payment"
	"github.com/alanyoungcy/bidengine/internal/store/memory"
	"github.com/alanyoungcy/bidengine/internal/store/postgres"
)

const mib = 1 << 20

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional collaborators are nil when not configured.
type Dependencies struct {
	// Stores
	AuctionStore    domain.AuctionStore
	ModerationStore domain.ModerationStore
	SettlementStore domain.SettlementStore
	FavoriteStore   domain.FavoriteStore
	AuditStore      domain.AuditStore

	// Redis-backed collaborators
	StateCache  domain.AuctionStateCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// External services
	Profiles auction.ProfileSource
	Payments *payment.Client

	Notifier *notify.Notifier

	// Checks are probed by the health endpoint, keyed by component.
	Checks map[string]func(context.Context) error
}

// needsBackends returns true for modes that run on Postgres and Redis.
func needsBackends(mode string) bool {
	switch strings.ToLower(mode) {
	case "server", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]func(context.Context) error)}

	if needsBackends(cfg.Mode) {
		// --- PostgreSQL ---
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.AuctionStore = postgres.NewAuctionStore(pool)
		deps.ModerationStore = postgres.NewModerationStore(pool)
		deps.SettlementStore = postgres.NewSettlementStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping

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

		deps.StateCache = redis.NewStateCache(redisClient, cfg.Redis.StateCacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.FavoriteStore = redis.NewFavoriteSet(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		logger.Info("standalone mode: using in-memory stores")
		deps.AuctionStore = memory.NewAuctionStore()
		deps.ModerationStore = memory.NewModerationStore()
		deps.SettlementStore = memory.NewSettlementStore()
		deps.AuditStore = memory.NewAuditStore()
		deps.FavoriteStore = memory.NewFavoriteStore()
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
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
		deps.BlobWriter = s3blob.NewWriter(s3Client, int64(cfg.S3.PartSizeMB)*mib)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Identity ---
	if cfg.Identity.BaseURL != "" {
		client, err := identity.NewClient(identity.Config{
			BaseURL:   cfg.Identity.BaseURL,
			APIKey:    cfg.Identity.APIKey,
			Timeout:   cfg.Identity.Timeout.Duration,
			CacheSize: cfg.Identity.CacheSize,
			CacheTTL:  cfg.Identity.CacheTTL.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: identity: %w", err)
		}
		deps.Profiles = client
	} else {
		logger.Warn("identity.base_url not set: every bidder is treated as unrated")
		deps.Profiles = identity.NewStatic()
	}

	// --- Payment ---
	if cfg.Payment.BaseURL != "" {
		client, err := payment.NewClient(payment.Config{
			BaseURL: cfg.Payment.BaseURL,
			APIKey:  cfg.Payment.APIKey,
			Timeout: cfg.Payment.Timeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: payment: %w", err)
		}
		deps.Payments = client
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

	return deps, cleanup, nil
}
