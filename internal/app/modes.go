package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bidengine/internal/auction"
	"github.com/alanyoungcy/bidengine/internal/broadcast"
	"github.com/alanyoungcy/bidengine/internal/clock"
	"github.com/alanyoungcy/bidengine/internal/favorite"
	"github.com/alanyoungcy/bidengine/internal/server"
	"github.com/alanyoungcy/bidengine/internal/server/handler"
	"github.com/alanyoungcy/bidengine/internal/server/ws"
	"github.com/alanyoungcy/bidengine/internal/service"
)

const shutdownTimeout = 10 * time.Second

// StandaloneMode runs the engine and its HTTP/WebSocket surface on in-memory
// stores. State does not survive a restart.
func (a *App) StandaloneMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting standalone mode")
	return a.serve(ctx, deps, false)
}

// ServerMode runs the engine on Postgres and Redis, relaying updates between
// instances.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	return a.serve(ctx, deps, false)
}

// FullMode is ServerMode plus the settlement retry sweeper.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.serve(ctx, deps, true)
}

func (a *App) serve(ctx context.Context, deps *Dependencies, sweep bool) error {
	g, ctx := errgroup.WithContext(ctx)
	clk := clock.NewSystem()

	hub := broadcast.New(a.cfg.Engine.SubscriberBuffer, a.logger)

	opts := []auction.Option{
		auction.WithClock(clk),
		auction.WithAuditStore(deps.AuditStore),
		auction.WithCloseHooks(deps.Notifier),
	}

	// Cross-instance fan-out and the durable update log.
	var history handler.HistoryReader
	if deps.SignalBus != nil {
		relay := broadcast.NewRelay(hub, deps.SignalBus, a.logger)
		opts = append(opts, auction.WithPublisher(relay))
		history = relay
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}
	if deps.StateCache != nil {
		opts = append(opts, auction.WithStateCache(deps.StateCache))
	}
	if a.cfg.Engine.DistributedLock && deps.LockManager != nil {
		opts = append(opts, auction.WithLockManager(deps.LockManager))
	}

	if deps.Payments != nil {
		settlement := service.NewSettlementService(
			deps.SettlementStore,
			deps.Payments,
			deps.Notifier,
			clk,
			service.SettlementConfig{
				MaxAttempts:   a.cfg.Payment.MaxAttempts,
				StaleAfter:    a.cfg.Payment.StaleAfter.Duration,
				SweepInterval: a.cfg.Payment.SweepInterval.Duration,
			},
			a.logger,
		)
		opts = append(opts, auction.WithCloseHooks(settlement))
		if sweep {
			g.Go(func() error {
				return settlement.Run(ctx)
			})
		}
	} else {
		a.logger.WarnContext(ctx, "payment.base_url not set: sold auctions will not be settled")
	}

	var archives handler.ArchiveFetcher
	if deps.BlobWriter != nil {
		archive := service.NewArchiveService(deps.AuctionStore, deps.BlobWriter, deps.BlobReader, a.logger)
		opts = append(opts, auction.WithCloseHooks(archive))
		archives = archive
	}

	engine := auction.New(
		auction.Config{
			GraceWindow:    a.cfg.Engine.GraceWindow.Duration,
			BidWaitTimeout: a.cfg.Engine.BidWaitTimeout.Duration,
			CloseTimeout:   a.cfg.Engine.CloseTimeout.Duration,
		},
		deps.AuctionStore,
		deps.ModerationStore,
		deps.Profiles,
		hub,
		a.logger,
		opts...,
	)
	// Runs after every goroutine has returned, so no new bids are in flight.
	a.closers = append(a.closers, engine.Close)

	if _, err := engine.Recover(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	checks := make(map[string]handler.Check, len(deps.Checks))
	for name, fn := range deps.Checks {
		checks[name] = fn
	}

	wsHub := ws.NewHub(engine, ws.Config{AllowedOrigins: a.cfg.Server.CORSOrigins}, a.logger)
	g.Go(func() error {
		return wsHub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:          a.cfg.Server.Port,
			CORSOrigins:   a.cfg.Server.CORSOrigins,
			APIKey:        a.cfg.Server.APIKey,
			BidRateLimit:  a.cfg.Server.BidRateLimit,
			BidRateWindow: a.cfg.Server.BidRateWindow.Duration,
		},
		server.Handlers{
			Health:    handler.NewHealthHandler(checks, a.logger),
			Auctions:  handler.NewAuctionHandler(engine, archives, history, a.logger),
			Favorites: handler.NewFavoriteHandler(favorite.NewSet(deps.FavoriteStore, a.logger), a.logger),
		},
		wsHub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}
