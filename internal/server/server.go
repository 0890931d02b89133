// Package server exposes the bidding engine over HTTP, SSE and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/server/handler"
	"github.com/alanyoungcy/bidengine/internal/server/middleware"
	"github.com/alanyoungcy/bidengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// BidRateLimit bids per BidRateWindow per caller; 0 disables limiting.
	BidRateLimit  int
	BidRateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Auctions  *handler.AuctionHandler
	Favorites *handler.FavoriteHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in middleware. limiter and
// wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	bid := http.Handler(http.HandlerFunc(handlers.Auctions.PlaceBid))
	if limiter != nil && cfg.BidRateLimit > 0 {
		bid = middleware.RateLimit(limiter, "bid", cfg.BidRateLimit, cfg.BidRateWindow, logger)(bid)
	}

	mux.HandleFunc("POST /api/auctions", handlers.Auctions.Create)
	mux.HandleFunc("GET /api/auctions/{id}", handlers.Auctions.Get)
	mux.HandleFunc("POST /api/auctions/{id}/publish", handlers.Auctions.Publish)
	mux.HandleFunc("GET /api/auctions/{id}/bids", handlers.Auctions.ListBids)
	mux.Handle("POST /api/auctions/{id}/bids", bid)
	mux.HandleFunc("POST /api/auctions/{id}/denials", handlers.Auctions.Deny)
	mux.HandleFunc("POST /api/auctions/{id}/terminate", handlers.Auctions.Terminate)
	mux.HandleFunc("GET /api/auctions/{id}/events", handlers.Auctions.Events)
	mux.HandleFunc("GET /api/auctions/{id}/archive", handlers.Auctions.Archive)
	mux.HandleFunc("GET /api/auctions/{id}/history", handlers.Auctions.History)
	mux.HandleFunc("GET /api/auctions/{id}/audit", handlers.Auctions.Audit)

	mux.HandleFunc("GET /api/favorites", handlers.Favorites.List)
	mux.HandleFunc("GET /api/favorites/{productID}", handlers.Favorites.Get)
	mux.HandleFunc("POST /api/favorites/{productID}/toggle", handlers.Favorites.Toggle)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Identity(h)
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Streaming handlers clear their own write deadline.
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
	srv.httpServer.RegisterOnShutdown(handlers.Auctions.CloseStreams)
	return srv
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
