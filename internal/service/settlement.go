// Package service holds the work that follows an auction's close.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bidengine/internal/clock"
	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/platform/payment"
)

const (
	defaultMaxAttempts   = 5
	defaultStaleAfter    = 2 * time.Minute
	defaultSweepInterval = time.Minute
	sweepBatch           = 100
)

// OrderCreator creates the payable order for a sold auction.
type OrderCreator interface {
	CreateOrder(ctx context.Context, o payment.Order) (string, error)
}

// FailureNotifier is told about settlements whose order could not be created.
type FailureNotifier interface {
	SettlementFailed(ctx context.Context, s domain.Settlement) error
}

// SettlementConfig tunes retries.
type SettlementConfig struct {
	MaxAttempts int
	// StaleAfter is how long a pending settlement may sit before the sweeper
	// assumes its first attempt died with the process.
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

// SettlementService hands every SOLD auction to the payment service exactly
// once. The settlements table is the outbox: a claimed row is the only
// licence to call the payment service, and the auction id doubles as the
// idempotency key for retries.
type SettlementService struct {
	store    domain.SettlementStore
	payments OrderCreator
	notifier FailureNotifier
	clock    clock.Clock
	cfg      SettlementConfig
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService. notifier may be nil.
func NewSettlementService(
	store domain.SettlementStore,
	payments OrderCreator,
	notifier FailureNotifier,
	clk clock.Clock,
	cfg SettlementConfig,
	logger *slog.Logger,
) *SettlementService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &SettlementService{
		store:    store,
		payments: payments,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "settlement")),
	}
}

// AuctionClosed implements auction.CloseHook. Only SOLD auctions settle.
func (s *SettlementService) AuctionClosed(ctx context.Context, a domain.Auction) {
	if a.Status != domain.AuctionStatusSold {
		return
	}
	st := domain.Settlement{
		AuctionID:  a.ID,
		WinnerID:   a.CurrentWinnerID,
		FinalPrice: a.CurrentPrice,
	}
	claimed, err := s.store.Claim(ctx, st)
	if err != nil {
		s.logger.ErrorContext(ctx, "claim settlement failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !claimed {
		s.logger.DebugContext(ctx, "settlement already claimed", slog.String("auction_id", a.ID))
		return
	}
	s.settle(ctx, st)
}

// Run retries failed and abandoned settlements until ctx is done.
func (s *SettlementService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "settlement sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep makes one retry pass and returns the number of settlements attempted.
func (s *SettlementService) Sweep(ctx context.Context) (int, error) {
	due, err := s.store.ListRetryable(ctx, s.cfg.MaxAttempts, sweepBatch)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	attempted := 0
	for _, st := range due {
		// A fresh pending row belongs to a close hook that is still running.
		if st.Status == domain.SettlementStatusPending && now.Sub(st.UpdatedAt) < s.cfg.StaleAfter {
			continue
		}
		s.settle(ctx, st)
		attempted++
	}
	return attempted, nil
}

func (s *SettlementService) settle(ctx context.Context, st domain.Settlement) {
	log := s.logger.With(
		slog.String("auction_id", st.AuctionID),
		slog.String("winner_id", st.WinnerID),
		slog.String("final_price", domain.FormatMinorUnits(st.FinalPrice)),
	)

	orderID, err := s.payments.CreateOrder(ctx, payment.Order{
		AuctionID: st.AuctionID,
		WinnerID:  st.WinnerID,
		Amount:    st.FinalPrice,
	})
	if err != nil {
		st.Attempts++
		st.LastError = err.Error()
		log.WarnContext(ctx, "payment order failed",
			slog.Int("attempt", st.Attempts),
			slog.String("error", err.Error()),
		)
		if mErr := s.store.MarkFailed(ctx, st.AuctionID, st.LastError); mErr != nil {
			log.ErrorContext(ctx, "mark settlement failed", slog.String("error", mErr.Error()))
		}
		if s.notifier != nil {
			_ = s.notifier.SettlementFailed(ctx, st)
		}
		return
	}

	if err := s.store.MarkOrdered(ctx, st.AuctionID, orderID); err != nil {
		// The order exists; the next sweep repeats the call and the
		// idempotency key returns the same order.
		log.ErrorContext(ctx, "mark settlement ordered", slog.String("error", err.Error()))
		return
	}
	log.InfoContext(ctx, "payment order created", slog.String("order_id", orderID))
}
