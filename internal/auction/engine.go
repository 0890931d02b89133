package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bidengine/internal/broadcast"
	"github.com/alanyoungcy/bidengine/internal/clock"
	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/google/uuid"
)

const recoverPageSize = 200

// ProfileSource supplies bidder rating snapshots.
type ProfileSource interface {
	Profile(ctx context.Context, bidderID string) (domain.BidderProfile, error)
}

// UpdatePublisher receives every committed AuctionUpdate. Publish must not
// block.
type UpdatePublisher interface {
	Publish(update domain.AuctionUpdate)
}

// CloseHook is notified, in its own goroutine, when an auction reaches a
// terminal status.
type CloseHook interface {
	AuctionClosed(ctx context.Context, a domain.Auction)
}

// Config tunes the engine's timing.
type Config struct {
	GraceWindow    time.Duration
	BidWaitTimeout time.Duration
	CloseTimeout   time.Duration
}

// Engine is the entry point for everything that touches auction state.
type Engine struct {
	auctions domain.AuctionStore
	hub      *broadcast.Broadcaster
	ledger   *Ledger
	sched    *Scheduler
	registry *ModerationRegistry
	clock    clock.Clock
	logger   *slog.Logger
}

// Option configures optional engine collaborators.
type Option func(*Ledger)

// WithClock overrides the system clock.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithPublisher replaces the local broadcaster as the update sink, e.g. with a
// broadcast.Relay wrapping it.
func WithPublisher(p UpdatePublisher) Option {
	return func(l *Ledger) {
		if p != nil {
			l.publisher = p
		}
	}
}

// WithStateCache keeps a read-path cache in sync with committed state.
func WithStateCache(c domain.AuctionStateCache) Option {
	return func(l *Ledger) { l.cache = c }
}

// WithLockManager additionally guards each auction section with a
// distributed lock, for deployments running several instances.
func WithLockManager(m domain.LockManager) Option {
	return func(l *Ledger) { l.locks = m }
}

// WithAuditStore records accepted bids, closes and denials.
func WithAuditStore(s domain.AuditStore) Option {
	return func(l *Ledger) { l.audit = s }
}

// WithCloseHooks registers hooks run when an auction closes.
func WithCloseHooks(hooks ...CloseHook) Option {
	return func(l *Ledger) { l.hooks = append(l.hooks, hooks...) }
}

// New wires an Engine. hub is both the default update sink and the source of
// subscriptions.
func New(
	cfg Config,
	auctions domain.AuctionStore,
	moderation domain.ModerationStore,
	profiles ProfileSource,
	hub *broadcast.Broadcaster,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	registry := NewModerationRegistry(moderation, logger)
	base := logger
	logger = logger.With(slog.String("component", "engine"))

	l := &Ledger{
		store:     auctions,
		profiles:  profiles,
		gate:      NewEligibilityGate(registry),
		registry:  registry,
		clock:     clock.NewSystem(),
		publisher: hub,
		bidWait:   cfg.BidWaitTimeout,
		closeWait: cfg.CloseTimeout,
		logger:    logger,
		rooms:     make(map[string]*room),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.bidWait <= 0 {
		l.bidWait = defaultBidWait
	}
	if l.closeWait <= 0 {
		l.closeWait = defaultCloseTimeout
	}

	l.sched = NewScheduler(l.clock, cfg.GraceWindow, l.closeWait, base)
	l.sched.Start(l)

	return &Engine{
		auctions: auctions,
		hub:      hub,
		ledger:   l,
		sched:    l.sched,
		registry: registry,
		clock:    l.clock,
		logger:   logger,
	}
}

// Create stores a new DRAFT auction. An empty ID is assigned.
func (e *Engine) Create(ctx context.Context, a domain.Auction) (domain.Auction, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := e.clock.Now()
	a.Status = domain.AuctionStatusDraft
	a.CurrentPrice = a.StartPrice
	a.CurrentWinnerID = ""
	a.BidCount = 0
	a.Version = 1
	a.EndAt = a.EndAt.UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	if err := a.Validate(); err != nil {
		return domain.Auction{}, err
	}
	if err := e.auctions.Create(ctx, a); err != nil {
		return domain.Auction{}, fmt.Errorf("engine: create: %w", err)
	}
	return a, nil
}

// Publish moves a DRAFT auction to ACTIVE.
func (e *Engine) Publish(ctx context.Context, auctionID string) (domain.Auction, error) {
	return e.ledger.Publish(ctx, auctionID)
}

// PlaceBid submits a bid. See Ledger.PlaceBid.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64) (domain.Auction, domain.Bid, error) {
	return e.ledger.PlaceBid(ctx, auctionID, bidderID, amount)
}

// DenyBidder bans bidderID from future bids on auctionID. Only the seller may
// deny, and only while the auction is active.
func (e *Engine) DenyBidder(ctx context.Context, auctionID, requesterID, bidderID string) error {
	return e.ledger.Deny(ctx, auctionID, requesterID, bidderID)
}

// IsBlocked reports whether bidderID is currently denied on auctionID.
func (e *Engine) IsBlocked(ctx context.Context, auctionID, bidderID string) (bool, error) {
	if err := e.registry.Load(ctx, auctionID); err != nil {
		return false, err
	}
	return e.registry.IsBlocked(auctionID, bidderID), nil
}

// Terminate ends an active auction as EXPIRED or REMOVED.
func (e *Engine) Terminate(ctx context.Context, auctionID string, status domain.AuctionStatus) (domain.Auction, error) {
	return e.ledger.Terminate(ctx, auctionID, status)
}

// GetState returns the current state, preferring memory, then the state
// cache, then the store.
func (e *Engine) GetState(ctx context.Context, auctionID string) (domain.Auction, error) {
	if a, ok := e.ledger.Snapshot(auctionID); ok {
		return a, nil
	}
	if c := e.ledger.cache; c != nil {
		a, err := c.Get(ctx, auctionID)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("state cache read failed",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		}
	}
	a, err := e.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("engine: get %s: %w", auctionID, err)
	}
	if c := e.ledger.cache; c != nil {
		if err := c.Set(ctx, a); err != nil {
			e.logger.Warn("state cache fill failed",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		}
	}
	return a, nil
}

// Bids lists the accepted bids of an auction in acceptance order.
func (e *Engine) Bids(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	bids, err := e.auctions.ListBids(ctx, auctionID, opts)
	if err != nil {
		return nil, fmt.Errorf("engine: list bids %s: %w", auctionID, err)
	}
	return bids, nil
}

// AuditTrail lists the recorded bids, closes and denials of an auction, oldest
// first. It is empty when no audit store is configured.
func (e *Engine) AuditTrail(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if e.ledger.audit == nil {
		return []domain.AuditEntry{}, nil
	}
	entries, err := e.ledger.audit.ListByAuction(ctx, auctionID, opts)
	if err != nil {
		return nil, fmt.Errorf("engine: audit trail %s: %w", auctionID, err)
	}
	return entries, nil
}

// Subscribe opens a live update stream for auctionID. Callers fetch the
// current state with GetState first and treat every update as a snapshot.
func (e *Engine) Subscribe(ctx context.Context, auctionID string) *broadcast.Subscription {
	return e.hub.Subscribe(ctx, auctionID)
}

// Recover arms close timers for every ACTIVE auction in the store. Auctions
// already past their end close right away.
//
// The whole ACTIVE set is listed before any timer is armed: a past-due timer
// closes its auction at once, which would shift later offset pages and skip
// auctions still waiting to be armed.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	type pending struct {
		id    string
		endAt time.Time
	}
	var due []pending
	seen := make(map[string]bool)
	for offset := 0; ; offset += recoverPageSize {
		page, err := e.auctions.ListByStatus(ctx, domain.AuctionStatusActive, domain.ListOpts{
			Limit:  recoverPageSize,
			Offset: offset,
		})
		if err != nil {
			return 0, fmt.Errorf("engine: recover: %w", err)
		}
		for _, a := range page {
			if seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			due = append(due, pending{id: a.ID, endAt: a.EndAt})
		}
		if len(page) < recoverPageSize {
			break
		}
	}

	for _, p := range due {
		e.sched.Arm(p.id, p.endAt)
	}
	e.logger.Info("recovered active auctions", slog.Int("count", len(due)))
	return len(due), nil
}

// Close stops all timers and waits for running close hooks.
func (e *Engine) Close() {
	e.sched.Stop()
	e.ledger.Wait()
}
