package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/bidengine/internal/clock"
	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/google/uuid"
)

const (
	defaultBidWait = 2 * time.Second
	// lockTTL bounds how long a crashed instance can hold an auction's
	// distributed lock.
	lockTTL = 10 * time.Second
)

// room is the per-auction owner. section admits one state transition at a
// time; mu only guards the fields below so readers never wait on section.
type room struct {
	id      string
	section chan struct{}
	// users counts callers holding or queued on the section. Guarded by
	// Ledger.mu.
	users int

	mu           sync.RWMutex
	loaded       bool
	state        domain.Auction
	lastPlacedAt time.Time
}

func (r *room) snapshot() (domain.Auction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state, r.loaded
}

func (r *room) commit(a domain.Auction, placedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = a
	r.loaded = true
	if placedAt.After(r.lastPlacedAt) {
		r.lastPlacedAt = placedAt
	}
}

func (r *room) invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = false
}

// Ledger serializes state transitions per auction. Work for different
// auctions never shares a lock beyond the room lookup.
type Ledger struct {
	store     domain.AuctionStore
	profiles  ProfileSource
	gate      *EligibilityGate
	registry  *ModerationRegistry
	sched     *Scheduler
	clock     clock.Clock
	publisher UpdatePublisher
	cache     domain.AuctionStateCache
	locks     domain.LockManager
	audit     domain.AuditStore
	hooks     []CloseHook
	bidWait   time.Duration
	closeWait time.Duration
	logger    *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*room

	hookWG sync.WaitGroup
}

// open returns the auction's room with its section held, creating the room
// on first use. The returned func leaves the section and drops the caller's
// claim on the room.
func (l *Ledger) open(ctx context.Context, auctionID string, wait time.Duration) (*room, func(), error) {
	l.mu.Lock()
	r, ok := l.rooms[auctionID]
	if !ok {
		r = &room{id: auctionID, section: make(chan struct{}, 1)}
		l.rooms[auctionID] = r
	}
	r.users++
	l.mu.Unlock()

	leave, err := l.enter(ctx, r, wait)
	if err != nil {
		l.release(r)
		return nil, nil, err
	}
	return r, func() {
		leave()
		l.release(r)
	}, nil
}

func (l *Ledger) release(r *room) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r.users--
}

// dropRoom forgets the room of an auction the store does not know, unless
// other callers are queued on it. Those callers reload from the store, so
// keeping the room for them is safe; dropping it would leave them committing
// into a room no one else can see.
func (l *Ledger) dropRoom(r *room) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.users <= 1 && l.rooms[r.id] == r {
		delete(l.rooms, r.id)
	}
}

// enter acquires the auction's section, waiting at most wait. The returned
// func releases it.
func (l *Ledger) enter(ctx context.Context, r *room, wait time.Duration) (func(), error) {
	select {
	case r.section <- struct{}{}:
	default:
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case r.section <- struct{}{}:
		case <-t.C:
			return nil, domain.ErrConflictRetry
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	release := func() { <-r.section }

	if l.locks == nil {
		return release, nil
	}
	unlock, err := l.locks.Acquire(ctx, "auction:"+r.id, lockTTL)
	if err != nil {
		release()
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, domain.ErrConflictRetry
		}
		return nil, fmt.Errorf("ledger: lock %s: %w", r.id, err)
	}
	return func() {
		unlock()
		release()
	}, nil
}

// load makes sure the room holds the stored state. Must be called inside the
// section.
func (l *Ledger) load(ctx context.Context, r *room) (domain.Auction, error) {
	if a, ok := r.snapshot(); ok {
		return a, nil
	}
	a, err := l.store.GetByID(ctx, r.id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			l.dropRoom(r)
		}
		return domain.Auction{}, fmt.Errorf("ledger: load %s: %w", r.id, err)
	}
	if err := l.registry.Load(ctx, r.id); err != nil {
		return domain.Auction{}, err
	}
	var last time.Time
	if a.BidCount > 0 {
		last = a.UpdatedAt
	}
	r.commit(a, last)
	return a, nil
}

// Snapshot returns the in-memory state of an auction without waiting on its
// section. ok is false when the auction has not been loaded.
func (l *Ledger) Snapshot(auctionID string) (domain.Auction, bool) {
	l.mu.RLock()
	r, ok := l.rooms[auctionID]
	l.mu.RUnlock()
	if !ok {
		return domain.Auction{}, false
	}
	return r.snapshot()
}

// PlaceBid evaluates one bid. Rejections are *domain.Rejection values and
// leave no trace; any other error means nothing was recorded either.
func (l *Ledger) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64) (domain.Auction, domain.Bid, error) {
	r, leave, err := l.open(ctx, auctionID, l.bidWait)
	if err != nil {
		return domain.Auction{}, domain.Bid{}, err
	}
	defer leave()

	cur, err := l.load(ctx, r)
	if err != nil {
		return domain.Auction{}, domain.Bid{}, err
	}
	if cur.Status != domain.AuctionStatusActive || !l.clock.Now().Before(cur.EndAt) {
		return domain.Auction{}, domain.Bid{}, domain.ErrAuctionClosed
	}

	profile, err := l.profiles.Profile(ctx, bidderID)
	if err != nil {
		return domain.Auction{}, domain.Bid{}, fmt.Errorf("ledger: profile %s: %w", bidderID, err)
	}

	now := l.clock.Now()
	if err := l.gate.Check(cur, bidderID, profile, now); err != nil {
		return domain.Auction{}, domain.Bid{}, err
	}
	if amount < cur.MinimumBid() {
		return domain.Auction{}, domain.Bid{}, domain.ErrBidTooLow
	}

	placedAt := now
	r.mu.RLock()
	if !placedAt.After(r.lastPlacedAt) {
		placedAt = r.lastPlacedAt.Add(time.Microsecond)
	}
	r.mu.RUnlock()

	bid := domain.Bid{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		PlacedAt:  placedAt,
	}

	next := cur
	next.CurrentPrice = amount
	next.CurrentWinnerID = bidderID
	next.BidCount++
	next.Version++
	next.UpdatedAt = placedAt

	kind := domain.UpdateKindBid
	if cur.HasBuyNow() && amount >= cur.BuyNowPrice {
		next.Status = domain.AuctionStatusSold
		kind = domain.UpdateKindClosed
	} else {
		next.EndAt = l.sched.ExtendedEnd(cur.EndAt, placedAt)
	}

	if err := l.store.RecordBid(ctx, bid, next); err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			r.invalidate()
			return domain.Auction{}, domain.Bid{}, domain.ErrConflictRetry
		}
		return domain.Auction{}, domain.Bid{}, fmt.Errorf("ledger: record bid on %s: %w", auctionID, err)
	}
	r.commit(next, placedAt)

	if next.Status.Terminal() {
		l.sched.Cancel(auctionID)
	}
	l.afterCommit(ctx, kind, next, &bid)
	return next, bid, nil
}

// CloseDue closes the auction if its end time has been reached. When a bid
// has pushed the end forward since the timer was armed it reports the new end
// instead.
func (l *Ledger) CloseDue(ctx context.Context, auctionID string) (time.Time, bool, error) {
	r, leave, err := l.open(ctx, auctionID, l.closeWait)
	if err != nil {
		return time.Time{}, false, err
	}
	defer leave()

	cur, err := l.load(ctx, r)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	if cur.Status != domain.AuctionStatusActive {
		return time.Time{}, false, nil
	}
	now := l.clock.Now()
	if now.Before(cur.EndAt) {
		return cur.EndAt, true, nil
	}

	next := cur
	next.Status = domain.AuctionStatusUnsold
	if cur.HasWinner() {
		next.Status = domain.AuctionStatusSold
	}
	next.Version++
	next.UpdatedAt = now

	if err := l.persist(ctx, r, next); err != nil {
		return time.Time{}, false, err
	}
	l.afterCommit(ctx, domain.UpdateKindClosed, next, nil)
	return time.Time{}, false, nil
}

// Publish moves a draft auction to ACTIVE and arms its close timer.
func (l *Ledger) Publish(ctx context.Context, auctionID string) (domain.Auction, error) {
	r, leave, err := l.open(ctx, auctionID, l.closeWait)
	if err != nil {
		return domain.Auction{}, err
	}
	defer leave()

	cur, err := l.load(ctx, r)
	if err != nil {
		return domain.Auction{}, err
	}
	if cur.Status != domain.AuctionStatusDraft {
		return domain.Auction{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, cur.Status, domain.AuctionStatusActive)
	}
	now := l.clock.Now()
	if !now.Before(cur.EndAt) {
		return domain.Auction{}, fmt.Errorf("%w: end_at is in the past", domain.ErrInvalidAuction)
	}

	next := cur
	next.Status = domain.AuctionStatusActive
	next.Version++
	next.UpdatedAt = now
	if err := l.persist(ctx, r, next); err != nil {
		return domain.Auction{}, err
	}
	l.sched.Arm(auctionID, next.EndAt)
	l.afterCommit(ctx, domain.UpdateKindPublished, next, nil)
	return next, nil
}

// Terminate applies an external moderation outcome (EXPIRED or REMOVED) to an
// active auction.
func (l *Ledger) Terminate(ctx context.Context, auctionID string, status domain.AuctionStatus) (domain.Auction, error) {
	if status != domain.AuctionStatusExpired && status != domain.AuctionStatusRemoved {
		return domain.Auction{}, fmt.Errorf("%w: cannot terminate as %s", domain.ErrInvalidTransition, status)
	}

	r, leave, err := l.open(ctx, auctionID, l.closeWait)
	if err != nil {
		return domain.Auction{}, err
	}
	defer leave()

	cur, err := l.load(ctx, r)
	if err != nil {
		return domain.Auction{}, err
	}
	if cur.Status != domain.AuctionStatusActive {
		return domain.Auction{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, cur.Status, status)
	}

	next := cur
	next.Status = status
	next.Version++
	next.UpdatedAt = l.clock.Now()
	if err := l.persist(ctx, r, next); err != nil {
		return domain.Auction{}, err
	}
	l.sched.Cancel(auctionID)
	l.afterCommit(ctx, domain.UpdateKindRemoved, next, nil)
	return next, nil
}

// Deny bans bidderID from auctionID on behalf of requesterID, who must be the
// seller. The bidder's standing bid, if any, is untouched.
func (l *Ledger) Deny(ctx context.Context, auctionID, requesterID, bidderID string) error {
	r, leave, err := l.open(ctx, auctionID, l.bidWait)
	if err != nil {
		return err
	}
	defer leave()

	cur, err := l.load(ctx, r)
	if err != nil {
		return err
	}
	if cur.SellerID != requesterID {
		return domain.ErrNotSeller
	}
	if cur.Status != domain.AuctionStatusActive {
		return domain.ErrAuctionClosed
	}
	if err := l.registry.Deny(ctx, auctionID, bidderID, l.clock.Now()); err != nil {
		return err
	}
	l.auditLog(ctx, auctionID, "bidder_denied", map[string]any{
		"bidder_id":    bidderID,
		"requester_id": requesterID,
	})
	return nil
}

// persist stores a transition that does not add a bid.
func (l *Ledger) persist(ctx context.Context, r *room, next domain.Auction) error {
	if err := l.store.UpdateState(ctx, next); err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			r.invalidate()
		}
		return fmt.Errorf("ledger: update %s: %w", r.id, err)
	}
	r.commit(next, time.Time{})
	return nil
}

// afterCommit runs inside the section once the transition is durable. Nothing
// here can undo the transition; failures are logged.
func (l *Ledger) afterCommit(ctx context.Context, kind domain.UpdateKind, a domain.Auction, bid *domain.Bid) {
	l.publisher.Publish(domain.NewAuctionUpdate(kind, a, bid))

	if l.cache != nil {
		if err := l.cache.Set(ctx, a); err != nil {
			l.logger.Warn("state cache update failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	detail := map[string]any{
		"status":        string(a.Status),
		"current_price": a.CurrentPrice,
		"version":       a.Version,
	}
	if bid != nil {
		detail["bid_id"] = bid.ID
		detail["bidder_id"] = bid.BidderID
	}
	l.auditLog(ctx, a.ID, "auction_"+string(kind), detail)

	if !a.Status.Terminal() {
		return
	}
	l.registry.Forget(a.ID)
	l.logger.Info("auction closed",
		slog.String("auction_id", a.ID),
		slog.String("status", string(a.Status)),
		slog.String("winner_id", a.CurrentWinnerID),
		slog.Int64("final_price", a.CurrentPrice),
	)
	for _, h := range l.hooks {
		l.hookWG.Add(1)
		go func(h CloseHook) {
			defer l.hookWG.Done()
			hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.closeWait)
			defer cancel()
			h.AuctionClosed(hctx, a)
		}(h)
	}
}

func (l *Ledger) auditLog(ctx context.Context, auctionID, event string, detail map[string]any) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Log(ctx, auctionID, event, detail); err != nil {
		l.logger.Warn("audit log failed",
			slog.String("auction_id", auctionID),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// Wait blocks until every close hook started so far has returned.
func (l *Ledger) Wait() {
	l.hookWG.Wait()
}
