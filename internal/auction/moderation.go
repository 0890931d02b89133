package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// ModerationRegistry keeps the per-auction set of bidders a seller has denied.
// The store is the source of truth; the in-memory set is hydrated per auction
// on first use so IsBlocked never touches the network.
type ModerationRegistry struct {
	store  domain.ModerationStore
	logger *slog.Logger

	mu      sync.RWMutex
	blocked map[string]map[string]struct{} // auctionID -> bidderIDs
	loaded  map[string]bool
}

// NewModerationRegistry creates a registry backed by store.
func NewModerationRegistry(store domain.ModerationStore, logger *slog.Logger) *ModerationRegistry {
	return &ModerationRegistry{
		store:   store,
		logger:  logger.With(slog.String("component", "moderation")),
		blocked: make(map[string]map[string]struct{}),
		loaded:  make(map[string]bool),
	}
}

// Load hydrates the ban set for auctionID from the store. Subsequent calls are
// no-ops.
func (r *ModerationRegistry) Load(ctx context.Context, auctionID string) error {
	r.mu.RLock()
	done := r.loaded[auctionID]
	r.mu.RUnlock()
	if done {
		return nil
	}

	entries, err := r.store.ListByAuction(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("moderation: load %s: %w", auctionID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.blocked[auctionID]
	if set == nil {
		set = make(map[string]struct{}, len(entries))
		r.blocked[auctionID] = set
	}
	for _, e := range entries {
		set[e.BidderID] = struct{}{}
	}
	r.loaded[auctionID] = true
	return nil
}

// Deny bans bidderID from future bids on auctionID. Denying an already
// denied bidder is a no-op. Authority checks (seller only, auction active) are
// the caller's responsibility.
func (r *ModerationRegistry) Deny(ctx context.Context, auctionID, bidderID string, now time.Time) error {
	created, err := r.store.Deny(ctx, domain.ModerationEntry{
		AuctionID: auctionID,
		BidderID:  bidderID,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("moderation: deny %s on %s: %w", bidderID, auctionID, err)
	}

	r.mu.Lock()
	set := r.blocked[auctionID]
	if set == nil {
		set = make(map[string]struct{})
		r.blocked[auctionID] = set
	}
	set[bidderID] = struct{}{}
	r.mu.Unlock()

	if created {
		r.logger.Info("bidder denied",
			slog.String("auction_id", auctionID),
			slog.String("bidder_id", bidderID),
		)
	}
	return nil
}

// IsBlocked reports whether bidderID is banned on auctionID.
func (r *ModerationRegistry) IsBlocked(auctionID, bidderID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blocked[auctionID][bidderID]
	return ok
}

// Forget drops the cached set for a closed auction.
func (r *ModerationRegistry) Forget(auctionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blocked, auctionID)
	delete(r.loaded, auctionID)
}
