package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuctionStore persists auction state and the append-only bid log.
//
// Writes carry the new Version; implementations must reject a write whose
// predecessor version (Version-1) is not the stored one with ErrStaleState.
type AuctionStore interface {
	Create(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id string) (Auction, error)
	UpdateState(ctx context.Context, a Auction) error
	// RecordBid appends bid and stores next as a single atomic unit.
	RecordBid(ctx context.Context, bid Bid, next Auction) error
	ListBids(ctx context.Context, auctionID string, opts ListOpts) ([]Bid, error)
	ListByStatus(ctx context.Context, status AuctionStatus, opts ListOpts) ([]Auction, error)
}

// ModerationStore persists seller-issued bans. Entries are never removed.
type ModerationStore interface {
	// Deny records the entry; created is false when it already existed.
	Deny(ctx context.Context, entry ModerationEntry) (created bool, err error)
	ListByAuction(ctx context.Context, auctionID string) ([]ModerationEntry, error)
}

// SettlementStore is the outbox guaranteeing one payment order per sold auction.
type SettlementStore interface {
	// Claim inserts a pending settlement; claimed is false when one exists.
	Claim(ctx context.Context, s Settlement) (claimed bool, err error)
	MarkOrdered(ctx context.Context, auctionID, orderID string) error
	MarkFailed(ctx context.Context, auctionID, reason string) error
	ListRetryable(ctx context.Context, maxAttempts, limit int) ([]Settlement, error)
}

// FavoriteStore holds per-user watchlist membership.
type FavoriteStore interface {
	// Toggle flips membership exactly once and returns the new state.
	Toggle(ctx context.Context, userID, productID string) (bool, error)
	IsMember(ctx context.Context, userID, productID string) (bool, error)
	List(ctx context.Context, userID string) ([]string, error)
}

// AuditEntry is a single row of an auction's audit trail.
type AuditEntry struct {
	ID        int64
	AuctionID string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit trail per auction.
type AuditStore interface {
	Log(ctx context.Context, auctionID, event string, detail map[string]any) error
	// ListByAuction returns the trail of one auction, oldest first.
	ListByAuction(ctx context.Context, auctionID string, opts ListOpts) ([]AuditEntry, error)
}
