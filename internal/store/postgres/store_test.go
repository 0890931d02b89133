package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// newTestClient connects to BIDENGINE_TEST_DATABASE_URL, applies migrations
// and empties every table. Tests skip when no database is reachable.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("BIDENGINE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BIDENGINE_TEST_DATABASE_URL not set; skipping Postgres integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	if err != nil {
		t.Skipf("skipping Postgres integration tests: %v", err)
	}
	t.Cleanup(c.Close)

	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if _, err := c.Pool().Exec(ctx,
		`TRUNCATE audit_log, settlements, moderation_entries, bids, auctions`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return c
}

func newAuction(now time.Time) domain.Auction {
	return domain.Auction{
		ID:           uuid.NewString(),
		SellerID:     "seller",
		StartPrice:   100,
		StepPrice:    10,
		CurrentPrice: 100,
		EndAt:        now.Add(time.Hour),
		Status:       domain.AuctionStatusActive,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestStores(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	auctions := NewAuctionStore(c.Pool())
	moderation := NewModerationStore(c.Pool())
	settlements := NewSettlementStore(c.Pool())
	audit := NewAuditStore(c.Pool())

	t.Run("auction round trip and duplicate create", func(t *testing.T) {
		a := newAuction(now)
		check.NoError(t, auctions.Create(ctx, a))
		check.True(t, errors.Is(auctions.Create(ctx, a), domain.ErrAlreadyExists))

		got, err := auctions.GetByID(ctx, a.ID)
		check.NoError(t, err)
		check.Equal(t, a, got)

		_, err = auctions.GetByID(ctx, "missing")
		check.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("record bid is atomic and versioned", func(t *testing.T) {
		a := newAuction(now)
		check.NoError(t, auctions.Create(ctx, a))

		bid := domain.Bid{ID: uuid.NewString(), AuctionID: a.ID, BidderID: "b1", Amount: 110, PlacedAt: now}
		next := a
		next.CurrentPrice, next.CurrentWinnerID, next.BidCount, next.Version = 110, "b1", 1, 2
		check.NoError(t, auctions.RecordBid(ctx, bid, next))

		stale := domain.Bid{ID: uuid.NewString(), AuctionID: a.ID, BidderID: "b2", Amount: 120, PlacedAt: now.Add(time.Second)}
		err := auctions.RecordBid(ctx, stale, next)
		check.True(t, errors.Is(err, domain.ErrStaleState))

		bids, err := auctions.ListBids(ctx, a.ID, domain.ListOpts{})
		check.NoError(t, err)
		check.Equal(t, []domain.Bid{bid}, bids)

		got, err := auctions.GetByID(ctx, a.ID)
		check.NoError(t, err)
		check.Equal(t, int64(110), got.CurrentPrice)
		check.Equal(t, int64(2), got.Version)
	})

	t.Run("moderation deny is idempotent", func(t *testing.T) {
		a := newAuction(now)
		check.NoError(t, auctions.Create(ctx, a))
		created, err := moderation.Deny(ctx, domain.ModerationEntry{AuctionID: a.ID, BidderID: "b1", CreatedAt: now})
		check.NoError(t, err)
		check.True(t, created)
		created, err = moderation.Deny(ctx, domain.ModerationEntry{AuctionID: a.ID, BidderID: "b1", CreatedAt: now})
		check.NoError(t, err)
		check.False(t, created)
	})

	t.Run("settlement claimed once", func(t *testing.T) {
		a := newAuction(now)
		check.NoError(t, auctions.Create(ctx, a))
		st := domain.Settlement{AuctionID: a.ID, WinnerID: "b1", FinalPrice: 110}
		claimed, err := settlements.Claim(ctx, st)
		check.NoError(t, err)
		check.True(t, claimed)
		claimed, err = settlements.Claim(ctx, st)
		check.NoError(t, err)
		check.False(t, claimed)

		check.NoError(t, settlements.MarkFailed(ctx, a.ID, "timeout"))
		retry, err := settlements.ListRetryable(ctx, 5, 10)
		check.NoError(t, err)
		check.Equal(t, 1, len(retry))
		check.NoError(t, settlements.MarkOrdered(ctx, a.ID, "order-1"))
	})

	t.Run("audit log", func(t *testing.T) {
		check.NoError(t, audit.Log(ctx, "x", "auction_bid", map[string]any{"amount": 700}))
		check.NoError(t, audit.Log(ctx, "x", "auction_closed", nil))
		check.NoError(t, audit.Log(ctx, "y", "auction_bid", nil))
		entries, err := audit.ListByAuction(ctx, "x", domain.ListOpts{})
		check.NoError(t, err)
		check.Equal(t, 2, len(entries))
		check.Equal(t, "auction_bid", entries[0].Event)
		check.Equal(t, "auction_closed", entries[1].Event)
		check.Equal(t, float64(700), entries[0].Detail["amount"].(float64))
	})
}
