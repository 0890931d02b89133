package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/peterldowns/testy/check"
)

func TestAuctionStore_VersionedWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewAuctionStore()

	a := domain.Auction{ID: "a1", SellerID: "s", StepPrice: 1, Status: domain.AuctionStatusActive, Version: 1}
	check.NoError(t, s.Create(ctx, a))
	check.True(t, errors.Is(s.Create(ctx, a), domain.ErrAlreadyExists))

	next := a
	next.Version = 2
	next.CurrentPrice = 5
	check.NoError(t, s.RecordBid(ctx, domain.Bid{ID: "b1", AuctionID: "a1", Amount: 5}, next))

	// Replaying the same predecessor fails and records nothing.
	err := s.RecordBid(ctx, domain.Bid{ID: "b2", AuctionID: "a1", Amount: 6}, next)
	check.True(t, errors.Is(err, domain.ErrStaleState))

	bids, err := s.ListBids(ctx, "a1", domain.ListOpts{})
	check.NoError(t, err)
	check.Equal(t, 1, len(bids))

	_, err = s.GetByID(ctx, "missing")
	check.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestAuctionStore_ListByStatusPages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewAuctionStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		check.NoError(t, s.Create(ctx, domain.Auction{ID: id, Status: domain.AuctionStatusActive, EndAt: base.Add(time.Duration(i) * time.Hour)}))
	}
	check.NoError(t, s.Create(ctx, domain.Auction{ID: "d", Status: domain.AuctionStatusDraft}))

	first, err := s.ListByStatus(ctx, domain.AuctionStatusActive, domain.ListOpts{Limit: 2})
	check.NoError(t, err)
	check.Equal(t, 2, len(first))
	check.Equal(t, "c", first[0].ID)

	rest, err := s.ListByStatus(ctx, domain.AuctionStatusActive, domain.ListOpts{Limit: 2, Offset: 2})
	check.NoError(t, err)
	check.Equal(t, 1, len(rest))
	check.Equal(t, "b", rest[0].ID)
}

func TestSettlementStore_ClaimOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewSettlementStore()

	claimed, err := s.Claim(ctx, domain.Settlement{AuctionID: "a1", WinnerID: "w", FinalPrice: 100})
	check.NoError(t, err)
	check.True(t, claimed)

	claimed, err = s.Claim(ctx, domain.Settlement{AuctionID: "a1", WinnerID: "w", FinalPrice: 100})
	check.NoError(t, err)
	check.False(t, claimed)

	check.NoError(t, s.MarkFailed(ctx, "a1", "timeout"))
	retry, err := s.ListRetryable(ctx, 3, 10)
	check.NoError(t, err)
	check.Equal(t, 1, len(retry))
	check.Equal(t, 1, retry[0].Attempts)

	check.NoError(t, s.MarkOrdered(ctx, "a1", "order-1"))
	retry, err = s.ListRetryable(ctx, 3, 10)
	check.NoError(t, err)
	check.Equal(t, 0, len(retry))
}

func TestModerationStore_DenyIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewModerationStore()

	created, err := s.Deny(ctx, domain.ModerationEntry{AuctionID: "a1", BidderID: "b1"})
	check.NoError(t, err)
	check.True(t, created)
	created, err = s.Deny(ctx, domain.ModerationEntry{AuctionID: "a1", BidderID: "b1"})
	check.NoError(t, err)
	check.False(t, created)

	entries, err := s.ListByAuction(ctx, "a1")
	check.NoError(t, err)
	check.Equal(t, 1, len(entries))
}
