package auction

import (
	"testing"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/peterldowns/testy/check"
)

type staticBlocks map[string]bool

func (b staticBlocks) IsBlocked(auctionID, bidderID string) bool {
	return b[auctionID+"/"+bidderID]
}

func TestEligibilityGate_Check(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	active := domain.Auction{
		ID:                 "a1",
		SellerID:           "seller",
		Status:             domain.AuctionStatusActive,
		EndAt:              now.Add(time.Hour),
		AllowUnratedBidder: true,
	}
	rated := func(pos, neg int64) domain.BidderProfile {
		return domain.BidderProfile{RatingPositive: pos, RatingNegative: neg}
	}

	gate := NewEligibilityGate(staticBlocks{"a1/banned": true})

	tests := []struct {
		name    string
		auction func(a domain.Auction) domain.Auction
		bidder  string
		profile domain.BidderProfile
		want    error
	}{
		{name: "allowed", bidder: "b1", profile: rated(10, 0)},
		{name: "not active", bidder: "b1", profile: rated(10, 0), want: domain.ErrAuctionClosed,
			auction: func(a domain.Auction) domain.Auction { a.Status = domain.AuctionStatusDraft; return a }},
		{name: "end reached", bidder: "b1", profile: rated(10, 0), want: domain.ErrAuctionClosed,
			auction: func(a domain.Auction) domain.Auction { a.EndAt = now; return a }},
		{name: "seller with perfect rating", bidder: "seller", profile: rated(100, 0), want: domain.ErrSelfBid},
		{name: "single positive rating passes", bidder: "b1", profile: rated(1, 0)},
		{name: "ratio exactly at floor passes", bidder: "b1", profile: rated(4, 1)},
		{name: "ratio below floor", bidder: "b1", profile: rated(3, 1), want: domain.ErrRatingTooLow},
		{name: "rated bidder ignores unrated flag", bidder: "b1", profile: rated(9, 1),
			auction: func(a domain.Auction) domain.Auction { a.AllowUnratedBidder = false; return a }},
		{name: "unrated allowed", bidder: "b1", profile: rated(0, 0)},
		{name: "unrated not allowed", bidder: "b1", profile: rated(0, 0), want: domain.ErrUnratedNotAllowed,
			auction: func(a domain.Auction) domain.Auction { a.AllowUnratedBidder = false; return a }},
		{name: "blocked", bidder: "banned", profile: rated(10, 0), want: domain.ErrBidderBlocked},
		{name: "low rating reported before block", bidder: "banned", profile: rated(1, 1), want: domain.ErrRatingTooLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := active
			if tt.auction != nil {
				a = tt.auction(a)
			}
			err := gate.Check(a, tt.bidder, tt.profile, now)
			check.Equal(t, tt.want == nil, err == nil)
			if tt.want != nil {
				check.True(t, err == tt.want)
			}
		})
	}
}
