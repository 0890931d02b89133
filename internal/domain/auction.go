package domain

import (
	"fmt"
	"time"
)

// AuctionStatus represents the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionStatusDraft   AuctionStatus = "DRAFT"
	AuctionStatusActive  AuctionStatus = "ACTIVE"
	AuctionStatusSold    AuctionStatus = "SOLD"
	AuctionStatusExpired AuctionStatus = "EXPIRED"
	AuctionStatusUnsold  AuctionStatus = "UNSOLD"
	AuctionStatusRemoved AuctionStatus = "REMOVED"
)

// Terminal reports whether the status accepts no further transitions.
func (s AuctionStatus) Terminal() bool {
	switch s {
	case AuctionStatusSold, AuctionStatusExpired, AuctionStatusUnsold, AuctionStatusRemoved:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionStatusDraft, AuctionStatusActive, AuctionStatusSold,
		AuctionStatusExpired, AuctionStatusUnsold, AuctionStatusRemoved:
		return true
	default:
		return false
	}
}

// Auction is the authoritative state of a single auction. Monetary values are
// integer minor currency units.
type Auction struct {
	ID                 string        `json:"id"`
	SellerID           string        `json:"seller_id"`
	StartPrice         int64         `json:"start_price"`
	StepPrice          int64         `json:"step_price"`
	BuyNowPrice        int64         `json:"buy_now_price,omitempty"` // 0 = no buy-now
	CurrentPrice       int64         `json:"current_price"`
	CurrentWinnerID    string        `json:"current_winner_id,omitempty"`
	EndAt              time.Time     `json:"end_at"`
	AllowUnratedBidder bool          `json:"allow_unrated_bidder"`
	Status             AuctionStatus `json:"status"`
	BidCount           int           `json:"bid_count"`
	Version            int64         `json:"version"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// HasBuyNow reports whether a buy-now price is configured.
func (a Auction) HasBuyNow() bool {
	return a.BuyNowPrice > 0
}

// HasWinner reports whether any bid has been accepted.
func (a Auction) HasWinner() bool {
	return a.CurrentWinnerID != ""
}

// MinimumBid returns the smallest amount the next bid must reach.
func (a Auction) MinimumBid() int64 {
	return a.CurrentPrice + a.StepPrice
}

// Validate checks the static pricing fields of a newly created auction.
func (a Auction) Validate() error {
	switch {
	case a.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidAuction)
	case a.SellerID == "":
		return fmt.Errorf("%w: seller_id is required", ErrInvalidAuction)
	case a.StartPrice < 0:
		return fmt.Errorf("%w: start_price must be >= 0", ErrInvalidAuction)
	case a.StepPrice <= 0:
		return fmt.Errorf("%w: step_price must be > 0", ErrInvalidAuction)
	case a.BuyNowPrice < 0:
		return fmt.Errorf("%w: buy_now_price must be >= 0", ErrInvalidAuction)
	case a.HasBuyNow() && a.BuyNowPrice <= a.StartPrice:
		return fmt.Errorf("%w: buy_now_price must exceed start_price", ErrInvalidAuction)
	case a.EndAt.IsZero():
		return fmt.Errorf("%w: end_at is required", ErrInvalidAuction)
	}
	return nil
}
