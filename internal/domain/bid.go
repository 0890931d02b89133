package domain

import "time"

// Bid is an accepted offer against an auction. Rejected offers never become
// Bid records.
type Bid struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auction_id"`
	BidderID  string    `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	PlacedAt  time.Time `json:"placed_at"`
}

// BidderProfile is a read-only rating snapshot supplied by the identity service.
type BidderProfile struct {
	BidderID       string `json:"bidder_id"`
	RatingPositive int64  `json:"rating_positive"`
	RatingNegative int64  `json:"rating_negative"`
}

// HasHistory reports whether the bidder has received any rating.
func (p BidderProfile) HasHistory() bool {
	return p.RatingPositive+p.RatingNegative > 0
}

// EligibilityRatio returns positive / (positive + negative). The second return
// value is false when the bidder has no rating history.
func (p BidderProfile) EligibilityRatio() (float64, bool) {
	total := p.RatingPositive + p.RatingNegative
	if total <= 0 {
		return 0, false
	}
	return float64(p.RatingPositive) / float64(total), true
}

// ModerationEntry is a seller-issued ban of one bidder on one auction.
type ModerationEntry struct {
	AuctionID string    `json:"auction_id"`
	BidderID  string    `json:"bidder_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FavoriteEntry is a watchlist membership.
type FavoriteEntry struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
}
