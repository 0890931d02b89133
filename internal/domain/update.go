package domain

import "time"

// UpdateKind names the transition that produced an AuctionUpdate.
type UpdateKind string

const (
	UpdateKindPublished UpdateKind = "published"
	UpdateKindBid       UpdateKind = "bid"
	UpdateKindClosed    UpdateKind = "closed"
	UpdateKindRemoved   UpdateKind = "removed"
)

// AuctionUpdate is a complete snapshot of an auction pushed to subscribers.
// Consumers treat every update as authoritative, never as a diff.
type AuctionUpdate struct {
	AuctionID       string        `json:"auction_id"`
	Kind            UpdateKind    `json:"kind"`
	CurrentPrice    int64         `json:"current_price"`
	DisplayPrice    string        `json:"display_price"`
	CurrentWinnerID string        `json:"current_winner_id,omitempty"`
	EndAt           time.Time     `json:"end_at"`
	Status          AuctionStatus `json:"status"`
	Bid             *Bid          `json:"bid,omitempty"`
	Version         int64         `json:"version"`
}

// NewAuctionUpdate builds the snapshot for a, optionally carrying the bid that
// triggered it.
func NewAuctionUpdate(kind UpdateKind, a Auction, bid *Bid) AuctionUpdate {
	return AuctionUpdate{
		AuctionID:       a.ID,
		Kind:            kind,
		CurrentPrice:    a.CurrentPrice,
		DisplayPrice:    FormatMinorUnits(a.CurrentPrice),
		CurrentWinnerID: a.CurrentWinnerID,
		EndAt:           a.EndAt,
		Status:          a.Status,
		Bid:             bid,
		Version:         a.Version,
	}
}
