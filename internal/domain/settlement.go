package domain

import "time"

// SettlementStatus tracks the payable-order handoff for a sold auction.
type SettlementStatus string

const (
	SettlementStatusPending SettlementStatus = "pending"
	SettlementStatusOrdered SettlementStatus = "ordered"
	SettlementStatusFailed  SettlementStatus = "failed"
)

// Settlement records the single payment order created for a SOLD auction.
type Settlement struct {
	AuctionID  string
	WinnerID   string
	FinalPrice int64
	OrderID    string
	Status     SettlementStatus
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
