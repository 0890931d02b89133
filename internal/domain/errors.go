package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidAuction    = errors.New("invalid auction")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotSeller         = errors.New("only the seller may perform this action")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
	ErrStaleState        = errors.New("stale auction state")
)

// RejectReason is the machine-readable reason a bid was not accepted.
type RejectReason string

const (
	ReasonAuctionClosed     RejectReason = "auction-closed"
	ReasonSelfBid           RejectReason = "self-bid"
	ReasonRatingTooLow      RejectReason = "rating-too-low"
	ReasonUnratedNotAllowed RejectReason = "unrated-not-allowed"
	ReasonBidderBlocked     RejectReason = "bidder-blocked"
	ReasonBidTooLow         RejectReason = "bid-too-low"
	ReasonConflictRetry     RejectReason = "conflict-retry"
)

// Rejection is returned synchronously when a bid is refused. It never
// accompanies a state change.
type Rejection struct {
	Reason RejectReason
}

func (r *Rejection) Error() string {
	return "bid rejected: " + string(r.Reason)
}

// Retryable reports whether the caller may retry immediately after
// re-reading the auction state.
func (r *Rejection) Retryable() bool {
	return r.Reason == ReasonConflictRetry
}

var (
	ErrAuctionClosed     = &Rejection{Reason: ReasonAuctionClosed}
	ErrSelfBid           = &Rejection{Reason: ReasonSelfBid}
	ErrRatingTooLow      = &Rejection{Reason: ReasonRatingTooLow}
	ErrUnratedNotAllowed = &Rejection{Reason: ReasonUnratedNotAllowed}
	ErrBidderBlocked     = &Rejection{Reason: ReasonBidderBlocked}
	ErrBidTooLow         = &Rejection{Reason: ReasonBidTooLow}
	ErrConflictRetry     = &Rejection{Reason: ReasonConflictRetry}
)

// ReasonOf extracts the rejection reason from err.
func ReasonOf(err error) (RejectReason, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason, true
	}
	return "", false
}
