// Package auction implements the bidding engine: eligibility rules, the
// per-auction bid ledger, the anti-sniping close scheduler and seller
// moderation.
package auction

import (
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// MinEligibilityRatio is the positive-rating share a rated bidder must hold.
// It applies regardless of how many ratings the bidder has.
const MinEligibilityRatio = 0.8

// BlockChecker reports seller-issued bans.
type BlockChecker interface {
	IsBlocked(auctionID, bidderID string) bool
}

// EligibilityGate decides whether a bidder may bid on an auction right now.
// It has no side effects.
type EligibilityGate struct {
	blocks BlockChecker
}

// NewEligibilityGate creates a gate consulting blocks for moderation bans.
func NewEligibilityGate(blocks BlockChecker) *EligibilityGate {
	return &EligibilityGate{blocks: blocks}
}

// Check evaluates the rules in order and returns the first failing one as a
// *domain.Rejection, or nil when the bidder is allowed.
func (g *EligibilityGate) Check(a domain.Auction, bidderID string, profile domain.BidderProfile, now time.Time) error {
	if a.Status != domain.AuctionStatusActive || !now.Before(a.EndAt) {
		return domain.ErrAuctionClosed
	}
	if bidderID == a.SellerID {
		return domain.ErrSelfBid
	}
	if ratio, rated := profile.EligibilityRatio(); rated {
		if ratio < MinEligibilityRatio {
			return domain.ErrRatingTooLow
		}
	} else if !a.AllowUnratedBidder {
		return domain.ErrUnratedNotAllowed
	}
	if g.blocks != nil && g.blocks.IsBlocked(a.ID, bidderID) {
		return domain.ErrBidderBlocked
	}
	return nil
}
