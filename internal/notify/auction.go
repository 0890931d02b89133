package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// AuctionClosed implements auction.CloseHook.
func (n *Notifier) AuctionClosed(ctx context.Context, a domain.Auction) {
	event, title, message, ok := describeClose(a)
	if !ok {
		return
	}
	if err := n.Notify(ctx, event, title, message); err != nil {
		n.logger.WarnContext(ctx, "close notification failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

// SettlementFailed reports a payment order that could not be created.
func (n *Notifier) SettlementFailed(ctx context.Context, s domain.Settlement) error {
	return n.Notify(ctx, EventSettlementFailed,
		"Settlement failed",
		fmt.Sprintf("Auction %s, winner %s, %s: attempt %d failed: %s",
			s.AuctionID, s.WinnerID, domain.FormatMinorUnits(s.FinalPrice), s.Attempts, s.LastError),
	)
}

func describeClose(a domain.Auction) (event, title, message string, ok bool) {
	ended := a.EndAt.UTC().Format(time.RFC3339)
	switch a.Status {
	case domain.AuctionStatusSold:
		return EventAuctionSold, "Auction sold",
			fmt.Sprintf("Auction %s sold to %s for %s after %d bid(s).",
				a.ID, a.CurrentWinnerID, domain.FormatMinorUnits(a.CurrentPrice), a.BidCount), true
	case domain.AuctionStatusUnsold:
		return EventAuctionUnsold, "Auction unsold",
			fmt.Sprintf("Auction %s ended at %s without bids.", a.ID, ended), true
	case domain.AuctionStatusExpired:
		return EventAuctionExpired, "Auction expired",
			fmt.Sprintf("Auction %s was expired by moderation.", a.ID), true
	case domain.AuctionStatusRemoved:
		return EventAuctionRemoved, "Auction removed",
			fmt.Sprintf("Auction %s was removed by moderation.", a.ID), true
	default:
		return "", "", "", false
	}
}
