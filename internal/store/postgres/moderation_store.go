package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// ModerationStore implements domain.ModerationStore using PostgreSQL.
type ModerationStore struct {
	pool *pgxpool.Pool
}

// NewModerationStore creates a new ModerationStore.
func NewModerationStore(pool *pgxpool.Pool) *ModerationStore {
	return &ModerationStore{pool: pool}
}

// Deny inserts the entry unless it already exists.
func (s *ModerationStore) Deny(ctx context.Context, e domain.ModerationEntry) (bool, error) {
	const query = `
		INSERT INTO moderation_entries (auction_id, bidder_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (auction_id, bidder_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, e.AuctionID, e.BidderID, e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("postgres: deny %s on %s: %w", e.BidderID, e.AuctionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByAuction returns every ban on auctionID.
func (s *ModerationStore) ListByAuction(ctx context.Context, auctionID string) ([]domain.ModerationEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT auction_id, bidder_id, created_at FROM moderation_entries
		 WHERE auction_id = $1 ORDER BY created_at`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list moderation %s: %w", auctionID, err)
	}
	defer rows.Close()

	var out []domain.ModerationEntry
	for rows.Next() {
		var e domain.ModerationEntry
		if err := rows.Scan(&e.AuctionID, &e.BidderID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan moderation entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ domain.ModerationStore = (*ModerationStore)(nil)
