package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL. The
// primary key on auction_id makes Claim the once-only guard.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Claim inserts a pending settlement, returning false when one exists.
func (s *SettlementStore) Claim(ctx context.Context, st domain.Settlement) (bool, error) {
	const query = `
		INSERT INTO settlements (auction_id, winner_id, final_price, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (auction_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, st.AuctionID, st.WinnerID, st.FinalPrice, string(domain.SettlementStatusPending))
	if err != nil {
		return false, fmt.Errorf("postgres: claim settlement %s: %w", st.AuctionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkOrdered records the payment order id.
func (s *SettlementStore) MarkOrdered(ctx context.Context, auctionID, orderID string) error {
	const query = `
		UPDATE settlements
		SET status = $2, order_id = $3, attempts = attempts + 1, last_error = '', updated_at = NOW()
		WHERE auction_id = $1`
	return s.exec(ctx, query, auctionID, string(domain.SettlementStatusOrdered), orderID)
}

// MarkFailed records a failed attempt.
func (s *SettlementStore) MarkFailed(ctx context.Context, auctionID, reason string) error {
	const query = `
		UPDATE settlements
		SET status = $2, attempts = attempts + 1, last_error = $3, updated_at = NOW()
		WHERE auction_id = $1`
	return s.exec(ctx, query, auctionID, string(domain.SettlementStatusFailed), reason)
}

func (s *SettlementStore) exec(ctx context.Context, query, auctionID string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, append([]any{auctionID}, args...)...)
	if err != nil {
		return fmt.Errorf("postgres: update settlement %s: %w", auctionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: settlement %s: %w", auctionID, domain.ErrNotFound)
	}
	return nil
}

// ListRetryable returns unordered settlements with fewer than maxAttempts
// attempts, oldest first.
func (s *SettlementStore) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]domain.Settlement, error) {
	const query = `
		SELECT auction_id, winner_id, final_price, order_id, status, attempts, last_error, created_at, updated_at
		FROM settlements
		WHERE status <> $1 AND attempts < $2
		ORDER BY updated_at ASC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, string(domain.SettlementStatusOrdered), maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list retryable settlements: %w", err)
	}
	defer rows.Close()

	var out []domain.Settlement
	for rows.Next() {
		var st domain.Settlement
		var status string
		if err := rows.Scan(&st.AuctionID, &st.WinnerID, &st.FinalPrice, &st.OrderID, &status,
			&st.Attempts, &st.LastError, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		st.Status = domain.SettlementStatus(status)
		out = append(out, st)
	}
	return out, rows.Err()
}

var _ domain.SettlementStore = (*SettlementStore)(nil)
