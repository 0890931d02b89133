package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// AuditStore keeps per-auction audit trails in audit_log.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends a row to the auction's trail; detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, auctionID, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	const query = `INSERT INTO audit_log (auction_id, event, detail) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, auctionID, event, detailJSON); err != nil {
		return fmt.Errorf("postgres: audit %s %s: %w", auctionID, event, err)
	}
	return nil
}

// ListByAuction returns the auction's trail oldest first. The BIGSERIAL id
// breaks ties between rows written in the same transaction timestamp.
func (s *AuditStore) ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, auction_id, event, detail, created_at FROM audit_log WHERE auction_id = $1`
	query, args := appendTimeRange(query, []any{auctionID}, "created_at", opts)
	query += " ORDER BY id ASC"
	query, args = appendPaging(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit %s: %w", auctionID, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var e domain.AuditEntry
		var detail []byte
		if err := row.Scan(&e.ID, &e.AuctionID, &e.Event, &detail, &e.CreatedAt); err != nil {
			return e, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return e, fmt.Errorf("unmarshal detail: %w", err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit %s: %w", auctionID, err)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
