package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

const auctionSelectCols = `id, seller_id, start_price, step_price, buy_now_price,
	current_price, current_winner_id, end_at, allow_unrated_bidder, status,
	bid_count, version, created_at, updated_at`

func scanAuction(row pgx.Row) (domain.Auction, error) {
	var a domain.Auction
	var status string
	err := row.Scan(
		&a.ID, &a.SellerID, &a.StartPrice, &a.StepPrice, &a.BuyNowPrice,
		&a.CurrentPrice, &a.CurrentWinnerID, &a.EndAt, &a.AllowUnratedBidder, &status,
		&a.BidCount, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}
	a.Status = domain.AuctionStatus(status)
	a.EndAt = a.EndAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

// Create inserts a new auction.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	const query = `
		INSERT INTO auctions (` + auctionSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := conn(ctx, s.pool).Exec(ctx, query,
		a.ID, a.SellerID, a.StartPrice, a.StepPrice, a.BuyNowPrice,
		a.CurrentPrice, a.CurrentWinnerID, a.EndAt, a.AllowUnratedBidder, string(a.Status),
		a.BidCount, a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create auction %s: %w", a.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, err)
	}
	return nil
}

// GetByID retrieves a single auction.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	row := conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, fmt.Errorf("postgres: auction %s: %w", id, domain.ErrNotFound)
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}
	return a, nil
}

// UpdateState writes the mutable fields of a, provided the stored version is
// a.Version-1.
func (s *AuctionStore) UpdateState(ctx context.Context, a domain.Auction) error {
	return s.update(ctx, conn(ctx, s.pool), a)
}

// RecordBid appends bid and stores next in one transaction.
func (s *AuctionStore) RecordBid(ctx context.Context, bid domain.Bid, next domain.Auction) error {
	return withTx(ctx, s.pool, func(ctx context.Context) error {
		tx := txFromContext(ctx)
		if err := s.update(ctx, tx, next); err != nil {
			return err
		}
		const query = `
			INSERT INTO bids (id, auction_id, bidder_id, amount, placed_at)
			VALUES ($1, $2, $3, $4, $5)`
		if _, err := tx.Exec(ctx, query, bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.PlacedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("postgres: insert bid on %s: %w", bid.AuctionID, domain.ErrStaleState)
			}
			return fmt.Errorf("postgres: insert bid on %s: %w", bid.AuctionID, err)
		}
		return nil
	})
}

func (s *AuctionStore) update(ctx context.Context, q querier, a domain.Auction) error {
	const query = `
		UPDATE auctions SET
			current_price = $2, current_winner_id = $3, end_at = $4, status = $5,
			bid_count = $6, version = $7, updated_at = $8
		WHERE id = $1 AND version = $9`

	tag, err := q.Exec(ctx, query,
		a.ID, a.CurrentPrice, a.CurrentWinnerID, a.EndAt, string(a.Status),
		a.BidCount, a.Version, a.UpdatedAt, a.Version-1,
	)
	if err != nil {
		return fmt.Errorf("postgres: update auction %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM auctions WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: update auction %s: %w", a.ID, err)
	}
	if !exists {
		return fmt.Errorf("postgres: auction %s: %w", a.ID, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: auction %s version %d: %w", a.ID, a.Version-1, domain.ErrStaleState)
}

// ListBids returns the bids of an auction in placement order.
func (s *AuctionStore) ListBids(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	query := `SELECT id, auction_id, bidder_id, amount, placed_at FROM bids WHERE auction_id = $1`
	args := []any{auctionID}
	query, args = appendTimeRange(query, args, "placed_at", opts)
	query += " ORDER BY placed_at ASC"
	query, args = appendPaging(query, args, opts)

	rows, err := conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids %s: %w", auctionID, err)
	}
	defer rows.Close()

	bids := []domain.Bid{}
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.PlacedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		b.PlacedAt = b.PlacedAt.UTC()
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids %s rows: %w", auctionID, err)
	}
	return bids, nil
}

// ListByStatus returns auctions in status ordered by end time.
func (s *AuctionStore) ListByStatus(ctx context.Context, status domain.AuctionStatus, opts domain.ListOpts) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions WHERE status = $1`
	args := []any{string(status)}
	query, args = appendTimeRange(query, args, "end_at", opts)
	query += " ORDER BY end_at ASC, id ASC"
	query, args = appendPaging(query, args, opts)

	rows, err := conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list auctions %s: %w", status, err)
	}
	defer rows.Close()

	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list auctions rows: %w", err)
	}
	return out, nil
}

func appendTimeRange(query string, args []any, col string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND %s >= $%d", col, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND %s <= $%d", col, len(args))
	}
	return query, args
}

func appendPaging(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

var _ domain.AuctionStore = (*AuctionStore)(nil)
