// Package memory provides in-process implementations of the domain stores.
// They back the standalone mode and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// AuctionStore implements domain.AuctionStore in memory.
type AuctionStore struct {
	mu       sync.RWMutex
	auctions map[string]domain.Auction
	bids     map[string][]domain.Bid
}

// NewAuctionStore creates an empty AuctionStore.
func NewAuctionStore() *AuctionStore {
	return &AuctionStore{
		auctions: make(map[string]domain.Auction),
		bids:     make(map[string][]domain.Bid),
	}
}

func (s *AuctionStore) Create(_ context.Context, a domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auctions[a.ID]; ok {
		return fmt.Errorf("memory: create auction %s: %w", a.ID, domain.ErrAlreadyExists)
	}
	s.auctions[a.ID] = a
	return nil
}

func (s *AuctionStore) GetByID(_ context.Context, id string) (domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return domain.Auction{}, fmt.Errorf("memory: auction %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (s *AuctionStore) UpdateState(_ context.Context, a domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersion(a); err != nil {
		return err
	}
	s.auctions[a.ID] = a
	return nil
}

func (s *AuctionStore) RecordBid(_ context.Context, bid domain.Bid, next domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersion(next); err != nil {
		return err
	}
	s.auctions[next.ID] = next
	s.bids[next.ID] = append(s.bids[next.ID], bid)
	return nil
}

func (s *AuctionStore) checkVersion(next domain.Auction) error {
	cur, ok := s.auctions[next.ID]
	if !ok {
		return fmt.Errorf("memory: auction %s: %w", next.ID, domain.ErrNotFound)
	}
	if cur.Version != next.Version-1 {
		return fmt.Errorf("memory: auction %s at version %d, write expects %d: %w",
			next.ID, cur.Version, next.Version-1, domain.ErrStaleState)
	}
	return nil
}

func (s *AuctionStore) ListBids(_ context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.bids[auctionID], opts), nil
}

func (s *AuctionStore) ListByStatus(_ context.Context, status domain.AuctionStatus, opts domain.ListOpts) ([]domain.Auction, error) {
	s.mu.RLock()
	var out []domain.Auction
	for _, a := range s.auctions {
		if a.Status == status {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].EndAt.Equal(out[j].EndAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EndAt.Before(out[j].EndAt)
	})
	return page(out, opts), nil
}

// page applies offset and limit to items, returning a copy.
func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset >= len(items) {
		return []T{}
	}
	items = items[max(opts.Offset, 0):]
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}

var _ domain.AuctionStore = (*AuctionStore)(nil)
