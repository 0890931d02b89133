package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// ModerationStore implements domain.ModerationStore in memory.
type ModerationStore struct {
	mu      sync.RWMutex
	entries map[string][]domain.ModerationEntry
}

// NewModerationStore creates an empty ModerationStore.
func NewModerationStore() *ModerationStore {
	return &ModerationStore{entries: make(map[string][]domain.ModerationEntry)}
}

func (s *ModerationStore) Deny(_ context.Context, entry domain.ModerationEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries[entry.AuctionID] {
		if e.BidderID == entry.BidderID {
			return false, nil
		}
	}
	s.entries[entry.AuctionID] = append(s.entries[entry.AuctionID], entry)
	return true, nil
}

func (s *ModerationStore) ListByAuction(_ context.Context, auctionID string) ([]domain.ModerationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.entries[auctionID], domain.ListOpts{}), nil
}

var _ domain.ModerationStore = (*ModerationStore)(nil)
