package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// AuditStore keeps each auction's trail in insertion order.
type AuditStore struct {
	mu     sync.Mutex
	nextID int64
	trails map[string][]domain.AuditEntry
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{trails: make(map[string][]domain.AuditEntry)}
}

func (s *AuditStore) Log(_ context.Context, auctionID, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.trails[auctionID] = append(s.trails[auctionID], domain.AuditEntry{
		ID:        s.nextID,
		AuctionID: auctionID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *AuditStore) ListByAuction(_ context.Context, auctionID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return page(s.trails[auctionID], opts), nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
