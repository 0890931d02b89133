package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// SettlementStore implements domain.SettlementStore in memory.
type SettlementStore struct {
	mu  sync.Mutex
	now func() time.Time
	m   map[string]domain.Settlement
}

// NewSettlementStore creates an empty SettlementStore.
func NewSettlementStore() *SettlementStore {
	return &SettlementStore{
		now: func() time.Time { return time.Now().UTC() },
		m:   make(map[string]domain.Settlement),
	}
}

func (s *SettlementStore) Claim(_ context.Context, st domain.Settlement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[st.AuctionID]; ok {
		return false, nil
	}
	now := s.now()
	st.Status = domain.SettlementStatusPending
	st.CreatedAt = now
	st.UpdatedAt = now
	s.m[st.AuctionID] = st
	return true, nil
}

func (s *SettlementStore) MarkOrdered(_ context.Context, auctionID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[auctionID]
	if !ok {
		return fmt.Errorf("memory: settlement %s: %w", auctionID, domain.ErrNotFound)
	}
	st.Status = domain.SettlementStatusOrdered
	st.OrderID = orderID
	st.Attempts++
	st.LastError = ""
	st.UpdatedAt = s.now()
	s.m[auctionID] = st
	return nil
}

func (s *SettlementStore) MarkFailed(_ context.Context, auctionID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[auctionID]
	if !ok {
		return fmt.Errorf("memory: settlement %s: %w", auctionID, domain.ErrNotFound)
	}
	st.Status = domain.SettlementStatusFailed
	st.Attempts++
	st.LastError = reason
	st.UpdatedAt = s.now()
	s.m[auctionID] = st
	return nil
}

func (s *SettlementStore) ListRetryable(_ context.Context, maxAttempts, limit int) ([]domain.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Settlement
	for _, st := range s.m {
		if st.Status == domain.SettlementStatusOrdered || st.Attempts >= maxAttempts {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return page(out, domain.ListOpts{Limit: limit}), nil
}

// Get returns the settlement for auctionID.
func (s *SettlementStore) Get(auctionID string) (domain.Settlement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[auctionID]
	return st, ok
}

var _ domain.SettlementStore = (*SettlementStore)(nil)
