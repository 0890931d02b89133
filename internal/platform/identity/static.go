package identity

import (
	"context"
	"sync"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// Static serves profiles from memory. Unknown bidders have no rating history.
// It backs standalone mode and tests.
type Static struct {
	mu       sync.RWMutex
	profiles map[string]domain.BidderProfile
}

// NewStatic creates a Static source seeded with profiles.
func NewStatic(profiles ...domain.BidderProfile) *Static {
	s := &Static{profiles: make(map[string]domain.BidderProfile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.BidderID] = p
	}
	return s
}

// Set replaces the profile of p.BidderID.
func (s *Static) Set(p domain.BidderProfile) {
	s.mu.Lock()
	s.profiles[p.BidderID] = p
	s.mu.Unlock()
}

// Profile implements auction.ProfileSource.
func (s *Static) Profile(_ context.Context, bidderID string) (domain.BidderProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[bidderID]; ok {
		return p, nil
	}
	return domain.BidderProfile{BidderID: bidderID}, nil
}
