package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// FavoriteStore implements domain.FavoriteStore in memory.
type FavoriteStore struct {
	mu    sync.Mutex
	users map[string]map[string]struct{}
}

// NewFavoriteStore creates an empty FavoriteStore.
func NewFavoriteStore() *FavoriteStore {
	return &FavoriteStore{users: make(map[string]map[string]struct{})}
}

func (s *FavoriteStore) Toggle(_ context.Context, userID, productID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.users[userID]
	if set == nil {
		set = make(map[string]struct{})
		s.users[userID] = set
	}
	if _, ok := set[productID]; ok {
		delete(set, productID)
		return false, nil
	}
	set[productID] = struct{}{}
	return true, nil
}

func (s *FavoriteStore) IsMember(_ context.Context, userID, productID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID][productID]
	return ok, nil
}

func (s *FavoriteStore) List(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.users[userID]))
	for id := range s.users[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

var _ domain.FavoriteStore = (*FavoriteStore)(nil)
