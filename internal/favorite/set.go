// Package favorite implements the per-user watchlist toggle.
//
// The server flips membership exactly once per call; it does not compare
// against the state the client believed it had. Two concurrent toggles from
// the same user (a double click) may therefore leave the product in either
// state.
package favorite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// Set is the server side of the watchlist.
type Set struct {
	store  domain.FavoriteStore
	logger *slog.Logger
}

// NewSet creates a Set over store.
func NewSet(store domain.FavoriteStore, logger *slog.Logger) *Set {
	return &Set{
		store:  store,
		logger: logger.With(slog.String("component", "favorites")),
	}
}

// Toggle flips membership of productID for userID and returns the new state.
func (s *Set) Toggle(ctx context.Context, userID, productID string) (bool, error) {
	if err := validate(userID, productID); err != nil {
		return false, err
	}
	member, err := s.store.Toggle(ctx, userID, productID)
	if err != nil {
		return false, fmt.Errorf("favorite: toggle: %w", err)
	}
	s.logger.Debug("favorite toggled",
		slog.String("user_id", userID),
		slog.String("product_id", productID),
		slog.Bool("member", member),
	)
	return member, nil
}

// IsFavorite reports whether productID is on userID's watchlist.
func (s *Set) IsFavorite(ctx context.Context, userID, productID string) (bool, error) {
	if err := validate(userID, productID); err != nil {
		return false, err
	}
	ok, err := s.store.IsMember(ctx, userID, productID)
	if err != nil {
		return false, fmt.Errorf("favorite: is member: %w", err)
	}
	return ok, nil
}

// List returns userID's watchlist.
func (s *Set) List(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("favorite: %w: user id is required", domain.ErrInvalidInput)
	}
	ids, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("favorite: list: %w", err)
	}
	return ids, nil
}

func validate(userID, productID string) error {
	switch {
	case userID == "":
		return fmt.Errorf("favorite: %w: user id is required", domain.ErrInvalidInput)
	case productID == "":
		return fmt.Errorf("favorite: %w: product id is required", domain.ErrInvalidInput)
	}
	return nil
}
