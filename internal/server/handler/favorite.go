package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// FavoriteService is the watchlist surface the favorite endpoints need.
type FavoriteService interface {
	Toggle(ctx context.Context, userID, productID string) (bool, error)
	IsFavorite(ctx context.Context, userID, productID string) (bool, error)
	List(ctx context.Context, userID string) ([]string, error)
}

// FavoriteHandler serves the caller's watchlist.
type FavoriteHandler struct {
	favorites FavoriteService
	logger    *slog.Logger
}

// NewFavoriteHandler creates a FavoriteHandler.
func NewFavoriteHandler(favorites FavoriteService, logger *slog.Logger) *FavoriteHandler {
	return &FavoriteHandler{
		favorites: favorites,
		logger:    logger.With(slog.String("handler", "favorite")),
	}
}

// Toggle flips membership of a product and returns the new state.
// POST /api/favorites/{productID}/toggle
func (h *FavoriteHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	productID := r.PathValue("productID")
	fav, err := h.favorites.Toggle(r.Context(), user, productID)
	if err != nil {
		writeServiceError(w, r, h.logger, "toggle favorite", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "favorite": fav})
}

// Get reports whether a product is on the caller's watchlist.
// GET /api/favorites/{productID}
func (h *FavoriteHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	productID := r.PathValue("productID")
	fav, err := h.favorites.IsFavorite(r.Context(), user, productID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get favorite", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "favorite": fav})
}

// List returns the caller's watchlist.
// GET /api/favorites
func (h *FavoriteHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	products, err := h.favorites.List(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, h.logger, "list favorites", err)
		return
	}
	if products == nil {
		products = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}
