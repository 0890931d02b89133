package favorite

import (
	"context"
	"sync"
)

// Toggler is the remote operation behind a View.
type Toggler interface {
	Toggle(ctx context.Context, userID, productID string) (bool, error)
}

// View is a client's local copy of one user's watchlist. Toggle flips the
// local state before the remote call returns and reverts it if the call
// fails.
type View struct {
	userID  string
	remote  Toggler
	mu      sync.Mutex
	members map[string]bool
}

// NewView creates a view seeded with the products already on the watchlist.
func NewView(userID string, remote Toggler, initial []string) *View {
	members := make(map[string]bool, len(initial))
	for _, id := range initial {
		members[id] = true
	}
	return &View{userID: userID, remote: remote, members: members}
}

// IsFavorite returns the locally displayed state.
func (v *View) IsFavorite(productID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.members[productID]
}

// Toggle flips productID optimistically. On success the server's answer is
// adopted; on failure the prior state is restored and the error returned.
func (v *View) Toggle(ctx context.Context, productID string) (bool, error) {
	v.mu.Lock()
	prior := v.members[productID]
	v.members[productID] = !prior
	v.mu.Unlock()

	member, err := v.remote.Toggle(ctx, v.userID, productID)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.members[productID] = prior
		return prior, err
	}
	v.members[productID] = member
	return member, nil
}
