package redis

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// toggleLua flips membership in one round trip and returns 1 when the member
// was added, 0 when it was removed.
const toggleLua = `
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
    redis.call('SREM', KEYS[1], ARGV[1])
    return 0
end
redis.call('SADD', KEYS[1], ARGV[1])
return 1
`

// FavoriteSet implements domain.FavoriteStore with one Redis set per user.
type FavoriteSet struct {
	rdb    *redis.Client
	toggle *redis.Script
}

// NewFavoriteSet creates a FavoriteSet.
func NewFavoriteSet(c *Client) *FavoriteSet {
	return &FavoriteSet{rdb: c.Underlying(), toggle: redis.NewScript(toggleLua)}
}

func favoritesKey(userID string) string { return "favorites:" + userID }

func (fs *FavoriteSet) Toggle(ctx context.Context, userID, productID string) (bool, error) {
	n, err := fs.toggle.Run(ctx, fs.rdb, []string{favoritesKey(userID)}, productID).Int()
	if err != nil {
		return false, fmt.Errorf("redis: toggle favorite %s/%s: %w", userID, productID, err)
	}
	return n == 1, nil
}

func (fs *FavoriteSet) IsMember(ctx context.Context, userID, productID string) (bool, error) {
	ok, err := fs.rdb.SIsMember(ctx, favoritesKey(userID), productID).Result()
	if err != nil {
		return false, fmt.Errorf("redis: favorite member %s/%s: %w", userID, productID, err)
	}
	return ok, nil
}

func (fs *FavoriteSet) List(ctx context.Context, userID string) ([]string, error) {
	ids, err := fs.rdb.SMembers(ctx, favoritesKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list favorites %s: %w", userID, err)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ domain.FavoriteStore = (*FavoriteSet)(nil)
