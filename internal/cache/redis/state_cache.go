package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// setIfNewerLua writes the snapshot only when its version is above the cached
// one, so a delayed writer never replaces a newer state.
//
// KEYS[1] hash key; ARGV[1] version, ARGV[2] JSON, ARGV[3] ttl ms
const setIfNewerLua = `
local cur = tonumber(redis.call('HGET', KEYS[1], 'version') or '-1')
if tonumber(ARGV[1]) <= cur then
    return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`

const defaultStateTTL = 10 * time.Minute

// StateCache implements domain.AuctionStateCache.
//
// Key schema:
//
//	auction:state:{id} - hash {version, data(JSON)}
type StateCache struct {
	rdb *redis.Client
	set *redis.Script
	ttl time.Duration
}

// NewStateCache creates a StateCache whose entries live for ttl.
func NewStateCache(c *Client, ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &StateCache{
		rdb: c.Underlying(),
		set: redis.NewScript(setIfNewerLua),
		ttl: ttl,
	}
}

func stateKey(id string) string { return "auction:state:" + id }

// Set caches a unless a newer version is already present.
func (sc *StateCache) Set(ctx context.Context, a domain.Auction) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis: marshal auction %s: %w", a.ID, err)
	}
	if err := sc.set.Run(ctx, sc.rdb, []string{stateKey(a.ID)}, a.Version, data, sc.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis: set auction state %s: %w", a.ID, err)
	}
	return nil
}

// Get returns the cached snapshot or domain.ErrNotFound.
func (sc *StateCache) Get(ctx context.Context, id string) (domain.Auction, error) {
	data, err := sc.rdb.HGet(ctx, stateKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("redis: get auction state %s: %w", id, err)
	}
	var a domain.Auction
	if err := json.Unmarshal(data, &a); err != nil {
		return domain.Auction{}, fmt.Errorf("redis: unmarshal auction state %s: %w", id, err)
	}
	return a, nil
}

// Invalidate drops the cached snapshot.
func (sc *StateCache) Invalidate(ctx context.Context, id string) error {
	if err := sc.rdb.Del(ctx, stateKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate auction state %s: %w", id, err)
	}
	return nil
}

var _ domain.AuctionStateCache = (*StateCache)(nil)
