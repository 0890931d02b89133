package domain

import (
	"context"
	"time"
)

// AuctionStateCache is a read-path cache of the latest auction snapshots.
type AuctionStateCache interface {
	Set(ctx context.Context, a Auction) error
	Get(ctx context.Context, id string) (Auction, error)
	Invalidate(ctx context.Context, id string) error
}

// RateDecision is the outcome of one rate-limited request.
type RateDecision struct {
	Allowed bool
	// RetryAfter is set on rejection: the wait until a slot frees up.
	RetryAfter time.Duration
}

// RateLimiter caps requests per key across instances.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
