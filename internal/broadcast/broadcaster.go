// Package broadcast fans auction updates out to live subscribers.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

const defaultBuffer = 64

// Broadcaster delivers AuctionUpdates to every subscriber of an auction.
// Publish never blocks: a subscriber whose buffer is full misses the update.
type Broadcaster struct {
	buffer int
	logger *slog.Logger

	mu     sync.RWMutex
	topics map[string]*topic
	nextID atomic.Uint64

	dropped atomic.Int64
}

type topic struct {
	mu   sync.Mutex
	subs map[uint64]*Subscription
}

// New creates a Broadcaster whose subscriptions buffer up to buffer updates.
func New(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broadcaster{
		buffer: buffer,
		logger: logger.With(slog.String("component", "broadcaster")),
		topics: make(map[string]*topic),
	}
}

// Subscription is a live stream of updates for one auction.
type Subscription struct {
	id        uint64
	auctionID string
	b         *Broadcaster
	ch        chan domain.AuctionUpdate
	done      chan struct{}
	once      sync.Once

	// guarded by the topic mutex
	lastVersion int64
	dropped     int64
}

// Subscribe registers a subscriber for auctionID. The subscription ends when
// ctx is done or Cancel is called; either way the Updates channel is closed.
func (b *Broadcaster) Subscribe(ctx context.Context, auctionID string) *Subscription {
	s := &Subscription{
		id:        b.nextID.Add(1),
		auctionID: auctionID,
		b:         b,
		ch:        make(chan domain.AuctionUpdate, b.buffer),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	t, ok := b.topics[auctionID]
	if !ok {
		t = &topic{subs: make(map[uint64]*Subscription)}
		b.topics[auctionID] = t
	}
	t.mu.Lock()
	t.subs[s.id] = s
	t.mu.Unlock()
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.done:
		}
	}()

	b.logger.Debug("subscribed",
		slog.String("auction_id", auctionID),
		slog.Uint64("subscription", s.id),
	)
	return s
}

// Publish hands update to every current subscriber of its auction.
func (b *Broadcaster) Publish(update domain.AuctionUpdate) {
	b.mu.RLock()
	t, ok := b.topics[update.AuctionID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		if update.Version <= s.lastVersion {
			continue
		}
		select {
		case s.ch <- update:
			s.lastVersion = update.Version
		default:
			s.dropped++
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions for auctionID.
func (b *Broadcaster) Subscribers(auctionID string) int {
	b.mu.RLock()
	t, ok := b.topics[auctionID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Dropped returns the total number of updates dropped on full buffers.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[s.auctionID]
	if !ok {
		return
	}
	t.mu.Lock()
	if _, ok := t.subs[s.id]; ok {
		delete(t.subs, s.id)
		close(s.ch)
	}
	empty := len(t.subs) == 0
	t.mu.Unlock()
	if empty {
		delete(b.topics, s.auctionID)
	}
}

// AuctionID returns the auction this subscription observes.
func (s *Subscription) AuctionID() string {
	return s.auctionID
}

// Updates returns the delivery channel. It is closed on cancellation.
func (s *Subscription) Updates() <-chan domain.AuctionUpdate {
	return s.ch
}

// Cancel ends the subscription and releases its resources. Safe to call more
// than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.b.remove(s)
	})
}
