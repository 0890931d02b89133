package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/google/uuid"
)

const (
	updatesPattern = "auction:updates:*"
	outboxSize     = 1024
	relayTimeout   = 2 * time.Second
)

// UpdatesChannel is the pub/sub channel carrying updates for one auction.
func UpdatesChannel(auctionID string) string {
	return "auction:updates:" + auctionID
}

// UpdatesStream is the durable stream logging updates for one auction.
func UpdatesStream(auctionID string) string {
	return "stream:auction:" + auctionID
}

type envelope struct {
	Origin string               `json:"origin"`
	Update domain.AuctionUpdate `json:"update"`
}

// Relay extends a local Broadcaster across instances through a SignalBus.
// Locally published updates are mirrored to the bus; updates published by
// other instances are delivered to local subscribers.
type Relay struct {
	local      *Broadcaster
	bus        domain.SignalBus
	instanceID string
	out        chan domain.AuctionUpdate
	logger     *slog.Logger
}

// NewRelay creates a relay for local over bus.
func NewRelay(local *Broadcaster, bus domain.SignalBus, logger *slog.Logger) *Relay {
	return &Relay{
		local:      local,
		bus:        bus,
		instanceID: uuid.NewString(),
		out:        make(chan domain.AuctionUpdate, outboxSize),
		logger:     logger.With(slog.String("component", "relay")),
	}
}

// Publish delivers update locally and queues it for the bus. It never blocks;
// when the outbox is full the remote copy is dropped.
func (r *Relay) Publish(update domain.AuctionUpdate) {
	r.local.Publish(update)
	select {
	case r.out <- update:
	default:
		r.logger.Warn("relay outbox full, dropping update",
			slog.String("auction_id", update.AuctionID),
			slog.Int64("version", update.Version),
		)
	}
}

// Run pumps updates in both directions until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	in, err := r.bus.Subscribe(ctx, updatesPattern)
	if err != nil {
		return fmt.Errorf("relay: subscribe: %w", err)
	}
	r.logger.Info("relay started", slog.String("instance_id", r.instanceID))

	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-r.out:
			r.forward(ctx, u)
		case payload, ok := <-in:
			if !ok {
				return nil
			}
			r.receive(payload)
		}
	}
}

func (r *Relay) forward(ctx context.Context, u domain.AuctionUpdate) {
	payload, err := json.Marshal(envelope{Origin: r.instanceID, Update: u})
	if err != nil {
		r.logger.Error("marshal update", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, relayTimeout)
	defer cancel()

	if err := r.bus.Publish(ctx, UpdatesChannel(u.AuctionID), payload); err != nil {
		r.logger.Warn("relay publish failed",
			slog.String("auction_id", u.AuctionID),
			slog.String("error", err.Error()),
		)
	}
	if err := r.bus.StreamAppend(ctx, UpdatesStream(u.AuctionID), payload); err != nil {
		r.logger.Warn("relay stream append failed",
			slog.String("auction_id", u.AuctionID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Relay) receive(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.logger.Warn("discarding malformed update", slog.String("error", err.Error()))
		return
	}
	if env.Origin == r.instanceID {
		return
	}
	r.local.Publish(env.Update)
}

// HistoryEntry is one logged update together with its stream position.
type HistoryEntry struct {
	ID     string               `json:"id"`
	Update domain.AuctionUpdate `json:"update"`
}

// History reads up to count logged updates for auctionID after the stream
// position afterID ("0" for the beginning).
func (r *Relay) History(ctx context.Context, auctionID, afterID string, count int) ([]HistoryEntry, error) {
	if afterID == "" {
		afterID = "0"
	}
	msgs, err := r.bus.StreamRead(ctx, UpdatesStream(auctionID), afterID, count)
	if err != nil {
		return nil, fmt.Errorf("relay: history %s: %w", auctionID, err)
	}
	out := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		var env envelope
		if err := json.Unmarshal(m.Payload, &env); err != nil {
			continue
		}
		out = append(out, HistoryEntry{ID: m.ID, Update: env.Update})
	}
	return out, nil
}
