package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const sseHeartbeat = 15 * time.Second

// Events streams an auction's updates as server-sent events. The first event
// is the current state; each later event is a full snapshot.
// GET /api/auctions/{id}/events
func (h *AuctionHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	// Subscribe before reading state so no update falls in between.
	sub := h.auctions.Subscribe(ctx, id)
	defer sub.Cancel()

	a, err := h.auctions.GetState(ctx, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "stream auction", err)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "auction_state", a.Version, viewOf(a)); err != nil {
		return
	}
	_ = rc.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.streams.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		case u, ok := <-sub.Updates():
			if !ok {
				return
			}
			if u.Version <= a.Version {
				continue
			}
			if err := writeEvent(w, "auction_update", u.Version, u); err != nil {
				h.logger.DebugContext(ctx, "sse client gone",
					slog.String("auction_id", id),
					slog.String("error", err.Error()),
				)
				return
			}
			_ = rc.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, id int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", event, id, data)
	return err
}
