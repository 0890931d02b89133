// Package ws pushes live auction updates to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/bidengine/internal/broadcast"
	"github.com/alanyoungcy/bidengine/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	// sendBufferSize is the per-client outgoing queue. A client that falls
	// this far behind misses updates and recovers from the next snapshot.
	sendBufferSize = 256

	maxSubscriptions = 64
)

// Source supplies auction state and update subscriptions.
type Source interface {
	Subscribe(ctx context.Context, auctionID string) *broadcast.Subscription
	GetState(ctx context.Context, auctionID string) (domain.Auction, error)
}

// Config tunes the hub.
type Config struct {
	// AllowedOrigins restricts the Origin header on upgrade. Empty allows all.
	AllowedOrigins []string
}

// Hub tracks connected clients. Each client holds one broadcaster
// subscription per auction it watches.
type Hub struct {
	src        Source
	upgrader   websocket.Upgrader
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	dropped    atomic.Int64
	logger     *slog.Logger
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]*broadcast.Subscription
}

// request is the JSON a client sends to manage subscriptions:
// {"action":"subscribe","auctions":["a1","a2"]}.
type request struct {
	Action   string   `json:"action"`
	Auctions []string `json:"auctions"`
}

// message is the envelope of every frame the hub sends.
type message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// NewHub creates a hub over src.
func NewHub(src Source, cfg Config, logger *slog.Logger) *Hub {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		src: src,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
			},
		},
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run tracks registrations until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.cancel()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.cancel()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of frames dropped for slow clients.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// HandleWS upgrades the request and serves the connection.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*broadcast.Subscription),
	}

	select {
	case h.register <- c:
	case <-h.done:
		cancel()
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.cancel()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var req request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.enqueue(message{Type: "error", Payload: map[string]string{"error": "malformed request"}})
			continue
		}
		switch req.Action {
		case "subscribe":
			for _, id := range req.Auctions {
				c.subscribe(id)
			}
		case "unsubscribe":
			for _, id := range req.Auctions {
				c.unsubscribe(id)
			}
		default:
			c.enqueue(message{Type: "error", Payload: map[string]string{"error": "unknown action " + req.Action}})
		}
	}
}

// subscribe opens a subscription for auctionID and sends the current state
// ahead of any update.
func (c *client) subscribe(auctionID string) {
	c.mu.Lock()
	if _, ok := c.subs[auctionID]; ok {
		c.mu.Unlock()
		return
	}
	if len(c.subs) >= maxSubscriptions {
		c.mu.Unlock()
		c.enqueue(message{Type: "error", Payload: map[string]string{
			"auction_id": auctionID,
			"error":      "too many subscriptions",
		}})
		return
	}
	sub := c.hub.src.Subscribe(c.ctx, auctionID)
	c.subs[auctionID] = sub
	c.mu.Unlock()

	a, err := c.hub.src.GetState(c.ctx, auctionID)
	if err != nil {
		c.unsubscribe(auctionID)
		c.enqueue(message{Type: "error", Payload: map[string]string{
			"auction_id": auctionID,
			"error":      "auction not found",
		}})
		return
	}
	c.enqueue(message{Type: "auction_state", Payload: a})

	go func() {
		for u := range sub.Updates() {
			if u.Version <= a.Version {
				continue
			}
			c.enqueue(message{Type: "auction_update", Payload: u})
		}
	}()
}

func (c *client) unsubscribe(auctionID string) {
	c.mu.Lock()
	sub, ok := c.subs[auctionID]
	delete(c.subs, auctionID)
	c.mu.Unlock()
	if ok {
		sub.Cancel()
	}
}

// enqueue never blocks; a full queue drops the frame.
func (c *client) enqueue(m message) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		c.hub.dropped.Add(1)
		c.hub.logger.Warn("ws: dropping message for slow client", slog.String("type", m.Type))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}
