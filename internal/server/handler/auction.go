package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/bidengine/internal/broadcast"
	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/service"
)

// AuctionService is the engine surface the auction endpoints need.
type AuctionService interface {
	Create(ctx context.Context, a domain.Auction) (domain.Auction, error)
	Publish(ctx context.Context, auctionID string) (domain.Auction, error)
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64) (domain.Auction, domain.Bid, error)
	DenyBidder(ctx context.Context, auctionID, requesterID, bidderID string) error
	Terminate(ctx context.Context, auctionID string, status domain.AuctionStatus) (domain.Auction, error)
	GetState(ctx context.Context, auctionID string) (domain.Auction, error)
	Bids(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error)
	AuditTrail(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.AuditEntry, error)
	Subscribe(ctx context.Context, auctionID string) *broadcast.Subscription
}

// ArchiveFetcher reads closed-auction archives.
type ArchiveFetcher interface {
	Fetch(ctx context.Context, auctionID string) (service.Archive, error)
}

// HistoryReader reads the durable update log of an auction.
type HistoryReader interface {
	History(ctx context.Context, auctionID, afterID string, count int) ([]broadcast.HistoryEntry, error)
}

// AuctionHandler serves auction endpoints.
type AuctionHandler struct {
	auctions AuctionService
	archives ArchiveFetcher
	history  HistoryReader
	logger   *slog.Logger

	// streams ends open event streams on shutdown.
	streams      context.Context
	closeStreams context.CancelFunc
}

// NewAuctionHandler creates an AuctionHandler. archives and history may be
// nil; their endpoints then answer 404.
func NewAuctionHandler(auctions AuctionService, archives ArchiveFetcher, history HistoryReader, logger *slog.Logger) *AuctionHandler {
	streams, closeStreams := context.WithCancel(context.Background())
	return &AuctionHandler{
		auctions:     auctions,
		archives:     archives,
		history:      history,
		logger:       logger.With(slog.String("handler", "auction")),
		streams:      streams,
		closeStreams: closeStreams,
	}
}

// CloseStreams ends every open event stream.
func (h *AuctionHandler) CloseStreams() {
	h.closeStreams()
}

// auctionView adds rendered prices to an auction.
type auctionView struct {
	domain.Auction
	DisplayPrice string `json:"display_price"`
	MinimumBid   int64  `json:"minimum_bid"`
}

func viewOf(a domain.Auction) auctionView {
	return auctionView{
		Auction:      a,
		DisplayPrice: domain.FormatMinorUnits(a.CurrentPrice),
		MinimumBid:   a.MinimumBid(),
	}
}

type createAuctionRequest struct {
	ID                 string    `json:"id"`
	StartPrice         int64     `json:"start_price"`
	StepPrice          int64     `json:"step_price"`
	BuyNowPrice        int64     `json:"buy_now_price"`
	EndAt              time.Time `json:"end_at"`
	AllowUnratedBidder bool      `json:"allow_unrated_bidder"`
}

// Create stores a DRAFT auction owned by the caller.
// POST /api/auctions
func (h *AuctionHandler) Create(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createAuctionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	a, err := h.auctions.Create(r.Context(), domain.Auction{
		ID:                 req.ID,
		SellerID:           seller,
		StartPrice:         req.StartPrice,
		StepPrice:          req.StepPrice,
		BuyNowPrice:        req.BuyNowPrice,
		EndAt:              req.EndAt,
		AllowUnratedBidder: req.AllowUnratedBidder,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create auction", err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(a))
}

// Publish opens a DRAFT auction for bidding. Only the seller may publish.
// POST /api/auctions/{id}/publish
func (h *AuctionHandler) Publish(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	current, err := h.auctions.GetState(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "publish auction", err)
		return
	}
	if current.SellerID != caller {
		writeServiceError(w, r, h.logger, "publish auction", domain.ErrNotSeller)
		return
	}

	a, err := h.auctions.Publish(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "publish auction", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a))
}

// Get returns the current state of an auction.
// GET /api/auctions/{id}
func (h *AuctionHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.GetState(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get auction", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a))
}

// ListBids returns accepted bids in acceptance order.
// GET /api/auctions/{id}/bids?limit=50&offset=0
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.auctions.GetState(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "list bids", err)
		return
	}
	bids, err := h.auctions.Bids(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list bids", err)
		return
	}
	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": bids})
}

type auditEntryView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Audit lists the audit trail of an auction. Only the seller may read it,
// since it names denied bidders.
// GET /api/auctions/{id}/audit
func (h *AuctionHandler) Audit(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	current, err := h.auctions.GetState(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "audit trail", err)
		return
	}
	if current.SellerID != caller {
		writeServiceError(w, r, h.logger, "audit trail", domain.ErrNotSeller)
		return
	}

	entries, err := h.auctions.AuditTrail(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "audit trail", err)
		return
	}
	out := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryView{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

type placeBidRequest struct {
	Amount int64 `json:"amount"`
}

// PlaceBid submits a bid for the caller.
// POST /api/auctions/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	bidder, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req placeBidRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	a, bid, err := h.auctions.PlaceBid(r.Context(), r.PathValue("id"), bidder, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bid", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"auction": viewOf(a),
		"bid":     bid,
	})
}

type denyRequest struct {
	BidderID string `json:"bidder_id"`
}

// Deny bans a bidder from the auction. Only the seller may deny.
// POST /api/auctions/{id}/denials
func (h *AuctionHandler) Deny(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req denyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BidderID == "" {
		writeError(w, http.StatusBadRequest, "bidder_id is required")
		return
	}

	id := r.PathValue("id")
	if err := h.auctions.DenyBidder(r.Context(), id, caller, req.BidderID); err != nil {
		writeServiceError(w, r, h.logger, "deny bidder", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"auction_id": id,
		"bidder_id":  req.BidderID,
		"status":     "denied",
	})
}

type terminateRequest struct {
	Status domain.AuctionStatus `json:"status"`
}

// Terminate ends an active auction on behalf of moderation.
// POST /api/auctions/{id}/terminate
func (h *AuctionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	var req terminateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Status != domain.AuctionStatusExpired && req.Status != domain.AuctionStatusRemoved {
		writeError(w, http.StatusBadRequest, "status must be EXPIRED or REMOVED")
		return
	}

	a, err := h.auctions.Terminate(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		writeServiceError(w, r, h.logger, "terminate auction", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a))
}

// Archive returns the stored archive of a closed auction.
// GET /api/auctions/{id}/archive
func (h *AuctionHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusNotFound, "archives are not enabled")
		return
	}
	doc, err := h.archives.Fetch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "fetch archive", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// History pages through the logged updates of an auction.
// GET /api/auctions/{id}/history?after=0&count=100
func (h *AuctionHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "update history is not enabled")
		return
	}
	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}

	entries, err := h.history.History(r.Context(), r.PathValue("id"), r.URL.Query().Get("after"), count)
	if err != nil {
		writeServiceError(w, r, h.logger, "read history", err)
		return
	}
	if entries == nil {
		entries = []broadcast.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
