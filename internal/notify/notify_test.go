package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

type recordingSender struct {
	name string
	err  error

	mu       sync.Mutex
	titles   []string
	messages []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFilter(t *testing.T) {
	t.Parallel()

	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventAuctionSold, " "}, discardLogger())

	check.True(t, n.Enabled(EventAuctionSold))
	check.False(t, n.Enabled(EventAuctionUnsold))

	check.NoError(t, n.Notify(context.Background(), EventAuctionUnsold, "t", "m"))
	check.Equal(t, 0, len(s.titles))
	check.NoError(t, n.Notify(context.Background(), EventAuctionSold, "t", "m"))
	check.Equal(t, 1, len(s.titles))

	all := NewNotifier([]Sender{s}, nil, discardLogger())
	check.True(t, all.Enabled(EventSettlementFailed))
}

func TestNotifierKeepsGoingAfterFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), EventAuctionSold, "t", "m")
	check.True(t, errors.Is(err, boom))
	check.Equal(t, 1, len(good.titles))
}

func TestAuctionClosedMessages(t *testing.T) {
	t.Parallel()

	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		a     domain.Auction
		title string
		want  string
	}{
		{
			name:  "sold",
			a:     domain.Auction{ID: "a1", Status: domain.AuctionStatusSold, CurrentWinnerID: "bob", CurrentPrice: 12050, BidCount: 3, EndAt: end},
			title: "Auction sold",
			want:  "sold to bob for 120.50 after 3 bid(s)",
		},
		{
			name:  "unsold",
			a:     domain.Auction{ID: "a2", Status: domain.AuctionStatusUnsold, EndAt: end},
			title: "Auction unsold",
			want:  "2026-03-01T12:00:00Z",
		},
		{
			name:  "removed",
			a:     domain.Auction{ID: "a3", Status: domain.AuctionStatusRemoved, EndAt: end},
			title: "Auction removed",
			want:  "removed by moderation",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := &recordingSender{name: "rec"}
			n := NewNotifier([]Sender{s}, nil, discardLogger())
			n.AuctionClosed(context.Background(), tc.a)
			check.Equal(t, 1, len(s.titles))
			check.Equal(t, tc.title, s.titles[0])
			check.True(t, strings.Contains(s.messages[0], tc.want))
		})
	}

	t.Run("active auctions are ignored", func(t *testing.T) {
		t.Parallel()
		s := &recordingSender{name: "rec"}
		n := NewNotifier([]Sender{s}, nil, discardLogger())
		n.AuctionClosed(context.Background(), domain.Auction{ID: "a4", Status: domain.AuctionStatusActive})
		check.Equal(t, 0, len(s.titles))
	})
}

func TestTelegramSender(t *testing.T) {
	t.Parallel()

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		check.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	t.Cleanup(srv.Close)

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	check.NoError(t, s.Send(context.Background(), "Auction sold", "a_1 <won> by bob_2"))
	check.Equal(t, "42", got["chat_id"])
	check.Equal(t, "HTML", got["parse_mode"])
	check.Equal(t, "<b>Auction sold</b>\na_1 &lt;won&gt; by bob_2", got["text"])
}

func TestDiscordSender(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["content"] != "**t**\nm" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	check.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "t", "m"))
	check.Error(t, NewDiscordSender(srv.URL).Send(context.Background(), "x", "m"))
}
