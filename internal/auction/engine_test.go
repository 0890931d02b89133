package auction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/bidengine/internal/broadcast"
	"github.com/alanyoungcy/bidengine/internal/clock"
	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/store/memory"
	"github.com/peterldowns/testy/check"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// profileMap serves fixed profiles; unknown bidders are unrated.
type profileMap map[string]domain.BidderProfile

func (p profileMap) Profile(_ context.Context, bidderID string) (domain.BidderProfile, error) {
	if pr, ok := p[bidderID]; ok {
		return pr, nil
	}
	return domain.BidderProfile{BidderID: bidderID}, nil
}

type recordingHook struct {
	mu     sync.Mutex
	closed []domain.Auction
}

func (h *recordingHook) AuctionClosed(_ context.Context, a domain.Auction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, a)
}

func (h *recordingHook) all() []domain.Auction {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Auction(nil), h.closed...)
}

type fixture struct {
	engine   *Engine
	clock    *clock.Manual
	store    *memory.AuctionStore
	hub      *broadcast.Broadcaster
	hook     *recordingHook
	profiles profileMap
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:    clock.NewManual(t0),
		store:    memory.NewAuctionStore(),
		hub:      broadcast.New(256, discardLogger()),
		hook:     &recordingHook{},
		profiles: profileMap{},
	}
	return f.build(t, cfg, f.store, opts...)
}

func (f *fixture) build(t *testing.T, cfg Config, store domain.AuctionStore, opts ...Option) *fixture {
	t.Helper()
	opts = append([]Option{WithClock(f.clock), WithCloseHooks(f.hook)}, opts...)
	f.engine = New(cfg, store, memory.NewModerationStore(), f.profiles, f.hub, discardLogger(), opts...)
	t.Cleanup(f.engine.Close)
	return f
}

// activeAuction creates and publishes a 100/10 auction ending at end.
func (f *fixture) activeAuction(t *testing.T, end time.Time, mutate ...func(*domain.Auction)) domain.Auction {
	t.Helper()
	a := domain.Auction{
		SellerID:           "seller",
		StartPrice:         100,
		StepPrice:          10,
		EndAt:              end,
		AllowUnratedBidder: true,
	}
	for _, m := range mutate {
		m(&a)
	}
	ctx := context.Background()
	created, err := f.engine.Create(ctx, a)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	published, err := f.engine.Publish(ctx, created.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return published
}

func reasonOf(err error) domain.RejectReason {
	r, _ := domain.ReasonOf(err)
	return r
}

func TestEngine_EndToEndExample(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})
	a := f.activeAuction(t, t0.Add(time.Hour))

	got, _, err := f.engine.PlaceBid(ctx, a.ID, "bidder1", 110)
	check.NoError(t, err)
	check.Equal(t, int64(110), got.CurrentPrice)

	_, _, err = f.engine.PlaceBid(ctx, a.ID, "bidder3", 105)
	check.Equal(t, domain.ReasonBidTooLow, reasonOf(err))

	got, _, err = f.engine.PlaceBid(ctx, a.ID, "bidder2", 120)
	check.NoError(t, err)
	check.Equal(t, int64(120), got.CurrentPrice)
	check.Equal(t, "bidder2", got.CurrentWinnerID)

	f.clock.Advance(time.Hour)

	final, err := f.engine.GetState(ctx, a.ID)
	check.NoError(t, err)
	check.Equal(t, domain.AuctionStatusSold, final.Status)
	check.Equal(t, "bidder2", final.CurrentWinnerID)
	check.Equal(t, int64(120), final.CurrentPrice)

	stored, err := f.store.GetByID(ctx, a.ID)
	check.NoError(t, err)
	check.Equal(t, domain.AuctionStatusSold, stored.Status)

	bids, err := f.engine.Bids(ctx, a.ID, domain.ListOpts{})
	check.NoError(t, err)
	check.Equal(t, 2, len(bids))

	f.engine.ledger.Wait()
	closed := f.hook.all()
	check.Equal(t, 1, len(closed))
	check.Equal(t, domain.AuctionStatusSold, closed[0].Status)
}

func TestEngine_CloseWithoutBidsIsUnsold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})
	a := f.activeAuction(t, t0.Add(time.Minute))

	f.clock.Advance(time.Minute)

	got, err := f.engine.GetState(ctx, a.ID)
	check.NoError(t, err)
	check.Equal(t, domain.AuctionStatusUnsold, got.Status)
	check.Equal(t, "", got.CurrentWinnerID)
	check.Equal(t, int64(100), got.CurrentPrice)

	_, _, err = f.engine.PlaceBid(ctx, a.ID, "late", 500)
	check.Equal(t, domain.ReasonAuctionClosed, reasonOf(err))
}

func TestEngine_BuyNowShortCircuit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})
	a := f.activeAuction(t, t0.Add(time.Hour), func(a *domain.Auction) { a.BuyNowPrice = 1000 })

	_, _, err := f.engine.PlaceBid(ctx, a.ID, "bidder1", 200)
	check.NoError(t, err)

	got, bid, err := f.engine.PlaceBid(ctx, a.ID, "bidder2", 1200)
	check.NoError(t, err)
	check.Equal(t, domain.AuctionStatusSold, got.Status)
	check.Equal(t, "bidder2", got.CurrentWinnerID)
	check.Equal(t, int64(1200), got.CurrentPrice)
	check.Equal(t, bid.PlacedAt, got.UpdatedAt)
	check.Equal(t, a.EndAt, got.EndAt)
	check.False(t, f.engine.sched.Pending(a.ID))

	_, _, err = f.engine.PlaceBid(ctx, a.ID, "bidder3", 1300)
	check.Equal(t, domain.ReasonAuctionClosed, reasonOf(err))

	f.engine.ledger.Wait()
	check.Equal(t, 1, len(f.hook.all()))
}

func TestEngine_AntiSnipeExtension(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{GraceWindow: 5 * time.Minute})
	end := t0.Add(10 * time.Minute)
	a := f.activeAuction(t, end)

	t.Run("bid inside grace window extends from acceptance time", func(t *testing.T) {
		f.clock.Set(end.Add(-time.Minute))
		got, _, err := f.engine.PlaceBid(ctx, a.ID, "bidder1", 110)
		check.NoError(t, err)
		check.Equal(t, end.Add(4*time.Minute), got.EndAt)
	})

	t.Run("original timer fires and rearms", func(t *testing.T) {
		f.clock.Set(end)
		got, err := f.engine.GetState(ctx, a.ID)
		check.NoError(t, err)
		check.Equal(t, domain.AuctionStatusActive, got.Status)
		check.True(t, f.engine.sched.Pending(a.ID))
	})

	t.Run("closes at extended end", func(t *testing.T) {
		f.clock.Set(end.Add(4 * time.Minute))
		got, err := f.engine.GetState(ctx, a.ID)
		check.NoError(t, err)
		check.Equal(t, domain.AuctionStatusSold, got.Status)
		check.Equal(t, "bidder1", got.CurrentWinnerID)
	})
}

func TestEngine_BidOutsideGraceWindowKeepsEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{GraceWindow: 5 * time.Minute})
	end := t0.Add(time.Hour)
	a := f.activeAuction(t, end)

	got, _, err := f.engine.PlaceBid(ctx, a.ID, "bidder1", 110)
	check.NoError(t, err)
	check.Equal(t, end, got.EndAt)
}

func TestScheduler_ExtendedEndNeverMovesBackward(t *testing.T) {
	t.Parallel()
	s := NewScheduler(clock.NewManual(t0), 5*time.Minute, 0, discardLogger())

	check.Equal(t, t0.Add(4*time.Minute), s.ExtendedEnd(t0, t0.Add(-time.Minute)))
	check.Equal(t, t0, s.ExtendedEnd(t0, t0.Add(-5*time.Minute)))
	check.Equal(t, t0.Add(time.Hour), s.ExtendedEnd(t0.Add(time.Hour), t0))
}

func TestEngine_Moderation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})
	a := f.activeAuction(t, t0.Add(time.Hour))

	_, _, err := f.engine.PlaceBid(ctx, a.ID, "bidder1", 150)
	check.NoError(t, err)

	t.Run("only the seller may deny", func(t *testing.T) {
		err := f.engine.DenyBidder(ctx, a.ID, "bidder2", "bidder1")
		check.True(t, errors.Is(err, domain.ErrNotSeller))
	})

	t.Run("denied bidder is blocked and standing bid survives", func(t *testing.T) {
		check.NoError(t, f.engine.DenyBidder(ctx, a.ID, "seller", "bidder1"))
		check.NoError(t, f.engine.DenyBidder(ctx, a.ID, "seller", "bidder1"))

		_, _, err := f.engine.PlaceBid(ctx, a.ID, "bidder1", 500)
		check.Equal(t, domain.ReasonBidderBlocked, reasonOf(err))

		got, err := f.engine.GetState(ctx, a.ID)
		check.NoError(t, err)
		check.Equal(t, "bidder1", got.CurrentWinnerID)
		check.Equal(t, int64(150), got.CurrentPrice)

		blocked, err := f.engine.IsBlocked(ctx, a.ID, "bidder1")
		check.NoError(t, err)
		check.True(t, blocked)
	})

	t.Run("other bidders are unaffected", func(t *testing.T) {
		_, _, err := f.engine.PlaceBid(ctx, a.ID, "bidder2", 160)
		check.NoError(t, err)
	})
}

func TestEngine_SelfBidAlwaysDenied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.profiles["seller"] = domain.BidderProfile{BidderID: "seller", RatingPositive: 1000}
	a := f.activeAuction(t, t0.Add(time.Hour))

	_, _, err := f.engine.PlaceBid(ctx, a.ID, "seller", 5000)
	check.Equal(t, domain.ReasonSelfBid, reasonOf(err))
}

func TestEngine_ConcurrentBidsAreSerialized(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{BidWaitTimeout: 10 * time.Second})
	a := f.activeAuction(t, t0.Add(time.Hour))

	sub := f.engine.Subscribe(ctx, a.ID)
	defer sub.Cancel()

	const n = 50
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := f.engine.PlaceBid(ctx, a.ID, fmt.Sprintf("bidder-%d", i), int64(100+10*i))
			if err != nil && reasonOf(err) != domain.ReasonBidTooLow {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	bids, err := f.engine.Bids(ctx, a.ID, domain.ListOpts{})
	check.NoError(t, err)
	check.True(t, len(bids) > 0)
	for i := 1; i < len(bids); i++ {
		check.True(t, bids[i].Amount > bids[i-1].Amount)
		check.True(t, bids[i].PlacedAt.After(bids[i-1].PlacedAt))
	}

	got, err := f.engine.GetState(ctx, a.ID)
	check.NoError(t, err)
	last := bids[len(bids)-1]
	check.Equal(t, last.Amount, got.CurrentPrice)
	check.Equal(t, last.BidderID, got.CurrentWinnerID)
	check.Equal(t, len(bids), got.BidCount)

	sub.Cancel()
	var prices []int64
	for u := range sub.Updates() {
		prices = append(prices, u.CurrentPrice)
	}
	check.True(t, sort.SliceIsSorted(prices, func(i, j int) bool { return prices[i] < prices[j] }))
}

// gatedProfiles blocks lookups for one bidder until released.
type gatedProfiles struct {
	slow    string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedProfiles) Profile(_ context.Context, bidderID string) (domain.BidderProfile, error) {
	if bidderID == g.slow {
		close(g.entered)
		<-g.release
	}
	return domain.BidderProfile{BidderID: bidderID}, nil
}

func TestEngine_ConflictRetryWhenSectionBusy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	gp := &gatedProfiles{slow: "slow", entered: make(chan struct{}), release: make(chan struct{})}
	clk := clock.NewManual(t0)
	store := memory.NewAuctionStore()
	hub := broadcast.New(16, discardLogger())
	e := New(Config{BidWaitTimeout: 20 * time.Millisecond}, store, memory.NewModerationStore(), gp, hub, discardLogger(), WithClock(clk))
	t.Cleanup(e.Close)

	a, err := e.Create(ctx, domain.Auction{SellerID: "seller", StartPrice: 100, StepPrice: 10, EndAt: t0.Add(time.Hour), AllowUnratedBidder: true})
	check.NoError(t, err)
	_, err = e.Publish(ctx, a.ID)
	check.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, _, err := e.PlaceBid(ctx, a.ID, "slow", 110)
		done <- err
	}()
	<-gp.entered

	_, _, err = e.PlaceBid(ctx, a.ID, "fast", 120)
	check.Equal(t, domain.ReasonConflictRetry, reasonOf(err))
	var rej *domain.Rejection
	check.True(t, errors.As(err, &rej))
	check.True(t, rej.Retryable())

	close(gp.release)
	check.NoError(t, <-done)

	got, _, err := e.PlaceBid(ctx, a.ID, "fast", 120)
	check.NoError(t, err)
	check.Equal(t, int64(120), got.CurrentPrice)
}

// failingStore fails every RecordBid.
type failingStore struct {
	*memory.AuctionStore
}

var errDiskFull = errors.New("disk full")

func (failingStore) RecordBid(context.Context, domain.Bid, domain.Auction) error {
	return errDiskFull
}

func TestEngine_PersistFailureLeavesNoTrace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := &fixture{
		clock:    clock.NewManual(t0),
		store:    memory.NewAuctionStore(),
		hub:      broadcast.New(16, discardLogger()),
		hook:     &recordingHook{},
		profiles: profileMap{},
	}
	f.build(t, Config{}, failingStore{f.store})
	a := f.activeAuction(t, t0.Add(time.Hour))

	sub := f.engine.Subscribe(ctx, a.ID)
	defer sub.Cancel()

	_, _, err := f.engine.PlaceBid(ctx, a.ID, "bidder1", 110)
	check.True(t, errors.Is(err, errDiskFull))
	_, isRejection := domain.ReasonOf(err)
	check.False(t, isRejection)

	got, err := f.engine.GetState(ctx, a.ID)
	check.NoError(t, err)
	check.Equal(t, int64(100), got.CurrentPrice)
	check.Equal(t, "", got.CurrentWinnerID)
	check.Equal(t, 0, got.BidCount)
	check.Equal(t, a.Version, got.Version)

	select {
	case u := <-sub.Updates():
		t.Fatalf("unexpected update %+v", u)
	default:
	}
}

func TestEngine_StaleStateIsConflictRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})
	a := f.activeAuction(t, t0.Add(time.Hour))

	// Another instance accepts a bid behind this engine's back.
	other := a
	other.CurrentPrice = 300
	other.CurrentWinnerID = "elsewhere"
	other.BidCount = 1
	other.Version++
	check.NoError(t, f.store.RecordBid(ctx, domain.Bid{ID: "x", AuctionID: a.ID, BidderID: "elsewhere", Amount: 300, PlacedAt: t0}, other))

	_, _, err := f.engine.PlaceBid(ctx, a.ID, "bidder1", 110)
	check.Equal(t, domain.ReasonConflictRetry, reasonOf(err))

	_, _, err = f.engine.PlaceBid(ctx, a.ID, "bidder1", 110)
	check.Equal(t, domain.ReasonBidTooLow, reasonOf(err))

	got, _, err := f.engine.PlaceBid(ctx, a.ID, "bidder1", 310)
	check.NoError(t, err)
	check.Equal(t, int64(310), got.CurrentPrice)
}

func TestEngine_PublishAndTerminate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})

	t.Run("past end cannot be published", func(t *testing.T) {
		a, err := f.engine.Create(ctx, domain.Auction{SellerID: "seller", StartPrice: 0, StepPrice: 1, EndAt: t0.Add(-time.Minute)})
		check.NoError(t, err)
		_, err = f.engine.Publish(ctx, a.ID)
		check.True(t, errors.Is(err, domain.ErrInvalidAuction))
	})

	t.Run("draft rejects bids", func(t *testing.T) {
		a, err := f.engine.Create(ctx, domain.Auction{SellerID: "seller", StartPrice: 0, StepPrice: 1, EndAt: t0.Add(time.Hour), AllowUnratedBidder: true})
		check.NoError(t, err)
		_, _, err = f.engine.PlaceBid(ctx, a.ID, "bidder1", 10)
		check.Equal(t, domain.ReasonAuctionClosed, reasonOf(err))
	})

	t.Run("invalid pricing rejected at create", func(t *testing.T) {
		_, err := f.engine.Create(ctx, domain.Auction{SellerID: "seller", StartPrice: 100, StepPrice: 0, EndAt: t0.Add(time.Hour)})
		check.True(t, errors.Is(err, domain.ErrInvalidAuction))
	})

	t.Run("publish twice", func(t *testing.T) {
		a := f.activeAuction(t, t0.Add(time.Hour))
		_, err := f.engine.Publish(ctx, a.ID)
		check.True(t, errors.Is(err, domain.ErrInvalidTransition))
	})

	t.Run("terminate freezes state and cancels timer", func(t *testing.T) {
		a := f.activeAuction(t, t0.Add(time.Hour))
		_, _, err := f.engine.PlaceBid(ctx, a.ID, "bidder1", 110)
		check.NoError(t, err)

		_, err = f.engine.Terminate(ctx, a.ID, domain.AuctionStatusSold)
		check.True(t, errors.Is(err, domain.ErrInvalidTransition))

		got, err := f.engine.Terminate(ctx, a.ID, domain.AuctionStatusRemoved)
		check.NoError(t, err)
		check.Equal(t, domain.AuctionStatusRemoved, got.Status)
		check.Equal(t, int64(110), got.CurrentPrice)
		check.False(t, f.engine.sched.Pending(a.ID))

		_, _, err = f.engine.PlaceBid(ctx, a.ID, "bidder2", 500)
		check.Equal(t, domain.ReasonAuctionClosed, reasonOf(err))

		err = f.engine.DenyBidder(ctx, a.ID, "seller", "bidder2")
		check.Equal(t, domain.ReasonAuctionClosed, reasonOf(err))
	})

	t.Run("unknown auction", func(t *testing.T) {
		_, _, err := f.engine.PlaceBid(ctx, "missing", "bidder1", 110)
		check.True(t, errors.Is(err, domain.ErrNotFound))
		_, err = f.engine.GetState(ctx, "missing")
		check.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestEngine_RecoverArmsActiveAuctions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})

	due := domain.Auction{ID: "due", SellerID: "s", StartPrice: 10, StepPrice: 1, CurrentPrice: 10,
		EndAt: t0.Add(-time.Minute), Status: domain.AuctionStatusActive, Version: 2}
	later := domain.Auction{ID: "later", SellerID: "s", StartPrice: 10, StepPrice: 1, CurrentPrice: 10,
		EndAt: t0.Add(time.Hour), Status: domain.AuctionStatusActive, Version: 2}
	check.NoError(t, f.store.Create(ctx, due))
	check.NoError(t, f.store.Create(ctx, later))

	n, err := f.engine.Recover(ctx)
	check.NoError(t, err)
	check.Equal(t, 2, n)

	f.clock.Advance(0)

	got, err := f.engine.GetState(ctx, "due")
	check.NoError(t, err)
	check.Equal(t, domain.AuctionStatusUnsold, got.Status)

	got, err = f.engine.GetState(ctx, "later")
	check.NoError(t, err)
	check.Equal(t, domain.AuctionStatusActive, got.Status)
	check.True(t, f.engine.sched.Pending("later"))
}

// hookedStore lets a test act between store calls.
type hookedStore struct {
	*memory.AuctionStore
	afterList func()
	beforeGet func(id string) error
}

func (s *hookedStore) ListByStatus(ctx context.Context, status domain.AuctionStatus, opts domain.ListOpts) ([]domain.Auction, error) {
	out, err := s.AuctionStore.ListByStatus(ctx, status, opts)
	if s.afterList != nil {
		s.afterList()
	}
	return out, err
}

func (s *hookedStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	if s.beforeGet != nil {
		if err := s.beforeGet(id); err != nil {
			return domain.Auction{}, err
		}
	}
	return s.AuctionStore.GetByID(ctx, id)
}

func TestEngine_RecoverArmsEveryPage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := memory.NewAuctionStore()
	f := &fixture{
		clock:    clock.NewManual(t0),
		store:    mem,
		hub:      broadcast.New(16, discardLogger()),
		hook:     &recordingHook{},
		profiles: profileMap{},
	}
	// Timers that are due fire between pages, as they would on a live clock
	// while the next page is fetched.
	hs := &hookedStore{AuctionStore: mem, afterList: func() { f.clock.Advance(0) }}
	f.build(t, Config{}, hs)

	const pastDue, open = 260, 190
	var ids []string
	for i := 0; i < pastDue+open; i++ {
		end := t0.Add(-time.Duration(pastDue-i) * time.Second)
		if i >= pastDue {
			end = t0.Add(time.Duration(i) * time.Minute)
		}
		a := domain.Auction{ID: fmt.Sprintf("a%03d", i), SellerID: "s", StartPrice: 10, StepPrice: 1,
			CurrentPrice: 10, EndAt: end, Status: domain.AuctionStatusActive, Version: 2}
		check.NoError(t, mem.Create(ctx, a))
		ids = append(ids, a.ID)
	}

	n, err := f.engine.Recover(ctx)
	check.NoError(t, err)
	check.Equal(t, pastDue+open, n)

	f.clock.Advance(0)

	closed, armed := 0, 0
	for _, id := range ids {
		got, err := f.engine.GetState(ctx, id)
		check.NoError(t, err)
		switch {
		case got.Status.Terminal():
			closed++
		case f.engine.sched.Pending(id):
			armed++
		default:
			t.Errorf("auction %s is %s with no close timer", id, got.Status)
		}
	}
	check.Equal(t, pastDue, closed)
	check.Equal(t, open, armed)
}

func roomUsers(l *Ledger, id string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if r, ok := l.rooms[id]; ok {
		return r.users
	}
	return 0
}

func TestEngine_MissingAuctionKeepsRoomForQueuedCallers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := memory.NewAuctionStore()
	f := &fixture{
		clock:    clock.NewManual(t0),
		store:    mem,
		hub:      broadcast.New(16, discardLogger()),
		hook:     &recordingHook{},
		profiles: profileMap{},
	}

	entered := make(chan struct{})
	proceed := make(chan struct{})
	var first sync.Once
	hs := &hookedStore{AuctionStore: mem, beforeGet: func(id string) error {
		var miss bool
		first.Do(func() { miss = true })
		if !miss {
			return nil
		}
		close(entered)
		<-proceed
		return domain.ErrNotFound
	}}
	f.build(t, Config{BidWaitTimeout: 10 * time.Second}, hs)

	// The first bid holds the section while its lookup misses.
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := f.engine.PlaceBid(ctx, "late", "bidder1", 50)
		firstErr <- err
	}()
	<-entered

	// A second bid queues on the same section.
	secondErr := make(chan error, 1)
	go func() {
		_, _, err := f.engine.PlaceBid(ctx, "late", "bidder2", 50)
		secondErr <- err
	}()
	for roomUsers(f.engine.ledger, "late") < 2 {
		time.Sleep(time.Millisecond)
	}

	// The auction appears before the first lookup returns.
	check.NoError(t, mem.Create(ctx, domain.Auction{ID: "late", SellerID: "s", StartPrice: 10, StepPrice: 1,
		CurrentPrice: 10, EndAt: t0.Add(time.Hour), Status: domain.AuctionStatusActive,
		AllowUnratedBidder: true, Version: 2}))
	close(proceed)

	check.True(t, errors.Is(<-firstErr, domain.ErrNotFound))
	check.NoError(t, <-secondErr)

	got, ok := f.engine.ledger.Snapshot("late")
	check.True(t, ok)
	check.Equal(t, "bidder2", got.CurrentWinnerID)
	check.Equal(t, int64(50), got.CurrentPrice)
	check.Equal(t, 0, roomUsers(f.engine.ledger, "late"))
}

func TestEngine_UpdatesCarryFullSnapshots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})
	a := f.activeAuction(t, t0.Add(time.Hour))

	sub := f.engine.Subscribe(ctx, a.ID)
	defer sub.Cancel()

	_, bid, err := f.engine.PlaceBid(ctx, a.ID, "bidder1", 12050)
	check.NoError(t, err)

	u := <-sub.Updates()
	check.Equal(t, domain.UpdateKindBid, u.Kind)
	check.Equal(t, int64(12050), u.CurrentPrice)
	check.Equal(t, "120.50", u.DisplayPrice)
	check.Equal(t, "bidder1", u.CurrentWinnerID)
	check.Equal(t, domain.AuctionStatusActive, u.Status)
	check.NotNil(t, u.Bid)
	check.Equal(t, bid.ID, u.Bid.ID)
}

func TestEngine_AuditTrail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	audit := memory.NewAuditStore()
	f := newFixture(t, Config{}, WithAuditStore(audit))
	a := f.activeAuction(t, t0.Add(time.Hour))

	_, bid, err := f.engine.PlaceBid(ctx, a.ID, "bidder1", 150)
	check.NoError(t, err)
	check.NoError(t, f.engine.DenyBidder(ctx, a.ID, "seller", "bidder2"))
	f.clock.Advance(time.Hour)

	trail, err := f.engine.AuditTrail(ctx, a.ID, domain.ListOpts{})
	check.NoError(t, err)
	events := make([]string, 0, len(trail))
	for _, e := range trail {
		check.Equal(t, a.ID, e.AuctionID)
		events = append(events, e.Event)
	}
	check.Equal(t, []string{"auction_published", "auction_bid", "bidder_denied", "auction_closed"}, events)
	check.Equal(t, bid.ID, trail[1].Detail["bid_id"].(string))

	other, err := f.engine.AuditTrail(ctx, "unknown", domain.ListOpts{})
	check.NoError(t, err)
	check.Equal(t, 0, len(other))
}

func TestEngine_AuditTrailWithoutStore(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	trail, err := f.engine.AuditTrail(context.Background(), "any", domain.ListOpts{})
	check.NoError(t, err)
	check.Equal(t, 0, len(trail))
}

// brokenCache never holds anything and fails every write.
type brokenCache struct{}

func (brokenCache) Set(context.Context, domain.Auction) error { return errors.New("cache down") }
func (brokenCache) Get(_ context.Context, id string) (domain.Auction, error) {
	return domain.Auction{}, domain.ErrNotFound
}
func (brokenCache) Invalidate(context.Context, string) error { return nil }

func TestEngine_GetStateLogsCacheFillFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	mem := memory.NewAuctionStore()
	eng := New(Config{}, mem, memory.NewModerationStore(), profileMap{}, broadcast.New(16, logger), logger,
		WithClock(clock.NewManual(t0)), WithStateCache(brokenCache{}))
	t.Cleanup(eng.Close)

	check.NoError(t, mem.Create(ctx, domain.Auction{ID: "stored", SellerID: "s", StartPrice: 10, StepPrice: 1,
		CurrentPrice: 10, EndAt: t0.Add(time.Hour), Status: domain.AuctionStatusActive, Version: 2}))

	got, err := eng.GetState(ctx, "stored")
	check.NoError(t, err)
	check.Equal(t, "stored", got.ID)
	check.True(t, strings.Contains(logs.String(), "state cache fill failed"))
	check.True(t, strings.Contains(logs.String(), "cache down"))
}
