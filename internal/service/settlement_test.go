package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/bidengine/internal/clock"
	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/platform/payment"
	"github.com/alanyoungcy/bidengine/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePayments struct {
	mu     sync.Mutex
	fail   error
	orders []payment.Order
}

func (f *fakePayments) CreateOrder(_ context.Context, o payment.Order) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o)
	if f.fail != nil {
		return "", f.fail
	}
	return "ord-" + o.AuctionID, nil
}

func (f *fakePayments) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *fakePayments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakeFailures struct {
	mu   sync.Mutex
	seen []domain.Settlement
}

func (f *fakeFailures) SettlementFailed(_ context.Context, s domain.Settlement) error {
	f.mu.Lock()
	f.seen = append(f.seen, s)
	f.mu.Unlock()
	return nil
}

func soldAuction(id string) domain.Auction {
	return domain.Auction{
		ID:              id,
		SellerID:        "seller",
		Status:          domain.AuctionStatusSold,
		CurrentWinnerID: "winner",
		CurrentPrice:    12050,
	}
}

func TestSettlementCreatesOrderOnce(t *testing.T) {
	t.Parallel()

	store := memory.NewSettlementStore()
	pay := &fakePayments{}
	svc := NewSettlementService(store, pay, nil, nil, SettlementConfig{}, discardLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.AuctionClosed(ctx, soldAuction("a1"))
		}()
	}
	wg.Wait()

	check.Equal(t, 1, pay.count())
	check.Equal(t, int64(12050), pay.orders[0].Amount)
	check.Equal(t, "winner", pay.orders[0].WinnerID)

	st, ok := store.Get("a1")
	check.True(t, ok)
	check.Equal(t, domain.SettlementStatusOrdered, st.Status)
	check.Equal(t, "ord-a1", st.OrderID)
}

func TestSettlementIgnoresUnsold(t *testing.T) {
	t.Parallel()

	store := memory.NewSettlementStore()
	pay := &fakePayments{}
	svc := NewSettlementService(store, pay, nil, nil, SettlementConfig{}, discardLogger())

	for _, status := range []domain.AuctionStatus{
		domain.AuctionStatusUnsold, domain.AuctionStatusExpired, domain.AuctionStatusRemoved,
	} {
		a := soldAuction("a-" + string(status))
		a.Status = status
		svc.AuctionClosed(context.Background(), a)
	}
	check.Equal(t, 0, pay.count())
}

func TestSettlementRetriesFailures(t *testing.T) {
	t.Parallel()

	store := memory.NewSettlementStore()
	pay := &fakePayments{fail: errors.New("payment service down")}
	failures := &fakeFailures{}
	clk := clock.NewManual(time.Now())
	svc := NewSettlementService(store, pay, failures, clk, SettlementConfig{MaxAttempts: 3}, discardLogger())
	ctx := context.Background()

	svc.AuctionClosed(ctx, soldAuction("a1"))
	st, _ := store.Get("a1")
	check.Equal(t, domain.SettlementStatusFailed, st.Status)
	check.Equal(t, 1, st.Attempts)
	check.Equal(t, 1, len(failures.seen))

	n, err := svc.Sweep(ctx)
	check.NoError(t, err)
	check.Equal(t, 1, n)
	st, _ = store.Get("a1")
	check.Equal(t, 2, st.Attempts)

	pay.setFail(nil)
	n, err = svc.Sweep(ctx)
	check.NoError(t, err)
	check.Equal(t, 1, n)
	st, _ = store.Get("a1")
	check.Equal(t, domain.SettlementStatusOrdered, st.Status)

	n, err = svc.Sweep(ctx)
	check.NoError(t, err)
	check.Equal(t, 0, n)
	check.Equal(t, 3, pay.count())
}

func TestSettlementGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	store := memory.NewSettlementStore()
	pay := &fakePayments{fail: errors.New("declined")}
	svc := NewSettlementService(store, pay, nil, nil, SettlementConfig{MaxAttempts: 2}, discardLogger())
	ctx := context.Background()

	svc.AuctionClosed(ctx, soldAuction("a1"))
	_, err := svc.Sweep(ctx)
	check.NoError(t, err)
	n, err := svc.Sweep(ctx)
	check.NoError(t, err)
	check.Equal(t, 0, n)
	check.Equal(t, 2, pay.count())
}

func TestSweepSkipsFreshPending(t *testing.T) {
	t.Parallel()

	store := memory.NewSettlementStore()
	pay := &fakePayments{}
	clk := clock.NewManual(time.Now())
	svc := NewSettlementService(store, pay, nil, clk, SettlementConfig{StaleAfter: time.Minute}, discardLogger())
	ctx := context.Background()

	claimed, err := store.Claim(ctx, domain.Settlement{AuctionID: "a1", WinnerID: "w", FinalPrice: 100})
	check.NoError(t, err)
	check.True(t, claimed)

	n, err := svc.Sweep(ctx)
	check.NoError(t, err)
	check.Equal(t, 0, n)

	clk.Advance(2 * time.Minute)
	n, err = svc.Sweep(ctx)
	check.NoError(t, err)
	check.Equal(t, 1, n)
	st, _ := store.Get("a1")
	check.Equal(t, domain.SettlementStatusOrdered, st.Status)
}
