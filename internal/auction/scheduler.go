package auction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/bidengine/internal/clock"
)

const (
	defaultGraceWindow  = 5 * time.Minute
	defaultCloseTimeout = 30 * time.Second
	closeRetryDelay     = time.Second
)

// Closer closes auctions whose end time has been reached. CloseDue re-reads
// the end time under the auction's section; when the end has moved it returns
// the new instant and rearm=true instead of closing.
type Closer interface {
	CloseDue(ctx context.Context, auctionID string) (rearmAt time.Time, rearm bool, err error)
}

// Scheduler owns one close timer per active auction and the anti-sniping
// extension policy.
type Scheduler struct {
	clock        clock.Clock
	grace        time.Duration
	closeTimeout time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	closer  Closer
	timers  map[string]scheduled
	seq     uint64
	stopped bool
}

type scheduled struct {
	timer clock.Timer
	gen   uint64
}

// NewScheduler creates a scheduler. Non-positive durations fall back to the
// defaults (5m grace window, 30s close timeout).
func NewScheduler(clk clock.Clock, grace, closeTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if grace <= 0 {
		grace = defaultGraceWindow
	}
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeout
	}
	return &Scheduler{
		clock:        clk,
		grace:        grace,
		closeTimeout: closeTimeout,
		logger:       logger.With(slog.String("component", "scheduler")),
		timers:       make(map[string]scheduled),
	}
}

// Start sets the closer invoked when timers fire. Timers armed before Start
// fire into a no-op.
func (s *Scheduler) Start(closer Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closer = closer
}

// GraceWindow returns the configured extension window.
func (s *Scheduler) GraceWindow() time.Duration {
	return s.grace
}

// ExtendedEnd applies the grace-window policy to a bid accepted at
// acceptedAt. The result is never earlier than endAt.
func (s *Scheduler) ExtendedEnd(endAt, acceptedAt time.Time) time.Time {
	if endAt.Sub(acceptedAt) >= s.grace {
		return endAt
	}
	extended := acceptedAt.Add(s.grace)
	if extended.After(endAt) {
		return extended
	}
	return endAt
}

// Arm schedules the close of auctionID at endAt, replacing any pending timer.
func (s *Scheduler) Arm(auctionID string, endAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.timers[auctionID]; ok {
		prev.timer.Stop()
	}

	d := endAt.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	s.seq++
	gen := s.seq
	t := s.clock.AfterFunc(d, func() { s.fire(auctionID, gen) })
	s.timers[auctionID] = scheduled{timer: t, gen: gen}
}

// Cancel stops the pending timer for auctionID, if any.
func (s *Scheduler) Cancel(auctionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.timers[auctionID]; ok {
		prev.timer.Stop()
		delete(s.timers, auctionID)
	}
}

// Pending reports whether auctionID has an armed timer.
func (s *Scheduler) Pending(auctionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[auctionID]
	return ok
}

// Stop cancels every timer. Arm is a no-op afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, sc := range s.timers {
		sc.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) fire(auctionID string, gen uint64) {
	s.mu.Lock()
	sc, ok := s.timers[auctionID]
	if !ok || sc.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, auctionID)
	closer := s.closer
	s.mu.Unlock()

	if closer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
	defer cancel()

	rearmAt, rearm, err := closer.CloseDue(ctx, auctionID)
	if err != nil {
		s.logger.Error("close failed, retrying",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		s.Arm(auctionID, s.clock.Now().Add(closeRetryDelay))
		return
	}
	if rearm {
		s.logger.Debug("end moved, rearming",
			slog.String("auction_id", auctionID),
			slog.Time("end_at", rearmAt),
		)
		s.Arm(auctionID, rearmAt)
	}
}
