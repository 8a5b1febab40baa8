package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/store"
)

// Sweeper defaults.
const (
	DefaultSweepInterval = 1 * time.Hour
	DefaultIdleAfter     = 24 * time.Hour

	sweepTimeout = 1 * time.Minute
)

// Sweeper periodically deletes idle sessions and spent revocation entries
// so neither table grows without bound. Backends that self-expire
// revocations report zero removals there; the idle sweep still matters for
// every backend.
type Sweeper struct {
	Store     store.Store
	Logger    *slog.Logger
	Interval  time.Duration
	IdleAfter time.Duration

	Now func() time.Time // Optional: clock override for tests

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper builds a sweeper with defaults filled in. Zero interval means
// hourly; zero idle cutoff means 24 hours.
func NewSweeper(st store.Store, logger *slog.Logger, interval, idleAfter time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if idleAfter <= 0 {
		idleAfter = DefaultIdleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		Store:     st,
		Logger:    logger,
		Interval:  interval,
		IdleAfter: idleAfter,
		Now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut it
// down.
func (s *Sweeper) Start() {
	go s.run()
	s.Logger.Info("sweeper started", "interval", s.Interval, "idle_after", s.IdleAfter)
}

// Stop shuts the worker down and blocks until any in-progress sweep has
// finished.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("sweeper stopped")
}

// run is the worker loop. One sweep runs immediately on startup.
func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep performs one cleanup round. The two deletions are independent: a
// failure in one does not stop the other.
func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	cutoff := s.Now().Add(-s.IdleAfter)
	if deleted, err := s.Store.Sessions().DeleteIdle(ctx, cutoff); err != nil {
		s.Logger.Error("failed to delete idle sessions", "error", err)
	} else if deleted > 0 {
		s.Logger.Info("deleted idle sessions", "count", deleted)
	}

	if deleted, err := s.Store.Revocations().DeleteExpired(ctx); err != nil {
		s.Logger.Error("failed to delete expired revocations", "error", err)
	} else if deleted > 0 {
		s.Logger.Info("deleted expired revocations", "count", deleted)
	}
}
