// Package maintenance runs periodic housekeeping against the local store.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/pos-offline/internal/logging"
	"github.com/example/pos-offline/internal/retry"
	"github.com/example/pos-offline/internal/store"
)

// Options configures a Sweeper.
type Options struct {
	// Retention is the age past which closed sessions and sync error records
	// are deleted. Defaults to 30 days.
	Retention time.Duration
	// Interval between sweeps. Defaults to 1h.
	Interval time.Duration
	// Now is the time source. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Sweeper deletes aged session and sync-error rows on a fixed schedule. It
// never touches pending or synced transactions.
type Sweeper struct {
	sessions   store.SessionRepository
	syncErrors store.SyncErrorRepository
	executor   *retry.Executor
	retention  time.Duration
	interval   time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSweeper constructs a Sweeper.
func NewSweeper(sessions store.SessionRepository, syncErrors store.SyncErrorRepository, executor *retry.Executor, opts Options) *Sweeper {
	if opts.Retention <= 0 {
		opts.Retention = 30 * 24 * time.Hour
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sweeper{
		sessions:   sessions,
		syncErrors: syncErrors,
		executor:   executor,
		retention:  opts.Retention,
		interval:   opts.Interval,
		now:        opts.Now,
		logger:     logging.Default(opts.Logger).With("component", "maintenance"),
	}
}

// Start launches the sweep loop. Calling Start on a running Sweeper is a
// no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.started = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.started = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce deletes sessions not accessed since, and sync errors recorded
// before, the retention cutoff.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	cutoff := s.now().Add(-s.retention)

	sessions, err := retry.DoValue(ctx, s.executor, "sweep sessions", func(ctx context.Context) (int64, error) {
		return s.sessions.DeleteSessionsLastAccessedBefore(ctx, cutoff)
	})
	if err != nil {
		return err
	}
	syncErrors, err := retry.DoValue(ctx, s.executor, "sweep sync errors", func(ctx context.Context) (int64, error) {
		return s.syncErrors.DeleteSyncErrorsBefore(ctx, cutoff)
	})
	if err != nil {
		return err
	}

	if sessions > 0 || syncErrors > 0 {
		s.logger.Info("retention sweep completed",
			"cutoff", cutoff.Format(time.RFC3339),
			"sessions_deleted", sessions,
			"sync_errors_deleted", syncErrors,
		)
	}
	return nil
}
