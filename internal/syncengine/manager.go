// Package syncengine drains the pending transaction queue into the remote
// service when it is reachable, preserving creation order and guaranteeing
// at-most-once delivery per transaction.
package syncengine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/pos-offline/internal/connectivity"
	"github.com/example/pos-offline/internal/events"
	"github.com/example/pos-offline/internal/logging"
	"github.com/example/pos-offline/internal/retry"
	"github.com/example/pos-offline/internal/store"
)

// State is the sync manager's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
)

// ErrDrainInProgress is returned when Drain is called while a drain is
// already running; the running drain will observe any newly queued
// transactions on its next pass.
var ErrDrainInProgress = errors.New("syncengine: drain already in progress")

// Submitter delivers one transaction to the remote service. Implementations
// must be idempotent with respect to resubmission of an already-processed
// idempotency key.
type Submitter interface {
	SubmitTransaction(ctx context.Context, tx store.Transaction) error
}

// Started is the payload of events.SyncStarted.
type Started struct {
	Queued int
}

// Progress is the payload of events.SyncProgress, published once per
// processed queue entry.
type Progress struct {
	TransactionID string
	Synced        bool
	Err           string
}

// Summary is the payload of events.SyncCompleted.
type Summary struct {
	Synced  int
	Failed  int
	Aborted bool
}

// Manager owns the pending queue drain. It is the sole mutator of
// transaction sync status.
type Manager struct {
	transactions store.TransactionRepository
	syncErrors   store.SyncErrorRepository
	submitter    Submitter
	executor     *retry.Executor
	bus          *events.Bus
	reachable    func() bool
	now          func() time.Time
	newID        func() string
	logger       *slog.Logger

	mu          sync.Mutex
	state       State
	cancelDrain context.CancelFunc
	unsubscribe func()
	drains      sync.WaitGroup
}

// Options configures optional Manager collaborators.
type Options struct {
	// Reachable reports the connection monitor's current belief. When nil the
	// manager assumes the service is reachable for manually triggered drains.
	Reachable func() bool
	Now       func() time.Time
	// NewID generates transaction identifiers. Defaults to uuid.NewString.
	NewID  func() string
	Logger *slog.Logger
}

// NewManager constructs an idle Manager.
func NewManager(transactions store.TransactionRepository, syncErrors store.SyncErrorRepository, submitter Submitter, executor *retry.Executor, bus *events.Bus, opts Options) *Manager {
	if opts.Reachable == nil {
		opts.Reachable = func() bool { return true }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Manager{
		transactions: transactions,
		syncErrors:   syncErrors,
		submitter:    submitter,
		executor:     executor,
		bus:          bus,
		reachable:    opts.Reachable,
		now:          opts.Now,
		newID:        opts.NewID,
		state:        StateIdle,
		logger:       logging.Default(opts.Logger).With("component", "syncengine"),
	}
}

// State returns the manager's current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start subscribes the manager to reachability changes: a transition to
// reachable begins a drain, a transition to unreachable aborts the one in
// flight.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe != nil || m.bus == nil {
		return
	}
	m.unsubscribe = m.bus.Subscribe(events.ReachabilityChanged, func(payload any) {
		change, ok := payload.(connectivity.Change)
		if !ok {
			return
		}
		if change.Reachable {
			go func() {
				if _, err := m.Drain(context.Background()); err != nil && !errors.Is(err, ErrDrainInProgress) {
					m.logger.Error("drain failed", "error", err)
				}
			}()
			return
		}
		m.abortDrain()
	})
}

// Stop unsubscribes from reachability changes, aborts any in-flight drain,
// and waits for it to settle.
func (m *Manager) Stop() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.abortDrain()
	m.drains.Wait()
}

func (m *Manager) abortDrain() {
	m.mu.Lock()
	cancel := m.cancelDrain
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// PendingCount returns the number of not-yet-acknowledged transactions, the
// terminal's persistent pending indicator.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	return retry.DoValue(ctx, m.executor, "count pending", func(ctx context.Context) (int, error) {
		return m.transactions.CountPending(ctx)
	})
}

// Drain replays the pending queue until it is empty or reachability is lost.
// Transactions queued while a pass is running are picked up by a follow-up
// pass inside the same call, never out of order relative to the snapshot.
func (m *Manager) Drain(ctx context.Context) (Summary, error) {
	// The syncing state is gated on a non-empty queue: an empty-queue
	// trigger returns immediately without a state transition.
	pending, err := m.PendingCount(ctx)
	if err != nil {
		return Summary{}, err
	}
	if pending == 0 {
		return Summary{}, nil
	}

	m.mu.Lock()
	if m.state == StateSyncing {
		m.mu.Unlock()
		return Summary{}, ErrDrainInProgress
	}
	drainCtx, cancel := context.WithCancel(ctx)
	m.state = StateSyncing
	m.cancelDrain = cancel
	m.drains.Add(1)
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		m.state = StateIdle
		m.cancelDrain = nil
		m.mu.Unlock()
		m.drains.Done()
	}()

	logger := logging.Operation(ctx, m.logger, "syncengine", "Drain")

	var summary Summary
	started := false
	// Entries already attempted in this drain are skipped on follow-up
	// passes; a failed entry waits for the next cycle instead of spinning.
	processed := make(map[string]bool)
	for {
		queue, err := retry.DoValue(drainCtx, m.executor, "list pending queue", func(ctx context.Context) ([]store.Transaction, error) {
			return m.transactions.ListUnsynced(ctx)
		})
		if err != nil {
			m.publishCompleted(started, summary)
			return summary, err
		}

		snapshot := queue[:0:0]
		for _, tx := range queue {
			if !processed[tx.ID] {
				snapshot = append(snapshot, tx)
			}
		}
		if len(snapshot) == 0 {
			break
		}

		if !started {
			started = true
			if m.bus != nil {
				m.bus.Publish(events.SyncStarted, Started{Queued: len(snapshot)})
			}
			logger.Info("drain started", "queued", len(snapshot))
		}

		aborted := m.drainPass(drainCtx, snapshot, processed, &summary)
		if aborted {
			summary.Aborted = true
			break
		}
	}

	m.publishCompleted(started, summary)
	if started {
		logger.Info("drain finished", "synced", summary.Synced, "failed", summary.Failed, "aborted", summary.Aborted)
	}
	return summary, nil
}

// drainPass submits one snapshot strictly in creation order. It reports true
// when the pass was abandoned because reachability was lost or the drain was
// cancelled; the entry being submitted stays pending.
func (m *Manager) drainPass(ctx context.Context, snapshot []store.Transaction, processed map[string]bool, summary *Summary) bool {
	for _, tx := range snapshot {
		if ctx.Err() != nil || !m.reachable() {
			return true
		}
		processed[tx.ID] = true

		submitErr := m.executor.Do(ctx, "submit transaction", func(ctx context.Context) error {
			return m.submitter.SubmitTransaction(ctx, tx)
		})

		// Bookkeeping writes run on a detached context so an abandoned
		// submission still lands its attempt counter and audit fields.
		bookCtx := context.WithoutCancel(ctx)
		now := m.now()
		var lastError string
		if submitErr != nil {
			lastError = submitErr.Error()
		}
		if err := m.recordAttempt(bookCtx, tx.ID, now, lastError); err != nil {
			m.logger.Error("failed to record sync attempt", "transaction_id", tx.ID, "error", err)
		}

		if submitErr == nil {
			if err := m.markSynced(bookCtx, tx.ID, now); err != nil {
				m.logger.Error("failed to mark transaction synced", "transaction_id", tx.ID, "error", err)
				return true
			}
			summary.Synced++
			m.publishProgress(Progress{TransactionID: tx.ID, Synced: true})
			continue
		}

		if ctx.Err() != nil || !m.reachable() {
			// Abandoned mid-submission: the entry keeps its pending status and
			// its incremented attempt counter is the resume checkpoint.
			return true
		}

		// The entry's own retry budget is spent; log it and move on so one
		// stuck transaction cannot block the rest of the queue.
		entry := store.SyncError{
			TransactionID: tx.ID,
			Reason:        string(store.ReasonOf(submitErr)),
			Message:       submitErr.Error(),
			Attempt:       tx.Attempts + 1,
			OccurredAt:    now,
		}
		if err := m.appendSyncError(bookCtx, entry); err != nil {
			m.logger.Error("failed to append sync error", "transaction_id", tx.ID, "error", err)
		}
		if err := m.markFailed(bookCtx, tx.ID); err != nil {
			m.logger.Error("failed to mark transaction failed", "transaction_id", tx.ID, "error", err)
		}
		summary.Failed++
		m.publishProgress(Progress{TransactionID: tx.ID, Synced: false, Err: submitErr.Error()})
	}
	return false
}

func (m *Manager) recordAttempt(ctx context.Context, id string, at time.Time, lastError string) error {
	return m.executor.Do(ctx, "record attempt", func(ctx context.Context) error {
		return m.transactions.RecordAttempt(ctx, id, at, lastError)
	})
}

func (m *Manager) markSynced(ctx context.Context, id string, at time.Time) error {
	return m.executor.Do(ctx, "mark synced", func(ctx context.Context) error {
		return m.transactions.MarkSynced(ctx, id, at)
	})
}

func (m *Manager) markFailed(ctx context.Context, id string) error {
	return m.executor.Do(ctx, "mark failed", func(ctx context.Context) error {
		return m.transactions.MarkFailed(ctx, id)
	})
}

func (m *Manager) appendSyncError(ctx context.Context, entry store.SyncError) error {
	return m.executor.Do(ctx, "append sync error", func(ctx context.Context) error {
		return m.syncErrors.AppendSyncError(ctx, entry)
	})
}

func (m *Manager) publishProgress(p Progress) {
	if m.bus != nil {
		m.bus.Publish(events.SyncProgress, p)
	}
}

func (m *Manager) publishCompleted(started bool, summary Summary) {
	if started && m.bus != nil {
		m.bus.Publish(events.SyncCompleted, summary)
	}
}
