package syncengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/pos-offline/internal/retry"
	"github.com/example/pos-offline/internal/store"
)

// EnqueueInput describes one financial operation to record locally.
type EnqueueInput struct {
	Type    string
	Amount  float64
	Payload json.RawMessage
}

// IdempotencyKey derives the stable deduplication key for a transaction. The
// key is fixed at enqueue time and resubmitted verbatim on every attempt so
// the remote side can discard replays.
func IdempotencyKey(txType, id string, createdAt time.Time, payload []byte) string {
	digest := sha256.Sum256(payload)
	return fmt.Sprintf("%s_%s_%d_%s", txType, id, createdAt.Unix(), hex.EncodeToString(digest[:])[:8])
}

// Enqueue persists a transaction in pending state and, when the remote
// service is currently reachable, kicks off an immediate drain. Re-enqueueing
// a payload that already produced the same idempotency key returns the
// existing record unchanged.
func (m *Manager) Enqueue(ctx context.Context, in EnqueueInput) (store.Transaction, error) {
	now := m.now()
	id := m.newID()
	tx := store.Transaction{
		ID:             id,
		IdempotencyKey: IdempotencyKey(in.Type, id, now, in.Payload),
		Type:           in.Type,
		Amount:         in.Amount,
		Payload:        in.Payload,
		Status:         store.StatusPending,
		CreatedAt:      now,
	}

	created, err := retry.DoValue(ctx, m.executor, "create pending transaction", func(ctx context.Context) (store.Transaction, error) {
		return m.transactions.CreatePending(ctx, tx)
	})
	if err != nil {
		return store.Transaction{}, err
	}

	m.logger.InfoContext(ctx, "transaction queued",
		"transaction_id", created.ID,
		"type", created.Type,
		"idempotency_key", created.IdempotencyKey,
	)

	if m.reachable() {
		go func() {
			if _, err := m.Drain(context.Background()); err != nil && !errors.Is(err, ErrDrainInProgress) {
				m.logger.Error("drain after enqueue failed", "error", err)
			}
		}()
	}
	return created, nil
}

// Transaction fetches one transaction regardless of its sync status.
func (m *Manager) Transaction(ctx context.Context, id string) (store.Transaction, error) {
	return retry.DoValue(ctx, m.executor, "get transaction", func(ctx context.Context) (store.Transaction, error) {
		return m.transactions.GetTransaction(ctx, id)
	})
}

// SyncErrorsFor lists the recorded sync failures of one transaction, oldest
// first.
func (m *Manager) SyncErrorsFor(ctx context.Context, transactionID string) ([]store.SyncError, error) {
	return retry.DoValue(ctx, m.executor, "list sync errors", func(ctx context.Context) ([]store.SyncError, error) {
		return m.syncErrors.ListSyncErrorsByTransaction(ctx, transactionID)
	})
}
