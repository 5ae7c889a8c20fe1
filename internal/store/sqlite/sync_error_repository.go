package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/pos-offline/internal/store"
)

// SyncErrorRepository implements the append-only sync diagnostic log.
type SyncErrorRepository struct {
	pool *ConnectionPool
}

// NewSyncErrorRepository creates a SQLite-backed sync error log.
func NewSyncErrorRepository(pool *ConnectionPool) *SyncErrorRepository {
	return &SyncErrorRepository{pool: pool}
}

// AppendSyncError records one failed synchronization attempt.
func (r *SyncErrorRepository) AppendSyncError(ctx context.Context, entry store.SyncError) error {
	if strings.TrimSpace(entry.TransactionID) == "" {
		return store.NewPermanent("append sync error", store.ReasonMalformed, fmt.Errorf("sync error transaction id is required"))
	}

	_, err := r.pool.db.ExecContext(ctx, `
		INSERT INTO sync_errors (transaction_id, reason, message, attempt, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		entry.TransactionID,
		entry.Reason,
		entry.Message,
		entry.Attempt,
		entry.OccurredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return classify("append sync error", err)
	}
	return nil
}

// ListSyncErrorsByTransaction returns the log entries for one transaction,
// oldest first.
func (r *SyncErrorRepository) ListSyncErrorsByTransaction(ctx context.Context, transactionID string) ([]store.SyncError, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT id, transaction_id, reason, message, attempt, occurred_at
		FROM sync_errors
		WHERE transaction_id = ?
		ORDER BY id
	`, transactionID)
	if err != nil {
		return nil, classify("list sync errors", err)
	}
	defer rows.Close()

	entries := make([]store.SyncError, 0)
	for rows.Next() {
		var (
			entry      store.SyncError
			occurredAt string
		)
		if err := rows.Scan(&entry.ID, &entry.TransactionID, &entry.Reason, &entry.Message, &entry.Attempt, &occurredAt); err != nil {
			return nil, classify("scan sync error", err)
		}
		if entry.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
			return nil, fmt.Errorf("failed to parse occurred_at: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// DeleteSyncErrorsBefore purges log entries older than cutoff.
func (r *SyncErrorRepository) DeleteSyncErrorsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.db.ExecContext(ctx,
		`DELETE FROM sync_errors WHERE occurred_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, classify("sweep sync errors", err)
	}
	return result.RowsAffected()
}
