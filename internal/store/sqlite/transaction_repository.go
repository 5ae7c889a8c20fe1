package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/example/pos-offline/internal/store"
)

// TransactionRepository implements store.TransactionRepository on SQLite.
// Pending and synced transactions live in separate tables; a transaction is
// moved between them in one atomic unit so the identifier spaces stay
// disjoint.
type TransactionRepository struct {
	pool *ConnectionPool
}

// NewTransactionRepository creates a SQLite-backed transaction queue.
func NewTransactionRepository(pool *ConnectionPool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// CreatePending queues a transaction for synchronization. Duplicate
// idempotency keys return the existing record, pending or already synced,
// instead of inserting twice.
func (r *TransactionRepository) CreatePending(ctx context.Context, tx store.Transaction) (store.Transaction, error) {
	if strings.TrimSpace(tx.ID) == "" {
		return store.Transaction{}, store.NewPermanent("create pending", store.ReasonMalformed, fmt.Errorf("transaction id is required"))
	}
	if strings.TrimSpace(tx.Type) == "" {
		return store.Transaction{}, store.NewPermanent("create pending", store.ReasonMalformed, fmt.Errorf("transaction type is required"))
	}
	if len(tx.Payload) == 0 {
		return store.Transaction{}, store.NewPermanent("create pending", store.ReasonMalformed, fmt.Errorf("transaction payload is required"))
	}
	if strings.TrimSpace(tx.IdempotencyKey) == "" {
		return store.Transaction{}, store.NewPermanent("create pending", store.ReasonMalformed, fmt.Errorf("transaction idempotency key is required"))
	}

	tx.Status = store.StatusPending
	tx.Attempts = 0
	tx.CreatedAt = tx.CreatedAt.UTC()

	var existing *store.Transaction
	err := r.pool.WithTransaction(ctx, func(dbtx *sql.Tx) error {
		// Duplicate detection spans both collections.
		if found, err := findByIdempotencyKey(dbtx, tx.IdempotencyKey); err != nil {
			return err
		} else if found != nil {
			existing = found
			return nil
		}

		_, err := dbtx.Exec(`
			INSERT INTO transactions_pending
				(id, idempotency_key, type, amount, payload, status, attempts, created_at, last_attempt_at, last_error)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, NULL, '')
		`,
			tx.ID,
			tx.IdempotencyKey,
			tx.Type,
			tx.Amount,
			string(tx.Payload),
			string(tx.Status),
			tx.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return classify("insert pending", err)
		}
		return nil
	})
	if err != nil {
		return store.Transaction{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	return tx, nil
}

// GetTransaction returns a transaction from either collection.
func (r *TransactionRepository) GetTransaction(ctx context.Context, id string) (store.Transaction, error) {
	row := r.pool.db.QueryRowContext(ctx, `
		SELECT id, idempotency_key, type, amount, payload, status, attempts, created_at, last_attempt_at, last_error
		FROM transactions_pending
		WHERE id = ?
	`, id)
	tx, err := scanPending(row)
	if err == nil {
		return tx, nil
	}
	if err != store.ErrNotFound {
		return store.Transaction{}, err
	}
	return r.GetSynced(ctx, id)
}

// ListUnsynced returns every not-yet-acknowledged transaction in creation
// order, oldest first. Failed entries rejoin the queue here so a stuck entry
// is retried on the next drain cycle.
func (r *TransactionRepository) ListUnsynced(ctx context.Context) ([]store.Transaction, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT id, idempotency_key, type, amount, payload, status, attempts, created_at, last_attempt_at, last_error
		FROM transactions_pending
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, classify("list unsynced", err)
	}
	defer rows.Close()

	transactions := make([]store.Transaction, 0)
	for rows.Next() {
		tx, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// CountPending returns the number of not-yet-acknowledged transactions.
func (r *TransactionRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions_pending`).Scan(&count); err != nil {
		return 0, classify("count pending", err)
	}
	return count, nil
}

// RecordAttempt increments the attempt counter and stores the attempt
// timestamp and error message of the most recent submission.
func (r *TransactionRepository) RecordAttempt(ctx context.Context, id string, at time.Time, lastError string) error {
	result, err := r.pool.db.ExecContext(ctx, `
		UPDATE transactions_pending
		SET attempts = attempts + 1, last_attempt_at = ?, last_error = ?
		WHERE id = ?
	`, at.UTC().Format(time.RFC3339Nano), lastError, id)
	if err != nil {
		return classify("record attempt", err)
	}
	return requireRow(result)
}

// MarkFailed flags a transaction whose submission budget is exhausted. It
// stays in the queue for the next drain cycle.
func (r *TransactionRepository) MarkFailed(ctx context.Context, id string) error {
	result, err := r.pool.db.ExecContext(ctx,
		`UPDATE transactions_pending SET status = 'failed' WHERE id = ?`, id)
	if err != nil {
		return classify("mark failed", err)
	}
	return requireRow(result)
}

// MarkSynced atomically moves an acknowledged transaction from the pending
// collection to the synced collection. Calling it again for the same
// identifier is a no-op: the synced collection never overwrites.
func (r *TransactionRepository) MarkSynced(ctx context.Context, id string, syncedAt time.Time) error {
	return r.pool.WithTransaction(ctx, func(dbtx *sql.Tx) error {
		row := dbtx.QueryRow(`
			SELECT id, idempotency_key, type, amount, payload, status, attempts, created_at, last_attempt_at, last_error
			FROM transactions_pending
			WHERE id = ?
		`, id)
		tx, err := scanPending(row)
		if err == store.ErrNotFound {
			// Already moved, or never existed.
			var exists int
			if scanErr := dbtx.QueryRow(`SELECT COUNT(*) FROM transactions_synced WHERE id = ?`, id).Scan(&exists); scanErr != nil {
				return classify("check synced", scanErr)
			}
			if exists > 0 {
				return nil
			}
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}

		if _, err := dbtx.Exec(`
			INSERT OR IGNORE INTO transactions_synced
				(id, idempotency_key, type, amount, payload, attempts, created_at, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			tx.ID,
			tx.IdempotencyKey,
			tx.Type,
			tx.Amount,
			string(tx.Payload),
			tx.Attempts,
			tx.CreatedAt.Format(time.RFC3339Nano),
			syncedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return classify("insert synced", err)
		}

		if _, err := dbtx.Exec(`DELETE FROM transactions_pending WHERE id = ?`, id); err != nil {
			return classify("delete pending", err)
		}
		return nil
	})
}

// GetSynced returns an acknowledged transaction by its original identifier.
func (r *TransactionRepository) GetSynced(ctx context.Context, id string) (store.Transaction, error) {
	row := r.pool.db.QueryRowContext(ctx, `
		SELECT id, idempotency_key, type, amount, payload, attempts, created_at, synced_at
		FROM transactions_synced
		WHERE id = ?
	`, id)
	return scanSynced(row)
}

// CountSynced returns the size of the synced collection.
func (r *TransactionRepository) CountSynced(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions_synced`).Scan(&count); err != nil {
		return 0, classify("count synced", err)
	}
	return count, nil
}

func findByIdempotencyKey(dbtx *sql.Tx, key string) (*store.Transaction, error) {
	row := dbtx.QueryRow(`
		SELECT id, idempotency_key, type, amount, payload, status, attempts, created_at, last_attempt_at, last_error
		FROM transactions_pending
		WHERE idempotency_key = ?
	`, key)
	tx, err := scanPending(row)
	if err == nil {
		return &tx, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	row = dbtx.QueryRow(`
		SELECT id, idempotency_key, type, amount, payload, attempts, created_at, synced_at
		FROM transactions_synced
		WHERE idempotency_key = ?
	`, key)
	tx, err = scanSynced(row)
	if err == nil {
		return &tx, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}
	return nil, nil
}

func scanPending(row rowScanner) (store.Transaction, error) {
	var (
		tx            store.Transaction
		payload       string
		status        string
		createdAt     string
		lastAttemptAt sql.NullString
	)
	err := row.Scan(&tx.ID, &tx.IdempotencyKey, &tx.Type, &tx.Amount, &payload, &status, &tx.Attempts, &createdAt, &lastAttemptAt, &tx.LastError)
	if err != nil {
		if err == sql.ErrNoRows {
			return store.Transaction{}, store.ErrNotFound
		}
		return store.Transaction{}, classify("scan pending", err)
	}

	tx.Payload = json.RawMessage(payload)
	tx.Status = store.SyncStatus(status)
	if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return store.Transaction{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if lastAttemptAt.Valid {
		at, err := time.Parse(time.RFC3339Nano, lastAttemptAt.String)
		if err != nil {
			return store.Transaction{}, fmt.Errorf("failed to parse last_attempt_at: %w", err)
		}
		tx.LastAttemptAt = &at
	}
	return tx, nil
}

func scanSynced(row rowScanner) (store.Transaction, error) {
	var (
		tx                  store.Transaction
		payload             string
		createdAt, syncedAt string
	)
	err := row.Scan(&tx.ID, &tx.IdempotencyKey, &tx.Type, &tx.Amount, &payload, &tx.Attempts, &createdAt, &syncedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return store.Transaction{}, store.ErrNotFound
		}
		return store.Transaction{}, classify("scan synced", err)
	}

	tx.Payload = json.RawMessage(payload)
	tx.Status = store.StatusSynced
	if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return store.Transaction{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, syncedAt)
	if err != nil {
		return store.Transaction{}, fmt.Errorf("failed to parse synced_at: %w", err)
	}
	tx.SyncedAt = &at
	return tx, nil
}
