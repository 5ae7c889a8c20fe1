// Package sqlite implements the store repositories on a single SQLite
// database file, the terminal's durable local store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/pos-offline/internal/store"
	_ "modernc.org/sqlite"
)

// ConnectionPool manages the SQLite database handle with transaction support.
type ConnectionPool struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and returns a pool around it.
func Open(dsn string) (*ConnectionPool, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	// A single writer keeps the atomic-unit contract simple; SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return &ConnectionPool{db: db}, nil
}

// DB returns the underlying database handle.
func (cp *ConnectionPool) DB() *sql.DB { return cp.db }

// Close closes the database handle.
func (cp *ConnectionPool) Close() error {
	if cp.db != nil {
		return cp.db.Close()
	}
	return nil
}

// Ping tests the database connection.
func (cp *ConnectionPool) Ping(ctx context.Context) error {
	return cp.db.PingContext(ctx)
}

// TransactionFunc represents a function that executes within a transaction.
type TransactionFunc func(tx *sql.Tx) error

// WithTransaction executes fn inside a database transaction. If fn returns an
// error the transaction is rolled back, otherwise it is committed. The unit
// either commits fully or has no effect.
func (cp *ConnectionPool) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	tx, err := cp.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}

	return nil
}

// classify maps a raw SQLite error to a classified store.Error at the point
// of first observation. Misses pass through as store.ErrNotFound upstream.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}

	msg := err.Error()
	switch {
	case containsAny(msg, "database is locked", "database locked", "SQLITE_BUSY", "database is busy"):
		return store.NewTransient(op, store.ReasonContention, err)
	case containsAny(msg, "disk is full", "database or disk is full", "SQLITE_FULL"):
		return store.NewTransient(op, store.ReasonQuota, err)
	case containsAny(msg, "aborted", "interrupted"):
		return store.NewTransient(op, store.ReasonAborted, err)
	case containsAny(msg, "UNIQUE constraint failed", "FOREIGN KEY constraint failed", "CHECK constraint failed", "NOT NULL constraint failed"):
		return store.NewPermanent(op, store.ReasonConstraint, err)
	case containsAny(msg, "datatype mismatch", "no such table", "no such column", "syntax error"):
		return store.NewPermanent(op, store.ReasonMalformed, err)
	}
	return store.NewPermanent(op, store.ReasonUnknown, err)
}

func containsAny(s string, substrings ...string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// isUniqueViolation reports whether the raw error is a unique-constraint
// failure, used where duplicates are handled rather than surfaced.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
