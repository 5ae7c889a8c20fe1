package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/pos-offline/internal/logging"
)

// Migration is one versioned, additive schema change. Migrations only create
// tables, columns, and indexes; upgrading never discards existing data.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// migrations is the embedded, ordered schema history. New versions are
// appended, never edited.
var migrations = []Migration{
	{
		Version:     "001",
		Description: "core collections: sessions, users, transactions, sync errors, config",
		SQL: `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	config_id        TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL CHECK (state IN ('open', 'closed')),
	user_data        TEXT,
	created_at       TEXT NOT NULL,
	last_accessed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions (state);
CREATE INDEX IF NOT EXISTS idx_sessions_last_accessed ON sessions (last_accessed_at);

CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	login        TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	secret_hash  TEXT NOT NULL,
	disabled     INTEGER NOT NULL DEFAULT 0,
	cached_at    TEXT NOT NULL,
	expires_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions_pending (
	id              TEXT PRIMARY KEY,
	idempotency_key TEXT NOT NULL UNIQUE,
	type            TEXT NOT NULL,
	amount          REAL NOT NULL DEFAULT 0,
	payload         TEXT NOT NULL,
	status          TEXT NOT NULL CHECK (status IN ('pending', 'failed')),
	attempts        INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	last_attempt_at TEXT,
	last_error      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_pending_created ON transactions_pending (created_at, id);
CREATE INDEX IF NOT EXISTS idx_pending_status ON transactions_pending (status);

CREATE TABLE IF NOT EXISTS transactions_synced (
	id              TEXT PRIMARY KEY,
	idempotency_key TEXT NOT NULL UNIQUE,
	type            TEXT NOT NULL,
	amount          REAL NOT NULL DEFAULT 0,
	payload         TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	synced_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_errors (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	transaction_id TEXT NOT NULL,
	reason         TEXT NOT NULL,
	message        TEXT NOT NULL,
	attempt        INTEGER NOT NULL,
	occurred_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`,
	},
	{
		Version:     "002",
		Description: "catalog mirrors: products, categories, payment methods, taxes",
		SQL: `
CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	barcode     TEXT NOT NULL DEFAULT '',
	category_id TEXT NOT NULL DEFAULT '',
	price       REAL NOT NULL DEFAULT 0,
	tax_id      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_products_barcode ON products (barcode);
CREATE INDEX IF NOT EXISTS idx_products_category ON products (category_id);

CREATE TABLE IF NOT EXISTS categories (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	parent_id TEXT
);

CREATE TABLE IF NOT EXISTS payment_methods (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS taxes (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	rate REAL NOT NULL DEFAULT 0
);
`,
	},
	{
		Version:     "003",
		Description: "sync error lookup indexes",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_sync_errors_tx ON sync_errors (transaction_id);
CREATE INDEX IF NOT EXISTS idx_sync_errors_occurred ON sync_errors (occurred_at);
`,
	},
}

// Migrate applies all pending migrations in version order, recording each in
// the schema_migrations table. Safe to run on every startup.
func (cp *ConnectionPool) Migrate(ctx context.Context, logger *slog.Logger) error {
	logger = logging.Default(logger).With("component", "migrations")

	if _, err := cp.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to initialize schema_migrations: %w", err)
	}

	applied, err := cp.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		start := time.Now()
		err := cp.WithTransaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.SQL); err != nil {
				return fmt.Errorf("migration %s failed: %w", m.Version, err)
			}
			_, err := tx.Exec(
				`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
				m.Version, m.Description, time.Now().UTC().Format(time.RFC3339),
			)
			return err
		})
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "applied migration",
			"version", m.Version,
			"description", m.Description,
			"elapsed", time.Since(start),
		)
	}

	return nil
}

// SchemaVersion returns the highest applied migration version, or empty when
// the store has never been migrated.
func (cp *ConnectionPool) SchemaVersion(ctx context.Context) (string, error) {
	var version sql.NullString
	err := cp.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return "", classify("schema version", err)
	}
	return version.String, nil
}

func (cp *ConnectionPool) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := cp.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, classify("list applied migrations", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, classify("scan applied migration", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
