package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/pos-offline/internal/store"
)

// ConfigRepository implements the key-value configuration collection.
type ConfigRepository struct {
	pool *ConnectionPool
}

// NewConfigRepository creates a SQLite-backed config collection.
func NewConfigRepository(pool *ConnectionPool) *ConfigRepository {
	return &ConfigRepository{pool: pool}
}

// PutConfig inserts or replaces a configuration value.
func (r *ConfigRepository) PutConfig(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return store.NewPermanent("put config", store.ReasonMalformed, fmt.Errorf("config key is required"))
	}
	_, err := r.pool.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return classify("put config", err)
	}
	return nil
}

// GetConfig returns the value stored under key, or store.ErrNotFound.
func (r *ConfigRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", store.ErrNotFound
		}
		return "", classify("get config", err)
	}
	return value, nil
}

// DeleteConfig removes a configuration value. Deleting a missing key returns
// store.ErrNotFound.
func (r *ConfigRepository) DeleteConfig(ctx context.Context, key string) error {
	result, err := r.pool.db.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key)
	if err != nil {
		return classify("delete config", err)
	}
	return requireRow(result)
}
