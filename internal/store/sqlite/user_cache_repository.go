package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/pos-offline/internal/store"
)

// UserCacheRepository implements store.UserCacheRepository on SQLite.
type UserCacheRepository struct {
	pool *ConnectionPool
}

// NewUserCacheRepository creates a SQLite-backed credential cache.
func NewUserCacheRepository(pool *ConnectionPool) *UserCacheRepository {
	return &UserCacheRepository{pool: pool}
}

// PutCachedUser inserts or replaces the cached credential record. Login is
// the upsert key; the most recent refresh wins.
func (r *UserCacheRepository) PutCachedUser(ctx context.Context, user store.CachedUser) error {
	if strings.TrimSpace(user.ID) == "" || strings.TrimSpace(user.Login) == "" {
		return store.NewPermanent("put cached user", store.ReasonMalformed, fmt.Errorf("cached user id and login are required"))
	}
	if strings.TrimSpace(user.SecretHash) == "" {
		return store.NewPermanent("put cached user", store.ReasonMalformed, fmt.Errorf("cached user secret hash is required"))
	}

	user.Login = strings.ToLower(strings.TrimSpace(user.Login))

	_, err := r.pool.db.ExecContext(ctx, `
		INSERT INTO users (id, login, display_name, secret_hash, disabled, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (login) DO UPDATE SET
			id = excluded.id,
			display_name = excluded.display_name,
			secret_hash = excluded.secret_hash,
			disabled = excluded.disabled,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at
	`,
		user.ID,
		user.Login,
		user.DisplayName,
		user.SecretHash,
		boolToInt(user.Disabled),
		user.CachedAt.UTC().Format(time.RFC3339Nano),
		user.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return classify("put cached user", err)
	}
	return nil
}

// GetCachedUserByLogin looks up a cached credential by login name.
func (r *UserCacheRepository) GetCachedUserByLogin(ctx context.Context, login string) (store.CachedUser, error) {
	row := r.pool.db.QueryRowContext(ctx, `
		SELECT id, login, display_name, secret_hash, disabled, cached_at, expires_at
		FROM users
		WHERE login = ?
	`, strings.ToLower(strings.TrimSpace(login)))
	return scanCachedUser(row)
}

// GetCachedUser looks up a cached credential by user id.
func (r *UserCacheRepository) GetCachedUser(ctx context.Context, id string) (store.CachedUser, error) {
	row := r.pool.db.QueryRowContext(ctx, `
		SELECT id, login, display_name, secret_hash, disabled, cached_at, expires_at
		FROM users
		WHERE id = ?
	`, id)
	return scanCachedUser(row)
}

// ListCachedUsers returns all cached credential records ordered by login.
func (r *UserCacheRepository) ListCachedUsers(ctx context.Context) ([]store.CachedUser, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT id, login, display_name, secret_hash, disabled, cached_at, expires_at
		FROM users
		ORDER BY login
	`)
	if err != nil {
		return nil, classify("list cached users", err)
	}
	defer rows.Close()

	users := make([]store.CachedUser, 0)
	for rows.Next() {
		user, err := scanCachedUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CountCachedUsers returns the number of cached credential records.
func (r *UserCacheRepository) CountCachedUsers(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, classify("count cached users", err)
	}
	return count, nil
}

func scanCachedUser(row rowScanner) (store.CachedUser, error) {
	var (
		user               store.CachedUser
		disabled           int
		cachedAt, expiresAt string
	)
	err := row.Scan(&user.ID, &user.Login, &user.DisplayName, &user.SecretHash, &disabled, &cachedAt, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return store.CachedUser{}, store.ErrNotFound
		}
		return store.CachedUser{}, classify("scan cached user", err)
	}

	user.Disabled = disabled != 0
	if user.CachedAt, err = time.Parse(time.RFC3339Nano, cachedAt); err != nil {
		return store.CachedUser{}, fmt.Errorf("failed to parse cached_at: %w", err)
	}
	if user.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return store.CachedUser{}, fmt.Errorf("failed to parse expires_at: %w", err)
	}
	return user, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
