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

// SessionRepository implements store.SessionRepository on SQLite.
type SessionRepository struct {
	pool *ConnectionPool
}

// NewSessionRepository creates a SQLite-backed session repository.
func NewSessionRepository(pool *ConnectionPool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// OpenSession persists a new open session, closing any other open session on
// the terminal inside the same transaction so that at most one session is
// open at any instant.
func (r *SessionRepository) OpenSession(ctx context.Context, session store.Session) (store.Session, error) {
	if strings.TrimSpace(session.ID) == "" {
		return store.Session{}, store.NewPermanent("open session", store.ReasonMalformed, fmt.Errorf("session id is required"))
	}
	if strings.TrimSpace(session.UserID) == "" {
		return store.Session{}, store.NewPermanent("open session", store.ReasonMalformed, fmt.Errorf("session user id is required"))
	}

	session.State = store.SessionOpen
	session.CreatedAt = session.CreatedAt.UTC()
	session.LastAccessedAt = session.LastAccessedAt.UTC()
	if session.LastAccessedAt.IsZero() {
		session.LastAccessedAt = session.CreatedAt
	}

	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`UPDATE sessions SET state = 'closed' WHERE state = 'open' AND id != ?`,
			session.ID,
		); err != nil {
			return classify("close prior sessions", err)
		}

		_, err := tx.Exec(`
			INSERT INTO sessions (id, user_id, config_id, state, user_data, created_at, last_accessed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				state = excluded.state,
				user_data = excluded.user_data,
				last_accessed_at = excluded.last_accessed_at
		`,
			session.ID,
			session.UserID,
			session.ConfigID,
			string(session.State),
			nullableJSON(session.UserData),
			session.CreatedAt.Format(time.RFC3339Nano),
			session.LastAccessedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return classify("insert session", err)
		}
		return nil
	})
	if err != nil {
		return store.Session{}, err
	}

	return session, nil
}

// GetSession retrieves a session by id.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (store.Session, error) {
	row := r.pool.db.QueryRowContext(ctx, `
		SELECT id, user_id, config_id, state, user_data, created_at, last_accessed_at
		FROM sessions
		WHERE id = ?
	`, id)
	return scanSession(row)
}

// GetOpenSession returns the terminal's single open session.
func (r *SessionRepository) GetOpenSession(ctx context.Context) (store.Session, error) {
	row := r.pool.db.QueryRowContext(ctx, `
		SELECT id, user_id, config_id, state, user_data, created_at, last_accessed_at
		FROM sessions
		WHERE state = 'open'
		ORDER BY last_accessed_at DESC
		LIMIT 1
	`)
	return scanSession(row)
}

// TouchSession refreshes the last-accessed timestamp of a session.
func (r *SessionRepository) TouchSession(ctx context.Context, id string, accessedAt time.Time) error {
	result, err := r.pool.db.ExecContext(ctx,
		`UPDATE sessions SET last_accessed_at = ? WHERE id = ?`,
		accessedAt.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return classify("touch session", err)
	}
	return requireRow(result)
}

// CloseSession transitions a session to the closed state.
func (r *SessionRepository) CloseSession(ctx context.Context, id string, closedAt time.Time) error {
	result, err := r.pool.db.ExecContext(ctx,
		`UPDATE sessions SET state = 'closed', last_accessed_at = ? WHERE id = ?`,
		closedAt.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return classify("close session", err)
	}
	return requireRow(result)
}

// DeleteSessionsLastAccessedBefore purges sessions last touched before cutoff.
func (r *SessionRepository) DeleteSessionsLastAccessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE last_accessed_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, classify("sweep sessions", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (store.Session, error) {
	var (
		session            store.Session
		state              string
		userData           sql.NullString
		createdAt, touched string
	)
	err := row.Scan(&session.ID, &session.UserID, &session.ConfigID, &state, &userData, &createdAt, &touched)
	if err != nil {
		if err == sql.ErrNoRows {
			return store.Session{}, store.ErrNotFound
		}
		return store.Session{}, classify("scan session", err)
	}

	session.State = store.SessionState(state)
	if userData.Valid && userData.String != "" {
		session.UserData = json.RawMessage(userData.String)
	}
	if session.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return store.Session{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if session.LastAccessedAt, err = time.Parse(time.RFC3339Nano, touched); err != nil {
		return store.Session{}, fmt.Errorf("failed to parse last_accessed_at: %w", err)
	}
	return session, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
