package testfixtures

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/pos-offline/internal/store"
)

// MemStore is an in-memory stand-in for the sqlite repositories. It
// implements the session, user cache, transaction, and sync error repository
// interfaces with the same semantics, plus fault injection via FailNext.
type MemStore struct {
	mu           sync.Mutex
	sessions     map[string]store.Session
	users        map[string]store.CachedUser // keyed by login
	pending      map[string]store.Transaction
	synced       map[string]store.Transaction
	syncErrors   []store.SyncError
	nextErrorID  int64
	failures     map[string][]error
	creationSeq  int64
	creationRank map[string]int64
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions:     make(map[string]store.Session),
		users:        make(map[string]store.CachedUser),
		pending:      make(map[string]store.Transaction),
		synced:       make(map[string]store.Transaction),
		failures:     make(map[string][]error),
		creationRank: make(map[string]int64),
	}
}

// FailNext queues errors to be returned by the next calls of the named
// operation, one per call, in order. Operation names match the repository
// method names.
func (m *MemStore) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

func (m *MemStore) popFailure(op string) error {
	queue := m.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	m.failures[op] = queue[1:]
	return err
}

// --- SessionRepository ---

func (m *MemStore) OpenSession(ctx context.Context, session store.Session) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("OpenSession"); err != nil {
		return store.Session{}, err
	}
	for id, existing := range m.sessions {
		if existing.State == store.SessionOpen {
			existing.State = store.SessionClosed
			m.sessions[id] = existing
		}
	}
	session.State = store.SessionOpen
	m.sessions[session.ID] = session
	return session, nil
}

func (m *MemStore) GetSession(ctx context.Context, id string) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("GetSession"); err != nil {
		return store.Session{}, err
	}
	session, ok := m.sessions[id]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	return session, nil
}

func (m *MemStore) GetOpenSession(ctx context.Context) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("GetOpenSession"); err != nil {
		return store.Session{}, err
	}
	for _, session := range m.sessions {
		if session.State == store.SessionOpen {
			return session, nil
		}
	}
	return store.Session{}, store.ErrNotFound
}

func (m *MemStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("TouchSession"); err != nil {
		return err
	}
	session, ok := m.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	session.LastAccessedAt = at
	m.sessions[id] = session
	return nil
}

func (m *MemStore) CloseSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("CloseSession"); err != nil {
		return err
	}
	session, ok := m.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	session.State = store.SessionClosed
	session.LastAccessedAt = at
	m.sessions[id] = session
	return nil
}

func (m *MemStore) DeleteSessionsLastAccessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("DeleteSessionsLastAccessedBefore"); err != nil {
		return 0, err
	}
	var deleted int64
	for id, session := range m.sessions {
		if session.LastAccessedAt.Before(cutoff) {
			delete(m.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// --- UserCacheRepository ---

func (m *MemStore) PutCachedUser(ctx context.Context, user store.CachedUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("PutCachedUser"); err != nil {
		return err
	}
	m.users[user.Login] = user
	return nil
}

func (m *MemStore) GetCachedUserByLogin(ctx context.Context, login string) (store.CachedUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("GetCachedUserByLogin"); err != nil {
		return store.CachedUser{}, err
	}
	user, ok := m.users[login]
	if !ok {
		return store.CachedUser{}, store.ErrNotFound
	}
	return user, nil
}

func (m *MemStore) GetCachedUser(ctx context.Context, id string) (store.CachedUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("GetCachedUser"); err != nil {
		return store.CachedUser{}, err
	}
	for _, user := range m.users {
		if user.ID == id {
			return user, nil
		}
	}
	return store.CachedUser{}, store.ErrNotFound
}

func (m *MemStore) ListCachedUsers(ctx context.Context) ([]store.CachedUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("ListCachedUsers"); err != nil {
		return nil, err
	}
	users := make([]store.CachedUser, 0, len(m.users))
	for _, user := range m.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Login < users[j].Login })
	return users, nil
}

func (m *MemStore) CountCachedUsers(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("CountCachedUsers"); err != nil {
		return 0, err
	}
	return len(m.users), nil
}

// --- TransactionRepository ---

func (m *MemStore) CreatePending(ctx context.Context, tx store.Transaction) (store.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("CreatePending"); err != nil {
		return store.Transaction{}, err
	}
	for _, existing := range m.pending {
		if existing.IdempotencyKey == tx.IdempotencyKey {
			return existing, nil
		}
	}
	for _, existing := range m.synced {
		if existing.IdempotencyKey == tx.IdempotencyKey {
			return existing, nil
		}
	}
	tx.Status = store.StatusPending
	m.pending[tx.ID] = tx
	m.creationSeq++
	m.creationRank[tx.ID] = m.creationSeq
	return tx, nil
}

func (m *MemStore) GetTransaction(ctx context.Context, id string) (store.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("GetTransaction"); err != nil {
		return store.Transaction{}, err
	}
	if tx, ok := m.pending[id]; ok {
		return tx, nil
	}
	if tx, ok := m.synced[id]; ok {
		return tx, nil
	}
	return store.Transaction{}, store.ErrNotFound
}

func (m *MemStore) ListUnsynced(ctx context.Context) ([]store.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("ListUnsynced"); err != nil {
		return nil, err
	}
	out := make([]store.Transaction, 0, len(m.pending))
	for _, tx := range m.pending {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		return m.creationRank[out[i].ID] < m.creationRank[out[j].ID]
	})
	return out, nil
}

func (m *MemStore) CountPending(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("CountPending"); err != nil {
		return 0, err
	}
	return len(m.pending), nil
}

func (m *MemStore) RecordAttempt(ctx context.Context, id string, at time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("RecordAttempt"); err != nil {
		return err
	}
	tx, ok := m.pending[id]
	if !ok {
		return store.ErrNotFound
	}
	tx.Attempts++
	attemptAt := at
	tx.LastAttemptAt = &attemptAt
	tx.LastError = lastError
	m.pending[id] = tx
	return nil
}

func (m *MemStore) MarkFailed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("MarkFailed"); err != nil {
		return err
	}
	tx, ok := m.pending[id]
	if !ok {
		return store.ErrNotFound
	}
	tx.Status = store.StatusFailed
	m.pending[id] = tx
	return nil
}

func (m *MemStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("MarkSynced"); err != nil {
		return err
	}
	tx, ok := m.pending[id]
	if !ok {
		if _, already := m.synced[id]; already {
			return nil
		}
		return store.ErrNotFound
	}
	tx.Status = store.StatusSynced
	syncedAt := at
	tx.SyncedAt = &syncedAt
	m.synced[id] = tx
	delete(m.pending, id)
	return nil
}

func (m *MemStore) GetSynced(ctx context.Context, id string) (store.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("GetSynced"); err != nil {
		return store.Transaction{}, err
	}
	tx, ok := m.synced[id]
	if !ok {
		return store.Transaction{}, store.ErrNotFound
	}
	return tx, nil
}

func (m *MemStore) CountSynced(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("CountSynced"); err != nil {
		return 0, err
	}
	return len(m.synced), nil
}

// --- SyncErrorRepository ---

func (m *MemStore) AppendSyncError(ctx context.Context, entry store.SyncError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("AppendSyncError"); err != nil {
		return err
	}
	m.nextErrorID++
	entry.ID = m.nextErrorID
	m.syncErrors = append(m.syncErrors, entry)
	return nil
}

func (m *MemStore) ListSyncErrorsByTransaction(ctx context.Context, transactionID string) ([]store.SyncError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("ListSyncErrorsByTransaction"); err != nil {
		return nil, err
	}
	var out []store.SyncError
	for _, entry := range m.syncErrors {
		if entry.TransactionID == transactionID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *MemStore) DeleteSyncErrorsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("DeleteSyncErrorsBefore"); err != nil {
		return 0, err
	}
	kept := m.syncErrors[:0]
	var deleted int64
	for _, entry := range m.syncErrors {
		if entry.OccurredAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, entry)
	}
	m.syncErrors = kept
	return deleted, nil
}

// SyncErrors returns a copy of every recorded sync error, for assertions.
func (m *MemStore) SyncErrors() []store.SyncError {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.SyncError, len(m.syncErrors))
	copy(out, m.syncErrors)
	return out
}
