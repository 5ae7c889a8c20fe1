package store

import (
	"context"
	"time"
)

// SessionRepository stores terminal session state.
type SessionRepository interface {
	// OpenSession persists a new open session. Any other open session on the
	// terminal is closed in the same transaction.
	OpenSession(ctx context.Context, session Session) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	// GetOpenSession returns the single open session, or ErrNotFound.
	GetOpenSession(ctx context.Context) (Session, error)
	// TouchSession refreshes the session's last-accessed timestamp.
	TouchSession(ctx context.Context, id string, accessedAt time.Time) error
	CloseSession(ctx context.Context, id string, closedAt time.Time) error
	// DeleteSessionsLastAccessedBefore purges sessions untouched since cutoff.
	DeleteSessionsLastAccessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserCacheRepository stores locally cached credential records. Login is
// unique within the cache.
type UserCacheRepository interface {
	// PutCachedUser inserts or replaces the record identified by login.
	PutCachedUser(ctx context.Context, user CachedUser) error
	GetCachedUserByLogin(ctx context.Context, login string) (CachedUser, error)
	GetCachedUser(ctx context.Context, id string) (CachedUser, error)
	ListCachedUsers(ctx context.Context) ([]CachedUser, error)
	CountCachedUsers(ctx context.Context) (int, error)
}

// TransactionRepository owns the pending/synced transaction collections.
// The synced collection is append-only and keyed by the transaction's
// original identifier; moving an already-moved identifier is a no-op.
type TransactionRepository interface {
	// CreatePending queues a transaction. When a record with the same
	// idempotency key already exists (pending or synced), the existing record
	// is returned unchanged.
	CreatePending(ctx context.Context, tx Transaction) (Transaction, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	// ListUnsynced returns pending and failed transactions ordered by
	// creation time, oldest first.
	ListUnsynced(ctx context.Context) ([]Transaction, error)
	CountPending(ctx context.Context) (int, error)
	// RecordAttempt increments the attempt counter and stores the attempt
	// timestamp and, for failures, the error message.
	RecordAttempt(ctx context.Context, id string, at time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string) error
	// MarkSynced atomically moves the transaction from the pending collection
	// to the synced collection. Idempotent: a second call for the same
	// identifier leaves the synced collection unchanged.
	MarkSynced(ctx context.Context, id string, syncedAt time.Time) error
	GetSynced(ctx context.Context, id string) (Transaction, error)
	CountSynced(ctx context.Context) (int, error)
}

// SyncErrorRepository is the append-only sync diagnostic log.
type SyncErrorRepository interface {
	AppendSyncError(ctx context.Context, entry SyncError) error
	ListSyncErrorsByTransaction(ctx context.Context, transactionID string) ([]SyncError, error)
	DeleteSyncErrorsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CatalogRepository holds the read-mostly catalog mirrors. Replace operations
// swap the whole collection in one transaction; an empty input is a no-op so
// a truncated refresh can never wipe a previously good mirror.
type CatalogRepository interface {
	ReplaceProducts(ctx context.Context, products []Product) error
	ReplaceCategories(ctx context.Context, categories []Category) error
	ReplacePaymentMethods(ctx context.Context, methods []PaymentMethod) error
	ReplaceTaxes(ctx context.Context, taxes []Tax) error
	GetProductByBarcode(ctx context.Context, barcode string) (Product, error)
	ListProductsByCategory(ctx context.Context, categoryID string) ([]Product, error)
	ListPaymentMethods(ctx context.Context) ([]PaymentMethod, error)
	ListTaxes(ctx context.Context) ([]Tax, error)
	CountProducts(ctx context.Context) (int, error)
}

// ConfigRepository is the key-value configuration collection.
type ConfigRepository interface {
	PutConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
	DeleteConfig(ctx context.Context, key string) error
}
