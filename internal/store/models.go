package store

import (
	"encoding/json"
	"time"
)

// SessionState is the lifecycle state of a terminal session.
type SessionState string

const (
	SessionOpen   SessionState = "open"
	SessionClosed SessionState = "closed"
)

// Session represents one logged-in terminal/user context. At most one
// session per terminal is open at any instant.
type Session struct {
	ID             string
	UserID         string
	ConfigID       string
	State          SessionState
	UserData       json.RawMessage
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// CachedUser mirrors a remote user record well enough to authenticate the
// operator while the backend is unreachable. SecretHash is a salted hash,
// never the plaintext secret.
type CachedUser struct {
	ID          string
	Login       string
	DisplayName string
	SecretHash  string
	Disabled    bool
	CachedAt    time.Time
	ExpiresAt   time.Time
}

// SyncStatus is the synchronization state of a queued transaction.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusFailed  SyncStatus = "failed"
	StatusSynced  SyncStatus = "synced"
)

// Transaction is a financial operation awaiting or having received remote
// acknowledgement. Creation order is preserved through replay.
type Transaction struct {
	ID             string
	IdempotencyKey string
	Type           string
	Amount         float64
	Payload        json.RawMessage
	Status         SyncStatus
	Attempts       int
	CreatedAt      time.Time
	LastAttemptAt  *time.Time
	LastError      string
	SyncedAt       *time.Time
}

// SyncError is an append-only diagnostic record of one failed sync attempt.
type SyncError struct {
	ID            int64
	TransactionID string
	Reason        string
	Message       string
	Attempt       int
	OccurredAt    time.Time
}

// Product is a read-mostly mirror of a remote catalog product.
type Product struct {
	ID         string
	Name       string
	Barcode    string
	CategoryID string
	Price      float64
	TaxID      string
}

// Category is a read-mostly mirror of a remote product category.
type Category struct {
	ID       string
	Name     string
	ParentID *string
}

// PaymentMethod is a read-mostly mirror of a remote payment method.
type PaymentMethod struct {
	ID   string
	Name string
	Kind string
}

// Tax is a read-mostly mirror of a remote tax definition.
type Tax struct {
	ID   string
	Name string
	Rate float64
}
