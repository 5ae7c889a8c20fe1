package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("store: duplicate record")
)

// Class divides storage failures into the two retry-relevant categories.
type Class int

const (
	// ClassPermanent marks failures that will not succeed on retry: malformed
	// input, constraint violations, programmer errors.
	ClassPermanent Class = iota
	// ClassTransient marks failures expected to clear on retry: lock
	// contention, aborted operations, quota pressure.
	ClassTransient
)

// Reason narrows a classification to the concrete condition observed.
type Reason string

const (
	ReasonContention Reason = "contention"
	ReasonQuota      Reason = "quota"
	ReasonAborted    Reason = "aborted"
	ReasonConstraint Reason = "constraint"
	ReasonMalformed  Reason = "malformed"
	// ReasonNetwork and ReasonRejected classify remote submission failures;
	// they share the taxonomy so the retry executor treats storage and
	// transport uniformly.
	ReasonNetwork  Reason = "network"
	ReasonRejected Reason = "rejected"
	ReasonUnknown  Reason = "unknown"
)

// Error wraps a storage failure with its classification. The classification
// is assigned where the underlying failure is first observed; callers must
// never re-derive it from message strings.
type Error struct {
	Op     string
	Class  Class
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store: %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("store: %s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewTransient wraps err as a retryable storage failure.
func NewTransient(op string, reason Reason, err error) *Error {
	return &Error{Op: op, Class: ClassTransient, Reason: reason, Err: err}
}

// NewPermanent wraps err as a non-retryable storage failure.
func NewPermanent(op string, reason Reason, err error) *Error {
	return &Error{Op: op, Class: ClassPermanent, Reason: reason, Err: err}
}

// IsTransient reports whether err carries a transient classification.
func IsTransient(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Class == ClassTransient
}

// IsPermanent reports whether err carries an explicit permanent classification.
func IsPermanent(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Class == ClassPermanent
}

// ReasonOf extracts the reason code from a classified error, or ReasonUnknown.
func ReasonOf(err error) Reason {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason
	}
	return ReasonUnknown
}
