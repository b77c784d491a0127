package session

import (
	"errors"
	"fmt"
)

// Sentinel errors returned to the requesting session only; rejections are
// never broadcast to other participants.
var (
	// ErrNotFound means the target row id is unknown to the space.
	ErrNotFound = errors.New("row not found")
	// ErrStopped means the coordinator has shut down.
	ErrStopped = errors.New("space coordinator stopped")
	// ErrRateLimited means the actor exhausted its mutation budget.
	ErrRateLimited = errors.New("mutation rate limit exceeded")
)

// ValidationError rejects a malformed request before any state is touched.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// LockConflictError rejects a mutation attempted without holding the row's
// lock. It names the current holder so the UI can show who is editing;
// holder fields are empty when the row is simply unlocked.
type LockConflictError struct {
	RowID      string
	HolderID   string
	HolderName string
}

func (e *LockConflictError) Error() string {
	if e.HolderID == "" {
		return "row " + e.RowID + " is not locked by the caller"
	}
	return "row " + e.RowID + " is locked by " + e.HolderName
}

// PersistenceError reports a failed durable write. The in-memory
// authoritative state has not advanced and nothing was broadcast.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "durable write failed: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
