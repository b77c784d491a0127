// Package protocol defines the JSON message catalog spoken over the per-space
// realtime channel, shared by the server and the Go client.
package protocol

import (
	"encoding/json"

	"github.com/stumn/Chatment-sub001/internal/models"
)

// Client-to-server message types.
const (
	TypeAddRow      = "add-row"
	TypeEditRow     = "edit-row"
	TypeDeleteRow   = "delete-row"
	TypeReorderRow  = "reorder-row"
	TypeAcquireLock = "acquire-lock"
	TypeReleaseLock = "release-lock"
	TypeVote        = "vote"
	TypeClearChange = "clear-change"
)

// Server-to-client message types.
const (
	TypeRowAdded        = "row-added"
	TypeRowEdited       = "row-edited"
	TypeRowDeleted      = "row-deleted"
	TypeRowReordered    = "row-reordered"
	TypeRowsRebalanced  = "rows-rebalanced"
	TypeLockGranted     = "lock-granted"
	TypeLockDenied      = "lock-denied"
	TypeLockReleased    = "lock-released"
	TypeVoteUpdated     = "vote-updated"
	TypeHistorySnapshot = "history-snapshot"
	TypeError           = "error"
)

// Error codes carried by Error payloads.
const (
	CodeValidation   = "validation"
	CodeLockConflict = "lock-conflict"
	CodeNotFound     = "not-found"
	CodePersistence  = "persistence-failure"
	CodeSpaceClosed  = "space-closed"
	CodeRateLimited  = "rate-limited"
)

// Envelope frames every message on the wire. Seq is the per-space event
// sequence, set on server-to-client broadcasts only; clients use it to apply
// same-row events in emission order.
type Envelope struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Seal marshals payload into an Envelope.
func Seal(msgType string, seq uint64, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Seq: seq, Payload: raw}, nil
}

// AddRow inserts a row after the anchor; an empty anchor means before
// everything. Actor identity is taken from the connection, not the payload.
type AddRow struct {
	AfterRowID string `json:"after_row_id,omitempty"`
	Room       string `json:"room,omitempty"`
	Text       string `json:"text"`
}

// EditRow mutates row text; accepted only while the caller holds the lock.
type EditRow struct {
	RowID string `json:"row_id"`
	Text  string `json:"text"`
}

// DeleteRow removes a row permanently.
type DeleteRow struct {
	RowID string `json:"row_id"`
}

// ReorderRow repositions a row after the anchor; empty anchor means first.
type ReorderRow struct {
	RowID      string `json:"row_id"`
	AfterRowID string `json:"after_row_id,omitempty"`
}

// AcquireLock claims exclusive edit rights on a row.
type AcquireLock struct {
	RowID string `json:"row_id"`
}

// ReleaseLock gives exclusive edit rights back.
type ReleaseLock struct {
	RowID string `json:"row_id"`
}

// Vote casts an at-most-once reaction.
type Vote struct {
	RowID    string          `json:"row_id"`
	Polarity models.Polarity `json:"polarity"`
}

// ClearChange drops a row's change highlight once it has fully faded.
type ClearChange struct {
	RowID string `json:"row_id"`
}

// RowEvent carries a full row snapshot plus the change metadata for the
// mutation, enough for a replica to reconstruct state without re-querying.
type RowEvent struct {
	Row    models.Row           `json:"row"`
	Change *models.ChangeRecord `json:"change,omitempty"`
}

// RowDeleted announces a hard removal.
type RowDeleted struct {
	RowID  string               `json:"row_id"`
	Change *models.ChangeRecord `json:"change,omitempty"`
}

// RebalancedRow is one (row, new position) pair in a bulk reorder.
type RebalancedRow struct {
	RowID    string `json:"row_id"`
	Position string `json:"pos"`
}

// RowsRebalanced is the only multi-row mutation: positions of a whole room
// reassigned atomically, relative order preserved.
type RowsRebalanced struct {
	Room string          `json:"room"`
	Rows []RebalancedRow `json:"rows"`
}

// LockEvent reports a granted or released lock.
type LockEvent struct {
	Lock models.Lock `json:"lock"`
}

// LockDenied is returned only to the requester and names the current holder.
type LockDenied struct {
	RowID      string `json:"row_id"`
	HolderID   string `json:"holder_id"`
	HolderName string `json:"holder_name"`
}

// VoteUpdated refreshes a polarity count. Accepted is false on an idempotent
// retry; retries are delivered only to the requester.
type VoteUpdated struct {
	RowID    string          `json:"row_id"`
	Polarity models.Polarity `json:"polarity"`
	Count    int             `json:"count"`
	Accepted bool            `json:"accepted"`
}

// HistorySnapshot is sent once on join: the ordered row list, live locks and
// live change highlights.
type HistorySnapshot struct {
	SpaceID int64                 `json:"space_id"`
	Rows    []models.Row          `json:"rows"`
	Locks   []models.Lock         `json:"locks"`
	Changes []models.ChangeRecord `json:"changes"`
}

// Error is delivered only to the requesting session; rejections never reach
// other participants.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RowID      string `json:"row_id,omitempty"`
	HolderID   string `json:"holder_id,omitempty"`
	HolderName string `json:"holder_name,omitempty"`
}
