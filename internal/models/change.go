package models

import "time"

// ChangeKind is the type of the most recent mutation applied to a row.
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "added"
	ChangeModified  ChangeKind = "modified"
	ChangeDeleted   ChangeKind = "deleted"
	ChangeReordered ChangeKind = "reordered"
)

// Change highlight window: clients hold the highlight for 15s and fade it
// over 2s, so a record is useful to a joining client for about 17s.
const (
	ChangeHold = 15 * time.Second
	ChangeFade = 2 * time.Second
)

// ChangeRecord remembers the last mutation per row for transient UI
// highlighting. At most one live record exists per row.
type ChangeRecord struct {
	RowID     string     `json:"row_id"`
	Kind      ChangeKind `json:"kind"`
	Actor     string     `json:"actor"` // nickname of the mutator
	At        time.Time  `json:"at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Identity is the stable per-connection actor identity handed out by the
// identity source.
type Identity struct {
	ActorID  string `json:"actor_id"`
	Nickname string `json:"nickname"`
}
