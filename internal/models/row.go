package models

import (
	"time"

	"github.com/stumn/Chatment-sub001/internal/order"
)

// Row is a single orderable, lockable, editable, votable line of document
// content ("post") within a space.
type Row struct {
	ID        string    `json:"id"` // ULID, server-assigned at creation
	SpaceID   int64     `json:"space_id"`
	Room      string    `json:"room"`
	AuthorID  string    `json:"author_id"`
	Nickname  string    `json:"nickname"`
	Text      string    `json:"text"`
	Position  order.Key `json:"pos"`
	CreatedAt int64     `json:"created_at"` // Unix ms

	// Reaction membership sets, keyed by durable voter id. The displayed
	// count is the set size.
	Positive []string `json:"positive,omitempty"`
	Negative []string `json:"negative,omitempty"`
}

// Clone returns a deep copy so optimistic callers can't alias authoritative
// state.
func (r *Row) Clone() *Row {
	cp := *r
	cp.Positive = append([]string(nil), r.Positive...)
	cp.Negative = append([]string(nil), r.Negative...)
	return &cp
}

// Before orders rows by position, breaking ties on the lower row id.
func (r *Row) Before(other *Row) bool {
	if c := order.Compare(r.Position, other.Position); c != 0 {
		return c < 0
	}
	return r.ID < other.ID
}

// Lock is a time-bounded exclusive claim on a row's edit rights. At most one
// live Lock exists per row.
type Lock struct {
	RowID      string    `json:"row_id"`
	HolderID   string    `json:"holder_id"`
	HolderName string    `json:"holder_name"`
	SessionID  string    `json:"-"` // transport session that acquired the lock
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Polarity is the direction of a reaction vote.
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
)

// Valid reports whether p is a known polarity.
func (p Polarity) Valid() bool {
	return p == PolarityPositive || p == PolarityNegative
}
