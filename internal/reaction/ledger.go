// Package reaction records per-user, per-row, per-polarity votes. Votes are
// membership facts, not counters: casting twice is a defined, silent no-op.
package reaction

import (
	"sync"

	"github.com/stumn/Chatment-sub001/internal/models"
)

// Ledger is the server-authoritative vote store for one space, keyed by
// durable voter identity. Positive and negative sets are independent; a voter
// may appear in both for the same row.
type Ledger struct {
	mu   sync.Mutex
	rows map[string]*rowVotes
}

type rowVotes struct {
	positive map[string]struct{}
	negative map[string]struct{}
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{rows: make(map[string]*rowVotes)}
}

// Vote records voterID's vote on rowID. Returns accepted=false without any
// state change when the voter is already a member of that polarity's set,
// so client retries are harmless. newCount is the polarity's set size after
// the call either way.
func (l *Ledger) Vote(rowID, voterID string, polarity models.Polarity) (accepted bool, newCount int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rv := l.rows[rowID]
	if rv == nil {
		rv = &rowVotes{
			positive: make(map[string]struct{}),
			negative: make(map[string]struct{}),
		}
		l.rows[rowID] = rv
	}

	set := rv.positive
	if polarity == models.PolarityNegative {
		set = rv.negative
	}
	if _, dup := set[voterID]; dup {
		return false, len(set)
	}
	set[voterID] = struct{}{}
	return true, len(set)
}

// Member reports whether voterID is already in the polarity's set for rowID.
func (l *Ledger) Member(rowID, voterID string, polarity models.Polarity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rv := l.rows[rowID]
	if rv == nil {
		return false
	}
	set := rv.positive
	if polarity == models.PolarityNegative {
		set = rv.negative
	}
	_, ok := set[voterID]
	return ok
}

// Count returns the current set size for a polarity.
func (l *Ledger) Count(rowID string, polarity models.Polarity) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	rv := l.rows[rowID]
	if rv == nil {
		return 0
	}
	if polarity == models.PolarityNegative {
		return len(rv.negative)
	}
	return len(rv.positive)
}

// Voters returns the membership sets for a row, for persistence alongside the
// row record.
func (l *Ledger) Voters(rowID string) (positive, negative []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rv := l.rows[rowID]
	if rv == nil {
		return nil, nil
	}
	for v := range rv.positive {
		positive = append(positive, v)
	}
	for v := range rv.negative {
		negative = append(negative, v)
	}
	return positive, negative
}

// Seed loads persisted membership sets for a row, used when a space is
// rehydrated from the store.
func (l *Ledger) Seed(rowID string, positive, negative []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rv := &rowVotes{
		positive: make(map[string]struct{}, len(positive)),
		negative: make(map[string]struct{}, len(negative)),
	}
	for _, v := range positive {
		rv.positive[v] = struct{}{}
	}
	for _, v := range negative {
		rv.negative[v] = struct{}{}
	}
	l.rows[rowID] = rv
}

// Forget drops all votes for a deleted row.
func (l *Ledger) Forget(rowID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.rows, rowID)
}
