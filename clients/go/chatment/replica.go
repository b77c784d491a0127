// Package chatment provides a Go client for the Chatment realtime
// collaboration server: a websocket client plus a local replica that
// reconciles optimistic edits against the server's authoritative events.
package chatment

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/stumn/Chatment-sub001/internal/models"
	"github.com/stumn/Chatment-sub001/internal/order"
	"github.com/stumn/Chatment-sub001/internal/protocol"
)

// Replica mirrors one space on the client. Local mutations may be applied
// optimistically; the server's event stream is authoritative and always
// overwrites. Per-row sequence numbers keep same-row events in emission
// order even when the transport redelivers.
type Replica struct {
	mu      sync.RWMutex
	rows    map[string]models.Row
	rowSeq  map[string]uint64 // last authoritative seq applied per row
	locks   map[string]models.Lock
	changes map[string]models.ChangeRecord
	counts  map[string]map[models.Polarity]int
	spaceID int64
	ready   bool
}

// NewReplica creates an empty replica. It becomes usable after the first
// history snapshot arrives.
func NewReplica() *Replica {
	r := &Replica{}
	r.reset()
	return r
}

func (r *Replica) reset() {
	r.rows = make(map[string]models.Row)
	r.rowSeq = make(map[string]uint64)
	r.locks = make(map[string]models.Lock)
	r.changes = make(map[string]models.ChangeRecord)
	r.counts = make(map[string]map[models.Polarity]int)
}

// Ready reports whether the initial snapshot has been applied.
func (r *Replica) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// SpaceID returns the space this replica mirrors, 0 before the snapshot.
func (r *Replica) SpaceID() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.spaceID
}

// ApplyLocal installs an optimistic local mutation. It carries no sequence
// number, so the next authoritative event for the row overwrites it
// unconditionally.
func (r *Replica) ApplyLocal(row models.Row) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[row.ID] = row
}

// ApplyEvent folds one server event into the replica. Unknown event types
// are ignored so older clients survive protocol additions.
func (r *Replica) ApplyEvent(env protocol.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch env.Type {
	case protocol.TypeHistorySnapshot:
		var snap protocol.HistorySnapshot
		if err := json.Unmarshal(env.Payload, &snap); err != nil {
			return err
		}
		r.reset()
		r.spaceID = snap.SpaceID
		for _, row := range snap.Rows {
			r.rows[row.ID] = row
			r.seedCounts(row)
		}
		for _, lk := range snap.Locks {
			r.locks[lk.RowID] = lk
		}
		for _, rec := range snap.Changes {
			r.changes[rec.RowID] = rec
		}
		r.ready = true

	case protocol.TypeRowAdded, protocol.TypeRowEdited, protocol.TypeRowReordered:
		var ev protocol.RowEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		// A stale redelivery must not roll the row back.
		if env.Seq != 0 && env.Seq <= r.rowSeq[ev.Row.ID] {
			return nil
		}
		r.rows[ev.Row.ID] = ev.Row
		r.rowSeq[ev.Row.ID] = env.Seq
		r.seedCounts(ev.Row)
		if ev.Change != nil {
			r.changes[ev.Row.ID] = *ev.Change
		}

	case protocol.TypeRowDeleted:
		var ev protocol.RowDeleted
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		delete(r.rows, ev.RowID)
		delete(r.locks, ev.RowID)
		delete(r.counts, ev.RowID)
		delete(r.rowSeq, ev.RowID)
		if ev.Change != nil {
			r.changes[ev.RowID] = *ev.Change
		}

	case protocol.TypeRowsRebalanced:
		var ev protocol.RowsRebalanced
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		for _, rb := range ev.Rows {
			row, ok := r.rows[rb.RowID]
			if !ok {
				continue
			}
			if env.Seq != 0 && env.Seq <= r.rowSeq[rb.RowID] {
				continue
			}
			row.Position = order.Key(rb.Position)
			r.rows[rb.RowID] = row
			r.rowSeq[rb.RowID] = env.Seq
		}

	case protocol.TypeLockGranted:
		var ev protocol.LockEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		r.locks[ev.Lock.RowID] = ev.Lock

	case protocol.TypeLockReleased:
		var ev protocol.LockEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		delete(r.locks, ev.Lock.RowID)

	case protocol.TypeVoteUpdated:
		var ev protocol.VoteUpdated
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		byPolarity := r.counts[ev.RowID]
		if byPolarity == nil {
			byPolarity = make(map[models.Polarity]int)
			r.counts[ev.RowID] = byPolarity
		}
		byPolarity[ev.Polarity] = ev.Count
	}

	return nil
}

func (r *Replica) seedCounts(row models.Row) {
	r.counts[row.ID] = map[models.Polarity]int{
		models.PolarityPositive: len(row.Positive),
		models.PolarityNegative: len(row.Negative),
	}
}

// Rows returns the replica's rows in display order: position ascending, ties
// broken by lower row id.
func (r *Replica) Rows() []models.Row {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Row, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Room != out[j].Room {
			return out[i].Room < out[j].Room
		}
		return out[i].Before(&out[j])
	})
	return out
}

// Row returns one row by id.
func (r *Replica) Row(id string) (models.Row, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[id]
	return row, ok
}

// Lock returns the active lock on a row, if any.
func (r *Replica) Lock(rowID string) (models.Lock, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lk, ok := r.locks[rowID]
	return lk, ok
}

// Change returns the change highlight for a row, if any.
func (r *Replica) Change(rowID string) (models.ChangeRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.changes[rowID]
	return rec, ok
}

// VoteCount returns the known vote count for a row and polarity.
func (r *Replica) VoteCount(rowID string, polarity models.Polarity) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[rowID][polarity]
}
