// Package track remembers the most recent mutation per row for a bounded
// display window, so joining clients can render transient highlights.
package track

import (
	"sync"
	"time"

	"github.com/stumn/Chatment-sub001/internal/models"
)

// Tracker holds at most one live ChangeRecord per row. Expiry is advisory to
// consumers; the tracker itself needs no background timer, it just filters
// lapsed records on read.
type Tracker struct {
	mu      sync.Mutex
	records map[string]models.ChangeRecord
	nowFunc func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[string]models.ChangeRecord),
		nowFunc: time.Now,
	}
}

// Record overwrites any existing record for rowID and resets its expiry.
func (t *Tracker) Record(rowID string, kind models.ChangeKind, actor string) models.ChangeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFunc()
	rec := models.ChangeRecord{
		RowID:     rowID,
		Kind:      kind,
		Actor:     actor,
		At:        now,
		ExpiresAt: now.Add(models.ChangeHold + models.ChangeFade),
	}
	t.records[rowID] = rec
	return rec
}

// Seed installs a previously cached record, keeping its original expiry.
// Used when a space coordinator rehydrates.
func (t *Tracker) Seed(rec models.ChangeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nowFunc().Before(rec.ExpiresAt) {
		t.records[rec.RowID] = rec
	}
}

// Clear drops the record for rowID early, once the highlight has fully faded.
func (t *Tracker) Clear(rowID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, rowID)
}

// Get returns the live record for rowID, if any.
func (t *Tracker) Get(rowID string) (models.ChangeRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[rowID]
	if !ok || !t.nowFunc().Before(rec.ExpiresAt) {
		return models.ChangeRecord{}, false
	}
	return rec, true
}

// Snapshot returns all live records as of now, pruning lapsed ones.
func (t *Tracker) Snapshot(now time.Time) []models.ChangeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.ChangeRecord, 0, len(t.records))
	for id, rec := range t.records {
		if now.Before(rec.ExpiresAt) {
			out = append(out, rec)
		} else {
			delete(t.records, id)
		}
	}
	return out
}
