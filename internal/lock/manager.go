// Package lock serializes edit access to rows. Each row has at most one live
// lease; a lease is released explicitly, by expiry, or when the transport
// session that holds it disconnects.
package lock

import (
	"sync"
	"time"

	"github.com/stumn/Chatment-sub001/internal/models"
)

// DefaultLease is the lock lease duration when none is configured.
const DefaultLease = 90 * time.Second

// Manager grants and revokes per-row edit leases. It keeps an explicit
// session-to-locks mapping so a disconnect releases all of a session's locks
// in one call.
type Manager struct {
	mu      sync.Mutex
	lease   time.Duration
	byRow   map[string]*models.Lock
	bySess  map[string]map[string]struct{} // sessionID -> rowIDs
	nowFunc func() time.Time
}

// NewManager creates a Manager with the given lease duration.
func NewManager(lease time.Duration) *Manager {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Manager{
		lease:   lease,
		byRow:   make(map[string]*models.Lock),
		bySess:  make(map[string]map[string]struct{}),
		nowFunc: time.Now,
	}
}

// Acquire grants the lock on rowID to the actor iff no live lock exists.
// On denial the current holder is returned so the UI can show who is editing.
func (m *Manager) Acquire(rowID, sessionID, actorID, nickname string) (granted *models.Lock, holder *models.Lock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	if cur, ok := m.byRow[rowID]; ok {
		if now.Before(cur.ExpiresAt) {
			h := *cur
			return nil, &h
		}
		// Lapsed but not yet swept; treat as free.
		m.dropLocked(cur)
	}

	lk := &models.Lock{
		RowID:      rowID,
		HolderID:   actorID,
		HolderName: nickname,
		SessionID:  sessionID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.lease),
	}
	m.byRow[rowID] = lk
	if m.bySess[sessionID] == nil {
		m.bySess[sessionID] = make(map[string]struct{})
	}
	m.bySess[sessionID][rowID] = struct{}{}

	out := *lk
	return &out, nil
}

// Release releases the lock on rowID iff actorID is the current holder.
// A non-holder release is a no-op so a stale client can't free someone
// else's lock.
func (m *Manager) Release(rowID, actorID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byRow[rowID]
	if !ok || cur.HolderID != actorID {
		return false
	}
	m.dropLocked(cur)
	return true
}

// ReleaseRow unconditionally drops any lock on rowID, used when the row
// itself is deleted.
func (m *Manager) ReleaseRow(rowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.byRow[rowID]; ok {
		m.dropLocked(cur)
	}
}

// ReleaseSession releases every lock held via the given transport session and
// returns them, so the caller can broadcast the transitions.
func (m *Manager) ReleaseSession(sessionID string) []models.Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.bySess[sessionID]
	if len(rows) == 0 {
		delete(m.bySess, sessionID)
		return nil
	}
	released := make([]models.Lock, 0, len(rows))
	for rowID := range rows {
		if cur, ok := m.byRow[rowID]; ok && cur.SessionID == sessionID {
			released = append(released, *cur)
			m.dropLocked(cur)
		}
	}
	delete(m.bySess, sessionID)
	return released
}

// ExpireStale releases every lock whose lease has passed as of now and
// returns them. Runs from the coordinator's sweep ticker, independent of any
// client's liveness.
func (m *Manager) ExpireStale(now time.Time) []models.Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []models.Lock
	for _, lk := range m.byRow {
		if !now.Before(lk.ExpiresAt) {
			expired = append(expired, *lk)
		}
	}
	for i := range expired {
		if cur, ok := m.byRow[expired[i].RowID]; ok {
			m.dropLocked(cur)
		}
	}
	return expired
}

// Holder returns the live lock on rowID, or nil.
func (m *Manager) Holder(rowID string) *models.Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byRow[rowID]
	if !ok || !m.nowFunc().Before(cur.ExpiresAt) {
		return nil
	}
	h := *cur
	return &h
}

// HeldBy reports whether actorID currently holds the lock on rowID.
func (m *Manager) HeldBy(rowID, actorID string) bool {
	h := m.Holder(rowID)
	return h != nil && h.HolderID == actorID
}

// Active returns all live locks, used for history replay to joining clients.
func (m *Manager) Active() []models.Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	out := make([]models.Lock, 0, len(m.byRow))
	for _, lk := range m.byRow {
		if now.Before(lk.ExpiresAt) {
			out = append(out, *lk)
		}
	}
	return out
}

// dropLocked removes lk from both indexes. Caller holds m.mu.
func (m *Manager) dropLocked(lk *models.Lock) {
	delete(m.byRow, lk.RowID)
	if rows, ok := m.bySess[lk.SessionID]; ok {
		delete(rows, lk.RowID)
		if len(rows) == 0 {
			delete(m.bySess, lk.SessionID)
		}
	}
}
