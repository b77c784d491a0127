package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireDeniedWhileHeld(t *testing.T) {
	m := NewManager(time.Minute)

	granted, holder := m.Acquire("row1", "sess-a", "alice", "Alice")
	if granted == nil || holder != nil {
		t.Fatal("first acquire should be granted")
	}

	granted, holder = m.Acquire("row1", "sess-b", "bob", "Bob")
	if granted != nil {
		t.Fatal("second acquire should be denied")
	}
	if holder == nil || holder.HolderID != "alice" || holder.HolderName != "Alice" {
		t.Fatalf("denial should name the current holder, got %+v", holder)
	}
}

func TestReleaseOnlyByHolder(t *testing.T) {
	m := NewManager(time.Minute)
	m.Acquire("row1", "sess-a", "alice", "Alice")

	if m.Release("row1", "bob") {
		t.Fatal("non-holder release must be ignored")
	}
	if m.Holder("row1") == nil {
		t.Fatal("lock should survive a non-holder release")
	}

	if !m.Release("row1", "alice") {
		t.Fatal("holder release must succeed")
	}
	if m.Holder("row1") != nil {
		t.Fatal("lock should be gone after release")
	}

	// A previously denied actor can now acquire.
	granted, _ := m.Acquire("row1", "sess-b", "bob", "Bob")
	if granted == nil {
		t.Fatal("acquire after release should be granted")
	}
}

func TestExpireStale(t *testing.T) {
	m := NewManager(time.Minute)
	now := time.Unix(1000, 0)
	m.nowFunc = func() time.Time { return now }

	m.Acquire("row1", "sess-a", "alice", "Alice")
	m.Acquire("row2", "sess-a", "alice", "Alice")

	expired := m.ExpireStale(now.Add(30 * time.Second))
	if len(expired) != 0 {
		t.Fatalf("nothing should expire inside the lease, got %d", len(expired))
	}

	expired = m.ExpireStale(now.Add(time.Minute))
	if len(expired) != 2 {
		t.Fatalf("expected 2 expired locks, got %d", len(expired))
	}
	if m.Holder("row1") != nil || m.Holder("row2") != nil {
		t.Fatal("expired locks should be released")
	}

	granted, _ := m.Acquire("row1", "sess-b", "bob", "Bob")
	if granted == nil {
		t.Fatal("acquire after expiry should be granted")
	}
}

func TestLapsedLockYieldsWithoutSweep(t *testing.T) {
	m := NewManager(time.Minute)
	now := time.Unix(1000, 0)
	m.nowFunc = func() time.Time { return now }

	m.Acquire("row1", "sess-a", "alice", "Alice")
	now = now.Add(2 * time.Minute)

	granted, holder := m.Acquire("row1", "sess-b", "bob", "Bob")
	if granted == nil || holder != nil {
		t.Fatal("a lapsed lock should not deny a new acquire")
	}
}

func TestReleaseSession(t *testing.T) {
	m := NewManager(time.Minute)
	m.Acquire("row1", "sess-a", "alice", "Alice")
	m.Acquire("row2", "sess-a", "alice", "Alice")
	m.Acquire("row3", "sess-b", "bob", "Bob")

	released := m.ReleaseSession("sess-a")
	if len(released) != 2 {
		t.Fatalf("expected 2 released locks, got %d", len(released))
	}
	if m.Holder("row1") != nil || m.Holder("row2") != nil {
		t.Fatal("session locks should be released on disconnect")
	}
	if m.Holder("row3") == nil {
		t.Fatal("other sessions' locks must survive")
	}

	if got := m.ReleaseSession("sess-a"); len(got) != 0 {
		t.Fatalf("second release should be empty, got %d", len(got))
	}
}

// Mutual exclusion: across many interleaved acquires on the same row, at most
// one is granted at any instant.
func TestConcurrentAcquireSingleWinner(t *testing.T) {
	m := NewManager(time.Minute)

	const actors = 32
	var grants int64
	var wg sync.WaitGroup
	for i := 0; i < actors; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n%26))
			if granted, _ := m.Acquire("row1", "sess-"+id, id, id); granted != nil {
				atomic.AddInt64(&grants, 1)
			}
		}(i)
	}
	wg.Wait()

	if grants != 1 {
		t.Fatalf("expected exactly one grant, got %d", grants)
	}
}

func TestActiveSnapshot(t *testing.T) {
	m := NewManager(time.Minute)
	m.Acquire("row1", "sess-a", "alice", "Alice")
	m.Acquire("row2", "sess-b", "bob", "Bob")

	active := m.Active()
	if len(active) != 2 {
		t.Fatalf("expected 2 active locks, got %d", len(active))
	}
}
