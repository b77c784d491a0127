package chatment

import (
	"testing"

	"github.com/stumn/Chatment-sub001/internal/models"
	"github.com/stumn/Chatment-sub001/internal/protocol"
)

func mustSeal(t *testing.T, msgType string, seq uint64, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.Seal(msgType, seq, payload)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestSnapshotResetsReplica(t *testing.T) {
	r := NewReplica()
	if r.Ready() {
		t.Fatal("replica should not be ready before the snapshot")
	}

	r.ApplyLocal(models.Row{ID: "stale", Text: "leftover"})

	snap := protocol.HistorySnapshot{
		SpaceID: 7,
		Rows: []models.Row{
			{ID: "b", Room: "main", Text: "second", Position: "V"},
			{ID: "a", Room: "main", Text: "first", Position: "8"},
		},
		Locks: []models.Lock{{RowID: "a", HolderID: "x", HolderName: "X"}},
	}
	if err := r.ApplyEvent(mustSeal(t, protocol.TypeHistorySnapshot, 0, snap)); err != nil {
		t.Fatal(err)
	}

	if !r.Ready() || r.SpaceID() != 7 {
		t.Fatalf("snapshot not applied: ready=%v space=%d", r.Ready(), r.SpaceID())
	}
	if _, ok := r.Row("stale"); ok {
		t.Fatal("snapshot should clear pre-snapshot state")
	}
	rows := r.Rows()
	if len(rows) != 2 || rows[0].ID != "a" || rows[1].ID != "b" {
		t.Fatalf("rows not in position order: %+v", rows)
	}
	if _, ok := r.Lock("a"); !ok {
		t.Fatal("snapshot lock missing")
	}
}

func TestServerEventOverwritesOptimisticEdit(t *testing.T) {
	r := NewReplica()
	r.ApplyEvent(mustSeal(t, protocol.TypeHistorySnapshot, 0, protocol.HistorySnapshot{
		Rows: []models.Row{{ID: "a", Room: "main", Text: "original", Position: "V"}},
	}))

	// Optimistic local edit, then the authoritative result of someone
	// else's mutation.
	r.ApplyLocal(models.Row{ID: "a", Room: "main", Text: "my guess", Position: "V"})
	r.ApplyEvent(mustSeal(t, protocol.TypeRowEdited, 5, protocol.RowEvent{
		Row: models.Row{ID: "a", Room: "main", Text: "server truth", Position: "V"},
	}))

	got, _ := r.Row("a")
	if got.Text != "server truth" {
		t.Fatalf("authoritative event should win, got %q", got.Text)
	}
}

func TestStaleRedeliveryIgnored(t *testing.T) {
	r := NewReplica()
	r.ApplyEvent(mustSeal(t, protocol.TypeHistorySnapshot, 0, protocol.HistorySnapshot{}))

	r.ApplyEvent(mustSeal(t, protocol.TypeRowAdded, 3, protocol.RowEvent{
		Row: models.Row{ID: "a", Room: "main", Text: "v1", Position: "V"},
	}))
	r.ApplyEvent(mustSeal(t, protocol.TypeRowEdited, 5, protocol.RowEvent{
		Row: models.Row{ID: "a", Room: "main", Text: "v2", Position: "V"},
	}))
	// Redelivered older event for the same row must not roll back.
	r.ApplyEvent(mustSeal(t, protocol.TypeRowEdited, 4, protocol.RowEvent{
		Row: models.Row{ID: "a", Room: "main", Text: "v1.5", Position: "V"},
	}))

	got, _ := r.Row("a")
	if got.Text != "v2" {
		t.Fatalf("stale redelivery applied: %q", got.Text)
	}
}

func TestUnknownRowInsertedFromEvent(t *testing.T) {
	r := NewReplica()
	r.ApplyEvent(mustSeal(t, protocol.TypeHistorySnapshot, 0, protocol.HistorySnapshot{}))

	// An edit for a row this replica never saw still carries the full row.
	r.ApplyEvent(mustSeal(t, protocol.TypeRowEdited, 9, protocol.RowEvent{
		Row: models.Row{ID: "new", Room: "main", Text: "hello", Position: "V"},
	}))

	if _, ok := r.Row("new"); !ok {
		t.Fatal("event for unknown row should insert it")
	}
}

func TestDeleteRemovesRowState(t *testing.T) {
	r := NewReplica()
	r.ApplyEvent(mustSeal(t, protocol.TypeHistorySnapshot, 0, protocol.HistorySnapshot{
		Rows:  []models.Row{{ID: "a", Room: "main", Text: "x", Position: "V", Positive: []string{"u1"}}},
		Locks: []models.Lock{{RowID: "a", HolderID: "u1"}},
	}))

	r.ApplyEvent(mustSeal(t, protocol.TypeRowDeleted, 2, protocol.RowDeleted{RowID: "a"}))

	if _, ok := r.Row("a"); ok {
		t.Fatal("row should be gone")
	}
	if _, ok := r.Lock("a"); ok {
		t.Fatal("lock should be gone")
	}
	if r.VoteCount("a", models.PolarityPositive) != 0 {
		t.Fatal("vote counts should be gone")
	}
}

func TestRebalanceUpdatesPositions(t *testing.T) {
	r := NewReplica()
	r.ApplyEvent(mustSeal(t, protocol.TypeHistorySnapshot, 0, protocol.HistorySnapshot{
		Rows: []models.Row{
			{ID: "a", Room: "main", Text: "a", Position: "V"},
			{ID: "b", Room: "main", Text: "b", Position: "V1"},
		},
	}))

	r.ApplyEvent(mustSeal(t, protocol.TypeRowsRebalanced, 4, protocol.RowsRebalanced{
		Room: "main",
		Rows: []protocol.RebalancedRow{
			{RowID: "a", Position: "K"},
			{RowID: "b", Position: "f"},
		},
	}))

	rows := r.Rows()
	if rows[0].ID != "a" || rows[0].Position != "K" || rows[1].Position != "f" {
		t.Fatalf("rebalance not applied: %+v", rows)
	}
}

func TestVoteCountUpdate(t *testing.T) {
	r := NewReplica()
	r.ApplyEvent(mustSeal(t, protocol.TypeHistorySnapshot, 0, protocol.HistorySnapshot{
		Rows: []models.Row{{ID: "a", Room: "main", Text: "x", Position: "V", Positive: []string{"u1", "u2"}}},
	}))

	if got := r.VoteCount("a", models.PolarityPositive); got != 2 {
		t.Fatalf("seeded count = %d, want 2", got)
	}

	r.ApplyEvent(mustSeal(t, protocol.TypeVoteUpdated, 3, protocol.VoteUpdated{
		RowID: "a", Polarity: models.PolarityPositive, Count: 3, Accepted: true,
	}))
	if got := r.VoteCount("a", models.PolarityPositive); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
	if got := r.VoteCount("a", models.PolarityNegative); got != 0 {
		t.Fatalf("negative count = %d, want 0", got)
	}
}

func TestLockGrantAndRelease(t *testing.T) {
	r := NewReplica()
	r.ApplyEvent(mustSeal(t, protocol.TypeHistorySnapshot, 0, protocol.HistorySnapshot{
		Rows: []models.Row{{ID: "a", Room: "main", Text: "x", Position: "V"}},
	}))

	r.ApplyEvent(mustSeal(t, protocol.TypeLockGranted, 2, protocol.LockEvent{
		Lock: models.Lock{RowID: "a", HolderID: "u1", HolderName: "Uno"},
	}))
	lk, ok := r.Lock("a")
	if !ok || lk.HolderName != "Uno" {
		t.Fatalf("grant not applied: %+v", lk)
	}

	r.ApplyEvent(mustSeal(t, protocol.TypeLockReleased, 3, protocol.LockEvent{
		Lock: models.Lock{RowID: "a", HolderID: "u1"},
	}))
	if _, ok := r.Lock("a"); ok {
		t.Fatal("release not applied")
	}
}
