package track

import (
	"testing"
	"time"

	"github.com/stumn/Chatment-sub001/internal/models"
)

func TestRecordOverwrites(t *testing.T) {
	tr := NewTracker()
	now := time.Unix(1000, 0)
	tr.nowFunc = func() time.Time { return now }

	tr.Record("row1", models.ChangeAdded, "Alice")
	now = now.Add(5 * time.Second)
	rec := tr.Record("row1", models.ChangeModified, "Bob")

	got, ok := tr.Get("row1")
	if !ok {
		t.Fatal("expected a live record")
	}
	if got.Kind != models.ChangeModified || got.Actor != "Bob" {
		t.Fatalf("latest record should win, got %+v", got)
	}
	if !got.ExpiresAt.Equal(rec.At.Add(models.ChangeHold + models.ChangeFade)) {
		t.Fatal("overwrite should reset expiry")
	}
}

func TestExpiry(t *testing.T) {
	tr := NewTracker()
	now := time.Unix(1000, 0)
	tr.nowFunc = func() time.Time { return now }

	tr.Record("row1", models.ChangeAdded, "Alice")

	now = now.Add(16 * time.Second)
	if _, ok := tr.Get("row1"); !ok {
		t.Fatal("record should still be live inside the hold+fade window")
	}

	now = now.Add(2 * time.Second)
	if _, ok := tr.Get("row1"); ok {
		t.Fatal("record should have lapsed")
	}
}

func TestSeedKeepsOriginalExpiry(t *testing.T) {
	tr := NewTracker()
	now := time.Unix(1000, 0)
	tr.nowFunc = func() time.Time { return now }

	tr.Seed(models.ChangeRecord{
		RowID:     "row1",
		Kind:      models.ChangeModified,
		Actor:     "Alice",
		At:        now.Add(-10 * time.Second),
		ExpiresAt: now.Add(7 * time.Second),
	})
	// Already-lapsed records are not resurrected.
	tr.Seed(models.ChangeRecord{RowID: "row2", ExpiresAt: now.Add(-time.Second)})

	got, ok := tr.Get("row1")
	if !ok || !got.ExpiresAt.Equal(now.Add(7*time.Second)) {
		t.Fatalf("seed should keep the cached expiry: %+v ok=%v", got, ok)
	}
	if _, ok := tr.Get("row2"); ok {
		t.Fatal("lapsed record should not be seeded")
	}
}

func TestClear(t *testing.T) {
	tr := NewTracker()
	tr.Record("row1", models.ChangeAdded, "Alice")
	tr.Clear("row1")

	if _, ok := tr.Get("row1"); ok {
		t.Fatal("cleared record should be gone")
	}
}

func TestSnapshotPrunes(t *testing.T) {
	tr := NewTracker()
	now := time.Unix(1000, 0)
	tr.nowFunc = func() time.Time { return now }

	tr.Record("row1", models.ChangeAdded, "Alice")
	now = now.Add(10 * time.Second)
	tr.Record("row2", models.ChangeReordered, "Bob")

	snap := tr.Snapshot(now.Add(8 * time.Second))
	if len(snap) != 1 {
		t.Fatalf("expected 1 live record, got %d", len(snap))
	}
	if snap[0].RowID != "row2" {
		t.Fatalf("wrong survivor: %+v", snap[0])
	}
}
