package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stumn/Chatment-sub001/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSpaceLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sp, err := s.CreateSpace(ctx, "retro", models.SpaceModeSingle, nil, "", "creator-1")
	if err != nil {
		t.Fatalf("CreateSpace: %v", err)
	}
	if sp.ID == 0 || sp.State != models.SpaceStateActive {
		t.Fatalf("unexpected space: %+v", sp)
	}
	if sp.DefaultRoom != models.DefaultRoomName || len(sp.Rooms) != 1 {
		t.Fatalf("single mode should get exactly the default room: %+v", sp)
	}

	active, err := s.IsActive(ctx, sp.ID)
	if err != nil || !active {
		t.Fatalf("IsActive = %v, %v", active, err)
	}

	if err := s.FinishSpace(ctx, sp.ID); err != nil {
		t.Fatalf("FinishSpace: %v", err)
	}
	active, err = s.IsActive(ctx, sp.ID)
	if err != nil || active {
		t.Fatalf("finished space still active: %v, %v", active, err)
	}
	got, err := s.GetSpace(ctx, sp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.SpaceStateFinished || got.FinishedAt == nil {
		t.Fatalf("finish not recorded: %+v", got)
	}

	// Unknown space is a nil, not an error.
	missing, err := s.GetSpace(ctx, 9999)
	if err != nil || missing != nil {
		t.Fatalf("missing space: %+v, %v", missing, err)
	}
}

func TestMultiRoomSpace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sp, err := s.CreateSpace(ctx, "workshop", models.SpaceModeMulti, []string{"plan", "notes"}, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if sp.DefaultRoom != "plan" || len(sp.Rooms) != 2 {
		t.Fatalf("multi mode rooms wrong: %+v", sp)
	}
	if !sp.HasRoom("notes") || sp.HasRoom("other") {
		t.Fatal("HasRoom mismatch after load")
	}
}

func TestPrivateSpaceKeyHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sp, err := s.CreateSpace(ctx, "secret", models.SpaceModeSingle, nil, "bcrypt-hash-here", "")
	if err != nil {
		t.Fatal(err)
	}
	if !sp.IsPrivate {
		t.Fatal("space with key hash should be private")
	}

	hash, err := s.GetSpaceKeyHash(ctx, sp.ID)
	if err != nil || hash != "bcrypt-hash-here" {
		t.Fatalf("key hash = %q, %v", hash, err)
	}

	open, err := s.CreateSpace(ctx, "open", models.SpaceModeSingle, nil, "", "")
	if err != nil {
		t.Fatal(err)
	}
	hash, err = s.GetSpaceKeyHash(ctx, open.ID)
	if err != nil || hash != "" {
		t.Fatalf("open space hash = %q, %v", hash, err)
	}
}

func TestRowRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sp, err := s.CreateSpace(ctx, "doc", models.SpaceModeSingle, nil, "", "")
	if err != nil {
		t.Fatal(err)
	}

	row := &models.Row{
		ID:        "01J0000000000000000000ROW1",
		SpaceID:   sp.ID,
		Room:      models.DefaultRoomName,
		AuthorID:  "actor-1",
		Nickname:  "Alice",
		Text:      "hello",
		Position:  "V",
		CreatedAt: time.Now().UnixMilli(),
		Positive:  []string{"actor-2"},
	}
	if err := s.SaveRow(ctx, row); err != nil {
		t.Fatalf("SaveRow: %v", err)
	}

	// Upsert: edit text, add a vote.
	row.Text = "hello again"
	row.Negative = []string{"actor-3"}
	if err := s.SaveRow(ctx, row); err != nil {
		t.Fatalf("SaveRow upsert: %v", err)
	}

	loaded, err := s.LoadRows(ctx, sp.ID)
	if err != nil {
		t.Fatalf("LoadRows: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 row, got %d", len(loaded))
	}
	got := loaded[0]
	if got.Text != "hello again" || got.Position != "V" || got.Nickname != "Alice" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if len(got.Positive) != 1 || got.Positive[0] != "actor-2" {
		t.Fatalf("positive votes lost: %+v", got.Positive)
	}
	if len(got.Negative) != 1 || got.Negative[0] != "actor-3" {
		t.Fatalf("negative votes lost: %+v", got.Negative)
	}
}

func TestSaveRowsBulkAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sp, err := s.CreateSpace(ctx, "doc", models.SpaceModeSingle, nil, "", "")
	if err != nil {
		t.Fatal(err)
	}

	batch := []*models.Row{
		{ID: "r-c", SpaceID: sp.ID, Room: "main", AuthorID: "a", Nickname: "A", Text: "third", Position: "m", CreatedAt: 3},
		{ID: "r-a", SpaceID: sp.ID, Room: "main", AuthorID: "a", Nickname: "A", Text: "first", Position: "8", CreatedAt: 1},
		{ID: "r-b", SpaceID: sp.ID, Room: "main", AuthorID: "a", Nickname: "A", Text: "second", Position: "V", CreatedAt: 2},
	}
	if err := s.SaveRows(ctx, batch); err != nil {
		t.Fatalf("SaveRows: %v", err)
	}

	loaded, err := s.LoadRows(ctx, sp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(loaded))
	}
	for i, want := range []string{"first", "second", "third"} {
		if loaded[i].Text != want {
			t.Fatalf("position order broken at %d: %q", i, loaded[i].Text)
		}
	}
}

func TestDeleteRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sp, err := s.CreateSpace(ctx, "doc", models.SpaceModeSingle, nil, "", "")
	if err != nil {
		t.Fatal(err)
	}
	row := &models.Row{ID: "r-1", SpaceID: sp.ID, Room: "main", AuthorID: "a", Nickname: "A", Text: "x", Position: "V", CreatedAt: 1}
	if err := s.SaveRow(ctx, row); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteRow(ctx, "r-1"); err != nil {
		t.Fatalf("DeleteRow: %v", err)
	}
	loaded, err := s.LoadRows(ctx, sp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Fatalf("row not deleted: %+v", loaded)
	}

	// Deleting an unknown row is a no-op.
	if err := s.DeleteRow(ctx, "r-missing"); err != nil {
		t.Fatalf("delete of missing row errored: %v", err)
	}
}

func TestListSpacesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"one", "two", "three"} {
		if _, err := s.CreateSpace(ctx, title, models.SpaceModeSingle, nil, "", ""); err != nil {
			t.Fatal(err)
		}
	}

	spaces, total, err := s.ListSpaces(ctx, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(spaces) != 2 {
		t.Fatalf("total=%d page=%d", total, len(spaces))
	}
	// Newest first.
	if spaces[0].Title != "three" {
		t.Fatalf("expected newest first, got %q", spaces[0].Title)
	}

	rest, _, err := s.ListSpaces(ctx, 2, 2)
	if err != nil || len(rest) != 1 {
		t.Fatalf("second page: %d, %v", len(rest), err)
	}
}
