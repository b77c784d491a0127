package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/stumn/Chatment-sub001/internal/models"
)

func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client)
}

func TestPresence(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	if err := s.Join(ctx, 1, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.Join(ctx, 1, "bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.Join(ctx, 2, "carol"); err != nil {
		t.Fatal(err)
	}

	members, err := s.Present(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members in space 1, got %v", members)
	}

	if err := s.Leave(ctx, 1, "alice"); err != nil {
		t.Fatal(err)
	}
	members, _ = s.Present(ctx, 1)
	if len(members) != 1 || members[0] != "bob" {
		t.Fatalf("expected only bob, got %v", members)
	}
}

func TestChangeCache(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()
	now := time.Now()

	rec := models.ChangeRecord{
		RowID:     "row1",
		Kind:      models.ChangeModified,
		Actor:     "Alice",
		At:        now,
		ExpiresAt: now.Add(17 * time.Second),
	}
	if err := s.CacheChange(ctx, 1, rec); err != nil {
		t.Fatal(err)
	}

	// Overwrite with a newer record for the same row.
	rec.Kind = models.ChangeReordered
	if err := s.CacheChange(ctx, 1, rec); err != nil {
		t.Fatal(err)
	}

	live, err := s.RecentChanges(ctx, 1, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 {
		t.Fatalf("expected 1 record, got %d", len(live))
	}
	if live[0].Kind != models.ChangeReordered {
		t.Fatalf("latest record should win, got %+v", live[0])
	}

	// Lapsed records are filtered on read.
	live, err = s.RecentChanges(ctx, 1, now.Add(18*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 0 {
		t.Fatalf("expected no live records, got %d", len(live))
	}
}

func TestDropChange(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()
	now := time.Now()

	rec := models.ChangeRecord{RowID: "row1", Kind: models.ChangeAdded, ExpiresAt: now.Add(time.Minute)}
	if err := s.CacheChange(ctx, 1, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.DropChange(ctx, 1, "row1"); err != nil {
		t.Fatal(err)
	}

	live, _ := s.RecentChanges(ctx, 1, now)
	if len(live) != 0 {
		t.Fatalf("expected dropped record to be gone, got %v", live)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	ok, err := s.CheckRateLimit(ctx, "alice", 2)
	if err != nil || !ok {
		t.Fatalf("fresh actor should pass: ok=%v err=%v", ok, err)
	}

	for i := 0; i < 2; i++ {
		if err := s.IncrementRateLimit(ctx, "alice", time.Minute); err != nil {
			t.Fatal(err)
		}
	}

	ok, err = s.CheckRateLimit(ctx, "alice", 2)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("actor at the limit should be rejected")
	}
}
