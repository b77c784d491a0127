package reaction

import (
	"testing"

	"github.com/stumn/Chatment-sub001/internal/models"
)

func TestVoteIdempotent(t *testing.T) {
	l := NewLedger()

	accepted, count := l.Vote("row1", "alice", models.PolarityPositive)
	if !accepted || count != 1 {
		t.Fatalf("first vote: accepted=%v count=%d", accepted, count)
	}

	// Identical retry changes the set size by exactly 1, not 2.
	accepted, count = l.Vote("row1", "alice", models.PolarityPositive)
	if accepted {
		t.Fatal("duplicate vote must not be accepted")
	}
	if count != 1 {
		t.Fatalf("duplicate vote changed count to %d", count)
	}
}

func TestPolaritiesIndependent(t *testing.T) {
	l := NewLedger()

	l.Vote("row1", "alice", models.PolarityPositive)
	accepted, count := l.Vote("row1", "alice", models.PolarityNegative)
	if !accepted || count != 1 {
		t.Fatalf("negative vote should be independent: accepted=%v count=%d", accepted, count)
	}

	if l.Count("row1", models.PolarityPositive) != 1 {
		t.Fatal("positive count should be unaffected")
	}

	// Repeat positive: unchanged.
	if accepted, _ := l.Vote("row1", "alice", models.PolarityPositive); accepted {
		t.Fatal("repeat positive vote must be silent")
	}
	if l.Count("row1", models.PolarityPositive) != 1 {
		t.Fatal("positive count must stay at 1")
	}
}

func TestDistinctVoters(t *testing.T) {
	l := NewLedger()
	l.Vote("row1", "alice", models.PolarityPositive)
	l.Vote("row1", "bob", models.PolarityPositive)
	l.Vote("row1", "carol", models.PolarityPositive)

	if got := l.Count("row1", models.PolarityPositive); got != 3 {
		t.Fatalf("expected 3 voters, got %d", got)
	}
}

func TestSeedAndVoters(t *testing.T) {
	l := NewLedger()
	l.Seed("row1", []string{"alice", "bob"}, []string{"carol"})

	if l.Count("row1", models.PolarityPositive) != 2 {
		t.Fatal("seeded positive count wrong")
	}
	if l.Count("row1", models.PolarityNegative) != 1 {
		t.Fatal("seeded negative count wrong")
	}

	// Seeded members are deduplicated like live votes.
	if accepted, _ := l.Vote("row1", "alice", models.PolarityPositive); accepted {
		t.Fatal("seeded voter must not vote again")
	}

	pos, neg := l.Voters("row1")
	if len(pos) != 2 || len(neg) != 1 {
		t.Fatalf("voters snapshot wrong: %v / %v", pos, neg)
	}
}

func TestForget(t *testing.T) {
	l := NewLedger()
	l.Vote("row1", "alice", models.PolarityPositive)
	l.Forget("row1")

	if l.Count("row1", models.PolarityPositive) != 0 {
		t.Fatal("forgotten row should have no votes")
	}
	if accepted, _ := l.Vote("row1", "alice", models.PolarityPositive); !accepted {
		t.Fatal("vote after forget should be accepted")
	}
}
