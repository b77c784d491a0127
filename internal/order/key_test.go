package order

import (
	"sort"
	"testing"
)

func mustBetween(t *testing.T, prev, next Key) Key {
	t.Helper()
	k, err := Between(prev, next)
	if err != nil {
		t.Fatalf("Between(%q, %q): %v", prev, next, err)
	}
	return k
}

func TestBetweenOpenEnds(t *testing.T) {
	first := mustBetween(t, "", "")
	if first == "" {
		t.Fatal("expected non-empty key")
	}

	before := mustBetween(t, "", first)
	after := mustBetween(t, first, "")
	if !(before < first && first < after) {
		t.Fatalf("expected %q < %q < %q", before, first, after)
	}
}

func TestBetweenStrict(t *testing.T) {
	cases := []struct{ prev, next Key }{
		{"V", "W"},
		{"V", "V1"},
		{"V", "V01"},
		{"Vz", "W"},
		{"V1", "W"},
		{"", "1"},
		{"", "01"},
		{"z", ""},
		{"zz", ""},
	}
	for _, c := range cases {
		k := mustBetween(t, c.prev, c.next)
		if c.prev != "" && k <= c.prev {
			t.Errorf("Between(%q, %q) = %q, not above prev", c.prev, c.next, k)
		}
		if c.next != "" && k >= c.next {
			t.Errorf("Between(%q, %q) = %q, not below next", c.prev, c.next, k)
		}
		if k[len(k)-1] == '0' {
			t.Errorf("Between(%q, %q) = %q ends in smallest digit", c.prev, c.next, k)
		}
	}
}

func TestBetweenInverted(t *testing.T) {
	if _, err := Between("W", "V"); err == nil {
		t.Fatal("expected error for inverted bounds")
	}
	if _, err := Between("V", "V"); err == nil {
		t.Fatal("expected error for equal bounds")
	}
}

// Repeated midpoints between the same two neighbors must stay monotonic and
// distinct until the precision limit, which must surface as ErrExhausted.
func TestRepeatedMidpointExhausts(t *testing.T) {
	lo := Key("A")
	hi := Key("B")
	seen := map[Key]bool{lo: true, hi: true}

	var exhausted bool
	for i := 0; i < 1000; i++ {
		k, err := Between(lo, hi)
		if err == ErrExhausted {
			exhausted = true
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !(lo < k && k < hi) {
			t.Fatalf("key %q not between %q and %q", k, lo, hi)
		}
		if seen[k] {
			t.Fatalf("duplicate key %q", k)
		}
		seen[k] = true
		lo = k // narrow the gap from below, worst case for growth
	}
	if !exhausted {
		t.Fatal("expected ErrExhausted within 1000 insertions")
	}
}

func TestSpreadOrderedAndDistinct(t *testing.T) {
	for _, n := range []int{1, 2, 7, 61, 62, 500} {
		keys := Spread(n)
		if len(keys) != n {
			t.Fatalf("Spread(%d) returned %d keys", n, len(keys))
		}
		if !sort.SliceIsSorted(keys, func(i, j int) bool { return keys[i] < keys[j] }) {
			t.Fatalf("Spread(%d) not sorted: %v", n, keys)
		}
		for i := 1; i < len(keys); i++ {
			if keys[i] == keys[i-1] {
				t.Fatalf("Spread(%d) duplicate key %q", n, keys[i])
			}
		}
		for _, k := range keys {
			if k[len(k)-1] == '0' {
				t.Fatalf("Spread(%d) key %q ends in smallest digit", n, k)
			}
		}
	}
}

// A rebalanced room must leave headroom for further midpoint insertion at
// every gap, including both open ends.
func TestSpreadLeavesHeadroom(t *testing.T) {
	keys := Spread(10)
	mustBetween(t, "", keys[0])
	for i := 1; i < len(keys); i++ {
		mustBetween(t, keys[i-1], keys[i])
	}
	mustBetween(t, keys[len(keys)-1], "")
}

func TestCompare(t *testing.T) {
	if Compare("A", "B") != -1 || Compare("B", "A") != 1 || Compare("A", "A") != 0 {
		t.Fatal("Compare is inconsistent")
	}
}
