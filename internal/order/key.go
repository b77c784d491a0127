// Package order assigns totally ordered position keys to rows within a space.
//
// A Key is a base-62 string compared lexicographically. Between two existing
// keys there is always another key, up to a length cap; crossing the cap is
// reported as ErrExhausted so the caller can rebalance the affected room.
package order

import (
	"errors"
	"fmt"
)

// digits is the key alphabet in ASCII order, so lexicographic string
// comparison matches numeric comparison of the encoded fractions.
const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = len(digits)

// MaxKeyLen bounds key growth from repeated midpoint insertion at the same
// point. Between returns ErrExhausted instead of producing a longer key.
const MaxKeyLen = 64

// ErrExhausted signals that two adjacent keys have no representable midpoint
// left and the room needs a rebalance.
var ErrExhausted = errors.New("order: positional precision exhausted")

// Key is a row position. The zero value means an open end: as the left bound
// it reads as -inf, as the right bound as +inf. Keys produced by this package
// never end in the smallest digit, which keeps midpoints well defined.
type Key string

// Compare returns -1, 0 or 1 ordering a against b.
func Compare(a, b Key) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// digitBefore reads the pos-th digit of the left bound, -1 past its end.
func digitBefore(k Key, pos int) int {
	if pos >= len(k) {
		return -1
	}
	return digitVal(k[pos])
}

// digitAfter reads the pos-th digit of the right bound. Past its end, and for
// the open right bound, the virtual digit is base (just above every real one).
func digitAfter(k Key, pos int) int {
	if pos >= len(k) {
		return base
	}
	return digitVal(k[pos])
}

func digitVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 36
	default:
		return -1
	}
}

// Between returns a key strictly between prev and next. A zero prev means
// "before everything", a zero next means "after everything". Returns
// ErrExhausted when the midpoint would exceed MaxKeyLen.
func Between(prev, next Key) (Key, error) {
	if prev != "" && next != "" && prev >= next {
		return "", fmt.Errorf("order: inverted bounds %q >= %q", prev, next)
	}

	out := make([]byte, 0, len(prev)+1)
	pos := 0
	var p, n int
	for {
		p = digitBefore(prev, pos)
		n = digitAfter(next, pos)
		if p != n {
			break
		}
		out = append(out, digits[p])
		pos++
	}

	switch {
	case p == -1:
		// prev is a prefix of next; stay below next's remaining digits.
		for n == 0 {
			out = append(out, digits[0])
			pos++
			n = digitAfter(next, pos)
		}
		if n == 1 {
			// Can't go below digit 1 without a trailing zero; descend one
			// level and take the midpoint of the full range instead.
			out = append(out, digits[0])
			n = base
		}
	case p+1 == n:
		// Adjacent digits: keep prev's digit and extend past any run of
		// top digits in prev.
		out = append(out, digits[p])
		pos++
		n = base
		for {
			p = digitBefore(prev, pos)
			if p != base-1 {
				break
			}
			out = append(out, digits[base-1])
			pos++
		}
	}

	mid := (p + n + 1) / 2
	out = append(out, digits[mid])
	if len(out) > MaxKeyLen {
		return "", ErrExhausted
	}
	return Key(out), nil
}

// Spread returns n distinct keys in ascending order with even gaps between
// them, used to re-key a room after precision exhaustion. The relative order
// of rows is preserved by assigning keys by index.
func Spread(n int) []Key {
	if n <= 0 {
		return nil
	}

	// Pick a width leaving at least a few digits of headroom per slot.
	width := 1
	capacity := base
	for capacity < 4*(n+1) {
		width++
		capacity *= base
	}
	step := capacity / (n + 1)

	keys := make([]Key, n)
	for i := 0; i < n; i++ {
		keys[i] = encode((i+1)*step, width)
	}
	return keys
}

// encode renders v as a fixed-width key, then strips trailing zero digits so
// the key stays midpoint-friendly. Order is preserved: for fixed-width
// encodings, trimming trailing zeros never reorders distinct values.
func encode(v, width int) Key {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = digits[v%base]
		v /= base
	}
	end := width
	for end > 1 && buf[end-1] == digits[0] {
		end--
	}
	return Key(buf[:end])
}
