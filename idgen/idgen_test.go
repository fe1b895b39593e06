package idgen

import (
	"strings"
	"testing"
	"time"
)

func TestNanoID_Length(t *testing.T) {
	for _, length := range []int{8, 12, 16, 24} {
		id := NanoID(length)()
		if len(id) != length {
			t.Fatalf("NanoID(%d): got length %d", length, len(id))
		}
	}
}

func TestNanoID_Alphabet(t *testing.T) {
	id := NanoID(100)()
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
			t.Fatalf("NanoID: unexpected character %q in %q", c, id)
		}
	}
}

func TestNanoID_Uniqueness(t *testing.T) {
	gen := NanoID(12)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("NanoID: duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if parts := strings.Split(id, "-"); len(parts) != 5 {
		t.Fatalf("UUIDv7: expected 5 parts, got %d in %q", len(parts), id)
	}
	if len(id) != 36 {
		t.Fatalf("UUIDv7: expected length 36, got %d", len(id))
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("det_", NanoID(8))()
	if !strings.HasPrefix(id, "det_") {
		t.Fatalf("Prefixed: expected prefix 'det_', got %q", id)
	}
	if len(id) != 4+8 {
		t.Fatalf("Prefixed: expected length 12, got %d", len(id))
	}
}

func TestElementTag(t *testing.T) {
	a, b := ElementTag(), ElementTag()
	if !strings.HasPrefix(a, "fz") || len(a) != 12 {
		t.Fatalf("ElementTag: got %q", a)
	}
	if a == b {
		t.Fatalf("ElementTag: two calls returned %q", a)
	}
}

func TestDefaultSortsByTime(t *testing.T) {
	a := Default()
	time.Sleep(2 * time.Millisecond)
	b := Default()
	if a >= b {
		t.Fatalf("Default: %q not before %q", a, b)
	}
}
