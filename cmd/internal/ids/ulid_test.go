package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewULID(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := NewULID(now)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("expected 26 chars, got %d (%q)", len(id), id)
	}

	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := ulid.Time(parsed.Time()); !got.Equal(now) {
		t.Fatalf("timestamp=%v want %v", got, now)
	}
}

func TestNewULID_ZeroTimeUsesNow(t *testing.T) {
	t.Parallel()

	a, err := NewULID(time.Time{})
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	b, err := NewULID(time.Time{})
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
}

// Not parallel: the monotonic source is shared and only orders ids within one millisecond.
func TestNewULID_SameMillisecondSorts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := ""
	for i := 0; i < 50; i++ {
		id, err := NewULID(now)
		if err != nil {
			t.Fatalf("NewULID: %v", err)
		}
		if id <= prev {
			t.Fatalf("id %q not after %q", id, prev)
		}
		prev = id
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"01ARZ3NDEKTSV4RRFFQ69G5FAV":  true,
		"":                            false,
		"not-a-ulid":                  false,
		"01ARZ3NDEKTSV4RRFFQ69G5FA":   false,
		"01ARZ3NDEKTSV4RRFFQ69G5FAVX": false,
		"01ARZ3NDEKTSV4RRFFQ69G5FAU":  false,
	}
	for in, want := range cases {
		if got := Valid(in); got != want {
			t.Fatalf("Valid(%q)=%v want %v", in, got, want)
		}
	}
}
