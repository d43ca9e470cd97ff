// Package ids issues and checks session identifiers.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a 26-char ULID stamped with now (current UTC time if zero).
// IDs issued within the same millisecond still sort in issue order.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Valid reports whether s parses as a ULID. Lookups use it to turn junk ids
// into not-found without a storage round trip.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
