package pairing

import (
	"encoding/hex"
	"slices"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns a stable digest of a partner submission (name + answers).
// Two submissions with the same fingerprint are treated as the same client retrying.
func Fingerprint(name string, answers Answers) string {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString("name\x00")
	b.WriteString(name)
	b.WriteByte('\n')
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('\x00')
		b.WriteString(answers[k])
		b.WriteByte('\n')
	}

	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
