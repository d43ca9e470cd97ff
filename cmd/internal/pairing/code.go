package pairing

import (
	"crypto/rand"
	"io"
	"strings"
)

const (
	// CodeAlphabet omits I, O, 0 and 1. Its length divides 256, so byte-to-symbol mapping is unbiased.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// CodeLength is the number of symbols in an invite code (32^6 ≈ 1.07e9 codes).
	CodeLength = 6

	defaultCodeAttempts = 8
)

// CodeGenerator produces random invite codes. Codes carry no information about
// the session id or creation time.
type CodeGenerator struct {
	rand io.Reader
}

// NewCodeGenerator returns a generator backed by crypto/rand when r is nil.
func NewCodeGenerator(r io.Reader) CodeGenerator {
	if r == nil {
		r = rand.Reader
	}
	return CodeGenerator{rand: r}
}

// Generate returns a fresh CodeLength-symbol code.
func (g CodeGenerator) Generate() (string, error) {
	src := g.rand
	if src == nil {
		src = rand.Reader
	}
	b := make([]byte, CodeLength)
	if _, err := io.ReadFull(src, b); err != nil {
		return "", err
	}
	out := make([]byte, CodeLength)
	for i := range b {
		out[i] = CodeAlphabet[int(b[i])%len(CodeAlphabet)]
	}
	return string(out), nil
}

// NormalizeCode upper-cases a human-entered code and drops spaces and dashes.
func NormalizeCode(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, s)
}

// ValidCode reports whether s is a well-formed invite code.
func ValidCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(CodeAlphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}
