package pairing

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	maxNameRunes     = 64
	maxAnswers       = 200
	maxQuestionIDLen = 64
	maxOptionLen     = 32
)

// NormalizeName canonicalizes a display name: NFC, trimmed, inner whitespace collapsed.
// Names are UI copy only and never authorize anything.
func NormalizeName(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeAnswers trims keys and values. Shape problems are reported by validateAnswers.
func NormalizeAnswers(in map[string]string) Answers {
	if in == nil {
		return nil
	}
	out := make(Answers, len(in))
	for k, v := range in {
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func validateName(field, name string) error {
	if utf8.RuneCountInString(name) > maxNameRunes {
		return ValidationError{Field: field, Reason: "too long"}
	}
	return nil
}

func validateAnswers(field string, a Answers) error {
	if len(a) == 0 {
		return ValidationError{Field: field, Reason: "at least one answer is required"}
	}
	if len(a) > maxAnswers {
		return ValidationError{Field: field, Reason: "too many answers"}
	}
	for q, opt := range a {
		if q == "" || len(q) > maxQuestionIDLen {
			return ValidationError{Field: field, Reason: "invalid question id"}
		}
		if opt == "" || len(opt) > maxOptionLen {
			return ValidationError{Field: field + "." + q, Reason: "invalid option label"}
		}
	}
	return nil
}
