package pairing

import (
	"errors"
	"fmt"

	"duet/cmd/internal/analysis"
)

var (
	// ErrValidation is returned when submitted answers or names are malformed.
	// Nothing is persisted when it is returned.
	ErrValidation = errors.New("invalid submission")

	// ErrInvalidCode is returned when an invite code is unknown, not yet redeemable,
	// or already consumed by a different partner submission.
	ErrInvalidCode = errors.New("invalid invite code")

	// ErrNotFound is returned for operations that reference an unknown session id.
	ErrNotFound = errors.New("session not found")

	// ErrTransientUpstream marks failures of the analysis collaborator.
	// It never reaches submitting clients.
	ErrTransientUpstream = analysis.ErrTransientUpstream

	// ErrCodeTaken is returned by stores when an invite code collides with an existing session.
	ErrCodeTaken = errors.New("invite code already allocated")

	// ErrInvalidInput is returned for programming errors (nil store, empty ids).
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError describes the first offending field of a rejected submission.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Field, e.Reason)
}

func (e ValidationError) Unwrap() error { return ErrValidation }
