// Package common defines shared constants and sentinel errors used across
// the certificate engine. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("conflict")

	ErrCertificateIDTaken    = fmt.Errorf("%w: certificate id already exists", ErrorConflict)
	ErrLiveCertificateExists = fmt.Errorf("%w: live certificate already exists for signup", ErrorConflict)

	// State machine errors.
	ErrInvalidState   = errors.New("invalid certificate state")
	ErrAlreadyRevoked = fmt.Errorf("%w: certificate already revoked", ErrInvalidState)

	// Enrollment collaborator errors.
	ErrSignupNotFound = fmt.Errorf("%w: course signup", ErrorNotFound)
	ErrNotCompleted   = errors.New("course completion not attested")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnavailable    = errors.New("feature unavailable")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
)

// ValidationError describes a single rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrorValidation }

// NewValidationError is a shorthand for &ValidationError{Field: field, Reason: reason}.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ValidationErrors aggregates several field errors reported together.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, v := range e {
		parts = append(parts, v.Field+": "+v.Reason)
	}
	return "validation error: " + strings.Join(parts, "; ")
}

func (e ValidationErrors) Unwrap() error { return ErrorValidation }

// Fields returns field -> reason for all collected errors.
func (e ValidationErrors) Fields() map[string]string {
	out := make(map[string]string, len(e))
	for _, v := range e {
		out[v.Field] = v.Reason
	}
	return out
}
