package domain

import (
	"errors"
	"fmt"
)

// Error kinds per spec.md §7. Each is a distinct sentinel so callers can
// errors.Is/errors.As at the callback/command boundary; pkg/control
// translates these into a stable kind tag for the out-of-scope shell.
var (
	// ErrInvalidInput: caller supplied malformed or out-of-range data.
	// Rejected at the command boundary; never propagates further.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound: referenced entity doesn't exist in the current tenant scope.
	ErrNotFound = errors.New("not found")

	// ErrConflict: state-machine violation (e.g. book an already-booked slot).
	ErrConflict = errors.New("conflict")

	// ErrConsentDenied: a required consent is missing or withdrawn. The
	// calling workflow silently skips the target and logs a consent-miss event.
	ErrConsentDenied = errors.New("consent denied")

	// ErrTransientExternal: network, 5xx, rate-limit. Retried by the state
	// machine or workflow with exponential-style backoff up to a configured max.
	ErrTransientExternal = errors.New("transient external failure")

	// ErrPermanentExternal: 4xx excluding rate limits, auth failures,
	// permanently invalid phone/email. No retry; mark terminal failed.
	ErrPermanentExternal = errors.New("permanent external failure")

	// ErrCancelled: operator or system requested stop. Never retried.
	ErrCancelled = errors.New("cancelled")

	// ErrCorruption: audit checksum mismatch. Surfaced loudly; the chain is
	// never "fixed" automatically.
	ErrCorruption = errors.New("audit chain corruption")
)

// NotFoundError identifies which entity kind/id was missing, wrapping
// ErrNotFound so errors.Is(err, ErrNotFound) still succeeds.
type NotFoundError struct {
	Kind string // "task", "campaign", "call", "appointment", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Kind, e.ID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError builds a NotFoundError for the given entity kind/id.
func NewNotFoundError(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConflictError describes a state-machine violation, wrapping ErrConflict.
type ConflictError struct {
	Kind   string // "slot", "call", ...
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q: %s: %v", e.Kind, e.ID, e.Reason, ErrConflict)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflictError builds a ConflictError.
func NewConflictError(kind, id, reason string) error {
	return &ConflictError{Kind: kind, ID: id, Reason: reason}
}

// InvalidInputError describes a malformed or out-of-range caller input,
// wrapping ErrInvalidInput.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("field %q: %s: %v", e.Field, e.Reason, ErrInvalidInput)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// NewInvalidInputError builds an InvalidInputError.
func NewInvalidInputError(field, reason string) error {
	return &InvalidInputError{Field: field, Reason: reason}
}
