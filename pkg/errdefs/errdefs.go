// Package errdefs defines the domain error taxonomy shared by the identity,
// account, session and invitation services.
//
// Every error a service hands back to the HTTP boundary is one of the kinds
// below. Raw storage errors (sql.ErrNoRows, driver constraint violations) are
// translated at the store layer and never escape. Broken internal invariants
// (an account without an owner) are programmer errors and panic instead.
package errdefs

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Services wrap these with a human-readable reason via the
// constructors below; callers match with the Is* helpers.
var (
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidState        = errors.New("invalid state")
	ErrPreconditionFailed  = errors.New("precondition failed")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrTokenInvalid        = errors.New("link invalid or expired")
	ErrNotFound            = errors.New("not found")
)

// ValidationError is a field-attributable input error. The caller can fix the
// input and resubmit.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for a single field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Validationf builds a ValidationError with a formatted reason.
func Validationf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Forbidden builds an authorization denial with a reason. Never retried.
func Forbidden(reason string) error {
	return fmt.Errorf("%w: %s", ErrForbidden, reason)
}

// InvalidState marks a state transition attempted from a state that already
// satisfies (or can never satisfy) the target.
func InvalidState(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, reason)
}

// PreconditionFailed marks a transition blocked by current data, with a
// reason the user can act on ("remove other members first").
func PreconditionFailed(reason string) error {
	return fmt.Errorf("%w: %s", ErrPreconditionFailed, reason)
}

// ConstraintViolation marks a uniqueness conflict surfaced by the store.
func ConstraintViolation(reason string) error {
	return fmt.Errorf("%w: %s", ErrConstraintViolation, reason)
}

// NotFound marks a missing record.
func NotFound(what string) error {
	return fmt.Errorf("%s %w", what, ErrNotFound)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AsValidation returns the wrapped ValidationError, or nil.
func AsValidation(err error) *ValidationError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return nil
}

func IsForbidden(err error) bool          { return errors.Is(err, ErrForbidden) }
func IsInvalidState(err error) bool       { return errors.Is(err, ErrInvalidState) }
func IsPreconditionFailed(err error) bool { return errors.Is(err, ErrPreconditionFailed) }
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrConstraintViolation)
}
func IsTokenInvalid(err error) bool { return errors.Is(err, ErrTokenInvalid) }
func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
