package state

import (
	"errors"
	"fmt"
)

// Sentinel errors for rejected updates.
var (
	// ErrUnknownFeature is returned when an update names a feature
	// outside the fixed feature set. State is left unchanged.
	ErrUnknownFeature = errors.New("state: unknown feature")

	// ErrUnknownField is returned when a status update carries a field
	// the state model does not define. No part of the update is applied.
	ErrUnknownField = errors.New("state: unknown field")

	// ErrBadFieldValue is returned when a status field has a value of
	// the wrong type. No part of the update is applied.
	ErrBadFieldValue = errors.New("state: bad field value")
)

// FieldError wraps a rejection with the offending field name.
type FieldError struct {
	Field string
	Err   error
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Field)
}

// Unwrap returns the underlying sentinel.
func (e *FieldError) Unwrap() error {
	return e.Err
}
