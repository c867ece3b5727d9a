package teamlist

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidPriority is returned for rank priorities outside [MinPriority, MaxPriority].
	ErrInvalidPriority = fmt.Errorf("%w: priority must be between %d and %d", ErrInvalidArgument, MinPriority, MaxPriority)
)

// ArgumentError describes a rejected input value.
type ArgumentError struct {
	Field  string
	Value  string
	Reason string
	// Err is the sentinel this error wraps; nil means ErrInvalidArgument.
	Err error
}

func (e *ArgumentError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ArgumentError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidArgument
}

func argError(field, value, reason string) error {
	return &ArgumentError{Field: field, Value: value, Reason: reason}
}
