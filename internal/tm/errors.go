package tm

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownStore is returned when no configured store has the requested id.
	ErrUnknownStore = errors.New("unknown tm store")
	// ErrAccessDenied is returned when a store's access mode forbids an operation.
	ErrAccessDenied = errors.New("tm store access denied")
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// ConfigError describes a store configuration problem detected before any I/O.
type ConfigError struct {
	Store  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("tm store %s: %s", e.Store, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ValidationError represents a validation error with a field name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// WrapError wraps an error with additional context.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
