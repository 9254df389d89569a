// Package storage holds what the object store and ledger backends share:
// flat string configuration, its parsing helpers and errors, and the
// generic backend registry.
package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig matches every *ConfigError under errors.Is.
var ErrInvalidConfig = errors.New("invalid backend configuration")

// ConfigError reports a backend configuration value that is missing or
// does not parse.
type ConfigError struct {
	Backend string
	Field   string
	Value   string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	parts := make([]string, 0, 3)
	if e.Backend != "" {
		parts = append(parts, e.Backend)
	}
	switch {
	case e.Field != "" && e.Value != "":
		parts = append(parts, fmt.Sprintf("%s=%q", e.Field, e.Value))
	case e.Field != "":
		parts = append(parts, e.Field)
	}
	return strings.Join(append(parts, e.Message), ": ")
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// Is reports true for ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// NewConfigError reports a bad or missing field.
func NewConfigError(backend, field, message string) *ConfigError {
	return &ConfigError{Backend: backend, Field: field, Message: message}
}

// NewConfigErrorWithValue also records the offending value.
func NewConfigErrorWithValue(backend, field, value, message string) *ConfigError {
	e := NewConfigError(backend, field, message)
	e.Value = value
	return e
}

// NewConfigErrorWithCause also records the underlying error.
func NewConfigErrorWithCause(backend, field, message string, cause error) *ConfigError {
	e := NewConfigError(backend, field, message)
	e.Cause = cause
	return e
}
