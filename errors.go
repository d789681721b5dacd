package sgmailer

import (
	"errors"
	"fmt"
)

// Predefined sentinel errors for common cases.
var (
	// ErrInvalidConfiguration indicates invalid configuration.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("client closed")
)

// ConfigError reports a configuration problem detected by New or Validate.
// It matches ErrInvalidConfiguration with errors.Is.
type ConfigError struct {
	// Field is the configuration field at fault.
	Field string

	// Message describes the problem.
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration in %s: %s", e.Field, e.Message)
}

// Is implements error matching for errors.Is.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// TemplateFileError reports a local template file that could not be read.
type TemplateFileError struct {
	// Path is the template path as given by the caller.
	Path string

	// Cause is the underlying filesystem error.
	Cause error
}

// Error implements the error interface.
func (e *TemplateFileError) Error() string {
	return fmt.Sprintf("failed to read template %s: %v", e.Path, e.Cause)
}

// Unwrap returns the underlying error.
func (e *TemplateFileError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}
