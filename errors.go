package multinode

import (
	"errors"
	"fmt"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, discovery failures, shutdown timeouts, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// SpecFailureError represents one or more failed specs (exit code 1)
type SpecFailureError struct {
	Message string
}

func (e *SpecFailureError) Error() string {
	return fmt.Sprintf("spec failure: %s", e.Message)
}

// NewSpecFailureError creates a new SpecFailureError
func NewSpecFailureError(message string) *SpecFailureError {
	return &SpecFailureError{Message: message}
}

// IsSpecFailureError checks if the error is or wraps a SpecFailureError
func IsSpecFailureError(err error) bool {
	var specErr *SpecFailureError
	return err != nil && errors.As(err, &specErr)
}
