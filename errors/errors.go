/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common sentinel errors
var (
	// ErrTransport is matched by every failed remote call
	ErrTransport = errors.New("transport failure")

	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")
)

// TransportError describes a failed remote call: network error, non-2xx status
// or a malformed response. Status is 0 when no HTTP-like status applies.
type TransportError struct {
	Op      string
	Path    string
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s %s failed with status %d: %s", e.Op, e.Path, e.Status, msg)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Op, e.Path, msg)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports ErrTransport for every transport error, and ErrNotFound for a
// remote 404 so callers can branch on either.
func (e *TransportError) Is(target error) bool {
	if target == ErrTransport {
		return true
	}
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// NotFoundError represents an error when a record is not found
type NotFoundError struct {
	Type string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %q not found", e.Type, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ValidationError represents an input validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Helper functions for creating errors

// NewTransportError creates a new TransportError
func NewTransportError(op, path string, status int, message string) error {
	return &TransportError{Op: op, Path: path, Status: status, Message: message}
}

// WrapTransport turns any error returned by a transport into a *TransportError.
// Errors that already are transport errors are returned as is.
func WrapTransport(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	status := 0
	if errors.Is(err, ErrNotFound) {
		status = http.StatusNotFound
	}
	return &TransportError{Op: op, Path: path, Status: status, Err: err}
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(entityType, key string) error {
	return &NotFoundError{Type: entityType, Key: key}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsTransport checks if an error is a transport failure
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// StatusOf returns the status carried by a transport error, or 0.
func StatusOf(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}
