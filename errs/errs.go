// Package errs carries the error taxonomy shared by every halcyon component.
//
// Errors are classified by status so the host ORM's request layer can map
// them onto its own transport (HTTP or otherwise) without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Status classifies an error for the host's request layer.
type Status int

const (
	// StatusInternal is the default for unclassified failures.
	StatusInternal Status = iota
	// StatusBadRequest marks client-input faults: malformed values,
	// malformed or ambiguous references, validation failures.
	StatusBadRequest
	// StatusNotFound marks lookups that resolved to zero documents.
	StatusNotFound
	// StatusUnsupported marks operations the engine or model
	// configuration cannot express (password queries, full-text search
	// without a search attribute).
	StatusUnsupported
	// StatusConfig marks model-mount misconfiguration. These are fatal
	// and must abort startup.
	StatusConfig
)

// Error is a classified error. It wraps an optional cause.
type Error struct {
	Status     Status
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

// Unwrap returns the underlying error for error chain compatibility.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// HTTPStatus maps the classification to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Status {
	case StatusBadRequest:
		return 400
	case StatusNotFound:
		return 404
	case StatusUnsupported:
		return 400
	default:
		return 500
	}
}

// BadRequest creates a client-input fault.
func BadRequest(format string, args ...interface{}) *Error {
	return &Error{Status: StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not-found error.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Status: StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

// Unsupported creates an unsupported-operation error.
func Unsupported(format string, args ...interface{}) *Error {
	return &Error{Status: StatusUnsupported, Message: fmt.Sprintf(format, args...)}
}

// Config creates a startup-time configuration error.
func Config(format string, args ...interface{}) *Error {
	return &Error{Status: StatusConfig, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a status classification to an existing error.
func Wrap(status Status, err error, format string, args ...interface{}) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...), Underlying: err}
}

// StatusOf returns the classification of err, or StatusInternal when the
// chain carries none.
func StatusOf(err error) Status {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return StatusInternal
}

// IsBadRequest reports whether err is classified as a client-input fault.
func IsBadRequest(err error) bool { return StatusOf(err) == StatusBadRequest }

// IsNotFound reports whether err is classified as not-found.
func IsNotFound(err error) bool { return StatusOf(err) == StatusNotFound }

// IsUnsupported reports whether err is classified as unsupported.
func IsUnsupported(err error) bool { return StatusOf(err) == StatusUnsupported }

// IsConfig reports whether err is a startup configuration error.
func IsConfig(err error) bool { return StatusOf(err) == StatusConfig }
