// Package errors defines the structured error returned at Relay's edges:
// configuration, connections, publishing and waiting on handed-off events.
package errors

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeConfig     = "CONFIG"
	CodeConnection = "CONNECTION"
	CodePublish    = "PUBLISH"
	CodeTimeout    = "TIMEOUT"
	CodeProcessing = "PROCESSING"
)

var (
	// ErrInvalidConfig indicates that a configuration was rejected
	ErrInvalidConfig = &Error{Code: CodeConfig, Message: "invalid configuration"}

	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = &Error{Code: CodeConnection, Message: "not connected to NATS"}

	// ErrPublishFailed indicates that a message could not be published
	ErrPublishFailed = &Error{Code: CodePublish, Message: "publish failed"}

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = &Error{Code: CodeTimeout, Message: "operation timed out"}

	// ErrProcessing indicates that an event could not be processed
	ErrProcessing = &Error{Code: CodeProcessing, Message: "processing failed"}
)

// Error represents a structured SDK error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, ErrTimeout)
// holds for every timeout regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new SDK error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
