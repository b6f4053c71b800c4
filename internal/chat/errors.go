// ABOUTME: Error taxonomy shared by backends, caches and the IRC session
// ABOUTME: Sentinel errors plus typed request and connection failures

package chat

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a user, channel or file does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotConnected is returned when an operation needs a live backend connection.
var ErrNotConnected = errors.New("not connected")

// ErrUnsupported is returned by backends that cannot perform an operation.
var ErrUnsupported = errors.New("operation not supported by backend")

// RequestError reports a non-success response from a backend API call.
type RequestError struct {
	Method string
	Reason string
}

func (e *RequestError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: request failed", e.Method)
	}
	return fmt.Sprintf("%s: %s", e.Method, e.Reason)
}

// ConnectionError wraps a transport failure. It never reaches a session.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NotFoundf returns an error wrapping ErrNotFound with a formatted description.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}
