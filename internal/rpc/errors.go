package rpc

import (
	"errors"
	"fmt"
)

// Terminal outcomes of a pending request.
var (
	// ErrConnClosed indicates the connection was torn down before the
	// request resolved.
	ErrConnClosed = errors.New("connection closed")

	// ErrTimeout indicates the request's deadline elapsed.
	ErrTimeout = errors.New("request timed out")

	// ErrCancelled indicates the request was cancelled locally.
	ErrCancelled = errors.New("request cancelled")
)

// ProtocolError reports a violation of the base protocol: a malformed
// header, an undecodable body, or a response with an unknown id.
// Fatal errors mean the byte stream can no longer be trusted and the
// connection must be torn down; non-fatal errors are scoped to a
// single frame.
type ProtocolError struct {
	Reason string
	Fatal  bool
	Err    error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}
