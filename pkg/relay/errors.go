package relay

import (
	"errors"
	"fmt"
	"reflect"
)

// Sentinel errors for requests.
var (
	// ErrCancelled is matched by every *CancelledError.
	ErrCancelled = errors.New("request cancelled")

	// ErrTimeout is the cause of a request whose answer did not arrive in time.
	ErrTimeout = errors.New("request timed out")

	// ErrTypeMismatch is matched by every *TypeMismatchError.
	ErrTypeMismatch = errors.New("answer type mismatch")

	// ErrClosed indicates the messenger has been closed.
	ErrClosed = errors.New("messenger closed")

	// ErrDuplicateID indicates a freshly issued id is still pending, which
	// only happens after the id space has wrapped.
	ErrDuplicateID = errors.New("correlation id already pending")
)

// Sentinel errors for handlers.
var (
	// ErrMissingArg indicates a handler asked for an argument that was not sent.
	ErrMissingArg = errors.New("missing argument")

	// ErrTooManyArgs indicates a request carried more arguments than the handler accepts.
	ErrTooManyArgs = errors.New("too many arguments")

	// ErrNilHandler indicates On was called without a handler.
	ErrNilHandler = errors.New("handler cannot be nil")
)

// CancelledError reports a request that ended without an answer.
type CancelledError struct {
	// Event is the request event name.
	Event string
	// ID is the request's correlation id.
	ID CorrelationID
	// Cause is ErrTimeout, ErrClosed, the caller's context error, or a
	// transport error when the request could not be emitted.
	Cause error
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("request %s#%s cancelled: %v", e.Event, e.ID, e.Cause)
}

// Unwrap returns the cause for errors.Is/As support.
func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrCancelled.
func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

// Timeout reports whether the request timed out.
func (e *CancelledError) Timeout() bool {
	return errors.Is(e.Cause, ErrTimeout)
}

// TypeMismatchError reports an answer that is not of the expected type.
type TypeMismatchError struct {
	// Event is the request event name.
	Event string
	// ID is the request's correlation id.
	ID CorrelationID
	// Want is the expected result type.
	Want reflect.Type
	// Got is the answer as delivered.
	Got any
	// Err is the decoding error.
	Err error
}

// Error implements the error interface.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("request %s#%s: answer %T is not a %s", e.Event, e.ID, e.Got, e.Want)
}

// Unwrap returns the decoding error.
func (e *TypeMismatchError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTypeMismatch.
func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// HandlerError wraps a handler failure with dispatch context.
type HandlerError struct {
	// Event is the inbound event name.
	Event string
	// ID is the inbound correlation id (NoResponse for publications).
	ID CorrelationID
	// Peer is the sender.
	Peer PeerID
	// Err is the error returned by the handler or built from its panic.
	Err error
	// Panicked is true when the handler panicked.
	Panicked bool
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("handler for %s#%s panicked: %v", e.Event, e.ID, e.Err)
	}
	return fmt.Sprintf("handler for %s#%s: %v", e.Event, e.ID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *HandlerError) Unwrap() error {
	return e.Err
}
