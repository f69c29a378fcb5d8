package bus

import (
	"errors"
	"fmt"
)

// Common error variables for bus-level failures.
var (
	// ErrTransport indicates the call could not be issued or dispatched on
	// the bus at all.
	ErrTransport = errors.New("bus transport failure")

	// ErrTimeout indicates no reply arrived within the allowed budget.
	ErrTimeout = errors.New("bus call timed out")

	// ErrParse indicates a payload that is not a valid JSON object.
	ErrParse = errors.New("payload is not a JSON object")

	// ErrSchema indicates a payload that failed schema validation.
	ErrSchema = errors.New("payload failed schema validation")

	// ErrPolicy indicates an operation a plugin is not allowed to perform,
	// such as registering a method owned by another plugin.
	ErrPolicy = errors.New("operation violates plugin policy")

	// ErrFirstResponse indicates a subscription whose acknowledgement was
	// missing, unparseable or negative.
	ErrFirstResponse = errors.New("subscription rejected by first response")
)

// Error is a detailed bus error carrying the operation and target URL.
type Error struct {
	// Op names the gateway operation that failed.
	Op string

	// URL is the bus address involved, when known.
	URL string

	// Message describes the failure.
	Message string

	// Err is the underlying error kind, one of the sentinels above or a
	// transport-level error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("bus %s %s: %s: %v", e.Op, e.URL, e.Message, e.Err)
	}
	return fmt.Sprintf("bus %s: %s: %v", e.Op, e.Message, e.Err)
}

// Unwrap returns the underlying error for errors.Is chains.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, url, message string, err error) *Error {
	return &Error{Op: op, URL: url, Message: message, Err: err}
}
