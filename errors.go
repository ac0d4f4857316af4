package plogwatch

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates no reply datagram arrived within the instance timeout.
	ErrTimeout = errors.New("timed out waiting for stats reply")
	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("transport error")
	// ErrDecode is matched by every *DecodeError.
	ErrDecode = errors.New("decode error")
	// ErrMissingField is matched by every *MissingFieldError.
	ErrMissingField = errors.New("missing field")

	// ErrInvalidInstance indicates the instance configuration is invalid.
	ErrInvalidInstance = errors.New("invalid instance configuration")
	// ErrInvalidCheck indicates a Check cannot be scheduled.
	ErrInvalidCheck = errors.New("invalid check")
	// ErrUnknownSchema indicates an instance names a schema that is not built in.
	ErrUnknownSchema = errors.New("unknown schema")
)

// TransportError wraps a socket-level failure. Op names the failing step, e.g. "resolve",
// "listen", "write" or "read".
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (*TransportError) Is(target error) bool { return target == ErrTransport }

// DecodeError indicates the reply body is not a well-formed JSON document.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode stats reply: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports whether target is ErrDecode.
func (*DecodeError) Is(target error) bool { return target == ErrDecode }

// MissingFieldError indicates a required value is absent from the stats document, or present
// with a kind that cannot be used where it was found.
type MissingFieldError struct {
	Path string
	// Got is the kind found at Path, KindMissing when the key is absent.
	Got Kind
	// Want describes the expected shape, e.g. "number" or "array of numbers".
	Want string
}

func (e *MissingFieldError) Error() string {
	if e.Got == KindMissing {
		return fmt.Sprintf("missing field %q", e.Path)
	}
	if e.Want == "" {
		return fmt.Sprintf("field %q has unexpected kind %s", e.Path, e.Got)
	}
	return fmt.Sprintf("field %q: want %s, got %s", e.Path, e.Want, e.Got)
}

// Is reports whether target is ErrMissingField.
func (*MissingFieldError) Is(target error) bool { return target == ErrMissingField }
