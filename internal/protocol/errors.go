package protocol

import (
	"errors"
	"fmt"
	"io"
)

// FramingError reports a buffer capacity or format violation. The message
// being read or written is lost and the error is never retried.
type FramingError struct {
	Op  string
	Msg string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error during %s: %s", e.Op, e.Msg)
}

// ConnectionError reports a peer that closed the connection or a failure of
// the underlying transport.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if errors.Is(e.Err, io.EOF) || errors.Is(e.Err, io.ErrUnexpectedEOF) {
		return fmt.Sprintf("connection error during %s: connection closed by peer", e.Op)
	}
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a message that does not follow the wire format, such
// as an unknown tag byte or trailing bytes after a datagram message.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Message
}

// ValidationError reports a field value outside its declared range. It
// unwraps to a *ProtocolError.
type ValidationError struct {
	Field string
	Value uint64
	cause *ProtocolError
}

func newValidationError(field string, value uint64) *ValidationError {
	return &ValidationError{
		Field: field,
		Value: value,
		cause: &ProtocolError{Message: fmt.Sprintf("invalid %s value %d", field, value)},
	}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s has out-of-range value %d", e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return e.cause
}

func invalidTag(family string, tag uint8) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf("unknown %s tag 0x%02X", family, tag)}
}

// Kind returns a short label for err used in logs and metrics.
func Kind(err error) string {
	var (
		ve *ValidationError
		pe *ProtocolError
		fe *FramingError
		ce *ConnectionError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &pe):
		return "protocol"
	case errors.As(err, &fe):
		return "framing"
	case errors.As(err, &ce):
		return "connection"
	default:
		return "other"
	}
}
