package audiocodec

import (
	"errors"
	"fmt"
)

// ErrDecode indicates a malformed audio payload.
var ErrDecode = errors.New("audiocodec: malformed audio payload")

// DecodeError describes why a chunk could not be decoded.
type DecodeError struct {
	// Length is the payload length in bytes (or characters for bad base64).
	Length int

	// Channels is the requested channel count.
	Channels int

	// Reason is a short description of the failure.
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("audiocodec: decode %d bytes (%d ch): %s: %v", e.Length, e.Channels, e.Reason, e.Cause)
	}
	return fmt.Sprintf("audiocodec: decode %d bytes (%d ch): %s", e.Length, e.Channels, e.Reason)
}

// Is matches ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.Cause
}
