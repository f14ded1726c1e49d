package audioio

import "errors"

var (
	// ErrPermissionDenied indicates the microphone could not be acquired:
	// access was refused, no device exists, or the host forbids capture.
	ErrPermissionDenied = errors.New("audioio: microphone permission denied")

	// ErrClosed indicates the device was already closed.
	ErrClosed = errors.New("audioio: device closed")

	// ErrBackendUnavailable indicates the backend was not compiled in.
	ErrBackendUnavailable = errors.New("audioio: backend not available")
)

// IsPermissionDenied reports whether err is a microphone acquisition failure.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
