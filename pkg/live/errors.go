package live

import (
	"errors"
	"fmt"
)

// Sentinel errors for the live package.
var (
	// ErrConnect indicates the handshake with the endpoint failed.
	ErrConnect = errors.New("live: connect failed")

	// ErrTransport indicates the stream failed while active.
	ErrTransport = errors.New("live: transport failed")

	// ErrInvalidState indicates an operation not allowed in the current state.
	ErrInvalidState = errors.New("live: invalid state")

	// ErrNotActive indicates a send on a connection that is not active.
	ErrNotActive = errors.New("live: connection not active")

	// ErrClosed indicates the connection was closed while the operation ran.
	ErrClosed = errors.New("live: connection closed")

	// ErrMissingAPIKey indicates no credentials were configured.
	ErrMissingAPIKey = errors.New("live: API key or token source is required")
)

// TransitionError reports a rejected state transition.
type TransitionError struct {
	From State
	To   State
	Op   string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("live: %s not allowed in state %s", e.Op, e.From)
	}
	return fmt.Sprintf("live: invalid transition %s -> %s", e.From, e.To)
}

// Is matches ErrInvalidState.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidState
}

// ConnectError represents a failed handshake: network, auth or setup.
type ConnectError struct {
	// Transport is the transport name.
	Transport string

	// StatusCode is the HTTP status of a rejected upgrade, if any.
	StatusCode int

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("live: connect %s (HTTP %d): %v", e.Transport, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("live: connect %s: %v", e.Transport, e.Cause)
}

// Is matches ErrConnect.
func (e *ConnectError) Is(target error) bool {
	return target == ErrConnect
}

// Unwrap returns the underlying cause.
func (e *ConnectError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true for rate limits and server-side failures.
// The engine itself never retries; this is advice for the caller.
func (e *ConnectError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// TransportError represents a stream failure after the session was active.
type TransportError struct {
	// Op is the failed operation ("recv", "send_audio", "send_tool_response").
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("live: transport %s: %v", e.Op, e.Cause)
}

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ServerError is an error reported by the endpoint inside the protocol.
type ServerError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("live: server error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("live: server error: %s", e.Message)
}

// Error checking helpers.

// IsRetryable returns true if a new session attempt may succeed.
func IsRetryable(err error) bool {
	var connErr *ConnectError
	if errors.As(err, &connErr) {
		return connErr.IsRetryable()
	}
	return false
}

// IsConnectError returns true if err is a handshake failure.
func IsConnectError(err error) bool {
	return errors.Is(err, ErrConnect)
}

// IsTransportError returns true if err is a failure of an active stream.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}
