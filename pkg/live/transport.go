package live

import (
	"context"

	"github.com/teslashibe/go-blue/pkg/audioio"
)

// Transport dials a streaming endpoint.
type Transport interface {
	// Dial connects, sends setup and returns once the endpoint has accepted
	// it. Failures are returned as *ConnectError.
	Dial(ctx context.Context, setup Setup) (Stream, error)

	// Name returns the transport name (e.g., "gemini-ws", "genai").
	Name() string
}

// Stream is one open protocol session.
type Stream interface {
	// SendAudio sends one captured frame.
	SendAudio(ctx context.Context, frame audioio.Frame) error

	// SendToolResponse sends results for previously received tool calls.
	SendToolResponse(ctx context.Context, results []ToolResult) error

	// Recv blocks for the next protocol message and returns the events it
	// decodes to, possibly none. It returns io.EOF when the endpoint
	// closed the stream normally.
	Recv(ctx context.Context) ([]Event, error)

	// Close closes the stream. It is safe to call more than once and
	// unblocks a pending Recv.
	Close() error
}
