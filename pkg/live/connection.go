package live

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-blue/pkg/audioio"
)

// Option configures a Connection.
type Option func(*Connection)

// WithCloseTimeout bounds how long Close waits for the remote close.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.closeTimeout = d
		}
	}
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(c *Connection) {
		if n > 0 {
			c.eventBuffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Metrics contains per-connection counters.
type Metrics struct {
	FramesSent      int64 `json:"frames_sent"`
	AudioBytesSent  int64 `json:"audio_bytes_sent"`
	EventsReceived  int64 `json:"events_received"`
	ToolCalls       int64 `json:"tool_calls"`
	ToolResultsSent int64 `json:"tool_results_sent"`
}

// Connection is a single streaming session. It is used for one session and
// then discarded; terminal connections are never reopened.
type Connection struct {
	transport    Transport
	setup        Setup
	logger       *slog.Logger
	closeTimeout time.Duration
	eventBuffer  int

	mu         sync.RWMutex
	state      State
	stream     Stream
	err        error
	dialCancel context.CancelFunc

	// sendMu serializes outbound messages in call order.
	sendMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	events      chan Event
	eventsOnce  sync.Once
	recvDone    chan struct{}
	recvStarted bool
	closing     chan struct{}
	closingOnce sync.Once
	streamOnce  sync.Once

	framesSent      atomic.Int64
	audioBytesSent  atomic.Int64
	eventsReceived  atomic.Int64
	toolCalls       atomic.Int64
	toolResultsSent atomic.Int64
}

// NewConnection creates an idle connection.
func NewConnection(transport Transport, setup Setup, opts ...Option) *Connection {
	c := &Connection{
		transport:    transport,
		setup:        setup,
		logger:       slog.Default(),
		closeTimeout: DefaultCloseTimeout,
		eventBuffer:  128,
		recvDone:     make(chan struct{}),
		closing:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "live", "transport", transport.Name())
	c.events = make(chan Event, c.eventBuffer)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// State returns the current state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the error that moved the connection to StateError.
func (c *Connection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Events returns inbound events in arrival order. The channel is closed
// after the last event; a fatal error or remote close is always delivered
// as the final event.
func (c *Connection) Events() <-chan Event {
	return c.events
}

// transitionLocked moves to the given state. c.mu must be held.
func (c *Connection) transitionLocked(to State) error {
	if !CanTransition(c.state, to) {
		return &TransitionError{From: c.state, To: to}
	}
	c.logger.Debug("state change", "from", c.state, "to", to)
	c.state = to
	return nil
}

// Open performs the handshake. On success the connection is Active and
// the receive loop is running.
func (c *Connection) Open(ctx context.Context) error {
	if err := c.setup.Validate(); err != nil {
		return err
	}

	dialCtx, dialCancel := context.WithCancel(ctx)
	defer dialCancel()

	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return &TransitionError{From: state, To: StateConnecting, Op: "open"}
	}
	_ = c.transitionLocked(StateConnecting)
	c.dialCancel = dialCancel
	c.mu.Unlock()

	c.logger.Info("connecting", "model", c.setup.Model, "voice", c.setup.Voice, "tools", len(c.setup.Tools))
	start := time.Now()

	stream, err := c.transport.Dial(dialCtx, c.setup)

	c.mu.Lock()
	c.dialCancel = nil
	if c.state != StateConnecting {
		// Closed while dialing.
		c.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}
		return ErrClosed
	}
	if err != nil {
		var connErr *ConnectError
		if !errors.As(err, &connErr) {
			err = &ConnectError{Transport: c.transport.Name(), Cause: err}
		}
		c.err = err
		_ = c.transitionLocked(StateError)
		c.mu.Unlock()
		c.closeEvents()
		c.logger.Error("connect failed", "error", err)
		return err
	}
	c.stream = stream
	_ = c.transitionLocked(StateActive)
	c.recvStarted = true
	c.mu.Unlock()

	go c.recvLoop(stream)

	c.logger.Info("session active", "handshake_ms", time.Since(start).Milliseconds())
	return nil
}

func (c *Connection) recvLoop(stream Stream) {
	defer close(c.recvDone)
	defer c.closeEvents()

	for {
		events, err := stream.Recv(c.ctx)
		if err != nil {
			c.finishRecv(err)
			return
		}
		for _, ev := range events {
			c.eventsReceived.Add(1)
			if ev.Kind == EventToolCall {
				c.toolCalls.Add(int64(len(ev.ToolCalls)))
			}
			if ev.Kind == EventSessionError {
				// The endpoint reported a fatal error inside the protocol.
				ev.Err = c.fail(&TransportError{Op: "recv", Cause: ev.Err})
				c.deliver(ev)
				return
			}
			if !c.deliver(ev) {
				return
			}
		}
	}
}

// finishRecv emits the final event for a receive failure.
func (c *Connection) finishRecv(recvErr error) {
	c.mu.Lock()
	var final *Event
	switch c.state {
	case StateActive:
		if errors.Is(recvErr, io.EOF) {
			_ = c.transitionLocked(StateClosed)
			final = &Event{Kind: EventSessionClosed}
			c.logger.Info("remote closed session")
		} else {
			c.err = &TransportError{Op: "recv", Cause: recvErr}
			_ = c.transitionLocked(StateError)
			final = &Event{Kind: EventSessionError, Err: c.err}
			c.logger.Error("session failed", "error", c.err)
		}
	case StateError:
		// A send failed and closed the stream.
		final = &Event{Kind: EventSessionError, Err: c.err}
	}
	c.mu.Unlock()

	c.closeStream()
	if final != nil {
		c.deliver(*final)
	}
}

// deliver sends ev to the consumer, giving up once Close has begun.
func (c *Connection) deliver(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.closing:
		return false
	}
}

// fail moves an active connection to StateError and closes the stream. The
// receive loop then reports the error as the final event.
func (c *Connection) fail(err error) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return err
	}
	c.err = err
	_ = c.transitionLocked(StateError)
	c.mu.Unlock()

	c.logger.Error("session failed", "error", err)
	c.closeStream()
	return err
}

// SendAudio streams one frame. Frames are sent in call order.
func (c *Connection) SendAudio(frame audioio.Frame) error {
	stream, err := c.activeStream()
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	err = stream.SendAudio(c.ctx, frame)
	c.sendMu.Unlock()

	if err != nil {
		return c.fail(&TransportError{Op: "send_audio", Cause: err})
	}
	c.framesSent.Add(1)
	c.audioBytesSent.Add(int64(frame.Samples * frame.Channels * 2))
	return nil
}

// SendToolResult returns results for received tool calls.
func (c *Connection) SendToolResult(results ...ToolResult) error {
	if len(results) == 0 {
		return nil
	}
	stream, err := c.activeStream()
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	err = stream.SendToolResponse(c.ctx, results)
	c.sendMu.Unlock()

	if err != nil {
		return c.fail(&TransportError{Op: "send_tool_response", Cause: err})
	}
	c.toolResultsSent.Add(int64(len(results)))
	return nil
}

func (c *Connection) activeStream() (Stream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateActive {
		return nil, ErrNotActive
	}
	return c.stream, nil
}

// Close ends the session. From Active it closes the stream and waits for
// the receive loop up to the close timeout or ctx. A stream that fails to
// close leaves the connection in StateError and the error is returned.
// Close is idempotent and valid in every state.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		_ = c.transitionLocked(StateClosed)
		c.mu.Unlock()
		c.shutdown()
		return nil
	case StateConnecting:
		_ = c.transitionLocked(StateClosed)
		if c.dialCancel != nil {
			c.dialCancel()
		}
		c.mu.Unlock()
		c.shutdown()
		return nil
	case StateActive:
		_ = c.transitionLocked(StateClosing)
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.shutdown()
		return nil
	}

	c.logger.Info("closing session")
	c.closingOnce.Do(func() { close(c.closing) })
	closeErr := c.closeStream()

	timer := time.NewTimer(c.closeTimeout)
	defer timer.Stop()
	select {
	case <-c.recvDone:
	case <-timer.C:
		c.logger.Warn("close timed out", "timeout", c.closeTimeout)
	case <-ctx.Done():
	}

	c.mu.Lock()
	if c.state == StateClosing {
		if closeErr != nil {
			c.err = &TransportError{Op: "close", Cause: closeErr}
			_ = c.transitionLocked(StateError)
		} else {
			_ = c.transitionLocked(StateClosed)
		}
	}
	err := c.err
	state := c.state
	c.mu.Unlock()

	c.shutdown()
	c.logger.Info("session closed",
		"frames_sent", c.framesSent.Load(),
		"events_received", c.eventsReceived.Load(),
	)
	if state == StateError {
		return err
	}
	return nil
}

func (c *Connection) shutdown() {
	c.closingOnce.Do(func() { close(c.closing) })
	c.cancel()
	c.closeStream()

	c.mu.RLock()
	started := c.recvStarted
	c.mu.RUnlock()
	if !started {
		c.closeEvents()
	}
}

// closeStream closes the stream once. Only the call that closes it gets
// the stream's error.
func (c *Connection) closeStream() error {
	c.mu.RLock()
	stream := c.stream
	c.mu.RUnlock()
	if stream == nil {
		return nil
	}
	var err error
	c.streamOnce.Do(func() {
		if err = stream.Close(); err != nil {
			c.logger.Debug("stream close", "error", err)
		}
	})
	return err
}

func (c *Connection) closeEvents() {
	c.eventsOnce.Do(func() { close(c.events) })
}

// Metrics returns connection counters.
func (c *Connection) Metrics() Metrics {
	return Metrics{
		FramesSent:      c.framesSent.Load(),
		AudioBytesSent:  c.audioBytesSent.Load(),
		EventsReceived:  c.eventsReceived.Load(),
		ToolCalls:       c.toolCalls.Load(),
		ToolResultsSent: c.toolResultsSent.Load(),
	}
}
