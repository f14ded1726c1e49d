// Package livetest provides an in-memory live.Transport for tests.
package livetest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-blue/pkg/audioio"
	"github.com/teslashibe/go-blue/pkg/live"
)

// Transport is a fake endpoint. Every Dial creates a new Stream that tests
// drive with Push, Fail and Hangup.
type Transport struct {
	mu      sync.Mutex
	dialErr error
	gate    chan struct{}
	setups  []live.Setup
	streams []*Stream
	dialed  chan *Stream
}

// New creates a fake transport that accepts every dial.
func New() *Transport {
	return &Transport{dialed: make(chan *Stream, 16)}
}

// Name returns "fake".
func (t *Transport) Name() string {
	return "fake"
}

// FailDial makes subsequent dials fail with err. A nil err restores success.
func (t *Transport) FailDial(err error) {
	t.mu.Lock()
	t.dialErr = err
	t.mu.Unlock()
}

// HoldDial makes subsequent dials block until the returned release func is
// called or the dial context ends.
func (t *Transport) HoldDial() (release func()) {
	gate := make(chan struct{})
	t.mu.Lock()
	t.gate = gate
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			if t.gate == gate {
				t.gate = nil
			}
			t.mu.Unlock()
			close(gate)
		})
	}
}

// Dial records the setup and returns a new stream.
func (t *Transport) Dial(ctx context.Context, setup live.Setup) (live.Stream, error) {
	t.mu.Lock()
	t.setups = append(t.setups, setup)
	gate, dialErr := t.gate, t.dialErr
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &live.ConnectError{Transport: t.Name(), Cause: ctx.Err()}
		}
	}
	if dialErr != nil {
		return nil, dialErr
	}

	s := newStream()
	t.mu.Lock()
	t.streams = append(t.streams, s)
	t.mu.Unlock()

	select {
	case t.dialed <- s:
	default:
	}
	return s, nil
}

// Dialed receives each stream as it is created.
func (t *Transport) Dialed() <-chan *Stream {
	return t.dialed
}

// Dials returns how many times Dial was called.
func (t *Transport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.setups)
}

// Setups returns every setup passed to Dial.
func (t *Transport) Setups() []live.Setup {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]live.Setup, len(t.setups))
	copy(out, t.setups)
	return out
}

// Last returns the most recent stream, or nil.
func (t *Transport) Last() *Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.streams) == 0 {
		return nil
	}
	return t.streams[len(t.streams)-1]
}

// Streams returns every stream created so far.
func (t *Transport) Streams() []*Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Stream, len(t.streams))
	copy(out, t.streams)
	return out
}

type item struct {
	events []live.Event
	err    error
}

// Stream is one fake session.
type Stream struct {
	in      chan item
	closeCh chan struct{}
	once    sync.Once

	mu      sync.Mutex
	frames  []audioio.Frame
	results []live.ToolResult
	sendErr error
	closes  int

	closeDelay time.Duration
	closeErr   error
}

func newStream() *Stream {
	return &Stream{
		in:      make(chan item, 256),
		closeCh: make(chan struct{}),
	}
}

// Push queues events as if decoded from one server message.
func (s *Stream) Push(events ...live.Event) {
	s.in <- item{events: events}
}

// Fail makes the next Recv return err.
func (s *Stream) Fail(err error) {
	s.in <- item{err: err}
}

// Hangup makes the next Recv report a normal remote close.
func (s *Stream) Hangup() {
	s.in <- item{err: io.EOF}
}

// FailSends makes every subsequent send return err.
func (s *Stream) FailSends(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

// SlowClose makes Close take d to return, as a peer that is slow to
// acknowledge the close frame would.
func (s *Stream) SlowClose(d time.Duration) {
	s.mu.Lock()
	s.closeDelay = d
	s.mu.Unlock()
}

// FailClose makes Close return err.
func (s *Stream) FailClose(err error) {
	s.mu.Lock()
	s.closeErr = err
	s.mu.Unlock()
}

// SendAudio records the frame.
func (s *Stream) SendAudio(ctx context.Context, frame audioio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	if s.isClosed() {
		return io.ErrClosedPipe
	}
	s.frames = append(s.frames, frame)
	return nil
}

// SendToolResponse records the results.
func (s *Stream) SendToolResponse(ctx context.Context, results []live.ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	if s.isClosed() {
		return io.ErrClosedPipe
	}
	s.results = append(s.results, results...)
	return nil
}

// Recv returns pushed events in order.
func (s *Stream) Recv(ctx context.Context) ([]live.Event, error) {
	select {
	case it := <-s.in:
		return it.events, it.err
	case <-s.closeCh:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closes++
	delay, err := s.closeDelay, s.closeErr
	s.mu.Unlock()
	s.once.Do(func() { close(s.closeCh) })
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (s *Stream) isClosed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	return s.isClosed()
}

// Frames returns every frame sent so far.
func (s *Stream) Frames() []audioio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audioio.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Results returns every tool result sent so far.
func (s *Stream) Results() []live.ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]live.ToolResult, len(s.results))
	copy(out, s.results)
	return out
}

// Call builds a tool call with a random ID.
func Call(name string, args map[string]any) live.ToolCall {
	return live.ToolCall{ID: uuid.NewString(), Name: name, Args: args}
}

var (
	_ live.Transport = (*Transport)(nil)
	_ live.Stream    = (*Stream)(nil)
)
