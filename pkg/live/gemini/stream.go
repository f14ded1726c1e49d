package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-blue/pkg/audioio"
	"github.com/teslashibe/go-blue/pkg/live"
)

type readResult struct {
	data []byte
	err  error
}

// stream is one open websocket session. A single reader goroutine pumps
// messages so Recv can honour its context.
type stream struct {
	conn       *websocket.Conn
	closeGrace time.Duration
	logger     *slog.Logger

	writeMu sync.Mutex

	reads    chan readResult
	readDone chan struct{}
	done     chan struct{}
	once     sync.Once
}

func newStream(conn *websocket.Conn, closeGrace time.Duration, logger *slog.Logger) *stream {
	s := &stream{
		conn:       conn,
		closeGrace: closeGrace,
		logger:     logger,
		reads:      make(chan readResult),
		readDone:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *stream) readLoop() {
	defer close(s.readDone)
	for {
		_, data, err := s.conn.ReadMessage()
		select {
		case s.reads <- readResult{data: data, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// SendAudio sends one realtime_input audio blob.
func (s *stream) SendAudio(ctx context.Context, frame audioio.Frame) error {
	return s.write(ctx, clientMessage{
		RealtimeInput: &realtimeInputMessage{
			Audio: &blob{MIMEType: frame.MIMEType(), Data: frame.Data},
		},
	})
}

// SendToolResponse sends function responses.
func (s *stream) SendToolResponse(ctx context.Context, results []live.ToolResult) error {
	responses := make([]functionResponse, 0, len(results))
	for _, r := range results {
		responses = append(responses, functionResponse{ID: r.ID, Name: r.Name, Response: r.Response})
	}
	return s.write(ctx, clientMessage{
		ToolResponse: &toolResponseMessage{FunctionResponses: responses},
	})
}

func (s *stream) write(ctx context.Context, msg clientMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	} else {
		_ = s.conn.SetWriteDeadline(time.Time{})
	}
	return s.conn.WriteJSON(msg)
}

// Recv returns the events of the next server message. Messages that decode
// to nothing (goAway, usage metadata, malformed JSON) yield an empty slice.
func (s *stream) Recv(ctx context.Context) ([]live.Event, error) {
	var res readResult
	select {
	case res = <-s.reads:
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if res.err != nil {
		if websocket.IsCloseError(res.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, closeCause(res.err)
	}

	events, err := decodeMessage(res.data)
	if err != nil {
		s.logger.Warn("skipping malformed server message", "error", err, "bytes", len(res.data))
		return nil, nil
	}
	return events, nil
}

// Close sends a close frame, waits briefly for the peer to answer and
// closes the socket.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		s.writeMu.Lock()
		werr := s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.closeGrace))
		s.writeMu.Unlock()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			s.logger.Debug("close frame", "error", werr)
		}

		close(s.done)

		// Wait for the peer's close so the reader sees a clean shutdown.
		select {
		case <-s.readDone:
		case <-time.After(s.closeGrace):
		}
		err = s.conn.Close()
	})
	return err
}

var _ live.Stream = (*stream)(nil)
