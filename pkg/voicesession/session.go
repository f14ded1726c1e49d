package voicesession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/teslashibe/go-blue/pkg/audiocodec"
	"github.com/teslashibe/go-blue/pkg/audioio"
	"github.com/teslashibe/go-blue/pkg/live"
	"github.com/teslashibe/go-blue/pkg/playback"
)

// errAborted reports that Stop won the race against a starting session.
var errAborted = errors.New("voicesession: start aborted")

// resources lists everything a session has acquired. Teardown releases each
// non-nil entry once.
type resources struct {
	output  Output
	clock   playback.Clock
	sched   *playback.Scheduler
	capture *audioio.Handle
	conn    *live.Connection
	watch   func() bool
}

// outcome is how a session ended.
type outcome struct {
	status Status
	err    error
}

// session is one open connection and the devices it holds.
type session struct {
	id      string
	ctrl    *Controller
	cfg     Config
	cb      Callbacks
	logger  *slog.Logger
	metrics *metricsCollector

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	res    resources
	closed bool
	final  Metrics

	// owned is set while Start's goroutine or the dispatch goroutine may
	// still run callbacks. The final report waits until it is cleared and
	// the teardown has completed.
	owned    bool
	outcome  *outcome
	settled  bool
	reported bool

	streaming    atomic.Bool
	teardownOnce sync.Once

	// Owned by the dispatch goroutine.
	user  string
	model string
}

func newSession(ctx context.Context, ctrl *Controller, cfg Config, cb Callbacks) *session {
	id := uuid.NewString()
	s := &session{
		id:      id,
		ctrl:    ctrl,
		cfg:     cfg,
		cb:      cb,
		logger:  ctrl.logger.With("session", id),
		metrics: newMetricsCollector(),
		owned:   true,
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	return s
}

// track records acquired resources. It returns false once the session has
// been torn down; the caller then releases what it acquired.
func (s *session) track(fn func(*resources)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	fn(&s.res)
	return true
}

func (s *session) held() resources {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res
}

// open acquires the speaker and microphone, then performs the handshake.
func (s *session) open(ctx context.Context) error {
	clock := s.cfg.NewClock()
	out, err := s.cfg.NewOutput(s.ctx, clock)
	if err != nil {
		return err
	}
	sched := playback.NewScheduler(clock, out, s.logger)
	if !s.track(func(r *resources) { r.output, r.clock, r.sched = out, clock, sched }) {
		sched.Close()
		_ = out.Close()
		return errAborted
	}

	h, err := s.cfg.Capture.Start(s.ctx, s.onFrame)
	if err != nil {
		return fmt.Errorf("acquiring microphone: %w", err)
	}
	if !s.track(func(r *resources) { r.capture = h }) {
		_ = s.cfg.Capture.Stop(h)
		return errAborted
	}

	conn := live.NewConnection(s.cfg.Transport, s.cfg.Setup,
		live.WithCloseTimeout(s.cfg.CloseTimeout),
		live.WithLogger(s.logger),
	)
	if !s.track(func(r *resources) { r.conn = conn }) {
		return errAborted
	}
	if err := conn.Open(ctx); err != nil {
		if errors.Is(err, live.ErrClosed) {
			return errAborted
		}
		return err
	}

	if !s.ctrl.reportIfCurrent(s, StatusActive) {
		return errAborted
	}
	s.streaming.Store(true)
	go s.dispatch(conn.Events())
	return nil
}

// onFrame runs on the capture goroutine. Frames captured before the
// connection is active are dropped.
func (s *session) onFrame(f audioio.Frame) {
	if !s.streaming.Load() {
		return
	}
	conn := s.held().conn
	if conn == nil {
		return
	}
	if err := conn.SendAudio(f); err != nil && !errors.Is(err, live.ErrNotActive) {
		s.logger.Debug("send audio failed", "seq", f.Seq, "error", err)
	}
}

// end records how s ended. It reports false if s had already ended.
func (s *session) end(status Status, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome != nil {
		return false
	}
	s.outcome = &outcome{status: status, err: err}
	return true
}

func (s *session) ending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome != nil
}

// release gives up callback ownership. It is called once, by the goroutine
// that owns the callbacks, when it will run no more of them.
func (s *session) release() {
	s.mu.Lock()
	s.owned = false
	o := s.takeReportLocked()
	s.mu.Unlock()
	s.report(o)
}

// torndown marks the teardown complete.
func (s *session) torndown() {
	s.mu.Lock()
	s.settled = true
	o := s.takeReportLocked()
	s.mu.Unlock()
	s.report(o)
}

func (s *session) takeReportLocked() *outcome {
	if s.owned || !s.settled || s.reported {
		return nil
	}
	s.reported = true
	return s.outcome
}

func (s *session) report(o *outcome) {
	if o == nil {
		return
	}
	if o.err != nil && s.cb.OnError != nil {
		s.safe("OnError", func() { s.cb.OnError(o.err) })
	}
	s.notifyStatus(o.status)
}

// teardown releases every resource exactly once.
func (s *session) teardown() {
	s.teardownOnce.Do(func() {
		s.streaming.Store(false)

		s.mu.Lock()
		s.closed = true
		res := s.res
		s.res = resources{}
		s.mu.Unlock()

		if res.watch != nil {
			res.watch()
		}
		if res.conn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
			if err := res.conn.Close(ctx); err != nil {
				s.logger.Warn("closing connection", "error", err)
			}
			cancel()
		}
		if res.capture != nil {
			if err := s.cfg.Capture.Stop(res.capture); err != nil {
				s.logger.Warn("releasing microphone", "error", err)
			}
		}
		if res.sched != nil {
			res.sched.Close()
		}
		if res.output != nil {
			if err := res.output.Close(); err != nil {
				s.logger.Warn("closing output", "error", err)
			}
		}
		s.cancel()

		final := s.snapshot(res)
		s.mu.Lock()
		s.final = final
		s.mu.Unlock()

		s.logger.Info("session torn down",
			"frames_sent", final.Connection.FramesSent,
			"chunks_dropped", final.ChunksDropped,
			"turns", final.Turns,
		)
	})
}

func (s *session) snapshot(res resources) Metrics {
	m := Metrics{SessionID: s.id}
	if res.conn != nil {
		m.Connection = res.conn.Metrics()
	}
	if res.sched != nil {
		m.Playback = res.sched.Stats()
	}
	m.Capture = res.capture.Stats()
	s.metrics.fill(&m)
	return m
}

// Metrics returns live counters, or the final counters after teardown.
func (s *session) Metrics() Metrics {
	s.mu.Lock()
	if s.closed {
		m := s.final
		s.mu.Unlock()
		return m
	}
	res := s.res
	s.mu.Unlock()
	return s.snapshot(res)
}

// dispatch consumes events in arrival order until the final event. It owns
// the session's callbacks until it returns.
func (s *session) dispatch(events <-chan live.Event) {
	defer s.release()
	for ev := range events {
		if s.ctx.Err() != nil {
			return
		}
		if !s.handle(ev) {
			return
		}
	}
	// Closed without a final event.
	s.ctrl.finish(s, StatusStopped, nil)
}

func (s *session) handle(ev live.Event) bool {
	switch ev.Kind {
	case live.EventSetupComplete:
		s.logger.Debug("setup complete")

	case live.EventAudioChunk:
		s.play(ev)

	case live.EventInputTranscript:
		s.metrics.markUserText()
		s.user += ev.Text
		s.transcript(false)

	case live.EventOutputTranscript:
		s.metrics.markModelText()
		s.model += ev.Text
		s.transcript(false)

	case live.EventTurnComplete:
		s.transcript(true)
		s.user, s.model = "", ""
		s.metrics.markTurnComplete()

	case live.EventToolCall:
		s.metrics.markToolCalls(len(ev.ToolCalls))
		for _, call := range ev.ToolCalls {
			s.toolCall(call)
		}

	case live.EventInterrupted:
		s.metrics.interrupt()
		if sched := s.held().sched; sched != nil {
			n := sched.CancelAll()
			s.logger.Debug("barge-in", "cancelled", n)
		}

	case live.EventSessionError:
		s.ctrl.finish(s, StatusError, ev.Err)
		return false

	case live.EventSessionClosed:
		s.ctrl.finish(s, StatusStopped, nil)
		return false

	default:
		s.logger.Debug("ignoring event", "kind", ev.Kind)
	}
	return true
}

// play decodes one chunk and queues it. A malformed chunk is dropped.
func (s *session) play(ev live.Event) {
	buf, err := audiocodec.DecodeChunk(ev.Audio)
	if err != nil {
		s.metrics.dropChunk()
		s.logger.Warn("dropping malformed audio chunk", "error", err, "size", len(ev.Audio))
		return
	}
	s.metrics.markAudio()

	sched := s.held().sched
	if sched == nil {
		return
	}
	if _, err := sched.Enqueue(buf, buf.Duration()); err != nil {
		s.logger.Debug("chunk not scheduled", "error", err)
	}
}

func (s *session) transcript(final bool) {
	if s.cb.OnTranscriptionUpdate == nil {
		return
	}
	user, model := s.user, s.model
	s.safe("OnTranscriptionUpdate", func() { s.cb.OnTranscriptionUpdate(final, user, model) })
}

// toolCall notifies the caller and sends exactly one result for call.
func (s *session) toolCall(call live.ToolCall) {
	s.logger.Info("tool call", "id", call.ID, "name", call.Name)

	if s.cb.OnFunctionCall != nil {
		s.safe("OnFunctionCall", func() { s.cb.OnFunctionCall(call) })
	}

	result := s.resolve(call)

	conn := s.held().conn
	if conn == nil {
		return
	}
	if err := conn.SendToolResult(result); err != nil {
		s.logger.Warn("sending tool result", "id", call.ID, "name", call.Name, "error", err)
	}
}

type dispatchOutcome struct {
	response map[string]any
	err      error
}

// resolve runs Dispatch under the tool timeout, or acknowledges the call
// when no dispatcher is set.
func (s *session) resolve(call live.ToolCall) live.ToolResult {
	if s.cb.Dispatch == nil {
		return live.AckResult(call)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ToolTimeout)
	defer cancel()

	done := make(chan dispatchOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("dispatcher panicked", "name", call.Name, "panic", r)
				done <- dispatchOutcome{err: fmt.Errorf("tool %s panicked", call.Name)}
			}
		}()
		resp, err := s.cb.Dispatch(ctx, call)
		done <- dispatchOutcome{response: resp, err: err}
	}()

	var out dispatchOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = ctx.Err()
	}
	if errors.Is(out.err, context.DeadlineExceeded) {
		out.err = ErrToolTimeout
	}

	switch {
	case out.err != nil:
		s.metrics.toolError()
		s.logger.Warn("tool failed", "id", call.ID, "name", call.Name, "error", out.err)
		return live.ErrorResult(call, out.err)
	case out.response == nil:
		return live.AckResult(call)
	default:
		return live.ToolResult{ID: call.ID, Name: call.Name, Response: out.response}
	}
}

// safe runs a caller callback. A panic is a caller bug and is only logged.
func (s *session) safe(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("callback panicked", "callback", name, "panic", r)
		}
	}()
	fn()
}

func (s *session) notifyStatus(status Status) {
	if s.cb.OnStatusChange == nil {
		return
	}
	s.safe("OnStatusChange", func() { s.cb.OnStatusChange(status) })
}
