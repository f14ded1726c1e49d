package voicesession

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-blue/pkg/live"
)

// Status is the externally reported session status.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusError      Status = "error"
	StatusStopped    Status = "stopped"
)

// Callbacks receive session events. Every field is optional.
//
// Callbacks of one session never run concurrently. Until Start returns they
// run on its goroutine and afterwards on the session's dispatch goroutine.
// The final status and OnError are delivered by whichever of the two owns
// the session when it ends, so they may arrive after Stop returns.
type Callbacks struct {
	OnStatusChange func(Status)

	// OnTranscriptionUpdate receives the cumulative transcripts of the
	// current turn after every delta, and once with isFinal set when the
	// turn completes.
	OnTranscriptionUpdate func(isFinal bool, userText, modelText string)

	// OnFunctionCall is notified of every tool call before it is resolved.
	OnFunctionCall func(call live.ToolCall)

	// OnError receives the error that ended a session.
	OnError func(err error)

	// Dispatch executes a tool call. Its response, or {"error": ...} on
	// failure or timeout, is returned to the model. When nil every call is
	// acknowledged with {"result": "ok"}.
	Dispatch func(ctx context.Context, call live.ToolCall) (map[string]any, error)
}

// Controller owns at most one session at a time.
type Controller struct {
	logger *slog.Logger

	mu     sync.Mutex
	cfg    Config
	sess   *session
	status Status
	last   Metrics
}

// New creates an idle controller.
func New(cfg Config) (*Controller, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		logger: cfg.Logger.With("component", "voicesession"),
		cfg:    cfg,
		status: StatusIdle,
	}, nil
}

// Reconfigure replaces the configuration. It takes effect on the next Start;
// an open session keeps its configuration.
func (c *Controller) Reconfigure(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.logger.Info("configuration updated", "model", cfg.Setup.Model, "voice", cfg.Setup.Voice)
	return nil
}

// Config returns the configuration used by the next Start.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Start opens a session. It is a no-op while another session is connecting,
// active or still tearing down. It returns once the session is active or has
// failed; a failure is also reported through OnError and StatusError.
// Cancelling ctx ends the session.
func (c *Controller) Start(ctx context.Context, cb Callbacks) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		c.logger.Debug("start ignored, session already open")
		return nil
	}
	s := newSession(ctx, c, c.cfg, cb)
	c.sess = s
	c.mu.Unlock()

	s.logger.Info("starting session", "model", s.cfg.Setup.Model, "transport", s.cfg.Transport.Name())
	c.reportIfCurrent(s, StatusConnecting)

	stop := context.AfterFunc(ctx, func() { c.finish(s, StatusStopped, nil) })
	if !s.track(func(r *resources) { r.watch = stop }) {
		stop()
		s.release()
		return nil
	}

	// On success the dispatch goroutine owns the callbacks.
	err := s.open(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, errAborted) {
		s.release()
		return nil
	}
	s.logger.Error("session failed to start", "error", err)
	c.finish(s, StatusError, err)
	s.release()
	return err
}

// Stop ends the open session, releasing the connection, microphone and
// speaker, and reports StatusStopped. It is safe to call at any time and
// more than once. A Start issued while the teardown is still running is a
// no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return
	}
	c.finish(s, StatusStopped, nil)
}

// finish tears s down and detaches it. The slot stays occupied until the
// teardown completes. Only the first caller for s has any effect.
func (c *Controller) finish(s *session, status Status, err error) {
	if !s.end(status, err) {
		return
	}
	s.teardown()

	m := s.Metrics()
	m.Status = status
	c.mu.Lock()
	c.last = m
	if c.sess == s {
		c.sess = nil
		c.status = status
	}
	c.mu.Unlock()

	s.logger.Info("session ended", "status", status)
	s.torndown()
}

// reportIfCurrent reports status for s unless s has been stopped.
func (c *Controller) reportIfCurrent(s *session, status Status) bool {
	if s.ending() {
		return false
	}
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return false
	}
	c.status = status
	c.mu.Unlock()

	s.logger.Info("status changed", "status", status)
	s.notifyStatus(status)
	return true
}

// Status returns the status of the current or last session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SessionID returns the ID of the open session, or "".
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

// Metrics returns the open session's counters, or the last session's final
// counters.
func (c *Controller) Metrics() Metrics {
	c.mu.Lock()
	s, status, last := c.sess, c.status, c.last
	c.mu.Unlock()

	if s == nil {
		return last
	}
	m := s.Metrics()
	m.Status = status
	return m
}
