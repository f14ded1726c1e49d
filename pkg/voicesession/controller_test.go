package voicesession_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-blue/pkg/audiocodec"
	"github.com/teslashibe/go-blue/pkg/audioio"
	"github.com/teslashibe/go-blue/pkg/live"
	"github.com/teslashibe/go-blue/pkg/live/livetest"
	"github.com/teslashibe/go-blue/pkg/playback"
	"github.com/teslashibe/go-blue/pkg/voicesession"
)

type recordingOutput struct {
	*playback.RecordingOutput
	closes atomic.Int32
}

func (o *recordingOutput) Close() error {
	o.closes.Add(1)
	return nil
}

type harness struct {
	transport *livetest.Transport
	mic       *audioio.MockCapture
	clock     *playback.ManualClock
	cfg       voicesession.Config

	mu      sync.Mutex
	outputs []*recordingOutput
}

func newHarness(t *testing.T, micOpts ...audioio.MockCaptureOption) *harness {
	t.Helper()

	micCfg := audioio.DefaultCaptureConfig()
	micCfg.Backend = audioio.BackendMock
	opts := append([]audioio.MockCaptureOption{audioio.WithManualFrames()}, micOpts...)

	h := &harness{
		transport: livetest.New(),
		mic:       audioio.NewMockCapture(micCfg, nil, opts...),
		clock:     playback.NewManualClock(0),
	}
	h.cfg = voicesession.Config{
		Transport: h.transport,
		Setup:     live.DefaultSetup(),
		Capture:   h.mic,
		NewOutput: func(ctx context.Context, clock playback.Clock) (voicesession.Output, error) {
			out := &recordingOutput{RecordingOutput: playback.NewRecordingOutput()}
			h.mu.Lock()
			h.outputs = append(h.outputs, out)
			h.mu.Unlock()
			return out, nil
		},
		NewClock:     func() playback.Clock { return h.clock },
		CloseTimeout: 500 * time.Millisecond,
	}
	return h
}

func (h *harness) controller(t *testing.T) *voicesession.Controller {
	t.Helper()
	ctrl, err := voicesession.New(h.cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(ctrl.Stop)
	return ctrl
}

func (h *harness) output(i int) *recordingOutput {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.outputs) {
		return nil
	}
	return h.outputs[i]
}

type update struct {
	final       bool
	user, model string
}

type recorder struct {
	mu       sync.Mutex
	statuses []voicesession.Status
	updates  []update
	calls    []live.ToolCall
	errs     []error
}

func (r *recorder) callbacks() voicesession.Callbacks {
	return voicesession.Callbacks{
		OnStatusChange: func(s voicesession.Status) {
			r.mu.Lock()
			r.statuses = append(r.statuses, s)
			r.mu.Unlock()
		},
		OnTranscriptionUpdate: func(final bool, user, model string) {
			r.mu.Lock()
			r.updates = append(r.updates, update{final, user, model})
			r.mu.Unlock()
		},
		OnFunctionCall: func(call live.ToolCall) {
			r.mu.Lock()
			r.calls = append(r.calls, call)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) Statuses() []voicesession.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]voicesession.Status(nil), r.statuses...)
}

func (r *recorder) Updates() []update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]update(nil), r.updates...)
}

func (r *recorder) Calls() []live.ToolCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]live.ToolCall(nil), r.calls...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func equalStatuses(got []voicesession.Status, want ...voicesession.Status) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func chunk(samples int) string {
	return audiocodec.EncodeFrame(make([]float32, samples))
}

func TestNew_Validate(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		mutate func(*voicesession.Config)
		want   error
	}{
		{"no transport", func(c *voicesession.Config) { c.Transport = nil }, voicesession.ErrNoTransport},
		{"no capture", func(c *voicesession.Config) { c.Capture = nil }, voicesession.ErrNoCapture},
		{"no output", func(c *voicesession.Config) { c.NewOutput = nil }, voicesession.ErrNoOutput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := h.cfg
			tt.mutate(&cfg)
			if _, err := voicesession.New(cfg); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	cfg := h.cfg
	cfg.Setup.Model = ""
	if _, err := voicesession.New(cfg); err == nil {
		t.Error("Invalid setup should be rejected")
	}
}

func TestStart_ReachesActive(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)
	rec := &recorder{}

	if got := ctrl.Status(); got != voicesession.StatusIdle {
		t.Fatalf("Expected idle before start, got %s", got)
	}

	if err := ctrl.Start(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if !equalStatuses(rec.Statuses(), voicesession.StatusConnecting, voicesession.StatusActive) {
		t.Errorf("Unexpected statuses: %v", rec.Statuses())
	}
	if ctrl.Status() != voicesession.StatusActive || ctrl.SessionID() == "" {
		t.Errorf("Expected active session, got %s %q", ctrl.Status(), ctrl.SessionID())
	}
	if !h.mic.InUse() {
		t.Error("Microphone should be held while active")
	}

	// Captured audio streams to the endpoint in order.
	h.mic.Push(make([]float32, 4096*2))
	frames := h.transport.Last().Frames()
	if len(frames) != 2 || frames[0].Seq != 0 || frames[1].Seq != 1 {
		t.Fatalf("Expected 2 ordered frames, got %+v", frames)
	}

	if setup := h.transport.Setups()[0]; setup.Model != live.DefaultModel {
		t.Errorf("Unexpected setup model %q", setup.Model)
	}
}

func TestStart_NoDoubleStart(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)
	release := h.transport.HoldDial()

	first := make(chan error, 1)
	go func() { first <- ctrl.Start(context.Background(), voicesession.Callbacks{}) }()

	waitFor(t, "dial", func() bool { return h.transport.Dials() == 1 })
	if ctrl.Status() != voicesession.StatusConnecting {
		t.Fatalf("Expected connecting, got %s", ctrl.Status())
	}

	// A second Start while connecting is a no-op.
	if err := ctrl.Start(context.Background(), voicesession.Callbacks{}); err != nil {
		t.Fatalf("Second start should be a no-op: %v", err)
	}

	release()
	if err := <-first; err != nil {
		t.Fatalf("First start failed: %v", err)
	}

	// And again while active.
	if err := ctrl.Start(context.Background(), voicesession.Callbacks{}); err != nil {
		t.Fatalf("Start while active should be a no-op: %v", err)
	}

	if h.transport.Dials() != 1 {
		t.Errorf("Expected 1 dial, got %d", h.transport.Dials())
	}
	if h.mic.Acquisitions() != 1 {
		t.Errorf("Expected 1 microphone acquisition, got %d", h.mic.Acquisitions())
	}
}

func TestStop_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)
	rec := &recorder{}

	// No session: nothing happens.
	ctrl.Stop()
	if len(rec.Statuses()) != 0 || ctrl.Status() != voicesession.StatusIdle {
		t.Fatalf("Stop without a session should be silent")
	}

	if err := ctrl.Start(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream := h.transport.Last()

	ctrl.Stop()
	ctrl.Stop()

	waitFor(t, "stopped status", func() bool { return len(rec.Statuses()) == 3 })
	if !equalStatuses(rec.Statuses(), voicesession.StatusConnecting, voicesession.StatusActive, voicesession.StatusStopped) {
		t.Errorf("Unexpected statuses: %v", rec.Statuses())
	}
	if h.mic.Releases() != 1 || h.mic.InUse() {
		t.Errorf("Expected exactly one microphone release, got %d", h.mic.Releases())
	}
	if out := h.output(0); out == nil || out.closes.Load() != 1 {
		t.Error("Expected the output to be closed once")
	}
	if !stream.Closed() {
		t.Error("Stream should be closed")
	}
	if ctrl.SessionID() != "" {
		t.Error("Session should be cleared")
	}
	if len(rec.Errors()) != 0 {
		t.Errorf("Stop should not report errors: %v", rec.Errors())
	}

	// Frames arriving after teardown go nowhere.
	if n := h.mic.Push(make([]float32, 4096)); n != 0 {
		t.Errorf("Expected no frames after stop, got %d", n)
	}
}

func TestStop_WhileConnecting(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)
	rec := &recorder{}
	release := h.transport.HoldDial()
	defer release()

	done := make(chan error, 1)
	go func() { done <- ctrl.Start(context.Background(), rec.callbacks()) }()

	waitFor(t, "dial", func() bool { return h.transport.Dials() == 1 })
	ctrl.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start interrupted by Stop should return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	if !equalStatuses(rec.Statuses(), voicesession.StatusConnecting, voicesession.StatusStopped) {
		t.Errorf("Unexpected statuses: %v", rec.Statuses())
	}
	if h.mic.InUse() {
		t.Error("Microphone should be released")
	}
}

func TestStop_SlowTeardownHoldsSlot(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)
	rec := &recorder{}

	if err := ctrl.Start(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.transport.Last().SlowClose(300 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		ctrl.Stop()
		close(stopped)
	}()
	time.Sleep(50 * time.Millisecond)

	// The microphone is still held, so a new session must not start yet.
	late := &recorder{}
	if err := ctrl.Start(context.Background(), late.callbacks()); err != nil {
		t.Fatalf("Start during teardown should be a no-op, got %v", err)
	}
	if h.transport.Dials() != 1 || h.mic.Acquisitions() != 1 {
		t.Errorf("Expected no new dial or acquisition, got %d/%d", h.transport.Dials(), h.mic.Acquisitions())
	}
	if len(late.Statuses()) != 0 || len(late.Errors()) != 0 {
		t.Errorf("Ignored start should report nothing, got %v %v", late.Statuses(), late.Errors())
	}

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	waitFor(t, "stopped status", func() bool { return len(rec.Statuses()) == 3 })
	if !equalStatuses(rec.Statuses(), voicesession.StatusConnecting, voicesession.StatusActive, voicesession.StatusStopped) {
		t.Errorf("Unexpected statuses: %v", rec.Statuses())
	}
	if ctrl.Status() != voicesession.StatusStopped || h.mic.InUse() {
		t.Errorf("Expected stopped with the microphone released, got %s", ctrl.Status())
	}

	// Once the teardown completes the slot is free.
	if err := ctrl.Start(context.Background(), late.callbacks()); err != nil {
		t.Fatalf("Start after teardown failed: %v", err)
	}
	if ctrl.Status() != voicesession.StatusActive || h.transport.Dials() != 2 {
		t.Errorf("Expected a new active session, got %s after %d dials", ctrl.Status(), h.transport.Dials())
	}
}

func TestStop_FinalStatusAfterRunningCallback(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)
	rec := &recorder{}

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var inCallback, overlapped atomic.Bool

	cb := rec.callbacks()
	onStatus := cb.OnStatusChange
	cb.OnStatusChange = func(s voicesession.Status) {
		if inCallback.Load() {
			overlapped.Store(true)
		}
		onStatus(s)
	}
	cb.OnTranscriptionUpdate = func(bool, string, string) {
		inCallback.Store(true)
		close(entered)
		<-unblock
		inCallback.Store(false)
	}

	if err := ctrl.Start(context.Background(), cb); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.transport.Last().Push(live.InputTranscriptEvent("hello"))

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Transcript callback not invoked")
	}

	ctrl.Stop()
	if ctrl.Status() != voicesession.StatusStopped || h.mic.InUse() {
		t.Errorf("Stop should tear down while a callback runs, got %s", ctrl.Status())
	}
	if n := len(rec.Statuses()); n != 2 {
		t.Errorf("Final status must wait for the running callback, got %v", rec.Statuses())
	}

	close(unblock)
	waitFor(t, "stopped status", func() bool { return len(rec.Statuses()) == 3 })
	if overlapped.Load() {
		t.Error("Status callback overlapped the transcript callback")
	}
	if got := rec.Statuses()[2]; got != voicesession.StatusStopped {
		t.Errorf("Expected stopped, got %s", got)
	}
}

func TestTranscript_FlushAtomicity(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)
	rec := &recorder{}

	if err := ctrl.Start(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream := h.transport.Last()

	stream.Push(live.InputTranscriptEvent("ol"))
	stream.Push(live.InputTranscriptEvent("á"))
	stream.Push(live.OutputTranscriptEvent("hi"), live.Event{Kind: live.EventTurnComplete})
	stream.Push(live.InputTranscriptEvent("x"))

	want := []update{
		{false, "ol", ""},
		{false, "olá", ""},
		{false, "olá", "hi"},
		{true, "olá", "hi"},
		{false, "x", ""},
	}
	waitFor(t, "transcript updates", func() bool { return len(rec.Updates()) == len(want) })

	got := rec.Updates()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Update %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}

	finals := 0
	for _, u := range got {
		if u.final {
			finals++
		}
	}
	if finals != 1 {
		t.Errorf("Expected exactly one final update, got %d", finals)
	}
}

func TestToolCall_Acknowledged(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)
	rec := &recorder{}

	if err := ctrl.Start(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream := h.transport.Last()

	a := livetest.Call("switchTab", map[string]any{"tabName": "Email"})
	b := livetest.Call("goBack", nil)
	stream.Push(live.ToolCallEvent(a, b))

	waitFor(t, "tool results", func() bool { return len(stream.Results()) == 2 })

	calls := rec.Calls()
	if len(calls) != 2 || calls[0].ID != a.ID || calls[1].ID != b.ID {
		t.Fatalf("Expected both calls notified in order, got %+v", calls)
	}
	for i, res := range stream.Results() {
		if res.ID != calls[i].ID || res.Name != calls[i].Name {
			t.Errorf("Result %d does not match its call: %+v", i, res)
		}
		if res.Response["result"] != "ok" {
			t.Errorf("Expected ok acknowledgement, got %v", res.Response)
		}
	}
}

func TestToolCall_Dispatch(t *testing.T) {
	h := newHarness(t)
	h.cfg.ToolTimeout = 50 * time.Millisecond
	ctrl := h.controller(t)
	rec := &recorder{}

	cb := rec.callbacks()
	cb.Dispatch = func(ctx context.Context, call live.ToolCall) (map[string]any, error) {
		switch call.Name {
		case "searchYouTube":
			return map[string]any{"videos": 3}, nil
		case "sendEmail":
			return nil, errors.New("smtp unavailable")
		case "createProject":
			<-ctx.Done()
			return nil, ctx.Err()
		case "closeAction":
			panic("boom")
		}
		return nil, nil
	}

	if err := ctrl.Start(context.Background(), cb); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream := h.transport.Last()

	stream.Push(live.ToolCallEvent(
		livetest.Call("searchYouTube", map[string]any{"query": "go"}),
		livetest.Call("sendEmail", nil),
		livetest.Call("createProject", nil),
		livetest.Call("closeAction", nil),
		livetest.Call("goBack", nil),
	))

	waitFor(t, "tool results", func() bool { return len(stream.Results()) == 5 })
	results := stream.Results()

	if results[0].Response["videos"] != 3 {
		t.Errorf("Expected dispatcher response, got %v", results[0].Response)
	}
	if results[1].Response["error"] != "smtp unavailable" {
		t.Errorf("Expected dispatcher error, got %v", results[1].Response)
	}
	if results[2].Response["error"] != voicesession.ErrToolTimeout.Error() {
		t.Errorf("Expected timeout error, got %v", results[2].Response)
	}
	if _, ok := results[3].Response["error"]; !ok {
		t.Errorf("Expected panic to be reported as an error, got %v", results[3].Response)
	}
	if results[4].Response["result"] != "ok" {
		t.Errorf("Expected nil response to be acknowledged, got %v", results[4].Response)
	}

	if len(rec.Calls()) != 5 {
		t.Errorf("Expected every call notified, got %d", len(rec.Calls()))
	}
	if m := ctrl.Metrics(); m.ToolErrors != 3 {
		t.Errorf("Expected 3 tool errors, got %d", m.ToolErrors)
	}
	if ctrl.Status() != voicesession.StatusActive {
		t.Errorf("Tool failures should not end the session, got %s", ctrl.Status())
	}
}

func TestAudio_GaplessAndMalformedIsolation(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)

	if err := ctrl.Start(context.Background(), voicesession.Callbacks{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream := h.transport.Last()

	out := h.output(0)

	stream.Push(live.AudioEvent(chunk(2400), audiocodec.OutputMIMEType))
	waitFor(t, "first chunk", func() bool { return len(out.Voices()) == 1 })
	h.clock.Advance(0.03)

	// Three bytes: not a whole number of samples.
	stream.Push(live.AudioEvent("AAAA", audiocodec.OutputMIMEType))
	waitFor(t, "dropped chunk", func() bool { return ctrl.Metrics().ChunksDropped == 1 })
	h.clock.Advance(0.03)

	stream.Push(live.AudioEvent(chunk(4800), audiocodec.OutputMIMEType))
	stream.Push(live.AudioEvent(chunk(2400), audiocodec.OutputMIMEType))

	waitFor(t, "scheduled chunks", func() bool { return len(out.Voices()) == 3 })

	voices := out.Voices()
	want := []float64{0, 0.1, 0.3}
	for i, v := range voices {
		if math.Abs(v.At-want[i]) > 1e-9 {
			t.Errorf("Chunk %d: expected start %.3f, got %.3f", i, want[i], v.At)
		}
	}

	m := ctrl.Metrics()
	if m.ChunksDropped != 1 {
		t.Errorf("Expected 1 dropped chunk, got %d", m.ChunksDropped)
	}
	if m.Playback.Scheduled != 3 {
		t.Errorf("Expected 3 scheduled chunks, got %d", m.Playback.Scheduled)
	}
	if ctrl.Status() != voicesession.StatusActive {
		t.Errorf("A malformed chunk should not end the session, got %s", ctrl.Status())
	}
}

func TestInterrupted_CancelsPlayback(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)

	if err := ctrl.Start(context.Background(), voicesession.Callbacks{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream := h.transport.Last()
	out := h.output(0)

	stream.Push(
		live.AudioEvent(chunk(2400), ""),
		live.AudioEvent(chunk(2400), ""),
	)
	waitFor(t, "scheduled chunks", func() bool { return len(out.Voices()) == 2 })

	h.clock.Set(0.05)
	stream.Push(live.Event{Kind: live.EventInterrupted})
	waitFor(t, "barge-in", func() bool { return ctrl.Metrics().Interruptions == 1 })

	for i, v := range out.Voices() {
		if !v.Stopped() {
			t.Errorf("Voice %d should be stopped", i)
		}
	}

	// The next response starts at the clock, not after the cancelled audio.
	stream.Push(live.AudioEvent(chunk(2400), ""))
	waitFor(t, "post barge-in chunk", func() bool { return len(out.Voices()) == 3 })
	if at := out.Voices()[2].At; math.Abs(at-0.05) > 1e-9 {
		t.Errorf("Expected next chunk at 0.05, got %.3f", at)
	}
}

func TestTransportError_TeardownAndRestart(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)
	rec := &recorder{}

	if err := ctrl.Start(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.transport.Last().Fail(errors.New("network down"))

	waitFor(t, "error status", func() bool { return len(rec.Statuses()) == 3 })
	if ctrl.Status() != voicesession.StatusError {
		t.Errorf("Expected error status, got %s", ctrl.Status())
	}

	errs := rec.Errors()
	if len(errs) != 1 {
		t.Fatalf("Expected OnError exactly once, got %d", len(errs))
	}
	if !errors.Is(errs[0], live.ErrTransport) {
		t.Errorf("Expected a transport error, got %v", errs[0])
	}
	if !equalStatuses(rec.Statuses(), voicesession.StatusConnecting, voicesession.StatusActive, voicesession.StatusError) {
		t.Errorf("Unexpected statuses: %v", rec.Statuses())
	}
	if h.mic.InUse() || h.mic.Releases() != 1 {
		t.Errorf("Microphone should be released once, got %d", h.mic.Releases())
	}
	if h.output(0).closes.Load() != 1 {
		t.Error("Output should be closed")
	}
	if ctrl.SessionID() != "" {
		t.Error("Session should be cleared after teardown")
	}

	// Stop after the failure reports nothing new.
	ctrl.Stop()
	if len(rec.Statuses()) != 3 {
		t.Errorf("Stop after teardown should be silent, got %v", rec.Statuses())
	}

	rec2 := &recorder{}
	if err := ctrl.Start(context.Background(), rec2.callbacks()); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if ctrl.Status() != voicesession.StatusActive {
		t.Fatalf("Expected active after restart, got %s", ctrl.Status())
	}
	if h.transport.Dials() != 2 || h.mic.Acquisitions() != 2 {
		t.Errorf("Expected a fresh dial and acquisition, got %d/%d", h.transport.Dials(), h.mic.Acquisitions())
	}
	h.mic.Push(make([]float32, 4096))
	if n := len(h.transport.Last().Frames()); n != 1 {
		t.Errorf("Expected audio on the new stream, got %d frames", n)
	}
	if len(rec.Errors()) != 1 {
		t.Error("The failed session should not receive more callbacks")
	}
}

func TestRemoteClose_Stopped(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)
	rec := &recorder{}

	if err := ctrl.Start(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.transport.Last().Hangup()

	waitFor(t, "stopped status", func() bool { return ctrl.Status() == voicesession.StatusStopped })
	if len(rec.Errors()) != 0 {
		t.Errorf("Remote close is not an error: %v", rec.Errors())
	}
	if h.mic.InUse() {
		t.Error("Microphone should be released")
	}
}

func TestStart_PermissionDenied(t *testing.T) {
	h := newHarness(t, audioio.WithPermissionDenied())
	ctrl := h.controller(t)
	rec := &recorder{}

	err := ctrl.Start(context.Background(), rec.callbacks())
	if !audioio.IsPermissionDenied(err) {
		t.Fatalf("Expected permission denied, got %v", err)
	}

	if !equalStatuses(rec.Statuses(), voicesession.StatusConnecting, voicesession.StatusError) {
		t.Errorf("Session must never reach active, got %v", rec.Statuses())
	}
	if errs := rec.Errors(); len(errs) != 1 || !audioio.IsPermissionDenied(errs[0]) {
		t.Errorf("Expected OnError with permission denied, got %v", errs)
	}
	if h.transport.Dials() != 0 {
		t.Errorf("No connection should be attempted, got %d dials", h.transport.Dials())
	}
	if h.output(0).closes.Load() != 1 {
		t.Error("Output should be released on failure")
	}
}

func TestStart_ConnectFailure(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)
	rec := &recorder{}
	h.transport.FailDial(errors.New("handshake refused"))

	err := ctrl.Start(context.Background(), rec.callbacks())
	if !errors.Is(err, live.ErrConnect) {
		t.Fatalf("Expected connect error, got %v", err)
	}
	if ctrl.Status() != voicesession.StatusError {
		t.Errorf("Expected error status, got %s", ctrl.Status())
	}
	if h.mic.InUse() {
		t.Error("Microphone should be released")
	}
	if len(rec.Errors()) != 1 {
		t.Errorf("Expected OnError once, got %d", len(rec.Errors()))
	}

	h.transport.FailDial(nil)
	if err := ctrl.Start(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
}

func TestCallbackPanic_Recovered(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)

	cb := voicesession.Callbacks{
		OnTranscriptionUpdate: func(bool, string, string) { panic("caller bug") },
		OnFunctionCall:        func(live.ToolCall) { panic("caller bug") },
	}
	if err := ctrl.Start(context.Background(), cb); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream := h.transport.Last()

	stream.Push(live.InputTranscriptEvent("hello"))
	stream.Push(live.ToolCallEvent(livetest.Call("goBack", nil)))

	waitFor(t, "tool result", func() bool { return len(stream.Results()) == 1 })
	if ctrl.Status() != voicesession.StatusActive {
		t.Errorf("A panicking callback should not end the session, got %s", ctrl.Status())
	}
}

func TestContextCancel_Stops(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	if err := ctrl.Start(ctx, rec.callbacks()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	waitFor(t, "stopped status", func() bool { return ctrl.Status() == voicesession.StatusStopped })
	if h.mic.InUse() {
		t.Error("Microphone should be released")
	}
	if !h.transport.Last().Closed() {
		t.Error("Stream should be closed")
	}
}

func TestReconfigure_AppliesOnNextStart(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)

	if err := ctrl.Start(context.Background(), voicesession.Callbacks{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	cfg := ctrl.Config()
	cfg.Setup.Voice = "Puck"
	if err := ctrl.Reconfigure(cfg); err != nil {
		t.Fatalf("Reconfigure failed: %v", err)
	}

	bad := cfg
	bad.Transport = nil
	if err := ctrl.Reconfigure(bad); !errors.Is(err, voicesession.ErrNoTransport) {
		t.Errorf("Expected invalid config to be rejected, got %v", err)
	}

	ctrl.Stop()
	if err := ctrl.Start(context.Background(), voicesession.Callbacks{}); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}

	setups := h.transport.Setups()
	if len(setups) != 2 || setups[0].Voice != live.DefaultVoice || setups[1].Voice != "Puck" {
		t.Errorf("Expected new voice on the next session only, got %+v", setups)
	}
}

func TestMetrics(t *testing.T) {
	h := newHarness(t)
	ctrl := h.controller(t)

	if err := ctrl.Start(context.Background(), voicesession.Callbacks{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id := ctrl.SessionID()
	stream := h.transport.Last()

	h.mic.Push(make([]float32, 4096))
	stream.Push(
		live.InputTranscriptEvent("hi"),
		live.OutputTranscriptEvent("hello"),
		live.AudioEvent(chunk(240), ""),
		live.Event{Kind: live.EventTurnComplete},
	)
	waitFor(t, "turn", func() bool { return ctrl.Metrics().Turns == 1 })

	m := ctrl.Metrics()
	if m.SessionID != id || m.Status != voicesession.StatusActive {
		t.Errorf("Unexpected identity: %s %s", m.SessionID, m.Status)
	}
	if m.Connection.FramesSent != 1 || m.Capture.FramesEmitted != 1 {
		t.Errorf("Expected 1 frame sent, got %+v", m.Connection)
	}
	if m.LastTurn.AudioChunks != 1 {
		t.Errorf("Expected 1 audio chunk in the turn, got %d", m.LastTurn.AudioChunks)
	}

	ctrl.Stop()
	final := ctrl.Metrics()
	if final.SessionID != id || final.Status != voicesession.StatusStopped || final.Turns != 1 {
		t.Errorf("Expected final metrics of the stopped session, got %+v", final)
	}
}
