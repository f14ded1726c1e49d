package audioio

import (
	"context"
	"sync"
	"sync/atomic"
)

// Capture acquires a microphone and emits fixed-size frames.
type Capture interface {
	// Start acquires the microphone and invokes onFrame once per frame for
	// the lifetime of the capture, on the backend's own goroutine.
	// Returns ErrPermissionDenied if the device cannot be acquired.
	Start(ctx context.Context, onFrame func(Frame)) (*Handle, error)

	// Stop disconnects the pipeline and releases the microphone.
	// It is safe to call Stop multiple times and with a nil handle.
	Stop(h *Handle) error

	// Name returns the backend name (e.g., "portaudio", "mock").
	Name() string
}

// CaptureStats contains statistics about a capture.
type CaptureStats struct {
	// FramesEmitted is the total number of frames delivered.
	FramesEmitted int64 `json:"frames_emitted"`

	// SamplesCaptured is the total number of device samples read.
	SamplesCaptured int64 `json:"samples_captured"`

	// Overruns is the number of device reads that lost audio.
	Overruns int64 `json:"overruns"`

	// Running indicates if the capture is live.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// Handle is an acquired microphone. Releasing it is idempotent.
type Handle struct {
	backend string
	release func() error

	once     sync.Once
	released atomic.Bool
	err      error

	framesEmitted   atomic.Int64
	samplesCaptured atomic.Int64
	overruns        atomic.Int64
}

func newHandle(backend string, release func() error) *Handle {
	return &Handle{backend: backend, release: release}
}

// Release releases the microphone exactly once and returns the first
// release error on every call.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.released.Store(true)
		if h.release != nil {
			h.err = h.release()
		}
	})
	return h.err
}

// Released reports whether the microphone has been released.
func (h *Handle) Released() bool {
	return h == nil || h.released.Load()
}

// Stats returns capture statistics.
func (h *Handle) Stats() CaptureStats {
	if h == nil {
		return CaptureStats{}
	}
	return CaptureStats{
		FramesEmitted:   h.framesEmitted.Load(),
		SamplesCaptured: h.samplesCaptured.Load(),
		Overruns:        h.overruns.Load(),
		Running:         !h.Released(),
		Backend:         h.backend,
	}
}

// deliver wraps onFrame so that frames stop once the handle is released and
// emitted frames are counted.
func (h *Handle) deliver(onFrame func(Frame)) func(Frame) {
	return func(f Frame) {
		if h.Released() {
			return
		}
		h.framesEmitted.Add(1)
		onFrame(f)
	}
}
