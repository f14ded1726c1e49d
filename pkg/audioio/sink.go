package audioio

import (
	"context"
	"io"
)

// Sink plays model speech on a speaker. The playback scheduler owns the
// timeline; a Sink only pushes samples to the device in the order given.
type Sink interface {
	// Start opens the output device.
	Start(ctx context.Context) error

	// Write sends interleaved float32 samples, blocking until the device
	// has accepted them or ctx is done.
	Write(ctx context.Context, samples []float32) error

	// Clear drops audio already queued in the device, for barge-in.
	Clear() error

	// Config returns the output configuration.
	Config() Config

	// Name returns the backend name, "portaudio" or "mock".
	Name() string

	// Close releases the device. It is safe to call more than once.
	io.Closer
}

// SinkStats reports what a sink has played.
type SinkStats struct {
	WritesTotal    int64  `json:"writes_total"`
	SamplesWritten int64  `json:"samples_written"`
	Clears         int64  `json:"clears"`
	Running        bool   `json:"running"`
	Backend        string `json:"backend"`
}

// SinkWithStats is a Sink that reports SinkStats.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
