package voicesession

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-blue/pkg/audioio"
	"github.com/teslashibe/go-blue/pkg/live"
	"github.com/teslashibe/go-blue/pkg/playback"
)

// DefaultToolTimeout bounds one Dispatch call.
const DefaultToolTimeout = 10 * time.Second

// Output is a session-scoped playback device.
type Output interface {
	playback.Output
	Close() error
}

// OutputFactory opens the playback device for one session. clock is the
// session's playback clock.
type OutputFactory func(ctx context.Context, clock playback.Clock) (Output, error)

// SinkOutput returns an OutputFactory that drains into a new sink from
// newSink for each session.
func SinkOutput(newSink func() (audioio.Sink, error), logger *slog.Logger) OutputFactory {
	return func(ctx context.Context, clock playback.Clock) (Output, error) {
		sink, err := newSink()
		if err != nil {
			return nil, fmt.Errorf("opening output: %w", err)
		}
		out := playback.NewDeviceOutput(sink, clock, logger)
		if err := out.Start(ctx); err != nil {
			_ = sink.Close()
			return nil, fmt.Errorf("starting output: %w", err)
		}
		return out, nil
	}
}

// Config holds everything a session needs.
type Config struct {
	// Transport dials the live endpoint.
	Transport live.Transport

	// Setup is sent in the handshake.
	Setup live.Setup

	// Capture is the microphone.
	Capture audioio.Capture

	// NewOutput opens the speaker.
	NewOutput OutputFactory

	// NewClock creates the playback clock. Default: playback.NewWallClock.
	NewClock func() playback.Clock

	// ToolTimeout bounds Callbacks.Dispatch. Default: 10s.
	ToolTimeout time.Duration

	// CloseTimeout bounds how long Stop waits for the remote close.
	// Default: 2s.
	CloseTimeout time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.NewClock == nil {
		c.NewClock = func() playback.Clock { return playback.NewWallClock() }
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = live.DefaultCloseTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Transport == nil {
		return ErrNoTransport
	}
	if c.Capture == nil {
		return ErrNoCapture
	}
	if c.NewOutput == nil {
		return ErrNoOutput
	}
	return c.Setup.Validate()
}
