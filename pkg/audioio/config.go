// Package audioio provides microphone capture and speaker output for live
// voice sessions.
//
// Supported backends:
//   - PortAudio - real devices, compiled in with the "portaudio" build tag
//   - Mock - CI/testing without hardware
//
// Whatever rate the device delivers, captured audio is resampled to 16 kHz
// mono and cut into fixed-size frames before it reaches the session.
package audioio

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-blue/pkg/audiocodec"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects PortAudio when compiled in, mock otherwise.
	BackendAuto Backend = "auto"
	// BackendPortAudio uses PortAudio for cross-platform audio I/O.
	BackendPortAudio Backend = "portaudio"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// DefaultFrameSize is the number of 16 kHz samples per outbound frame.
const DefaultFrameSize = 4096

// Config holds audio device configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the device sample rate in Hz. Capture resamples from
	// this rate to 16 kHz; output devices are opened at this rate.
	// Default: 16000 for capture, 24000 for output
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of device channels. Capture downmixes to mono.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// FrameSize is the number of 16 kHz samples per emitted frame.
	// Default: 4096 (256ms)
	FrameSize int `yaml:"frame_size" json:"frame_size"`

	// BufferDuration is the device callback period.
	// Default: 20ms
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is the device name, empty for the system default.
	Device string `yaml:"device" json:"device"`
}

// DefaultCaptureConfig returns the microphone defaults.
func DefaultCaptureConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     audiocodec.InputSampleRate,
		Channels:       1,
		FrameSize:      DefaultFrameSize,
		BufferDuration: 20 * time.Millisecond,
	}
}

// DefaultOutputConfig returns the speaker defaults.
func DefaultOutputConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     audiocodec.OutputSampleRate,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.FrameSize < 0 {
		return fmt.Errorf("frame_size must not be negative, got %d", c.FrameSize)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of device samples per callback, per channel.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}
