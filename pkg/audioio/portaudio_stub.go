//go:build !portaudio

package audioio

import (
	"fmt"
	"log/slog"
)

const portaudioAvailable = false

// newPortAudioCapture returns an error when built without the portaudio tag.
func newPortAudioCapture(cfg Config, logger *slog.Logger) (Capture, error) {
	return nil, fmt.Errorf("portaudio capture: %w (build with -tags portaudio)", ErrBackendUnavailable)
}

// newPortAudioSink returns an error when built without the portaudio tag.
func newPortAudioSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return nil, fmt.Errorf("portaudio sink: %w (build with -tags portaudio)", ErrBackendUnavailable)
}
