package audioio

import (
	"fmt"
	"log/slog"
)

// NewCapture creates a microphone capture with the given configuration.
// If cfg.Backend is BackendAuto, PortAudio is used when compiled in.
func NewCapture(cfg Config, logger *slog.Logger) (Capture, error) {
	backend, logger, err := prepare("capture", cfg, logger)
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendMock:
		return NewMockCapture(cfg, logger), nil
	case BackendPortAudio:
		return newPortAudioCapture(cfg, logger)
	}
	return nil, fmt.Errorf("unsupported capture backend: %s", backend)
}

// NewSink creates a speaker sink with the given configuration.
// If cfg.Backend is BackendAuto, PortAudio is used when compiled in.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	backend, logger, err := prepare("sink", cfg, logger)
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendPortAudio:
		return newPortAudioSink(cfg, logger)
	}
	return nil, fmt.Errorf("unsupported sink backend: %s", backend)
}

// prepare validates cfg and resolves its backend.
func prepare(kind string, cfg Config, logger *slog.Logger) (Backend, *slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return "", nil, fmt.Errorf("invalid %s config: %w", kind, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := ResolveBackend(cfg.Backend)
	logger.Debug("opening audio "+kind,
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"frame_size", cfg.FrameSize,
	)
	return backend, logger, nil
}

// ResolveBackend maps BackendAuto to the best backend compiled into this
// binary.
func ResolveBackend(b Backend) Backend {
	if b != BackendAuto && b != "" {
		return b
	}
	if portaudioAvailable {
		return BackendPortAudio
	}
	return BackendMock
}
