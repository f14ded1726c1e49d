//go:build portaudio

package audioio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const portaudioAvailable = true

// PortAudioCapture captures the microphone through PortAudio.
type PortAudioCapture struct {
	cfg    Config
	logger *slog.Logger
}

func newPortAudioCapture(cfg Config, logger *slog.Logger) (Capture, error) {
	return &PortAudioCapture{
		cfg:    cfg,
		logger: logger.With("component", "audioio.portaudio"),
	}, nil
}

// Start opens the input stream and begins delivering frames.
func (p *PortAudioCapture) Start(ctx context.Context, onFrame func(Frame)) (*Handle, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w: %v", ErrPermissionDenied, err)
	}

	// Device callbacks are copied onto a channel so the PortAudio thread
	// never waits on encoding.
	chunks := make(chan []float32, 32)
	stopCh := make(chan struct{})
	var overruns func()

	callback := func(in []float32) {
		buf := make([]float32, len(in))
		copy(buf, in)
		select {
		case chunks <- buf:
		default:
			if overruns != nil {
				overruns()
			}
		}
	}

	stream, err := p.openInput(callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open microphone: %w: %v", ErrPermissionDenied, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start microphone: %w: %v", ErrPermissionDenied, err)
	}

	var wg sync.WaitGroup
	h := newHandle("portaudio", func() error {
		close(stopCh)
		var firstErr error
		if err := stream.Stop(); err != nil {
			firstErr = err
		}
		if err := stream.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		wg.Wait()
		if err := portaudio.Terminate(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.logger.Info("microphone released")
		return firstErr
	})
	overruns = func() { h.overruns.Add(1) }

	framer := NewFramer(p.cfg.SampleRate, p.cfg.Channels, p.cfg.FrameSize, h.deliver(onFrame))

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				go func() { _ = h.Release() }()
				return
			case <-stopCh:
				return
			case buf := <-chunks:
				h.samplesCaptured.Add(int64(len(buf)))
				framer.Write(buf)
			}
		}
	}()

	p.logger.Info("microphone acquired",
		"device", p.deviceName(),
		"sample_rate", p.cfg.SampleRate,
		"channels", p.cfg.Channels,
	)

	return h, nil
}

func (p *PortAudioCapture) openInput(callback func([]float32)) (*portaudio.Stream, error) {
	frames := p.cfg.BufferSize()
	if p.cfg.Device == "" {
		return portaudio.OpenDefaultStream(p.cfg.Channels, 0, float64(p.cfg.SampleRate), frames, callback)
	}
	dev, err := findDevice(p.cfg.Device, true)
	if err != nil {
		return nil, err
	}
	params := portaudio.HighLatencyParameters(dev, nil)
	params.Input.Channels = p.cfg.Channels
	params.SampleRate = float64(p.cfg.SampleRate)
	params.FramesPerBuffer = frames
	return portaudio.OpenStream(params, callback)
}

func (p *PortAudioCapture) deviceName() string {
	if p.cfg.Device == "" {
		return "default"
	}
	return p.cfg.Device
}

// Stop releases the microphone.
func (p *PortAudioCapture) Stop(h *Handle) error {
	return h.Release()
}

// Name returns "portaudio".
func (p *PortAudioCapture) Name() string {
	return "portaudio"
}

// PortAudioSink plays audio through PortAudio using a blocking stream.
type PortAudioSink struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []float32
	closed bool
}

func newPortAudioSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return &PortAudioSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.portaudio_sink"),
	}, nil
}

// Start opens the output device.
func (s *PortAudioSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.stream != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}

	s.buf = make([]float32, s.cfg.BufferSize()*s.cfg.Channels)

	var (
		stream *portaudio.Stream
		err    error
	)
	if s.cfg.Device == "" {
		stream, err = portaudio.OpenDefaultStream(0, s.cfg.Channels, float64(s.cfg.SampleRate), s.cfg.BufferSize(), s.buf)
	} else {
		var dev *portaudio.DeviceInfo
		dev, err = findDevice(s.cfg.Device, false)
		if err == nil {
			params := portaudio.HighLatencyParameters(nil, dev)
			params.Output.Channels = s.cfg.Channels
			params.SampleRate = float64(s.cfg.SampleRate)
			params.FramesPerBuffer = s.cfg.BufferSize()
			stream, err = portaudio.OpenStream(params, s.buf)
		}
	}
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("open speaker: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("start speaker: %w", err)
	}

	s.stream = stream
	s.logger.Info("speaker opened", "sample_rate", s.cfg.SampleRate)
	return nil
}

// Write blocks until the device has accepted every sample. A trailing
// partial buffer is padded with silence.
func (s *PortAudioSink) Write(ctx context.Context, samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.stream == nil {
		return ErrClosed
	}

	for len(samples) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(s.buf, samples)
		for i := n; i < len(s.buf); i++ {
			s.buf[i] = 0
		}
		samples = samples[n:]
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("write speaker: %w", err)
		}
	}
	return nil
}

// Clear aborts buffered output.
func (s *PortAudioSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	if err := s.stream.Abort(); err != nil {
		return err
	}
	return s.stream.Start()
}

// Config returns the audio configuration.
func (s *PortAudioSink) Config() Config {
	return s.cfg
}

// Name returns "portaudio".
func (s *PortAudioSink) Name() string {
	return "portaudio"
}

// Close releases the device.
func (s *PortAudioSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.stream == nil {
		return nil
	}

	var firstErr error
	if err := s.stream.Stop(); err != nil {
		firstErr = err
	}
	if err := s.stream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.stream = nil
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.logger.Info("speaker closed")
	return firstErr
}

func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name != name {
			continue
		}
		if input && d.MaxInputChannels > 0 {
			return d, nil
		}
		if !input && d.MaxOutputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("audio device %q not found", name)
}
