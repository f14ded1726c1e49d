package audioio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockCapture is a mock microphone for testing.
// It generates synthetic audio (silence or sine wave) at the real cadence,
// or, in manual mode, emits only what the test pushes.
type MockCapture struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	active *Handle
	framer *Framer
	phase  float64

	acquisitions atomic.Int64
	releases     atomic.Int64

	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
	manual    bool
	denyErr   error
}

// MockCaptureOption configures a MockCapture.
type MockCaptureOption func(*MockCapture)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockCaptureOption {
	return func(m *MockCapture) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithManualFrames disables the generator; audio only arrives via Push.
func WithManualFrames() MockCaptureOption {
	return func(m *MockCapture) {
		m.manual = true
	}
}

// WithPermissionDenied makes every Start fail as if the user declined.
func WithPermissionDenied() MockCaptureOption {
	return func(m *MockCapture) {
		m.denyErr = ErrPermissionDenied
	}
}

// NewMockCapture creates a new mock microphone.
func NewMockCapture(cfg Config, logger *slog.Logger, opts ...MockCaptureOption) *MockCapture {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockCapture{
		cfg:       cfg,
		logger:    logger.With("component", "audioio.mock"),
		amplitude: 0.5,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start acquires the mock microphone.
func (m *MockCapture) Start(ctx context.Context, onFrame func(Frame)) (*Handle, error) {
	if m.denyErr != nil {
		return nil, fmt.Errorf("mock capture: %w", m.denyErr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && !m.active.Released() {
		return nil, fmt.Errorf("mock capture: microphone already in use")
	}

	stopCh := make(chan struct{})
	var h *Handle
	h = newHandle("mock", func() error {
		m.mu.Lock()
		close(stopCh)
		if m.active == h {
			m.framer = nil
		}
		m.mu.Unlock()
		m.releases.Add(1)
		m.logger.Info("mock microphone released")
		return nil
	})

	m.acquisitions.Add(1)
	m.active = h
	m.framer = NewFramer(m.cfg.SampleRate, m.cfg.Channels, m.cfg.FrameSize, h.deliver(onFrame))

	if !m.manual {
		go m.generateLoop(ctx, h, m.framer, stopCh)
	}

	m.logger.Info("mock microphone acquired",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
		"manual", m.manual,
	)

	return h, nil
}

func (m *MockCapture) generateLoop(ctx context.Context, h *Handle, framer *Framer, stopCh chan struct{}) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = h.Release()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			samples := m.generateChunk()
			h.samplesCaptured.Add(int64(len(samples)))
			framer.Write(samples)
		}
	}
}

func (m *MockCapture) generateChunk() []float32 {
	bufferSize := m.cfg.BufferSize()
	samples := make([]float32, bufferSize*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < bufferSize; i++ {
			sample := float32(m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = sample
			}

			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return samples
}

// Push feeds device samples into the active capture, as if the device had
// delivered them. It returns the number of frames emitted, 0 when no
// capture is active.
func (m *MockCapture) Push(samples []float32) int {
	m.mu.Lock()
	h, framer := m.active, m.framer
	m.mu.Unlock()

	if h == nil || h.Released() || framer == nil {
		return 0
	}
	h.samplesCaptured.Add(int64(len(samples)))
	return framer.Write(samples)
}

// Stop releases the microphone.
func (m *MockCapture) Stop(h *Handle) error {
	return h.Release()
}

// Name returns "mock".
func (m *MockCapture) Name() string {
	return "mock"
}

// Acquisitions returns how many times the microphone was acquired.
func (m *MockCapture) Acquisitions() int64 {
	return m.acquisitions.Load()
}

// Releases returns how many times the microphone was released.
func (m *MockCapture) Releases() int64 {
	return m.releases.Load()
}

// InUse reports whether a capture is holding the microphone.
func (m *MockCapture) InUse() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && !m.active.Released()
}

var _ Capture = (*MockCapture)(nil)

// MockSink is a mock audio sink for testing.
// It records written audio in memory.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	written []float32
	clears  int

	writes         atomic.Int64
	samplesWritten atomic.Int64
	closes         atomic.Int64
}

// NewMockSink creates a new mock audio sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &MockSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.mock_sink"),
	}
}

// Start begins accepting audio.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.running = true
	m.logger.Debug("mock audio sink started")

	return nil
}

// Write records samples.
func (m *MockSink) Write(ctx context.Context, samples []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.running {
		return ErrClosed
	}

	m.written = append(m.written, samples...)
	m.writes.Add(1)
	m.samplesWritten.Add(int64(len(samples)))

	return nil
}

// Clear counts the interruption.
func (m *MockSink) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	return nil
}

// Clears returns how many times Clear was called.
func (m *MockSink) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// Written returns a copy of everything written so far.
func (m *MockSink) Written() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float32, len(m.written))
	copy(out, m.written)
	return out
}

// Closes returns how many times Close released the device.
func (m *MockSink) Closes() int64 {
	return m.closes.Load()
}

// Config returns the audio configuration.
func (m *MockSink) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.running = false
	m.closes.Add(1)
	return nil
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
	m.mu.Lock()
	running, clears := m.running, m.clears
	m.mu.Unlock()

	return SinkStats{
		WritesTotal:    m.writes.Load(),
		SamplesWritten: m.samplesWritten.Load(),
		Clears:         int64(clears),
		Running:        running,
		Backend:        "mock",
	}
}

var _ SinkWithStats = (*MockSink)(nil)
