package audioio

import (
	"sync"

	"github.com/teslashibe/go-blue/pkg/audiocodec"
)

// Framer turns device callbacks of arbitrary length and rate into fixed-size
// 16 kHz mono frames. It is safe for concurrent use but frames are only
// ordered if Write is called from one goroutine at a time.
type Framer struct {
	deviceRate int
	channels   int
	frameSize  int
	emit       func(Frame)

	mu        sync.Mutex
	resampler *Resampler
	pending   []float32
	seq       uint64
}

// NewFramer creates a framer that calls emit once per complete frame.
func NewFramer(deviceRate, channels, frameSize int, emit func(Frame)) *Framer {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	if channels <= 0 {
		channels = 1
	}
	return &Framer{
		deviceRate: deviceRate,
		channels:   channels,
		frameSize:  frameSize,
		emit:       emit,
		resampler:  NewResampler(deviceRate, audiocodec.InputSampleRate),
		pending:    make([]float32, 0, frameSize*2),
	}
}

// Write feeds interleaved device samples and emits every frame that becomes
// complete. It returns the number of frames emitted.
func (f *Framer) Write(samples []float32) int {
	mono := DownmixToMono(samples, f.channels)

	f.mu.Lock()
	f.pending = append(f.pending, f.resampler.Process(mono)...)
	var frames []Frame
	for len(f.pending) >= f.frameSize {
		chunk := f.pending[:f.frameSize]
		frames = append(frames, Frame{
			Seq:        f.seq,
			Data:       audiocodec.EncodeFrame(chunk),
			Samples:    f.frameSize,
			SampleRate: audiocodec.InputSampleRate,
			Channels:   1,
			Format:     FormatPCM16LE,
			Level:      RMS(chunk),
		})
		f.seq++
		f.pending = append(f.pending[:0], f.pending[f.frameSize:]...)
	}
	f.mu.Unlock()

	for _, fr := range frames {
		f.emit(fr)
	}
	return len(frames)
}

// Pending returns the number of buffered samples not yet framed.
func (f *Framer) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}
