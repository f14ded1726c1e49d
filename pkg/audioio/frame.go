package audioio

import (
	"strconv"
	"time"

	"github.com/teslashibe/go-blue/pkg/audiocodec"
)

// SampleFormat names the wire sample encoding.
type SampleFormat string

// FormatPCM16LE is signed 16-bit little-endian PCM.
const FormatPCM16LE SampleFormat = "pcm16le"

// Frame is one fixed-size unit of captured, encoded outbound audio.
// Frames are immutable once emitted.
type Frame struct {
	// Seq is the capture order, starting at 0 for each capture.
	Seq uint64

	// Data is the base64 PCM16 payload.
	Data string

	// Samples is the number of samples per channel in Data.
	Samples int

	SampleRate int
	Channels   int
	Format     SampleFormat

	// Level is the RMS level of the frame in [0, 1].
	Level float64
}

// MIMEType returns the MIME type announced to the endpoint.
func (f Frame) MIMEType() string {
	if f.SampleRate == audiocodec.InputSampleRate {
		return audiocodec.InputMIMEType
	}
	return "audio/pcm;rate=" + strconv.Itoa(f.SampleRate)
}

// Duration returns the audio length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples) * time.Second / time.Duration(f.SampleRate)
}
