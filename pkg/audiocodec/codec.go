// Package audiocodec converts between float32 audio samples and the PCM16
// little-endian, base64-over-text encoding used by live audio frames.
//
// Input capture is always 16 kHz mono and output playback 24 kHz mono. The
// rates are fixed by the protocol, not negotiated.
package audiocodec

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

const (
	// InputSampleRate is the capture rate expected by the endpoint.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of audio returned by the endpoint.
	OutputSampleRate = 24000

	// InputMIMEType labels outbound frames.
	InputMIMEType = "audio/pcm;rate=16000"

	// OutputMIMEType is the type of inbound model audio.
	OutputMIMEType = "audio/pcm;rate=24000"

	// BytesPerSample is the PCM16 sample width.
	BytesPerSample = 2

	pcmScale = 32768.0
)

// Buffer is decoded planar audio ready for playback.
type Buffer struct {
	SampleRate int
	Channels   int

	// Data holds one slice of samples per channel, each of Frames() length.
	Data [][]float32
}

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the playback length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Interleaved returns the samples interleaved across channels, the layout
// audio output devices expect.
func (b *Buffer) Interleaved() []float32 {
	frames := b.Frames()
	out := make([]float32, frames*b.Channels)
	for ch, data := range b.Data {
		for i, s := range data {
			out[i*b.Channels+ch] = s
		}
	}
	return out
}

// toPCM16 scales a sample to a signed 16-bit integer, clamping out-of-range
// input rather than rejecting it.
func toPCM16(s float32) int16 {
	v := math.Round(float64(s) * pcmScale)
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// EncodePCM16 packs samples as PCM16 little-endian bytes.
func EncodePCM16(samples []float32) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*BytesPerSample:], uint16(toPCM16(s)))
	}
	return data
}

// EncodeFrame encodes samples for transport: PCM16 little-endian, then
// standard base64. It never fails.
func EncodeFrame(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

// DecodePCM16 reverses EncodePCM16 into planar float32. The byte length must
// be a multiple of 2*channels.
func DecodePCM16(data []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, &DecodeError{Length: len(data), Channels: channels, Reason: "channel count must be positive"}
	}
	if len(data)%(BytesPerSample*channels) != 0 {
		return nil, &DecodeError{Length: len(data), Channels: channels, Reason: "length is not a multiple of the frame size"}
	}

	frames := len(data) / (BytesPerSample * channels)
	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Data:       make([][]float32, channels),
	}
	for ch := range buf.Data {
		buf.Data[ch] = make([]float32, frames)
	}

	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * BytesPerSample
			v := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Data[ch][i] = float32(v) / pcmScale
		}
	}
	return buf, nil
}

// Decode decodes a base64 chunk into a playable buffer.
func Decode(blob string, sampleRate, channels int) (*Buffer, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, &DecodeError{Length: len(blob), Channels: channels, Reason: "invalid base64", Cause: err}
	}
	return DecodePCM16(data, sampleRate, channels)
}

// DecodeChunk decodes an inbound chunk at the protocol's output format.
func DecodeChunk(blob string) (*Buffer, error) {
	return Decode(blob, OutputSampleRate, 1)
}
