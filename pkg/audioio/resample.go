package audioio

import "math"

// Resampler converts a stream of mono samples between rates with linear
// interpolation. It carries its position and the previous sample across
// calls, so device callbacks of any length join without discontinuities.
// A Resampler is not safe for concurrent use.
type Resampler struct {
	fromRate, toRate int
	step             float64 // input samples per output sample
	pos              float64 // next output position, relative to the current input
	last             float32
}

// NewResampler creates a resampler from fromRate to toRate Hz.
func NewResampler(fromRate, toRate int) *Resampler {
	r := &Resampler{fromRate: fromRate, toRate: toRate}
	if fromRate > 0 && toRate > 0 {
		r.step = float64(fromRate) / float64(toRate)
	}
	return r
}

// Process resamples the next block of input. Equal rates pass the input
// through unchanged.
func (r *Resampler) Process(in []float32) []float32 {
	if r.fromRate == r.toRate || r.step == 0 {
		return in
	}
	if len(in) == 0 {
		return nil
	}

	out := make([]float32, 0, int(float64(len(in))/r.step)+1)
	for {
		i := int(math.Floor(r.pos))
		if i+1 >= len(in) {
			break
		}
		a := r.last
		if i >= 0 {
			a = in[i]
		}
		frac := float32(r.pos - float64(i))
		out = append(out, a+frac*(in[i+1]-a))
		r.pos += r.step
	}

	r.last = in[len(in)-1]
	r.pos -= float64(len(in))
	return out
}

// Reset forgets the stream position.
func (r *Resampler) Reset() {
	r.pos = 0
	r.last = 0
}

// Resample converts a single block between rates.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	return NewResampler(fromRate, toRate).Process(samples)
}

// DownmixToMono averages interleaved multi-channel samples to mono.
func DownmixToMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	mono := make([]float32, len(samples)/channels)
	for i := range mono {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// RMS returns the root mean square level of samples in [0, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
