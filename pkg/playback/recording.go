package playback

import (
	"sync"

	"github.com/teslashibe/go-blue/pkg/audiocodec"
)

// RecordingOutput is an Output for tests. It records every scheduled voice
// and finishes voices only when told to.
type RecordingOutput struct {
	mu     sync.Mutex
	voices []*RecordedVoice
}

// NewRecordingOutput creates an empty recording output.
func NewRecordingOutput() *RecordingOutput {
	return &RecordingOutput{}
}

// RecordedVoice is one call to Schedule.
type RecordedVoice struct {
	Buffer *audiocodec.Buffer
	At     float64

	mu      sync.Mutex
	done    func()
	stopped bool
	ended   bool
}

// Stop marks the voice stopped and fires its done callback.
func (v *RecordedVoice) Stop() {
	v.mu.Lock()
	if v.ended {
		v.mu.Unlock()
		return
	}
	v.stopped = true
	v.ended = true
	done := v.done
	v.mu.Unlock()
	if done != nil {
		done()
	}
}

// Finish ends the voice as if it had played to completion.
func (v *RecordedVoice) Finish() {
	v.mu.Lock()
	if v.ended {
		v.mu.Unlock()
		return
	}
	v.ended = true
	done := v.done
	v.mu.Unlock()
	if done != nil {
		done()
	}
}

// Stopped reports whether Stop silenced the voice before it finished.
func (v *RecordedVoice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// Schedule records the voice.
func (o *RecordingOutput) Schedule(buf *audiocodec.Buffer, at float64, done func()) Voice {
	v := &RecordedVoice{Buffer: buf, At: at, done: done}
	o.mu.Lock()
	o.voices = append(o.voices, v)
	o.mu.Unlock()
	return v
}

// Voices returns the voices scheduled so far in call order.
func (o *RecordingOutput) Voices() []*RecordedVoice {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*RecordedVoice, len(o.voices))
	copy(out, o.voices)
	return out
}

// FinishAll finishes every voice that has not ended.
func (o *RecordingOutput) FinishAll() {
	for _, v := range o.Voices() {
		v.Finish()
	}
}

var _ Output = (*RecordingOutput)(nil)
