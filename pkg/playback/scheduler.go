package playback

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-blue/pkg/audiocodec"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("playback: scheduler closed")

// Voice is one scheduled chunk on an Output.
type Voice interface {
	// Stop silences the voice. Stopping a finished voice is a no-op.
	Stop()
}

// Output plays buffers at absolute clock times.
type Output interface {
	// Schedule starts buf at clock time at and calls done once when the
	// voice finishes or is stopped. done may run on any goroutine.
	Schedule(buf *audiocodec.Buffer, at float64, done func()) Voice
}

// Scheduler queues chunks back to back on an Output.
type Scheduler struct {
	clock  Clock
	out    Output
	logger *slog.Logger

	mu     sync.Mutex
	next   float64
	active map[uint64]Voice
	seq    uint64
	gen    uint64
	closed bool

	scheduled uint64
	cancelled uint64
}

// NewScheduler creates a scheduler whose next start time is the clock's
// current time.
func NewScheduler(clock Clock, out Output, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		clock:  clock,
		out:    out,
		logger: logger.With("component", "playback"),
		next:   clock.Now(),
		active: make(map[uint64]Voice),
	}
}

// Enqueue schedules buf to start at max(now, next) and advances next by
// duration seconds. It returns the start time.
func (s *Scheduler) Enqueue(buf *audiocodec.Buffer, duration float64) (float64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}

	now := s.clock.Now()
	start := s.next
	if now > start {
		start = now
	}
	if duration < 0 {
		duration = 0
	}
	s.next = start + duration

	id, gen := s.seq, s.gen
	s.seq++
	s.scheduled++
	// Reserve the slot before Schedule so a synchronous done finds it.
	s.active[id] = nil
	s.mu.Unlock()

	voice := s.out.Schedule(buf, start, func() { s.finish(id) })

	s.mu.Lock()
	_, pending := s.active[id]
	if pending {
		s.active[id] = voice
	}
	cancelled := !pending && s.gen != gen
	s.mu.Unlock()

	if cancelled && voice != nil {
		// CancelAll ran while the voice was being scheduled.
		voice.Stop()
	}

	s.logger.Debug("chunk scheduled", "start", start, "duration", duration, "next", start+duration)
	return start, nil
}

func (s *Scheduler) finish(id uint64) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// CancelAll stops every unfinished voice, clears the active set and
// re-seats next at the clock.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	voices := make([]Voice, 0, len(s.active))
	for id, v := range s.active {
		if v != nil {
			voices = append(voices, v)
		}
		delete(s.active, id)
	}
	s.next = s.clock.Now()
	s.gen++
	s.cancelled += uint64(len(voices))
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}

	if len(voices) > 0 {
		s.logger.Debug("playback cancelled", "voices", len(voices))
	}
	return len(voices)
}

// Close cancels all playback and rejects further chunks. It is idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.CancelAll()
}

// Active returns the number of voices that have not finished.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Next returns the start time of the next chunk if it arrives now or earlier.
func (s *Scheduler) Next() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Stats contains scheduler counters.
type Stats struct {
	Scheduled uint64  `json:"scheduled"`
	Cancelled uint64  `json:"cancelled"`
	Active    int     `json:"active"`
	Next      float64 `json:"next"`
}

// Stats returns scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Scheduled: s.scheduled,
		Cancelled: s.cancelled,
		Active:    len(s.active),
		Next:      s.next,
	}
}
