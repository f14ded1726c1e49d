package voicesession

import (
	"sync"
	"time"

	"github.com/teslashibe/go-blue/pkg/audioio"
	"github.com/teslashibe/go-blue/pkg/live"
	"github.com/teslashibe/go-blue/pkg/playback"
)

// TurnMetrics tracks latency within one turn. Durations are measured from
// the first user transcript delta of the turn.
type TurnMetrics struct {
	// Timestamps for key events
	UserStartTime  time.Time // First input transcript delta
	FirstTextTime  time.Time // First output transcript delta
	FirstAudioTime time.Time // First model audio chunk
	DoneTime       time.Time // Turn complete

	// Computed latencies (from user start)
	TextLatency  time.Duration
	AudioLatency time.Duration
	TotalLatency time.Duration

	// Counts for this turn
	AudioChunks int
	ToolCalls   int
}

// Metrics is a snapshot of session counters.
type Metrics struct {
	SessionID string `json:"session_id"`
	Status    Status `json:"status"`

	Connection live.Metrics         `json:"connection"`
	Playback   playback.Stats       `json:"playback"`
	Capture    audioio.CaptureStats `json:"capture"`

	ChunksDropped int64 `json:"chunks_dropped"`
	Interruptions int64 `json:"interruptions"`
	ToolErrors    int64 `json:"tool_errors"`
	Turns         int64 `json:"turns"`

	LastTurn    TurnMetrics `json:"last_turn"`
	AverageTurn TurnMetrics `json:"average_turn"`
}

// metricsCollector collects per-turn latency. It is goroutine-safe.
type metricsCollector struct {
	mu      sync.Mutex
	current TurnMetrics
	history []TurnMetrics // Recent turns for averaging

	dropped       int64
	interruptions int64
	toolErrors    int64
}

func newMetricsCollector() *metricsCollector {
	return &metricsCollector{
		history: make([]TurnMetrics, 0, 100),
	}
}

func (m *metricsCollector) markUserText() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.UserStartTime.IsZero() {
		m.current.UserStartTime = time.Now()
	}
}

func (m *metricsCollector) markModelText() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.FirstTextTime.IsZero() {
		m.current.FirstTextTime = time.Now()
		if !m.current.UserStartTime.IsZero() {
			m.current.TextLatency = m.current.FirstTextTime.Sub(m.current.UserStartTime)
		}
	}
}

func (m *metricsCollector) markAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.AudioChunks++
	if m.current.FirstAudioTime.IsZero() {
		m.current.FirstAudioTime = time.Now()
		if !m.current.UserStartTime.IsZero() {
			m.current.AudioLatency = m.current.FirstAudioTime.Sub(m.current.UserStartTime)
		}
	}
}

func (m *metricsCollector) markToolCalls(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ToolCalls += n
}

func (m *metricsCollector) markTurnComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.DoneTime = time.Now()
	if !m.current.UserStartTime.IsZero() {
		m.current.TotalLatency = m.current.DoneTime.Sub(m.current.UserStartTime)
	}
	// Archive this turn
	m.history = append(m.history, m.current)
	if len(m.history) > 100 {
		m.history = m.history[1:]
	}
	m.current = TurnMetrics{}
}

func (m *metricsCollector) dropChunk() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func (m *metricsCollector) interrupt() {
	m.mu.Lock()
	m.interruptions++
	m.mu.Unlock()
}

func (m *metricsCollector) toolError() {
	m.mu.Lock()
	m.toolErrors++
	m.mu.Unlock()
}

// fill copies the counters and turn latencies into out.
func (m *metricsCollector) fill(out *Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out.ChunksDropped = m.dropped
	out.Interruptions = m.interruptions
	out.ToolErrors = m.toolErrors
	out.Turns = int64(len(m.history))
	if len(m.history) > 0 {
		out.LastTurn = m.history[len(m.history)-1]
	}
	out.AverageTurn = m.averageLocked()
}

func (m *metricsCollector) averageLocked() TurnMetrics {
	if len(m.history) == 0 {
		return TurnMetrics{}
	}

	var avg TurnMetrics
	for _, h := range m.history {
		avg.TextLatency += h.TextLatency
		avg.AudioLatency += h.AudioLatency
		avg.TotalLatency += h.TotalLatency
		avg.AudioChunks += h.AudioChunks
		avg.ToolCalls += h.ToolCalls
	}

	n := time.Duration(len(m.history))
	avg.TextLatency /= n
	avg.AudioLatency /= n
	avg.TotalLatency /= n
	avg.AudioChunks /= len(m.history)
	avg.ToolCalls /= len(m.history)

	return avg
}

// FormatLatency returns a formatted string of the turn latencies.
func (t *TurnMetrics) FormatLatency() string {
	return formatDuration(t.TextLatency) + " TEXT | " +
		formatDuration(t.AudioLatency) + " AUDIO | " +
		formatDuration(t.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
