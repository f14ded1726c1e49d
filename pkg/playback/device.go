package playback

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-blue/pkg/audiocodec"
	"github.com/teslashibe/go-blue/pkg/audioio"
)

// DeviceOutput plays scheduled voices on an audioio.Sink in start order,
// waiting on the clock for each start time.
type DeviceOutput struct {
	sink   audioio.Sink
	clock  Clock
	logger *slog.Logger

	mu     sync.Mutex
	queue  []*deviceVoice
	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	played  atomic.Int64
	skipped atomic.Int64
}

type deviceVoice struct {
	buf  *audiocodec.Buffer
	at   float64
	done func()

	stopped atomic.Bool
	stopCh  chan struct{}
	once    sync.Once
}

// Stop silences the voice. The done callback fires once.
func (v *deviceVoice) Stop() {
	if v.stopped.CompareAndSwap(false, true) {
		close(v.stopCh)
	}
	v.finish()
}

func (v *deviceVoice) finish() {
	v.once.Do(func() {
		if v.done != nil {
			v.done()
		}
	})
}

// NewDeviceOutput creates an output that drains into sink. The clock must be
// the same one the Scheduler uses.
func NewDeviceOutput(sink audioio.Sink, clock Clock, logger *slog.Logger) *DeviceOutput {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceOutput{
		sink:   sink,
		clock:  clock,
		logger: logger.With("component", "playback.device"),
		wake:   make(chan struct{}, 1),
	}
}

// Start opens the sink and starts the drain loop.
func (d *DeviceOutput) Start(ctx context.Context) error {
	if err := d.sink.Start(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop(ctx)

	d.logger.Info("playback started", "backend", d.sink.Name(), "sample_rate", d.sink.Config().SampleRate)
	return nil
}

// Schedule queues buf at clock time at.
func (d *DeviceOutput) Schedule(buf *audiocodec.Buffer, at float64, done func()) Voice {
	v := &deviceVoice{buf: buf, at: at, done: done, stopCh: make(chan struct{})}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		v.Stop()
		return v
	}
	d.queue = append(d.queue, v)
	sort.SliceStable(d.queue, func(i, j int) bool { return d.queue[i].at < d.queue[j].at })
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return v
}

func (d *DeviceOutput) pop() *deviceVoice {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil
	}
	v := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return v
}

func (d *DeviceOutput) loop(ctx context.Context) {
	defer d.wg.Done()

	for {
		v := d.pop()
		if v == nil {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
				continue
			}
		}

		if v.stopped.Load() {
			d.skipped.Add(1)
			continue
		}
		if !d.play(ctx, v) {
			if ctx.Err() != nil {
				v.Stop()
				return
			}
		}
	}
}

// play waits for the voice's start time, writes it in small slices so a
// stop takes effect quickly, then waits for its end time. It returns false
// if the voice was interrupted.
func (d *DeviceOutput) play(ctx context.Context, v *deviceVoice) bool {
	if !d.waitUntil(ctx, v, v.at) {
		return false
	}

	samples := v.buf.Interleaved()
	slice := v.buf.SampleRate / 50 * v.buf.Channels
	if slice <= 0 {
		slice = len(samples)
	}

	for off := 0; off < len(samples); off += slice {
		if v.stopped.Load() {
			_ = d.sink.Clear()
			return false
		}
		end := off + slice
		if end > len(samples) {
			end = len(samples)
		}
		if err := d.sink.Write(ctx, samples[off:end]); err != nil {
			d.logger.Warn("playback write failed", "error", err)
			v.Stop()
			return false
		}
	}

	if !d.waitUntil(ctx, v, v.at+v.buf.Duration()) {
		return false
	}
	d.played.Add(1)
	v.finish()
	return true
}

func (d *DeviceOutput) waitUntil(ctx context.Context, v *deviceVoice, t float64) bool {
	wait := secondsToDuration(t - d.clock.Now())
	if wait <= 0 {
		return !v.stopped.Load()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-v.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// Played returns how many voices played to completion.
func (d *DeviceOutput) Played() int64 {
	return d.played.Load()
}

// Close stops the drain loop, silences queued voices and closes the sink.
// It is idempotent.
func (d *DeviceOutput) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	cancel := d.cancel
	queued := d.queue
	d.queue = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()

	for _, v := range queued {
		v.Stop()
	}

	d.logger.Info("playback stopped", "played", d.played.Load(), "skipped", d.skipped.Load())
	return d.sink.Close()
}

var _ Output = (*DeviceOutput)(nil)
