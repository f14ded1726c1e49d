// Package playback schedules decoded audio chunks for gapless, in-order
// playback against a monotonic clock.
//
// Each chunk starts at max(now, next) where next is the end of the previously
// scheduled chunk. Chunks that arrive late start immediately; chunks that
// arrive early queue back to back. CancelAll stops everything that has not
// finished and re-seats next at the clock (barge-in and teardown).
package playback

import (
	"sync"
	"time"
)

// Clock is a monotonic time source in seconds.
type Clock interface {
	Now() float64
}

// WallClock measures seconds since it was created using the runtime's
// monotonic clock.
type WallClock struct {
	start time.Time
}

// NewWallClock creates a clock starting at zero.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// Now returns the elapsed seconds.
func (c *WallClock) Now() float64 {
	return time.Since(c.start).Seconds()
}

// ManualClock is a Clock driven by tests.
type ManualClock struct {
	mu  sync.Mutex
	now float64
}

// NewManualClock creates a manual clock at t.
func NewManualClock(t float64) *ManualClock {
	return &ManualClock{now: t}
}

// Now returns the current time.
func (c *ManualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d seconds. Negative values are ignored.
func (c *ManualClock) Advance(d float64) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Set moves the clock to t if t is not in the past.
func (c *ManualClock) Set(t float64) {
	c.mu.Lock()
	if t > c.now {
		c.now = t
	}
	c.mu.Unlock()
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
