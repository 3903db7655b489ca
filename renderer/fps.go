package renderer

import (
	"sync"
	"time"
)

// fpsCounter counts frames and publishes the rate once per elapsed second.
type fpsCounter struct {
	now func() time.Time

	mu       sync.Mutex
	frames   int
	prevTick time.Time
	fps      float64
}

func newFPSCounter(now func() time.Time) *fpsCounter {
	if now == nil {
		now = time.Now
	}
	return &fpsCounter{now: now}
}

func (c *fpsCounter) frame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if c.prevTick.IsZero() {
		c.prevTick = now
	}
	if dur := now.Sub(c.prevTick).Seconds(); dur >= 1 {
		c.fps = float64(c.frames) / dur
		c.prevTick = now
		c.frames = 0
	}
	c.frames++
}

func (c *fpsCounter) value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}
