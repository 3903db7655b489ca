package driver

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FrameSource delivers one callback per frame until the returned cancel is called.
// Cancel is idempotent and may be called from inside the callback.
type FrameSource interface {
	Subscribe(fn func(now time.Time)) (cancel func())
}

// Clock supplies the authoritative current time, e.g. an audio playback position.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Ticker is a wall-clock FrameSource driven by time.Ticker.
type Ticker struct {
	interval time.Duration
	logger   *slog.Logger
}

// NewTicker creates a ticker firing fps times per second (default 60).
func NewTicker(fps int, logger *slog.Logger) *Ticker {
	if fps <= 0 {
		fps = 60
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ticker{interval: time.Second / time.Duration(fps), logger: logger.With("component", "ticker")}
}

// Interval returns the frame period.
func (t *Ticker) Interval() time.Duration { return t.interval }

// Now implements Clock.
func (t *Ticker) Now() time.Time { return time.Now() }

// Subscribe starts a goroutine invoking fn on every tick.
func (t *Ticker) Subscribe(fn func(now time.Time)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go t.loop(ctx, fn)
	return cancel
}

func (t *Ticker) loop(ctx context.Context, fn func(time.Time)) {
	tk := time.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case now := <-tk.C:
			if ctx.Err() != nil {
				return
			}
			t.deliver(fn, now)
		case <-ctx.Done():
			return
		}
	}
}

func (t *Ticker) deliver(fn func(time.Time), now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("recovered in frame callback", "panic", r)
		}
	}()
	fn(now)
}

// ManualSource is a deterministic FrameSource: time only moves on Step.
type ManualSource struct {
	mu   sync.Mutex
	now  time.Time
	next int
	subs map[int]func(time.Time)
}

// NewManualSource starts the clock at start.
func NewManualSource(start time.Time) *ManualSource {
	return &ManualSource{now: start, subs: map[int]func(time.Time){}}
}

// Now implements Clock.
func (m *ManualSource) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Subscribe registers fn for subsequent steps.
func (m *ManualSource) Subscribe(fn func(now time.Time)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Subscribers returns the number of live subscriptions.
func (m *ManualSource) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Step advances time by dt and delivers one frame to every subscriber.
func (m *ManualSource) Step(dt time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(dt)
	now := m.now
	fns := make([]func(time.Time), 0, len(m.subs))
	for i := 0; i < m.next; i++ {
		if fn, ok := m.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(now)
	}
}
