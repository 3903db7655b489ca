// Package driver advances a scroll offset toward a target on every frame.
package driver

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// ErrSpeedOutOfRange is reported by ValidateSpeed. SetSpeed clamps instead.
var ErrSpeedOutOfRange = errors.New("speed out of range")

// Default rate band, in offset units per second.
const (
	DefaultMinRate = 1.0
	DefaultMaxRate = 1000.0
	DefaultRate    = 60.0
)

// State is the playback state.
type State int

const (
	Idle State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Snapshot is a consistent view of the driver.
type Snapshot struct {
	State    State
	Offset   float64
	Target   float64
	Rate     float64
	Progress float64
}

// Running reports whether a frame subscription is active.
func (s Snapshot) Running() bool { return s.State != Idle }

// Paused reports whether advancement is frozen.
func (s Snapshot) Paused() bool { return s.State == Paused }

// PositionFunc receives the offset and normalized progress.
type PositionFunc func(offset, progress float64)

// Driver is a frame-driven idle/playing/paused state machine.
type Driver struct {
	source  FrameSource
	clock   Clock
	minRate float64
	maxRate float64
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	offset     float64
	target     float64
	rate       float64
	prev       time.Time
	gen        int
	cancel     func()
	onPosition []PositionFunc
	onComplete []func()
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock makes clock the authority for elapsed time instead of frame timestamps.
func WithClock(c Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithSpeedRange sets the [min, max] rate band.
func WithSpeedRange(lo, hi float64) Option {
	return func(d *Driver) {
		if lo > 0 && hi >= lo {
			d.minRate, d.maxRate = lo, hi
		}
	}
}

// WithRate sets the initial rate; it is clamped to the band.
func WithRate(rate float64) Option {
	return func(d *Driver) { d.rate = rate }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates an idle driver fed by source.
func New(source FrameSource, opts ...Option) *Driver {
	d := &Driver{
		source:  source,
		minRate: DefaultMinRate,
		maxRate: DefaultMaxRate,
		rate:    DefaultRate,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.rate = d.clampRate(d.rate)
	d.logger = d.logger.With("component", "driver")
	return d
}

// OnPosition registers a listener for position notifications.
func (d *Driver) OnPosition(fn PositionFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onPosition = append(d.onPosition, fn)
}

// OnComplete registers a listener fired once per play cycle when the target is reached.
func (d *Driver) OnComplete(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onComplete = append(d.onComplete, fn)
}

func (d *Driver) now() time.Time {
	if d.clock != nil {
		return d.clock.Now()
	}
	if c, ok := d.source.(Clock); ok {
		return c.Now()
	}
	return time.Now()
}

// Play starts advancing. From paused it resumes; while playing it does nothing.
// Playing from a completed position restarts at zero.
func (d *Driver) Play() {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case Playing:
		return
	case Paused:
		d.state = Playing
		d.prev = d.now()
		return
	}
	if d.target > 0 && d.offset >= d.target {
		d.offset = 0
	}
	d.state = Playing
	d.prev = d.now()
	d.gen++
	gen := d.gen
	d.cancel = d.source.Subscribe(func(now time.Time) { d.tick(gen, now) })
	d.logger.Debug("play", "offset", d.offset, "target", d.target, "rate", d.rate)
}

// Pause freezes advancement; the frame subscription stays alive.
func (d *Driver) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Playing {
		d.state = Paused
	}
}

// Resume unfreezes a paused driver. Time spent paused is not counted.
func (d *Driver) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Paused {
		d.state = Playing
		d.prev = d.now()
	}
}

// Stop cancels the frame subscription and resets the offset to zero.
func (d *Driver) Stop() {
	d.mu.Lock()
	d.halt()
	d.offset = 0
	fns, off, prog := d.positionLocked()
	d.mu.Unlock()
	notify(fns, off, prog)
}

func (d *Driver) halt() {
	d.state = Idle
	d.gen++
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// SeekTo sets the offset, clamped to [0, target], and notifies synchronously.
func (d *Driver) SeekTo(offset float64) {
	d.mu.Lock()
	d.offset = d.clampOffset(offset)
	fns, off, prog := d.positionLocked()
	d.mu.Unlock()
	notify(fns, off, prog)
}

// SeekToProgress seeks to ratio×target, ratio clamped to [0,1].
func (d *Driver) SeekToProgress(ratio float64) {
	if math.IsNaN(ratio) {
		ratio = 0
	}
	ratio = math.Max(0, math.Min(1, ratio))
	d.mu.Lock()
	target := d.target
	d.mu.Unlock()
	d.SeekTo(ratio * target)
}

// SetSpeed sets the rate, clamped to the band. It applies from the next tick.
func (d *Driver) SetSpeed(rate float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rate = d.clampRate(rate)
	return d.rate
}

// ValidateSpeed reports ErrSpeedOutOfRange when rate is outside the band.
func (d *Driver) ValidateSpeed(rate float64) error {
	if math.IsNaN(rate) || rate < d.minRate || rate > d.maxRate {
		return fmt.Errorf("%w: %g not in [%g, %g]", ErrSpeedOutOfRange, rate, d.minRate, d.maxRate)
	}
	return nil
}

// SpeedRange returns the rate band.
func (d *Driver) SpeedRange() (lo, hi float64) { return d.minRate, d.maxRate }

func (d *Driver) clampRate(rate float64) float64 {
	if math.IsNaN(rate) {
		return d.minRate
	}
	return math.Max(d.minRate, math.Min(d.maxRate, rate))
}

// SetTarget sets the completion offset; the current offset is clamped to it.
func (d *Driver) SetTarget(target float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if target < 0 || math.IsNaN(target) {
		target = 0
	}
	d.target = target
	d.offset = d.clampOffset(d.offset)
}

// Reset stops the driver and installs a new target at offset zero without
// notifying listeners.
func (d *Driver) Reset(target float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.halt()
	d.offset = 0
	if target < 0 || math.IsNaN(target) {
		target = 0
	}
	d.target = target
}

func (d *Driver) clampOffset(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > d.target {
		return d.target
	}
	return v
}

// State returns the playback state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Snapshot returns the current state, offset, target, rate and progress.
func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{State: d.state, Offset: d.offset, Target: d.target, Rate: d.rate, Progress: d.progressLocked()}
}

func (d *Driver) progressLocked() float64 {
	if d.target <= 0 {
		return 0
	}
	return math.Min(1, d.offset/d.target)
}

func (d *Driver) positionLocked() ([]PositionFunc, float64, float64) {
	return append([]PositionFunc(nil), d.onPosition...), d.offset, d.progressLocked()
}

func notify(fns []PositionFunc, offset, progress float64) {
	for _, fn := range fns {
		fn(offset, progress)
	}
}

func (d *Driver) tick(gen int, frameTime time.Time) {
	d.mu.Lock()
	if gen != d.gen || d.state == Idle {
		d.mu.Unlock()
		return
	}
	now := frameTime
	if d.clock != nil {
		now = d.clock.Now()
	}
	if d.state == Paused {
		d.prev = now
		d.mu.Unlock()
		return
	}

	elapsed := now.Sub(d.prev).Seconds()
	d.prev = now
	if elapsed > 0 {
		d.offset += d.rate * elapsed
	}
	completed := false
	if d.offset >= d.target {
		d.offset = d.target
		completed = true
		d.halt()
	}
	fns, off, prog := d.positionLocked()
	var done []func()
	if completed {
		done = append(done, d.onComplete...)
	}
	d.mu.Unlock()

	notify(fns, off, prog)
	for _, fn := range done {
		fn()
	}
	if completed {
		d.logger.Debug("completed", "target", off)
	}
}
