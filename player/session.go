// Package player ties a segment sequence to a driver and a renderer: one
// segment plays at a time, and playback intents arrive as commands.
package player

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ByLCY/telescroll/driver"
	"github.com/ByLCY/telescroll/renderer"
	"github.com/ByLCY/telescroll/segment"
)

// ErrNoSegments is returned when selecting from an empty sequence.
var ErrNoSegments = errors.New("no segments")

// Options configures a Session.
type Options struct {
	// BaseRate is the scroll rate at speed 1.0, in px per second.
	BaseRate float64
	// MinSpeed and MaxSpeed bound the speed multiplier.
	MinSpeed float64
	MaxSpeed float64
	// Hold is the display time of non-text segments without their own duration.
	Hold        time.Duration
	AutoAdvance bool
	ProjectName string
	Logger      *slog.Logger
	// Now stamps Status. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns 60 px/s, speeds 0.5 to 2.0 and a 5 s hold.
func DefaultOptions() Options {
	return Options{
		BaseRate:    60,
		MinSpeed:    0.5,
		MaxSpeed:    2.0,
		Hold:        5 * time.Second,
		AutoAdvance: true,
		ProjectName: "Untitled Project",
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.BaseRate <= 0 {
		o.BaseRate = d.BaseRate
	}
	if o.MinSpeed <= 0 {
		o.MinSpeed = d.MinSpeed
	}
	if o.MaxSpeed < o.MinSpeed {
		o.MaxSpeed = math.Max(d.MaxSpeed, o.MinSpeed)
	}
	if o.Hold <= 0 {
		o.Hold = d.Hold
	}
	if o.ProjectName == "" {
		o.ProjectName = d.ProjectName
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Session plays a segment sequence.
type Session struct {
	opts     Options
	renderer *renderer.Renderer
	driver   *driver.Driver
	logger   *slog.Logger

	mu         sync.Mutex
	segs       []segment.Segment
	index      int
	mirror     bool
	live       bool
	guide      bool
	onFinished []func()
	onFrame    []func(Status)
	renderErr  error
}

// New creates a session over r, advanced by frames from src. Extra driver
// options, such as driver.WithClock, are applied last.
func New(r *renderer.Renderer, src driver.FrameSource, opts Options, dopts ...driver.Option) *Session {
	opts = opts.normalized()
	s := &Session{
		opts:     opts,
		renderer: r,
		logger:   opts.Logger.With("component", "player"),
		guide:    r.Config().ShowGuide,
	}
	base := []driver.Option{
		driver.WithSpeedRange(opts.BaseRate*opts.MinSpeed, opts.BaseRate*opts.MaxSpeed),
		driver.WithRate(opts.BaseRate),
		driver.WithLogger(opts.Logger),
	}
	s.driver = driver.New(src, append(base, dopts...)...)
	s.driver.OnPosition(s.handlePosition)
	s.driver.OnComplete(s.handleComplete)
	return s
}

// Driver exposes the position driver.
func (s *Session) Driver() *driver.Driver { return s.driver }

// Renderer exposes the frame renderer.
func (s *Session) Renderer() *renderer.Renderer { return s.renderer }

// OnFinished registers a callback fired after the last segment completes.
func (s *Session) OnFinished(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinished = append(s.onFinished, fn)
}

// OnFrame registers a callback run after every rendered frame.
func (s *Session) OnFrame(fn func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFrame = append(s.onFrame, fn)
}

// SetSegments replaces the sequence and selects its first segment.
func (s *Session) SetSegments(segs []segment.Segment) error {
	s.mu.Lock()
	s.segs = append([]segment.Segment(nil), segs...)
	s.index = 0
	s.mu.Unlock()
	s.driver.Stop()
	if len(segs) == 0 {
		return nil
	}
	s.renderer.Preload(segs...)
	return s.Select(0)
}

// Segments returns the current sequence.
func (s *Session) Segments() []segment.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]segment.Segment(nil), s.segs...)
}

// Current returns the selected segment and its index.
func (s *Session) Current() (segment.Segment, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.segs) == 0 {
		return nil, -1
	}
	return s.segs[s.index], s.index
}

// Select makes segment i current, clamped to the sequence, and rewinds to
// its start. Playback continues if it was running.
func (s *Session) Select(i int) error {
	s.mu.Lock()
	if len(s.segs) == 0 {
		s.mu.Unlock()
		return ErrNoSegments
	}
	i = max(0, min(i, len(s.segs)-1))
	s.index = i
	seg := s.segs[i]
	var next segment.Segment
	if i+1 < len(s.segs) {
		next = s.segs[i+1]
	}
	s.mu.Unlock()

	target, err := s.targetFor(seg)
	if err != nil {
		return err
	}
	wasPlaying := s.driver.State() == driver.Playing
	s.driver.Reset(target)
	if next != nil {
		s.renderer.Preload(next)
	}
	s.logger.Debug("select", "index", i, "id", seg.SegmentID(), "kind", seg.Kind().String(), "target", target)
	if wasPlaying {
		s.driver.Play()
	}
	return s.RenderFrame()
}

// Next selects the following segment; at the end it stays put.
func (s *Session) Next() error {
	_, i := s.Current()
	return s.Select(i + 1)
}

// Prev selects the preceding segment; at the start it stays put.
func (s *Session) Prev() error {
	_, i := s.Current()
	return s.Select(i - 1)
}

// targetFor returns the offset at which seg completes: the scroll height for
// text, display time × base rate otherwise. The speed multiplier scales how
// fast either target is reached, so a hold lasts Hold/speed whenever the
// speed is set.
func (s *Session) targetFor(seg segment.Segment) (float64, error) {
	if t, ok := seg.(*segment.Text); ok {
		m, err := s.renderer.TextMetrics(t)
		if err != nil {
			return 0, fmt.Errorf("计算片段 %s 的滚动高度失败: %w", t.ID, err)
		}
		return m.TotalHeight, nil
	}
	hold := segment.DisplayDuration(seg, s.opts.Hold)
	return hold.Seconds() * s.opts.BaseRate, nil
}

// Play starts or resumes playback of the current segment.
func (s *Session) Play() error {
	if seg, _ := s.Current(); seg == nil {
		return ErrNoSegments
	}
	s.driver.Play()
	return nil
}

// Pause freezes playback.
func (s *Session) Pause() { s.driver.Pause() }

// Resume continues paused playback.
func (s *Session) Resume() { s.driver.Resume() }

// Stop halts playback and rewinds the current segment.
func (s *Session) Stop() { s.driver.Stop() }

// SetSpeed sets the speed multiplier, clamped to [MinSpeed, MaxSpeed], and
// returns the value applied.
func (s *Session) SetSpeed(mult float64) float64 {
	if math.IsNaN(mult) {
		mult = 1
	}
	mult = math.Max(s.opts.MinSpeed, math.Min(s.opts.MaxSpeed, mult))
	return s.driver.SetSpeed(mult*s.opts.BaseRate) / s.opts.BaseRate
}

// Speed returns the current speed multiplier.
func (s *Session) Speed() float64 {
	return s.driver.Snapshot().Rate / s.opts.BaseRate
}

// Seek moves to a progress ratio within the current segment.
func (s *Session) Seek(progress float64) { s.driver.SeekToProgress(progress) }

// ResetPosition rewinds the current segment without changing play state.
func (s *Session) ResetPosition() { s.driver.SeekTo(0) }

// ToggleMirror flips the horizontal mirror and redraws.
func (s *Session) ToggleMirror() error {
	s.mu.Lock()
	s.mirror = !s.mirror
	s.mu.Unlock()
	return s.RenderFrame()
}

// Mirror reports whether frames are mirrored.
func (s *Session) Mirror() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirror
}

// SetLive switches presentation mode. Live output hides the guide bar.
func (s *Session) SetLive(live bool) error {
	s.mu.Lock()
	s.live = live
	guide := s.guide && !live
	s.mu.Unlock()
	cfg := s.renderer.Config()
	s.renderer.SetGuide(cfg.GuidePosition, guide)
	return s.RenderFrame()
}

// Live reports whether presentation mode is on.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// RenderFrame draws the current segment at the current offset.
func (s *Session) RenderFrame() error {
	return s.render(s.driver.Snapshot().Offset)
}

func (s *Session) render(offset float64) error {
	s.mu.Lock()
	if len(s.segs) == 0 {
		s.mu.Unlock()
		return nil
	}
	seg, mirror := s.segs[s.index], s.mirror
	frames := append([]func(Status){}, s.onFrame...)
	s.mu.Unlock()

	err := s.renderer.Render(seg, offset, mirror)
	s.mu.Lock()
	s.renderErr = err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if len(frames) > 0 {
		st := s.Status()
		for _, fn := range frames {
			fn(st)
		}
	}
	return nil
}

func (s *Session) handlePosition(offset, _ float64) {
	if err := s.render(offset); err != nil {
		s.logger.Warn("render failed", "error", err)
	}
}

func (s *Session) handleComplete() {
	s.mu.Lock()
	last := s.index >= len(s.segs)-1
	auto := s.opts.AutoAdvance
	finished := append([]func(){}, s.onFinished...)
	s.mu.Unlock()

	if !last && auto {
		if err := s.Next(); err != nil {
			s.logger.Warn("advance failed", "error", err)
			return
		}
		s.driver.Play()
		return
	}
	if last {
		s.logger.Info("sequence finished")
		for _, fn := range finished {
			fn()
		}
	}
}

// LastRenderError returns the error of the most recent frame, if any.
func (s *Session) LastRenderError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderErr
}

// Close stops playback and releases the renderer.
func (s *Session) Close() error {
	s.driver.Stop()
	return s.renderer.Destroy()
}
