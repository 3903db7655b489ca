package player

import (
	"encoding/json"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByLCY/telescroll/driver"
	"github.com/ByLCY/telescroll/renderer"
	"github.com/ByLCY/telescroll/segment"
	"github.com/ByLCY/telescroll/surface"
	"github.com/ByLCY/telescroll/textlayout"
)

type nopSurface struct {
	w, h   float64
	frames int
}

func (s *nopSurface) Size() (float64, float64)                             { return s.w, s.h }
func (s *nopSurface) PixelRatio() float64                                  { return 1 }
func (s *nopSurface) SetPixelRatio(float64)                                {}
func (s *nopSurface) Resize(w, h float64)                                  { s.w, s.h = w, h }
func (s *nopSurface) Clear(color.Color)                                    { s.frames++ }
func (s *nopSurface) FillRect(surface.Rect, color.Color)                   {}
func (s *nopSurface) DrawBitmap(image.Image, image.Rectangle, surface.Rect) {}
func (s *nopSurface) DrawText(surface.TextRun)                             {}
func (s *nopSurface) DrawLine(_, _, _, _, _ float64, _ color.Color)        {}
func (s *nopSurface) SetTransform(surface.Transform)                       {}

var mono = textlayout.MeasureFunc(func(_ string, _ float64, s string) float64 {
	return float64(len([]rune(s))) * 10
})

func newSession(t *testing.T, opts Options, segs ...segment.Segment) (*Session, *driver.ManualSource, *nopSurface) {
	t.Helper()
	cfg := renderer.DefaultConfig()
	cfg.Width, cfg.Height, cfg.Padding = 400, 100, 0
	r := renderer.New(cfg, renderer.Deps{Measurer: mono})
	surf := &nopSurface{}
	r.Attach(surf)

	src := driver.NewManualSource(time.Unix(0, 0))
	opts.Now = func() time.Time { return time.UnixMilli(1234) }
	s := New(r, src, opts)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.SetSegments(segs))
	return s, src, surf
}

func text(id, content string) *segment.Text {
	return &segment.Text{ID: id, Content: content, FontSize: 10, LineHeight: 1}
}

func TestTargetPerSegmentKind(t *testing.T) {
	s, _, _ := newSession(t, DefaultOptions(),
		text("t", "a\nb"),
		&segment.Image{ID: "img", Ref: "a.png", Duration: 2 * time.Second},
		&segment.DocumentPage{ID: "pg", Ref: "deck.pdf", PageNumber: 1},
	)

	// 2 行 × 10 + 视口高度 100
	assert.Equal(t, 120.0, s.Driver().Snapshot().Target)

	require.NoError(t, s.Next())
	assert.Equal(t, 120.0, s.Driver().Snapshot().Target) // 2s × 60 px/s

	require.NoError(t, s.Next())
	assert.Equal(t, 300.0, s.Driver().Snapshot().Target) // 默认 5s
}

func TestHoldTargetDoesNotDependOnSpeed(t *testing.T) {
	img := &segment.Image{ID: "img", Ref: "a.png", Duration: 2 * time.Second}
	s, src, _ := newSession(t, DefaultOptions(), text("t", "a"), img)

	assert.Equal(t, 2.0, s.SetSpeed(2))
	require.NoError(t, s.Next())
	assert.Equal(t, 120.0, s.Driver().Snapshot().Target, "2s × base rate 60")

	// 2 倍速下 2s 的停留在 1s 内播完
	require.NoError(t, s.Play())
	src.Step(time.Second)
	assert.Equal(t, driver.Idle, s.Driver().State())
	assert.Equal(t, 120.0, s.Driver().Snapshot().Offset)

	require.NoError(t, s.Select(1))
	assert.Equal(t, 120.0, s.Driver().Snapshot().Target)
}

func TestOnFrameReceivesStatus(t *testing.T) {
	s, src, _ := newSession(t, DefaultOptions(), text("t", "a\nb\nc"))
	var got []Status
	s.OnFrame(func(st Status) { got = append(got, st) })

	require.NoError(t, s.Play())
	src.Step(500 * time.Millisecond)
	src.Step(500 * time.Millisecond)

	require.Len(t, got, 2)
	assert.Equal(t, "t", got[1].SegmentID)
	assert.InDelta(t, 60.0, got[1].Offset, 1e-9)
	assert.True(t, got[1].IsPlaying)
}

func TestNextPrevClamp(t *testing.T) {
	s, _, _ := newSession(t, DefaultOptions(), text("a", "a"), text("b", "b"))

	require.NoError(t, s.Prev())
	_, i := s.Current()
	assert.Equal(t, 0, i)

	require.NoError(t, s.Next())
	require.NoError(t, s.Next())
	seg, i := s.Current()
	assert.Equal(t, 1, i)
	assert.Equal(t, "b", seg.SegmentID())
}

func TestAutoAdvanceAndFinish(t *testing.T) {
	s, src, _ := newSession(t, DefaultOptions(),
		text("intro", "hello"),
		&segment.Image{ID: "img", Ref: "missing.png", Duration: time.Second},
	)
	finished := 0
	s.OnFinished(func() { finished++ })

	require.NoError(t, s.Play())
	src.Step(time.Second) // 60 of 110
	_, i := s.Current()
	assert.Equal(t, 0, i)

	src.Step(time.Second)
	seg, i := s.Current()
	assert.Equal(t, 1, i)
	assert.Equal(t, "img", seg.SegmentID())
	assert.Equal(t, driver.Playing, s.Driver().State())
	assert.Equal(t, 0, finished)

	src.Step(2 * time.Second)
	assert.Equal(t, 1, finished)
	assert.Equal(t, driver.Idle, s.Driver().State())

	src.Step(time.Second)
	assert.Equal(t, 1, finished)
}

func TestNoAutoAdvanceStaysOnSegment(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoAdvance = false
	s, src, _ := newSession(t, opts, text("a", "a"), text("b", "b"))

	require.NoError(t, s.Play())
	src.Step(10 * time.Second)
	_, i := s.Current()
	assert.Equal(t, 0, i)
	assert.Equal(t, driver.Idle, s.Driver().State())
}

func TestApplyCommands(t *testing.T) {
	s, _, surf := newSession(t, DefaultOptions(), text("a", "a\nb\nc"), text("b", "b"))

	cmd, err := ParseCommand([]byte(`{"type":"set_speed","value":5}`))
	require.NoError(t, err)
	require.NoError(t, s.Apply(cmd))
	assert.Equal(t, 2.0, s.Speed())

	cmd, err = ParseCommand([]byte(`{"type":"set_speed"}`))
	require.NoError(t, err)
	assert.ErrorIs(t, s.Apply(cmd), ErrMissingValue)

	assert.ErrorIs(t, s.Apply(Command{Type: "warp"}), ErrUnknownCommand)
	_, err = ParseCommand([]byte(`{"value":1}`))
	assert.ErrorIs(t, err, ErrUnknownCommand)

	half := 0.5
	require.NoError(t, s.Apply(Command{Type: CmdSeek, Value: &half}))
	snap := s.Driver().Snapshot()
	assert.Equal(t, snap.Target/2, snap.Offset)

	require.NoError(t, s.Apply(Command{Type: CmdResetPosition}))
	assert.Equal(t, 0.0, s.Driver().Snapshot().Offset)

	frames := surf.frames
	require.NoError(t, s.Apply(Command{Type: CmdToggleMirror}))
	assert.True(t, s.Mirror())
	assert.True(t, s.Renderer().LastFrame().Mirror)
	assert.Greater(t, surf.frames, frames)

	require.NoError(t, s.Apply(Command{Type: CmdGoLive}))
	assert.True(t, s.Live())
	assert.False(t, s.Renderer().Config().ShowGuide)
	require.NoError(t, s.Apply(Command{Type: CmdExitLive}))
	assert.True(t, s.Renderer().Config().ShowGuide)

	require.NoError(t, s.Apply(Command{Type: CmdPlay}))
	assert.Equal(t, driver.Playing, s.Driver().State())
	require.NoError(t, s.Apply(Command{Type: CmdPause}))
	assert.Equal(t, driver.Paused, s.Driver().State())
	require.NoError(t, s.Apply(Command{Type: CmdResume}))
	assert.Equal(t, driver.Playing, s.Driver().State())
	require.NoError(t, s.Apply(Command{Type: CmdNextSegment}))
	_, i := s.Current()
	assert.Equal(t, 1, i)
	require.NoError(t, s.Apply(Command{Type: CmdStop}))
	assert.Equal(t, driver.Idle, s.Driver().State())
}

func TestStatusJSON(t *testing.T) {
	opts := DefaultOptions()
	opts.ProjectName = "Demo"
	s, _, _ := newSession(t, opts, text("a", "a"), &segment.Image{ID: "img", Ref: "x.png"})

	data, err := json.Marshal(s.Status())
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, false, got["is_playing"])
	assert.Equal(t, 1.0, got["current_speed"])
	assert.Equal(t, 0.0, got["current_segment"])
	assert.Equal(t, 2.0, got["total_segments"])
	assert.Equal(t, "Demo", got["project_name"])
	assert.Equal(t, 1234.0, got["timestamp"])
	assert.NotContains(t, got, "loading")

	require.NoError(t, s.Next())
	assert.NotEmpty(t, s.Status().Loading)
}

func TestEmptySequence(t *testing.T) {
	s, _, _ := newSession(t, DefaultOptions())
	assert.ErrorIs(t, s.Select(0), ErrNoSegments)
	assert.ErrorIs(t, s.Play(), ErrNoSegments)
	assert.Nil(t, s.Status().CurrentSegment)
	assert.NoError(t, s.RenderFrame())
}
