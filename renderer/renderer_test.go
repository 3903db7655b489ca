package renderer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByLCY/telescroll/assets"
	"github.com/ByLCY/telescroll/cache"
	"github.com/ByLCY/telescroll/docraster"
	"github.com/ByLCY/telescroll/segment"
	"github.com/ByLCY/telescroll/surface"
	"github.com/ByLCY/telescroll/textlayout"
)

type bitmapCall struct {
	src image.Rectangle
	dst surface.Rect
}

// recordingSurface 记录每一帧的绘制调用。
type recordingSurface struct {
	mu         sync.Mutex
	w, h       float64
	clears     int
	fills      []surface.Rect
	bitmaps    []bitmapCall
	texts      []surface.TextRun
	lines      int
	transforms []surface.Transform
	ratio      float64
}

func (s *recordingSurface) Size() (float64, float64) { return s.w, s.h }
func (s *recordingSurface) PixelRatio() float64      { return s.ratio }
func (s *recordingSurface) Resize(w, h float64)      { s.w, s.h = w, h }

func (s *recordingSurface) SetPixelRatio(ratio float64) {
	if ratio > 0 {
		s.ratio = ratio
	}
}

func (s *recordingSurface) Clear(color.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.fills, s.bitmaps, s.texts, s.lines, s.transforms = nil, nil, nil, 0, nil
}

func (s *recordingSurface) FillRect(r surface.Rect, _ color.Color) { s.fills = append(s.fills, r) }

func (s *recordingSurface) DrawBitmap(_ image.Image, src image.Rectangle, dst surface.Rect) {
	s.bitmaps = append(s.bitmaps, bitmapCall{src: src, dst: dst})
}

func (s *recordingSurface) DrawText(run surface.TextRun) { s.texts = append(s.texts, run) }

func (s *recordingSurface) DrawLine(_, _, _, _, _ float64, _ color.Color) { s.lines++ }

func (s *recordingSurface) SetTransform(t surface.Transform) {
	s.transforms = append(s.transforms, t)
}

// 每个字符 10px，便于推算折行
var mono = textlayout.MeasureFunc(func(_ string, _ float64, s string) float64 {
	return float64(len([]rune(s))) * 10
})

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestRenderer(t *testing.T, cfg Config, deps Deps) (*Renderer, *recordingSurface) {
	t.Helper()
	if deps.Measurer == nil {
		deps.Measurer = mono
	}
	r := New(cfg, deps)
	t.Cleanup(func() { _ = r.Destroy() })
	s := &recordingSurface{}
	r.Attach(s)
	return r, s
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 400, 100
	cfg.Padding = 0
	cfg.GuidePosition = 50
	return cfg
}

func TestRenderWithoutSurfaceIsNoOp(t *testing.T) {
	r := New(DefaultConfig(), Deps{Measurer: mono})
	defer r.Destroy()

	assert.ErrorIs(t, r.Ready(), ErrSurfaceUnavailable)
	err := r.Render(&segment.Text{ID: "t", Content: "hello"}, 0, false)
	assert.NoError(t, err)
	assert.Equal(t, FrameStats{}, r.LastFrame())

	r.Attach(&recordingSurface{})
	assert.NoError(t, r.Ready())
}

func TestTextVirtualScrolling(t *testing.T) {
	r, s := newTestRenderer(t, smallConfig(), Deps{})

	// 200 行，每行行高 10×1.0
	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, "line")
	}
	seg := &segment.Text{ID: "long", Content: strings.Join(lines, "\n"), FontSize: 10, LineHeight: 1}

	require.NoError(t, r.Render(seg, 500, false))
	stats := r.LastFrame()
	assert.Equal(t, 200, stats.LinesTotal)
	// 缓冲区为 [500-200, 500+200]，约 41 行
	assert.InDelta(t, 41, stats.LinesDrawn, 2)
	assert.Less(t, stats.LinesDrawn, stats.LinesTotal)
	assert.Len(t, s.texts, stats.LinesDrawn)

	for _, run := range s.texts {
		assert.Equal(t, surface.AlignCenter, run.Align)
		assert.Equal(t, 200.0, run.X)
	}
	// 第 50 行位于引导线处：100×50/100 + 50×10 − 500 = 50
	var found bool
	for _, run := range s.texts {
		if run.Y == 50 {
			found = true
		}
	}
	assert.True(t, found, "line at offset should sit on the guide")
	assert.Equal(t, 1, s.lines, "guide bar")
}

func TestLinePositionFollowsGuide(t *testing.T) {
	r, s := newTestRenderer(t, smallConfig(), Deps{})
	seg := &segment.Text{ID: "t", Content: "a\nb\nc", FontSize: 20, LineHeight: 1.5}

	require.NoError(t, r.Render(seg, 0, false))
	require.Len(t, s.texts, 3)
	assert.Equal(t, 50.0, s.texts[0].Y)
	assert.Equal(t, 80.0, s.texts[1].Y)
	assert.Equal(t, 110.0, s.texts[2].Y)

	require.NoError(t, r.Render(seg, 30, false))
	assert.Equal(t, 20.0, s.texts[0].Y)

	r.SetGuide(0, false)
	require.NoError(t, r.Render(seg, 0, false))
	assert.Equal(t, 0.0, s.texts[0].Y)
	assert.Equal(t, 0, s.lines)
}

func TestMirrorWrapsWholeFrame(t *testing.T) {
	r, s := newTestRenderer(t, smallConfig(), Deps{})
	seg := &segment.Text{ID: "t", Content: "mirror me"}

	require.NoError(t, r.Render(seg, 0, true))
	require.Len(t, s.transforms, 2)
	assert.Equal(t, surface.MirrorX(400), s.transforms[0])
	assert.Equal(t, surface.Identity, s.transforms[1])
	assert.True(t, r.LastFrame().Mirror)

	require.NoError(t, r.Render(seg, 0, false))
	assert.Empty(t, s.transforms)
}

func waitState(t *testing.T, r *Renderer, seg segment.Segment, want cache.LoadState) {
	t.Helper()
	require.Eventually(t, func() bool { return r.LoadingState(seg) == want }, 2*time.Second, 5*time.Millisecond)
}

func TestImagePlaceholderThenAspectFit(t *testing.T) {
	res := assets.BuiltinResolver{"wide.png": pngBytes(t, 200, 50)}
	r, s := newTestRenderer(t, smallConfig(), Deps{Resolver: res})
	seg := &segment.Image{ID: "img", Ref: "built-in:wide.png"}

	assert.Equal(t, cache.Idle, r.LoadingState(seg))
	require.NoError(t, r.Render(seg, 0, false))
	if len(s.bitmaps) == 0 {
		// 首帧尚未解码：中性占位 + 状态文字
		require.Len(t, s.fills, 1)
		require.NotEmpty(t, s.texts)
		assert.Contains(t, s.texts[0].Text, "Loading")
	}

	waitState(t, r, seg, cache.Loaded)
	require.NoError(t, r.Render(seg, 0, false))
	require.Len(t, s.bitmaps, 1)
	call := s.bitmaps[0]
	assert.Equal(t, image.Rect(0, 0, 200, 50), call.src)
	// 400×100 视口中 4:1 的图像恰好铺满
	assert.Equal(t, surface.Rect{X: 0, Y: 0, W: 400, H: 100}, call.dst)
}

func TestCroppedRegionMapsToPixels(t *testing.T) {
	res := assets.BuiltinResolver{"chart.png": pngBytes(t, 200, 100)}
	r, s := newTestRenderer(t, smallConfig(), Deps{Resolver: res})
	seg := &segment.CroppedRegion{ID: "crop", Ref: "built-in:chart.png", Region: segment.Region{X: 10, Y: 10, Width: 50, Height: 40}}

	require.NoError(t, r.WaitReady(context.Background(), seg))
	require.NoError(t, r.Render(seg, 0, false))
	require.Len(t, s.bitmaps, 1)
	call := s.bitmaps[0]
	assert.Equal(t, image.Rect(20, 10, 120, 50), call.src)
	// 100×40 的裁剪区域适配进 400×100：缩放 2.5，居中
	assert.Equal(t, surface.Rect{X: 75, Y: 0, W: 250, H: 100}, call.dst)
}

func TestDecodeFailureShowsErrorPlaceholderWithoutRetry(t *testing.T) {
	var calls int
	var mu sync.Mutex
	res := assets.ResolverFunc(func(_ context.Context, ref string) ([]byte, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return []byte("not an image"), nil
	})
	r, s := newTestRenderer(t, smallConfig(), Deps{Resolver: res})
	seg := &segment.Image{ID: "bad", Ref: "bad.png"}

	err := r.WaitReady(context.Background(), seg)
	require.Error(t, err)
	assert.ErrorIs(t, err, cache.ErrDecodeFailure)
	assert.Equal(t, cache.Error, r.LoadingState(seg))
	assert.ErrorIs(t, r.LoadError(seg), cache.ErrDecodeFailure)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Render(seg, 0, false))
	}
	require.Len(t, s.fills, 1)
	require.NotEmpty(t, s.texts)
	assert.Contains(t, s.texts[0].Text, "Failed to load")
	assert.Equal(t, cache.Error, r.LastFrame().State)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

type pagesEngine struct{ pages int }

func (e pagesEngine) Open([]byte) (docraster.Document, error) { return pagesDoc(e), nil }

type pagesDoc struct{ pages int }

func (d pagesDoc) NumPages() int { return d.pages }
func (d pagesDoc) RenderPage(index int, dpi float64) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 60, 80)), nil
}
func (d pagesDoc) Close() error { return nil }

func TestDocumentPageOutOfRange(t *testing.T) {
	res := assets.BuiltinResolver{"deck.pdf": []byte("%PDF-1.7")}
	raster := docraster.New(pagesEngine{pages: 3}, res)
	r, s := newTestRenderer(t, smallConfig(), Deps{Resolver: res, Raster: raster})

	bad := &segment.DocumentPage{ID: "p99", Ref: "built-in:deck.pdf", PageNumber: 99}
	err := r.WaitReady(context.Background(), bad)
	assert.ErrorIs(t, err, docraster.ErrInvalidPageNumber)
	assert.Equal(t, cache.Error, r.LoadingState(bad))
	assert.Equal(t, 0, r.Cache().Len())

	good := &segment.DocumentPage{ID: "p2", Ref: "built-in:deck.pdf", PageNumber: 2}
	require.NoError(t, r.WaitReady(context.Background(), good))
	require.NoError(t, r.Render(good, 0, false))
	require.Len(t, s.bitmaps, 1)
	assert.Equal(t, 1, raster.OpenDocuments())
}

func TestResizeInvalidatesLayout(t *testing.T) {
	cfg := smallConfig()
	cfg.Width = 800
	r, s := newTestRenderer(t, cfg, Deps{})
	seg := &segment.Text{ID: "t", Content: strings.Repeat("word ", 40)}

	m1, err := r.TextMetrics(seg)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Layout().Computations())

	r.Resize(400, 100)
	w, _ := s.Size()
	assert.Equal(t, 400.0, w)
	assert.Equal(t, 0, r.Layout().Cached())

	m2, err := r.TextMetrics(seg)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Layout().Computations())
	assert.Greater(t, len(m2.Lines), len(m1.Lines))
}

func TestFPSWindow(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	r, _ := newTestRenderer(t, smallConfig(), Deps{Now: clock})
	seg := &segment.Text{ID: "t", Content: "x"}

	for i := 0; i < 25; i++ {
		require.NoError(t, r.Render(seg, 0, false))
		now = now.Add(40 * time.Millisecond)
	}
	assert.Zero(t, r.FPS())
	require.NoError(t, r.Render(seg, 0, false))
	assert.InDelta(t, 25, r.FPS(), 0.01)
}

func TestDestroyIsIdempotent(t *testing.T) {
	r, s := newTestRenderer(t, smallConfig(), Deps{})
	require.NoError(t, r.Destroy())
	require.NoError(t, r.Destroy())
	assert.ErrorIs(t, r.Ready(), ErrSurfaceUnavailable)

	clears := s.clears
	require.NoError(t, r.Render(&segment.Text{ID: "t", Content: "x"}, 0, false))
	assert.Equal(t, clears, s.clears)
}

func TestPixelRatioReachesSurface(t *testing.T) {
	cfg := smallConfig()
	cfg.PixelRatio = 2
	r, s := newTestRenderer(t, cfg, Deps{})
	assert.Equal(t, 2.0, s.PixelRatio())

	r.SetPixelRatio(3)
	assert.Equal(t, 3.0, s.PixelRatio())
	assert.Equal(t, 3.0, r.Config().PixelRatio)

	r.SetPixelRatio(0)
	assert.Equal(t, 3.0, s.PixelRatio())

	r.Resize(200, 100)
	assert.Equal(t, 3.0, s.PixelRatio())
}

// slowEngine 的 RenderPage 阻塞到 release 关闭，并记录关闭后的访问。
type slowEngine struct {
	started chan struct{}
	release chan struct{}
	closed  atomic.Bool
	misuse  atomic.Bool
}

func (e *slowEngine) Open([]byte) (docraster.Document, error) { return (*slowDoc)(e), nil }

type slowDoc slowEngine

func (d *slowDoc) NumPages() int { return 2 }
func (d *slowDoc) RenderPage(int, float64) (image.Image, error) {
	close(d.started)
	<-d.release
	if d.closed.Load() {
		d.misuse.Store(true)
	}
	return image.NewRGBA(image.Rect(0, 0, 10, 10)), nil
}
func (d *slowDoc) Close() error {
	d.closed.Store(true)
	return nil
}

func TestDestroyWaitsForPageRender(t *testing.T) {
	eng := &slowEngine{started: make(chan struct{}), release: make(chan struct{})}
	res := assets.BuiltinResolver{"deck.pdf": []byte("%PDF-1.7")}
	r := New(smallConfig(), Deps{Resolver: res, Raster: docraster.New(eng, res), Measurer: mono})

	r.Preload(&segment.DocumentPage{ID: "p", Ref: "built-in:deck.pdf", PageNumber: 1})
	<-eng.started

	destroyed := make(chan error, 1)
	go func() { destroyed <- r.Destroy() }()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, eng.closed.Load(), "document closed during RenderPage")

	close(eng.release)
	select {
	case err := <-destroyed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Destroy never returned")
	}
	assert.True(t, eng.closed.Load())
	assert.False(t, eng.misuse.Load())
}
