package renderer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ByLCY/telescroll/assets"
	"github.com/ByLCY/telescroll/cache"
	"github.com/ByLCY/telescroll/docraster"
	"github.com/ByLCY/telescroll/segment"
	"github.com/ByLCY/telescroll/surface"
	"github.com/ByLCY/telescroll/textlayout"
)

// ErrSurfaceUnavailable is reported by Ready while no surface is attached.
// Render itself treats a missing surface as a no-op.
var ErrSurfaceUnavailable = errors.New("surface unavailable")

// Deps are the capabilities the renderer is built from.
type Deps struct {
	// Resolver maps image references to encoded bytes.
	Resolver assets.Resolver
	// Raster renders document pages. Document segments fail to load without it.
	Raster *docraster.Adapter
	// Measurer measures text runs for wrapping.
	Measurer textlayout.Measurer
	Logger   *slog.Logger
	// Now drives the FPS window. Defaults to time.Now.
	Now func() time.Time
}

// FrameStats describes the last rendered frame.
type FrameStats struct {
	SegmentID  string
	Kind       segment.Kind
	Offset     float64
	Mirror     bool
	LinesDrawn int
	LinesTotal int
	State      cache.LoadState
}

// Renderer composites one segment per frame onto an attached surface.
type Renderer struct {
	deps   Deps
	logger *slog.Logger
	cache  *cache.Cache
	layout *textlayout.Engine
	fps    *fpsCounter

	mu        sync.Mutex
	cfg       Config
	surf      surface.Surface
	last      FrameStats
	destroyed bool
}

// New creates a renderer. Attach a surface before frames produce output.
func New(cfg Config, deps Deps) *Renderer {
	cfg = cfg.normalized()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Measurer == nil {
		deps.Measurer = textlayout.MeasureFunc(approxWidth)
	}
	r := &Renderer{
		deps:   deps,
		logger: deps.Logger.With("component", "renderer"),
		cfg:    cfg,
		fps:    newFPSCounter(deps.Now),
	}
	r.layout = textlayout.NewEngine(deps.Measurer, cfg.Width, cfg.Height)
	r.layout.SetPadding(cfg.Padding)
	r.cache = cache.New(cfg.CacheCapacity, r.load, cache.WithLogger(deps.Logger))
	return r
}

// approxWidth 在没有字体测量器时按半个字号估算每个字符的宽度。
func approxWidth(_ string, sizePx float64, s string) float64 {
	return float64(len([]rune(s))) * sizePx * 0.5
}

func (r *Renderer) load(ctx context.Context, key cache.Key) (image.Image, error) {
	if key.Document {
		if r.deps.Raster == nil {
			return nil, fmt.Errorf("%w: no document rasterizer for %s", cache.ErrDecodeFailure, key)
		}
		img, err := r.deps.Raster.Rasterize(ctx, key.Ref, key.Page)
		if err != nil {
			if errors.Is(err, docraster.ErrInvalidPageNumber) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", cache.ErrDecodeFailure, err)
		}
		return img, nil
	}
	if r.deps.Resolver == nil {
		return nil, fmt.Errorf("%w: no resolver for %s", cache.ErrDecodeFailure, key)
	}
	data, err := r.deps.Resolver.Resolve(ctx, key.Ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cache.ErrDecodeFailure, err)
	}
	img, err := assets.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cache.ErrDecodeFailure, err)
	}
	return img, nil
}

// Attach sets the drawing target and sizes it to the configured viewport.
func (r *Renderer) Attach(s surface.Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	r.surf = s
	if s != nil {
		s.SetPixelRatio(r.cfg.PixelRatio)
		s.Resize(r.cfg.Width, r.cfg.Height)
	}
}

// Detach drops the surface; later frames are no-ops.
func (r *Renderer) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surf = nil
}

// Ready reports ErrSurfaceUnavailable until a surface is attached.
func (r *Renderer) Ready() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.surf == nil {
		return ErrSurfaceUnavailable
	}
	return nil
}

// Config returns the current configuration.
func (r *Renderer) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Resize changes the viewport. Every memoized text layout is dropped.
func (r *Renderer) Resize(width, height float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if width > 0 {
		r.cfg.Width = width
	}
	if height > 0 {
		r.cfg.Height = height
	}
	r.layout.Resize(r.cfg.Width, r.cfg.Height)
	if r.surf != nil {
		r.surf.SetPixelRatio(r.cfg.PixelRatio)
		r.surf.Resize(r.cfg.Width, r.cfg.Height)
	}
}

// SetPixelRatio changes the backing density of the attached surface. Layout
// is in logical units and is kept.
func (r *Renderer) SetPixelRatio(ratio float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ratio <= 0 {
		return
	}
	r.cfg.PixelRatio = ratio
	if r.surf != nil {
		r.surf.SetPixelRatio(ratio)
	}
}

// SetGuide moves the reading guide (percent of viewport height) and toggles its bar.
func (r *Renderer) SetGuide(position float64, visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.GuidePosition = math.Max(0, math.Min(100, position))
	r.cfg.ShowGuide = visible
}

// Render draws seg at the given scroll offset. Without a surface it does nothing.
func (r *Renderer) Render(seg segment.Segment, offset float64, mirror bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.surf == nil || r.destroyed {
		return nil
	}
	if seg == nil {
		return fmt.Errorf("渲染片段为空")
	}

	s := r.surf
	s.Clear(r.cfg.Background)
	if mirror {
		s.SetTransform(surface.MirrorX(r.cfg.Width))
		defer s.SetTransform(surface.Identity)
	}

	stats := FrameStats{SegmentID: seg.SegmentID(), Kind: seg.Kind(), Offset: offset, Mirror: mirror}
	var err error
	switch v := seg.(type) {
	case *segment.Text:
		err = r.drawText(s, v, offset, &stats)
	case *segment.Image:
		stats.State = r.drawBitmap(s, cache.ImageKey(v.Ref), nil)
	case *segment.CroppedRegion:
		region := v.Region
		stats.State = r.drawBitmap(s, cache.ImageKey(v.Ref), &region)
	case *segment.DocumentPage:
		stats.State = r.drawBitmap(s, cache.PageKey(v.Ref, v.PageNumber), nil)
	default:
		return fmt.Errorf("不支持的片段类型 %T", seg)
	}
	r.last = stats
	r.fps.frame()
	return err
}

func (r *Renderer) drawText(s surface.Surface, seg *segment.Text, offset float64, stats *FrameStats) error {
	m, err := r.layout.Measure(seg, r.cfg.Width)
	if err != nil {
		return fmt.Errorf("测量文本 %s 失败: %w", seg.ID, err)
	}
	stats.LinesTotal = len(m.Lines)

	buffer := r.cfg.BufferScreens * r.cfg.Height
	lo, hi := offset-buffer, offset+buffer
	guideY := r.cfg.GuideY()
	col := toColor(seg.TextColor)
	for i, line := range m.Lines {
		top := float64(i) * m.LineHeight
		if top+m.LineHeight < lo || top > hi {
			continue
		}
		if line.Content == "" {
			continue
		}
		s.DrawText(surface.TextRun{
			Text:  line.Content,
			Font:  seg.EffectiveFont(),
			Size:  m.FontSize,
			X:     r.cfg.Width / 2,
			Y:     guideY + top - offset,
			Align: surface.AlignCenter,
			Color: col,
		})
		stats.LinesDrawn++
	}

	if r.cfg.ShowGuide {
		s.DrawLine(0, guideY, r.cfg.Width, guideY, r.cfg.GuideWidth, r.cfg.GuideColor)
	}
	return nil
}

// drawBitmap draws the bitmap for key, or a placeholder while it is not ready.
// A key in the error state is never re-requested from here.
func (r *Renderer) drawBitmap(s surface.Surface, key cache.Key, region *segment.Region) cache.LoadState {
	box := r.contentBox()
	if img, ok := r.cache.Get(key); ok {
		src := img.Bounds()
		if region != nil {
			src = region.Pixels(src)
		}
		dst := surface.AspectFit(float64(src.Dx()), float64(src.Dy()), box)
		s.DrawBitmap(img, src, dst)
		return cache.Loaded
	}

	state := r.cache.State(key)
	switch state {
	case cache.Idle:
		r.cache.Request(key)
		state = cache.Loading
		fallthrough
	case cache.Loading:
		r.drawPlaceholder(s, box, r.cfg.Placeholder, "Loading…", "")
	case cache.Error:
		msg := ""
		if err := r.cache.Err(key); err != nil {
			msg = truncate(err.Error(), 80)
		}
		r.drawPlaceholder(s, box, r.cfg.ErrorFill, "Failed to load "+key.String(), msg)
	case cache.Loaded:
		// 在 Get 与 State 之间刚刚完成；下一帧绘制
		r.drawPlaceholder(s, box, r.cfg.Placeholder, "Loading…", "")
	}
	return state
}

func (r *Renderer) drawPlaceholder(s surface.Surface, box surface.Rect, fill color.Color, title, detail string) {
	s.FillRect(box, fill)
	cx, cy := box.Center()
	size := r.cfg.StatusSize
	y := cy - size
	if detail == "" {
		y = cy - size/2
	}
	s.DrawText(surface.TextRun{Text: title, Font: r.cfg.StatusFont, Size: size, X: cx, Y: y, Align: surface.AlignCenter, Color: r.cfg.StatusColor})
	if detail != "" {
		s.DrawText(surface.TextRun{Text: detail, Font: r.cfg.StatusFont, Size: size * 0.6, X: cx, Y: y + size*1.4, Align: surface.AlignCenter, Color: r.cfg.StatusColor})
	}
}

func (r *Renderer) contentBox() surface.Rect {
	in := r.cfg.ContentInset
	return surface.Rect{X: in, Y: in, W: r.cfg.Width - 2*in, H: r.cfg.Height - 2*in}
}

func toColor(c segment.Color) color.Color {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}

func bitmapKey(seg segment.Segment) (cache.Key, bool) {
	switch v := seg.(type) {
	case *segment.Image:
		return cache.ImageKey(v.Ref), true
	case *segment.CroppedRegion:
		return cache.ImageKey(v.Ref), true
	case *segment.DocumentPage:
		return cache.PageKey(v.Ref, v.PageNumber), true
	default:
		return cache.Key{}, false
	}
}

// Preload starts decoding the bitmaps behind segs without waiting.
func (r *Renderer) Preload(segs ...segment.Segment) {
	for _, seg := range segs {
		if key, ok := bitmapKey(seg); ok {
			r.cache.Request(key)
		}
	}
}

// WaitReady preloads segs and blocks until each bitmap has loaded or failed.
// The first load error is returned.
func (r *Renderer) WaitReady(ctx context.Context, segs ...segment.Segment) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, seg := range segs {
		key, ok := bitmapKey(seg)
		if !ok {
			continue
		}
		p := r.cache.Request(key)
		g.Go(func() error {
			_, err := p.Wait(ctx)
			return err
		})
	}
	return g.Wait()
}

// LoadingState reports the cache state behind seg. Text is always Loaded.
func (r *Renderer) LoadingState(seg segment.Segment) cache.LoadState {
	key, ok := bitmapKey(seg)
	if !ok {
		return cache.Loaded
	}
	return r.cache.State(key)
}

// LoadError returns the recorded failure for seg, if any.
func (r *Renderer) LoadError(seg segment.Segment) error {
	key, ok := bitmapKey(seg)
	if !ok {
		return nil
	}
	return r.cache.Err(key)
}

// TextMetrics measures seg at the current viewport width.
func (r *Renderer) TextMetrics(seg *segment.Text) (textlayout.Metrics, error) {
	return r.layout.MeasureViewport(seg)
}

// Layout exposes the text layout engine.
func (r *Renderer) Layout() *textlayout.Engine { return r.layout }

// Cache exposes the bitmap cache.
func (r *Renderer) Cache() *cache.Cache { return r.cache }

// LastFrame returns statistics for the most recent frame.
func (r *Renderer) LastFrame() FrameStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// FPS returns the frame rate measured over the last completed one-second window.
func (r *Renderer) FPS() float64 { return r.fps.value() }

// Destroy releases cached bitmaps and document handles and drops the surface.
// Calling it more than once is a no-op.
func (r *Renderer) Destroy() error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return nil
	}
	r.destroyed = true
	r.surf = nil
	r.mu.Unlock()

	r.cache.Close()
	r.layout.Invalidate()
	if r.deps.Raster != nil {
		if err := r.deps.Raster.Close(); err != nil {
			return fmt.Errorf("释放文档句柄失败: %w", err)
		}
	}
	r.logger.Debug("destroyed")
	return nil
}
