// Package canvassurface implements surface.Surface on github.com/tdewolff/canvas.
// 画布单位按逻辑像素处理；栅格化时按像素密度换算为实际分辨率。
package canvassurface

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/anthonynsimon/bild/transform"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers"
	"github.com/tdewolff/canvas/renderers/rasterizer"

	"github.com/ByLCY/telescroll/fonts"
	"github.com/ByLCY/telescroll/surface"
)

const defaultLineWidth = 1.0

// Surface records one frame at a time onto a canvas.Canvas.
type Surface struct {
	fonts *fonts.Library

	mu         sync.Mutex
	width      float64
	height     float64
	pixelRatio float64
	transform  surface.Transform

	c   *canvas.Canvas
	ctx *canvas.Context
}

var _ surface.Surface = (*Surface)(nil)

// New creates a surface of width×height logical px at pixelRatio backing px per unit.
func New(width, height, pixelRatio float64, lib *fonts.Library) *Surface {
	if pixelRatio <= 0 {
		pixelRatio = 1
	}
	if lib == nil {
		lib = fonts.NewLibrary("", nil)
	}
	s := &Surface{
		fonts:      lib,
		width:      width,
		height:     height,
		pixelRatio: pixelRatio,
		transform:  surface.Identity,
	}
	s.newFrame()
	return s
}

func (s *Surface) Size() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *Surface) PixelRatio() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pixelRatio
}

// BackingSize returns the raster size in device pixels.
func (s *Surface) BackingSize() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(math.Round(s.width * s.pixelRatio)), int(math.Round(s.height * s.pixelRatio))
}

func (s *Surface) Resize(width, height float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = width, height
	s.newFrame()
}

// SetPixelRatio changes the device pixel density.
func (s *Surface) SetPixelRatio(ratio float64) {
	if ratio <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pixelRatio = ratio
}

func (s *Surface) newFrame() {
	s.c = canvas.New(s.width, s.height)
	s.ctx = canvas.NewContext(s.c)
	s.ctx.SetCoordSystem(canvas.CartesianIV) // 使坐标保持左上角为原点
	s.applyTransform()
}

func (s *Surface) applyTransform() {
	t := s.transform
	s.ctx.SetView(canvas.Matrix{{t.A, t.B, t.C}, {t.D, t.E, t.F}})
}

func (s *Surface) Clear(bg color.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newFrame()
	s.fillRect(surface.Rect{W: s.width, H: s.height}, bg)
}

func (s *Surface) FillRect(r surface.Rect, c color.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fillRect(r, c)
}

func (s *Surface) fillRect(r surface.Rect, c color.Color) {
	if r.Empty() {
		return
	}
	s.ctx.SetFillColor(c)
	s.ctx.SetStrokeColor(color.RGBA{0, 0, 0, 0})
	s.ctx.DrawPath(r.X, r.Y, canvas.Rectangle(r.W, r.H))
}

func (s *Surface) DrawBitmap(img image.Image, src image.Rectangle, dst surface.Rect) {
	if img == nil || dst.Empty() {
		return
	}
	src = src.Intersect(img.Bounds())
	if src.Empty() {
		return
	}
	if src != img.Bounds() {
		img = transform.Crop(img, src)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sw, sh := float64(src.Dx()), float64(src.Dy())
	scaleX, scaleY := dst.W/sw, dst.H/sh
	dpmm := sw / dst.W
	if math.Abs(scaleX-scaleY) > 1e-3 {
		// 非等比缩放时先重采样到目标尺寸
		w := max(1, int(math.Round(dst.W*s.pixelRatio)))
		h := max(1, int(math.Round(dst.H*s.pixelRatio)))
		img = transform.Resize(img, w, h, transform.Linear)
		dpmm = s.pixelRatio
	}
	s.ctx.DrawImage(dst.X, dst.Y, img, canvas.DPMM(dpmm))
}

func (s *Surface) DrawText(run surface.TextRun) {
	if run.Text == "" || run.Size <= 0 {
		return
	}
	col := run.Color
	if col == nil {
		col = canvas.White
	}
	face, err := s.fonts.Face(run.Font, run.Size, col)
	if err != nil {
		return
	}

	var align canvas.TextAlign
	switch run.Align {
	case surface.AlignCenter:
		align = canvas.Center
	case surface.AlignRight:
		align = canvas.Right
	default:
		align = canvas.Left
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 基线位置：行顶部加上字体上升部
	baseline := run.Y + face.Metrics().Ascent
	s.ctx.DrawText(run.X, baseline, canvas.NewTextLine(face, run.Text, align))
}

func (s *Surface) DrawLine(x1, y1, x2, y2, width float64, c color.Color) {
	if width <= 0 {
		width = defaultLineWidth
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx.SetStrokeColor(c)
	s.ctx.SetStrokeWidth(width)
	p := &canvas.Path{}
	p.MoveTo(0, 0)
	p.LineTo(x2-x1, y2-y1)
	s.ctx.DrawPath(x1, y1, p)
}

func (s *Surface) SetTransform(t surface.Transform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transform = t
	s.applyTransform()
}

// Rasterize renders the current frame at the backing resolution.
func (s *Surface) Rasterize() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rasterizer.Draw(s.c, canvas.DPMM(s.pixelRatio), canvas.DefaultColorSpace)
}

// SavePNG writes the current frame to path.
func (s *Surface) SavePNG(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.WriteFile(path, renderers.PNG(canvas.DPMM(s.pixelRatio)))
}
