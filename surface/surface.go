// Package surface defines the abstract 2D raster target frames are composed onto.
package surface

import (
	"image"
	"image/color"
	"math"
)

// Rect is an axis-aligned rectangle in surface units (CSS-like px, y down).
type Rect struct {
	X, Y, W, H float64
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Center returns the rectangle's centre point.
func (r Rect) Center() (float64, float64) { return r.X + r.W/2, r.Y + r.H/2 }

// Align 是文本水平对齐方式。
type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// TextRun is a single line of text. X is the anchor given by Align; Y is the
// top of the line box.
type TextRun struct {
	Text  string
	Font  string
	Size  float64 // px
	X, Y  float64
	Align Align
	Color color.Color
}

// Transform is a 2D affine matrix [[A B C] [D E F]] applied to subsequent draws.
type Transform struct {
	A, B, C float64
	D, E, F float64
}

// Identity leaves coordinates unchanged.
var Identity = Transform{A: 1, E: 1}

// MirrorX flips horizontally about the vertical centre line of a surface of the given width.
func MirrorX(width float64) Transform {
	return Transform{A: -1, C: width, E: 1}
}

// IsIdentity reports whether t is the identity transform.
func (t Transform) IsIdentity() bool { return t == Identity }

// Apply maps a point through t.
func (t Transform) Apply(x, y float64) (float64, float64) {
	return t.A*x + t.B*y + t.C, t.D*x + t.E*y + t.F
}

// Surface is the drawing target. Implementations are not required to be
// safe for concurrent use; the renderer serializes frames.
type Surface interface {
	// Size returns the logical size.
	Size() (width, height float64)
	// PixelRatio is the number of backing pixels per logical unit.
	PixelRatio() float64
	// SetPixelRatio changes the backing density; non-positive values are ignored.
	SetPixelRatio(ratio float64)
	// Resize changes the logical size; the backing resolution follows from PixelRatio.
	Resize(width, height float64)
	// Clear starts a new frame filled with bg.
	Clear(bg color.Color)
	FillRect(r Rect, c color.Color)
	// DrawBitmap draws the src rectangle of img scaled into dst.
	DrawBitmap(img image.Image, src image.Rectangle, dst Rect)
	DrawText(run TextRun)
	DrawLine(x1, y1, x2, y2, width float64, c color.Color)
	// SetTransform replaces the current transform for subsequent draws.
	SetTransform(t Transform)
}

// AspectFit returns the largest rectangle with the aspect ratio of a
// srcW×srcH source that fits inside box, centred in it.
func AspectFit(srcW, srcH float64, box Rect) Rect {
	if srcW <= 0 || srcH <= 0 || box.Empty() {
		return Rect{X: box.X + box.W/2, Y: box.Y + box.H/2}
	}
	scale := math.Min(box.W/srcW, box.H/srcH)
	w, h := srcW*scale, srcH*scale
	return Rect{
		X: box.X + (box.W-w)/2,
		Y: box.Y + (box.H-h)/2,
		W: w,
		H: h,
	}
}
