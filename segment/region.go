package segment

import (
	"fmt"
	"image"
	"math"
)

// Region is a rectangle in percent of the source bitmap (0-100 on each axis).
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Validate reports whether every field lies in [0,100] and the rectangle has area.
func (r Region) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{{"x", r.X}, {"y", r.Y}, {"width", r.Width}, {"height", r.Height}} {
		if math.IsNaN(f.v) || f.v < 0 || f.v > 100 {
			return fmt.Errorf("region %s out of range [0,100]: %g", f.name, f.v)
		}
	}
	if r.Width == 0 || r.Height == 0 {
		return fmt.Errorf("region has no area: %gx%g", r.Width, r.Height)
	}
	return nil
}

// Pixels maps the normalized region onto bounds. The result is clamped to bounds
// and is never empty for a non-empty bounds rectangle.
func (r Region) Pixels(bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	x0 := bounds.Min.X + int(math.Floor(clampPct(r.X)/100*w))
	y0 := bounds.Min.Y + int(math.Floor(clampPct(r.Y)/100*h))
	x1 := bounds.Min.X + int(math.Ceil(clampPct(r.X+r.Width)/100*w))
	y1 := bounds.Min.Y + int(math.Ceil(clampPct(r.Y+r.Height)/100*h))
	rect := image.Rect(x0, y0, x1, y1).Intersect(bounds)
	if rect.Empty() && !bounds.Empty() {
		// 退化为单像素，避免后续 aspect-fit 除零
		x := min(max(x0, bounds.Min.X), bounds.Max.X-1)
		y := min(max(y0, bounds.Min.Y), bounds.Max.Y-1)
		rect = image.Rect(x, y, x+1, y+1)
	}
	return rect
}

func clampPct(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
