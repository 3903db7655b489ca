package renderer

import (
	"image/color"
	"math"
)

// Config is the caller-mutable render configuration.
type Config struct {
	Width      float64
	Height     float64
	PixelRatio float64

	// GuidePosition is the reading line, in percent of the viewport height.
	GuidePosition float64
	ShowGuide     bool
	GuideWidth    float64

	// BufferScreens is the virtual-scrolling margin, in viewport heights, on
	// each side of the offset.
	BufferScreens float64
	// CacheCapacity bounds the number of decoded bitmaps held.
	CacheCapacity int
	// Padding is the horizontal text inset on each side.
	Padding float64
	// ContentInset is the margin around aspect-fit bitmaps.
	ContentInset float64

	Background  color.Color
	GuideColor  color.Color
	Placeholder color.Color
	ErrorFill   color.Color
	StatusColor color.Color
	StatusFont  string
	StatusSize  float64
}

// DefaultConfig returns a 1280×720 configuration.
func DefaultConfig() Config {
	return Config{
		Width:         1280,
		Height:        720,
		PixelRatio:    1,
		GuidePosition: 40,
		ShowGuide:     true,
		GuideWidth:    2,
		BufferScreens: 2,
		CacheCapacity: 16,
		Padding:       40,
		ContentInset:  0,
		Background:    color.RGBA{0, 0, 0, 255},
		GuideColor:    color.RGBA{255, 64, 64, 200},
		Placeholder:   color.RGBA{48, 48, 48, 255},
		ErrorFill:     color.RGBA{96, 24, 24, 255},
		StatusColor:   color.RGBA{200, 200, 200, 255},
		StatusFont:    "Go",
		StatusSize:    24,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Width <= 0 {
		c.Width = d.Width
	}
	if c.Height <= 0 {
		c.Height = d.Height
	}
	if c.PixelRatio <= 0 {
		c.PixelRatio = 1
	}
	c.GuidePosition = math.Max(0, math.Min(100, c.GuidePosition))
	if c.BufferScreens <= 0 {
		c.BufferScreens = d.BufferScreens
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = d.CacheCapacity
	}
	if c.Padding < 0 {
		c.Padding = 0
	}
	if c.ContentInset < 0 {
		c.ContentInset = 0
	}
	if c.Background == nil {
		c.Background = d.Background
	}
	if c.GuideColor == nil {
		c.GuideColor = d.GuideColor
	}
	if c.Placeholder == nil {
		c.Placeholder = d.Placeholder
	}
	if c.ErrorFill == nil {
		c.ErrorFill = d.ErrorFill
	}
	if c.StatusColor == nil {
		c.StatusColor = d.StatusColor
	}
	if c.StatusFont == "" {
		c.StatusFont = d.StatusFont
	}
	if c.StatusSize <= 0 {
		c.StatusSize = d.StatusSize
	}
	return c
}

// GuideY returns the guide line's y coordinate.
func (c Config) GuideY() float64 {
	return c.Height * c.GuidePosition / 100
}
