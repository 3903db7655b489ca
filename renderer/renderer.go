// Package renderer composites the active segment onto a drawing surface.
package renderer

import (
	"github.com/ByLCY/telescroll/cache"
	"github.com/ByLCY/telescroll/segment"
)

// FrameRenderer 将片段按给定偏移绘制到表面上。
// 未挂载表面时 Render 为静默空操作。
type FrameRenderer interface {
	Render(seg segment.Segment, offset float64, mirror bool) error
	LoadingState(seg segment.Segment) cache.LoadState
}

var _ FrameRenderer = (*Renderer)(nil)
