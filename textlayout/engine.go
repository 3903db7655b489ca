// Package textlayout wraps text segments into lines for a surface width and
// memoizes the result per (segment, font, size, width).
package textlayout

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/ByLCY/telescroll/segment"
)

// DefaultPadding is the horizontal inset applied on each side of the surface.
const DefaultPadding = 40.0

// Engine measures text segments. It is safe for concurrent use.
type Engine struct {
	measurer Measurer
	padding  float64

	mu             sync.Mutex
	viewportWidth  float64
	viewportHeight float64
	cache          map[key]Metrics
	computed       int
}

// NewEngine creates an engine for a viewport of the given size.
func NewEngine(m Measurer, viewportWidth, viewportHeight float64) *Engine {
	return &Engine{
		measurer:       m,
		padding:        DefaultPadding,
		viewportWidth:  viewportWidth,
		viewportHeight: viewportHeight,
		cache:          map[key]Metrics{},
	}
}

// SetPadding changes the horizontal inset and drops memoized metrics.
func (e *Engine) SetPadding(p float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p < 0 {
		p = 0
	}
	e.padding = p
	e.cache = map[key]Metrics{}
}

// Resize 记录新的视口尺寸。折行位置依赖宽度，因此整个缓存失效。
func (e *Engine) Resize(width, height float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.viewportWidth = width
	e.viewportHeight = height
	e.cache = map[key]Metrics{}
}

// Invalidate drops every memoized result.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = map[key]Metrics{}
}

// Cached returns the number of memoized results.
func (e *Engine) Cached() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

// Computations returns how many times wrapping actually ran.
func (e *Engine) Computations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.computed
}

// Measure wraps seg for surfaceWidth. Repeated calls with an unchanged key
// return the memoized metrics.
func (e *Engine) Measure(seg *segment.Text, surfaceWidth float64) (Metrics, error) {
	if seg == nil {
		return Metrics{}, fmt.Errorf("文本片段为空")
	}
	if surfaceWidth <= 0 {
		return Metrics{}, fmt.Errorf("表面宽度无效: %g", surfaceWidth)
	}
	k := key{id: seg.ID, font: seg.EffectiveFont(), fontSize: seg.EffectiveFontSize(), width: surfaceWidth}

	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.cache[k]; ok {
		return m, nil
	}

	limit := surfaceWidth - 2*e.padding
	if limit <= 0 {
		limit = surfaceWidth
	}
	width := func(s string) float64 { return e.measurer.TextWidth(k.font, k.fontSize, s) }
	lines := wrapWords(norm.NFC.String(seg.Content), limit, width)

	lineHeight := seg.LineAdvance()
	m := Metrics{
		Lines:       lines,
		LineHeight:  lineHeight,
		TotalHeight: float64(len(lines))*lineHeight + e.viewportHeight,
		FontSize:    k.fontSize,
		Width:       surfaceWidth,
	}
	e.cache[k] = m
	e.computed++
	return m, nil
}

// MeasureViewport measures seg at the current viewport width.
func (e *Engine) MeasureViewport(seg *segment.Text) (Metrics, error) {
	e.mu.Lock()
	w := e.viewportWidth
	e.mu.Unlock()
	return e.Measure(seg, w)
}

// wrapWords 贪心折行：在宽度限制内尽量累积单词；超宽的单词独占一行，不在词内拆分。
// 显式换行始终断行，空行保留。
func wrapWords(content string, limit float64, width func(string) float64) []Line {
	var lines []Line
	for _, paragraph := range strings.Split(strings.ReplaceAll(content, "\r", ""), "\n") {
		words := strings.FieldsFunc(paragraph, unicode.IsSpace)
		if len(words) == 0 {
			lines = append(lines, Line{})
			continue
		}

		var builder strings.Builder
		current := 0.0
		emit := func() {
			lines = append(lines, Line{Content: builder.String(), Width: current})
			builder.Reset()
			current = 0
		}
		for _, word := range words {
			if builder.Len() == 0 {
				builder.WriteString(word)
				current = width(word)
				continue
			}
			candidate := builder.String() + " " + word
			w := width(candidate)
			if w > limit {
				emit()
				builder.WriteString(word)
				current = width(word)
				continue
			}
			builder.WriteString(" ")
			builder.WriteString(word)
			current = w
		}
		emit()
	}
	// 去掉末尾由结尾换行产生的空行
	for len(lines) > 1 && lines[len(lines)-1].Content == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
