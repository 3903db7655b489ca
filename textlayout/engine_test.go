package textlayout

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ByLCY/telescroll/fonts"
	"github.com/ByLCY/telescroll/segment"
)

// monoMeasurer 是测试用的等宽度量：每个字符 10px，与字体和字号无关。
var monoMeasurer = MeasureFunc(func(_ string, _ float64, s string) float64 {
	return float64(utf8.RuneCountInString(s)) * 10
})

func newTestEngine(width, height float64) *Engine {
	e := NewEngine(monoMeasurer, width, height)
	e.SetPadding(0)
	return e
}

func contents(lines []Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Content
	}
	return out
}

func TestGreedyWrap(t *testing.T) {
	e := newTestEngine(100, 50)
	seg := &segment.Text{ID: "a", Content: "aaa bbb ccc ddd", FontSize: 10, LineHeight: 2}

	m, err := e.Measure(seg, 100)
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	// "aaa bbb" = 70px, 加上 " ccc" 为 110px > 100px
	want := []string{"aaa bbb", "ccc ddd"}
	if got := contents(m.Lines); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected wrap: got=%q want=%q", got, want)
	}
	if m.LineHeight != 20 {
		t.Fatalf("line height: got=%g want=20", m.LineHeight)
	}
	// 2 行 × 20 + 视口高度 50
	if m.TotalHeight != 90 {
		t.Fatalf("total height: got=%g want=90", m.TotalHeight)
	}
}

func TestOverlongWordStandsAlone(t *testing.T) {
	e := newTestEngine(100, 0)
	seg := &segment.Text{ID: "b", Content: "hi supercalifragilistic yo"}
	m, err := e.Measure(seg, 100)
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	want := []string{"hi", "supercalifragilistic", "yo"}
	if got := contents(m.Lines); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected wrap: got=%q want=%q", got, want)
	}
	if m.Lines[1].Width <= 100 {
		t.Fatalf("overlong word should keep its full width, got %g", m.Lines[1].Width)
	}
}

func TestExplicitNewlinesAndBlankLines(t *testing.T) {
	e := newTestEngine(1000, 0)
	m, err := e.Measure(&segment.Text{ID: "c", Content: "foo\n\nbar\n"}, 1000)
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	want := []string{"foo", "", "bar"}
	if got := contents(m.Lines); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected lines: got=%q want=%q", got, want)
	}
}

func TestMeasureIsMemoizedAndIdempotent(t *testing.T) {
	e := newTestEngine(200, 100)
	seg := &segment.Text{ID: "d", Content: strings.Repeat("lorem ipsum ", 20)}

	first, err := e.Measure(seg, 200)
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	second, _ := e.Measure(seg, 200)
	if strings.Join(contents(first.Lines), "|") != strings.Join(contents(second.Lines), "|") {
		t.Fatalf("wrapping at the same width must be idempotent")
	}
	if got := e.Computations(); got != 1 {
		t.Fatalf("expected 1 computation, got %d", got)
	}

	// 字号变化构成新的键
	seg2 := *seg
	seg2.FontSize = 12
	if _, err := e.Measure(&seg2, 200); err != nil {
		t.Fatalf("measure: %v", err)
	}
	if got := e.Computations(); got != 2 {
		t.Fatalf("expected 2 computations, got %d", got)
	}
}

func TestResizeInvalidatesAll(t *testing.T) {
	e := newTestEngine(800, 600)
	segs := []*segment.Text{
		{ID: "x", Content: strings.Repeat("word ", 100)},
		{ID: "y", Content: strings.Repeat("other ", 100)},
	}
	for _, s := range segs {
		if _, err := e.MeasureViewport(s); err != nil {
			t.Fatalf("measure: %v", err)
		}
	}
	if e.Cached() != 2 {
		t.Fatalf("expected 2 cached metrics, got %d", e.Cached())
	}

	e.Resize(400, 600)
	if e.Cached() != 0 {
		t.Fatalf("resize must invalidate every entry, got %d", e.Cached())
	}
	before := e.Computations()
	m, err := e.MeasureViewport(segs[0])
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if e.Computations() != before+1 {
		t.Fatalf("expected a recomputation after resize")
	}
	if m.Width != 400 {
		t.Fatalf("expected metrics for width 400, got %g", m.Width)
	}
}

func TestMeasureRejectsBadInput(t *testing.T) {
	e := newTestEngine(100, 100)
	if _, err := e.Measure(nil, 100); err == nil {
		t.Fatalf("expected error for nil segment")
	}
	if _, err := e.Measure(&segment.Text{ID: "z"}, 0); err == nil {
		t.Fatalf("expected error for zero width")
	}
}

// TestWrapWidthLimitWithRealFont 验证使用真实字体度量时每行宽度不超过限制（单词可容纳时）。
func TestWrapWidthLimitWithRealFont(t *testing.T) {
	lib := fonts.NewLibrary("", nil)
	e := NewEngine(lib, 600, 400)
	seg := &segment.Text{ID: "r", Content: strings.Repeat("The quick brown fox jumps over the lazy dog. ", 10), FontSize: 32}

	m, err := e.Measure(seg, 600)
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if len(m.Lines) < 2 {
		t.Fatalf("expected wrapping, got %d lines", len(m.Lines))
	}
	limit := 600 - 2*DefaultPadding
	for i, ln := range m.Lines {
		if ln.Width-limit > 1e-6 {
			t.Fatalf("line %d exceeds limit: width=%g limit=%g", i, ln.Width, limit)
		}
	}
}
