package textlayout

// 该文件定义排版结果，供渲染与调试 JSON 共用。

// Line 表示折行后的一行文本及其测量宽度（px）。
type Line struct {
	Content string  `json:"content"`
	Width   float64 `json:"width"`
}

// Metrics 是一个文本片段在给定表面宽度下的排版结果。
type Metrics struct {
	Lines       []Line  `json:"lines"`
	LineHeight  float64 `json:"lineHeight"`
	TotalHeight float64 `json:"totalHeight"` // 行数×行高 + 一个视口高度的尾部缓冲
	FontSize    float64 `json:"fontSize"`
	Width       float64 `json:"width"`
}

// ContentHeight is the height of the wrapped lines without the trailing buffer.
func (m Metrics) ContentHeight() float64 {
	return float64(len(m.Lines)) * m.LineHeight
}

// Measurer 负责根据字体测量文本宽度（px）。
type Measurer interface {
	TextWidth(font string, sizePx float64, s string) float64
}

// MeasureFunc adapts a function to Measurer.
type MeasureFunc func(font string, sizePx float64, s string) float64

func (f MeasureFunc) TextWidth(font string, sizePx float64, s string) float64 {
	return f(font, sizePx, s)
}

type key struct {
	id       string
	font     string
	fontSize float64
	width    float64
}
