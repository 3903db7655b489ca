// Package segment 定义渲染引擎消费的时间片段数据模型。
// 片段由外部时间线持有，引擎只读不写。
package segment

import (
	"fmt"
	"time"
)

// Kind identifies the variant of a Segment.
type Kind int

const (
	KindText Kind = iota
	KindImage
	KindCroppedRegion
	KindDocumentPage
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindCroppedRegion:
		return "cropped-region"
	case KindDocumentPage:
		return "document-page"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Default typography used when a text segment leaves a field unset.
const (
	DefaultFont       = "Go"
	DefaultFontSize   = 48.0
	DefaultLineHeight = 1.5
)

// Segment is a closed sum type over Text, Image, CroppedRegion and DocumentPage.
// Consumers switch on the concrete type; the unexported method keeps the set closed.
type Segment interface {
	SegmentID() string
	Kind() Kind
	sealed()
}

// Color 采用 0-255 的 RGB 数值。
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// White is the default text colour.
var White = Color{R: 255, G: 255, B: 255}

// Text is a block of prose that scrolls past the guide.
type Text struct {
	ID         string        `json:"id"`
	Content    string        `json:"content"`
	Font       string        `json:"font"`
	FontSize   float64       `json:"fontSize"`   // px
	LineHeight float64       `json:"lineHeight"` // multiple of FontSize
	TextColor  Color         `json:"textColor"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Image shows a whole bitmap.
type Image struct {
	ID       string        `json:"id"`
	Ref      string        `json:"ref"`
	Duration time.Duration `json:"duration,omitempty"`
}

// CroppedRegion shows a normalized rectangle of a bitmap.
type CroppedRegion struct {
	ID       string        `json:"id"`
	Ref      string        `json:"ref"`
	Region   Region        `json:"region"`
	Duration time.Duration `json:"duration,omitempty"`
}

// DocumentPage shows one rasterized page of a paginated document.
// PageNumber is 1-based.
type DocumentPage struct {
	ID         string        `json:"id"`
	Ref        string        `json:"ref"`
	PageNumber int           `json:"pageNumber"`
	Duration   time.Duration `json:"duration,omitempty"`
}

var (
	_ Segment = (*Text)(nil)
	_ Segment = (*Image)(nil)
	_ Segment = (*CroppedRegion)(nil)
	_ Segment = (*DocumentPage)(nil)
)

func (s *Text) SegmentID() string          { return s.ID }
func (s *Image) SegmentID() string         { return s.ID }
func (s *CroppedRegion) SegmentID() string { return s.ID }
func (s *DocumentPage) SegmentID() string  { return s.ID }

func (*Text) Kind() Kind          { return KindText }
func (*Image) Kind() Kind         { return KindImage }
func (*CroppedRegion) Kind() Kind { return KindCroppedRegion }
func (*DocumentPage) Kind() Kind  { return KindDocumentPage }

func (*Text) sealed()          {}
func (*Image) sealed()         {}
func (*CroppedRegion) sealed() {}
func (*DocumentPage) sealed()  {}

// EffectiveFont returns the font name, falling back to DefaultFont.
func (s *Text) EffectiveFont() string {
	if s.Font == "" {
		return DefaultFont
	}
	return s.Font
}

// EffectiveFontSize returns the font size in px, falling back to DefaultFontSize.
func (s *Text) EffectiveFontSize() float64 {
	if s.FontSize <= 0 {
		return DefaultFontSize
	}
	return s.FontSize
}

// LineAdvance returns the absolute line height in px.
func (s *Text) LineAdvance() float64 {
	factor := s.LineHeight
	if factor <= 0 {
		factor = DefaultLineHeight
	}
	return s.EffectiveFontSize() * factor
}

// Ref returns the content reference of a visual segment, or "" for text.
func Ref(s Segment) string {
	switch v := s.(type) {
	case *Image:
		return v.Ref
	case *CroppedRegion:
		return v.Ref
	case *DocumentPage:
		return v.Ref
	default:
		return ""
	}
}

// DisplayDuration returns the segment's own duration or fallback when unset.
func DisplayDuration(s Segment, fallback time.Duration) time.Duration {
	var d time.Duration
	switch v := s.(type) {
	case *Text:
		d = v.Duration
	case *Image:
		d = v.Duration
	case *CroppedRegion:
		d = v.Duration
	case *DocumentPage:
		d = v.Duration
	}
	if d <= 0 {
		return fallback
	}
	return d
}
