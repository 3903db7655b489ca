// Package fonts resolves font names to tdewolff/canvas font faces and measures text.
// 画布单位按像素处理，字号在边界处做 px→pt 换算。
package fonts

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tdewolff/canvas"
)

// Conversion constants between canvas units (treated as px) and font points.
const (
	PtToPx = 0.352777
	PxToPt = 1.0 / PtToPx
)

// Resource can be provided either by Bytes or by Path.
type Resource struct {
	Bytes []byte
	Path  string
}

// Library caches one canvas.FontFamily per font name.
type Library struct {
	baseDir string
	blobs   map[string][]byte // by lower-cased name

	mu       sync.Mutex
	families map[string]*canvas.FontFamily
	fallback *canvas.FontFamily
}

// NewLibrary creates a library. Extra fonts are registered by name; paths are
// resolved against baseDir when relative.
func NewLibrary(baseDir string, extra map[string]Resource) *Library {
	l := &Library{
		baseDir:  baseDir,
		blobs:    map[string][]byte{},
		families: map[string]*canvas.FontFamily{},
	}
	for name, res := range extra {
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if len(res.Bytes) > 0 {
			l.blobs[key] = res.Bytes
			continue
		}
		if res.Path != "" {
			path := res.Path
			if !filepath.IsAbs(path) && baseDir != "" {
				path = filepath.Join(baseDir, path)
			}
			data, _ := os.ReadFile(path) // 读取失败在实际使用时回退到内置字体
			if len(data) > 0 {
				l.blobs[key] = data
			}
		}
	}
	return l
}

// Face returns a face of name at sizePx, falling back to the built-in font
// when name is unknown or fails to load.
func (l *Library) Face(name string, sizePx float64, col color.Color) (*canvas.FontFace, error) {
	family, err := l.family(name)
	if err != nil {
		return nil, err
	}
	return family.Face(sizePx*PxToPt, col, canvas.FontRegular, canvas.FontNormal), nil
}

// TextWidth measures s in px. Unknown fonts are measured with the fallback.
func (l *Library) TextWidth(name string, sizePx float64, s string) float64 {
	face, err := l.Face(name, sizePx, canvas.Black)
	if err != nil {
		return 0
	}
	return face.TextWidth(s)
}

func (l *Library) family(name string) (*canvas.FontFamily, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = strings.ToLower(FallbackName)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.families[key]; ok {
		return f, nil
	}

	f := canvas.NewFontFamily(name)
	data, err := l.bytes(key)
	if err == nil {
		err = f.LoadFont(data, 0, canvas.FontRegular)
	}
	if err != nil {
		fb, fbErr := l.fallbackLocked()
		if fbErr != nil {
			return nil, fmt.Errorf("加载字体 %s 失败: %w", name, err)
		}
		l.families[key] = fb
		return fb, nil
	}
	l.families[key] = f
	return f, nil
}

func (l *Library) bytes(key string) ([]byte, error) {
	if blob, ok := l.blobs[key]; ok {
		return blob, nil
	}
	return Load(key)
}

func (l *Library) fallbackLocked() (*canvas.FontFamily, error) {
	if l.fallback != nil {
		return l.fallback, nil
	}
	data, err := Load(FallbackName)
	if err != nil {
		return nil, err
	}
	f := canvas.NewFontFamily("telescroll-fallback")
	if err := f.LoadFont(data, 0, canvas.FontRegular); err != nil {
		return nil, err
	}
	l.fallback = f
	return f, nil
}
