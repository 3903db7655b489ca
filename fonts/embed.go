package fonts

import (
	"fmt"
	"strings"

	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
)

// FallbackName 是找不到字体时使用的内置字体。
const FallbackName = "Go"

var builtin = map[string][]byte{
	"go":             goregular.TTF,
	"go regular":     goregular.TTF,
	"go bold":        gobold.TTF,
	"go italic":      goitalic.TTF,
	"go bold italic": gobolditalic.TTF,
	"go medium":      gomedium.TTF,
	"go mono":        gomono.TTF,
}

// Load 返回内置字体的字节数据，name 可写为 "embed:Go Bold" 或直接 "Go Bold"（不区分大小写）。
func Load(name string) ([]byte, error) {
	key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "embed:")))
	data, ok := builtin[key]
	if !ok {
		return nil, fmt.Errorf("读取内置字体 %s 失败: 不存在", name)
	}
	return data, nil
}

// Builtin lists the names accepted by Load.
func Builtin() []string {
	return []string{"Go", "Go Bold", "Go Italic", "Go Bold Italic", "Go Medium", "Go Mono"}
}
