package script

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// Interpolate 将文本中的 ${path.to.value} 替换为 data 中的值。
// 路径支持点号分隔的键与 [n] 下标；找不到时保留原占位符。
func Interpolate(text string, data any) string {
	if data == nil || !strings.Contains(text, "${") {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-1])
		if path == "" {
			return match
		}
		if val, ok := Lookup(data, path); ok {
			return fmt.Sprint(val)
		}
		return match
	})
}

// Lookup resolves a dotted path such as "items[1].name" in nested maps and slices.
func Lookup(data any, path string) (any, bool) {
	current := data
	for _, part := range strings.Split(path, ".") {
		name, indexes, ok := splitIndexes(part)
		if !ok {
			return nil, false
		}
		if name != "" {
			if current, ok = child(current, name); !ok {
				return nil, false
			}
		}
		for _, idx := range indexes {
			if current, ok = element(current, idx); !ok {
				return nil, false
			}
		}
	}
	return current, true
}

// splitIndexes 把 "items[0][2]" 拆成 "items" 与 [0 2]。
func splitIndexes(part string) (string, []int, bool) {
	i := strings.IndexByte(part, '[')
	if i == -1 {
		return part, nil, true
	}
	name, rest := part[:i], part[i:]
	var out []int
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, false
		}
		end := strings.IndexByte(rest, ']')
		if end == -1 {
			return "", nil, false
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest[1:end]))
		if err != nil {
			return "", nil, false
		}
		out = append(out, n)
		rest = rest[end+1:]
	}
	return name, out, true
}

func child(current any, key string) (any, bool) {
	switch c := current.(type) {
	case map[string]any:
		v, ok := c[key]
		return v, ok
	case map[string]string:
		v, ok := c[key]
		return v, ok
	default:
		return nil, false
	}
}

func element(current any, idx int) (any, bool) {
	switch c := current.(type) {
	case []any:
		if idx < 0 || idx >= len(c) {
			return nil, false
		}
		return c[idx], true
	case []string:
		if idx < 0 || idx >= len(c) {
			return nil, false
		}
		return c[idx], true
	default:
		return nil, false
	}
}
