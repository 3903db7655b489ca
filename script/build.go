package script

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ByLCY/telescroll/segment"
)

// ErrInvalid marks a script that parses but does not describe valid segments.
var ErrInvalid = errors.New("invalid script")

// Settings are the show-level values from the title and meta block.
type Settings struct {
	Title       string
	Author      string
	Speed       float64
	Hold        time.Duration
	Mirror      bool
	AutoAdvance bool
}

// Meta collects show settings. Unknown keys are ignored.
func Meta(doc *Script) (Settings, error) {
	st := Settings{Title: string(doc.Title), Speed: 1, AutoAdvance: true}
	for _, e := range doc.Entries {
		if e.Meta == nil {
			continue
		}
		for _, a := range e.Meta.Assignments {
			raw := a.Raw()
			var err error
			switch strings.ToLower(a.Key) {
			case "title":
				st.Title = raw
			case "author":
				st.Author = raw
			case "speed":
				st.Speed, err = strconv.ParseFloat(raw, 64)
				if err == nil && st.Speed <= 0 {
					err = fmt.Errorf("必须为正数")
				}
			case "hold":
				st.Hold, err = time.ParseDuration(raw)
			case "mirror":
				st.Mirror, err = parseSwitch(raw)
			case "auto-advance":
				st.AutoAdvance, err = parseSwitch(raw)
			}
			if err != nil {
				return Settings{}, fmt.Errorf("%w: meta %s=%q: %v", ErrInvalid, a.Key, raw, err)
			}
		}
	}
	return st, nil
}

func parseSwitch(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "on", "yes", "true":
		return true, nil
	case "off", "no", "false":
		return false, nil
	default:
		return false, fmt.Errorf("无法识别的开关值")
	}
}

// Segments converts the declarations, in order, into segments. Text bodies,
// string arguments and sources are interpolated against data.
func Segments(doc *Script, data any) ([]segment.Segment, error) {
	var out []segment.Segment
	seen := map[string]bool{}
	for _, e := range doc.Entries {
		decl := e.Segment
		if decl == nil {
			continue
		}
		if seen[decl.ID] {
			return nil, decl.errorf("重复的片段 id")
		}
		seen[decl.ID] = true

		seg, err := decl.build(data)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, nil
}

func (d *Declaration) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s %s: %s", ErrInvalid, d.Pos, d.Kind, d.ID, fmt.Sprintf(format, args...))
}

// props indexes properties by name, rejecting names not in allowed.
func (d *Declaration) props(allowed ...string) (map[string]*Property, error) {
	out := map[string]*Property{}
	for _, p := range d.Props {
		ok := false
		for _, name := range allowed {
			if p.Name == name {
				ok = true
				break
			}
		}
		if !ok {
			return nil, d.errorf("未知属性 %q", p.Name)
		}
		if _, dup := out[p.Name]; dup {
			return nil, d.errorf("属性 %q 重复", p.Name)
		}
		out[p.Name] = p
	}
	return out, nil
}

func (d *Declaration) build(data any) (segment.Segment, error) {
	if d.Kind != "text" && d.Body != nil {
		return nil, d.errorf("只有 text 片段可以带正文")
	}
	switch d.Kind {
	case "text":
		return d.buildText(data)
	case "image":
		props, err := d.props("src", "duration")
		if err != nil {
			return nil, err
		}
		img := &segment.Image{ID: d.ID}
		if img.Ref, err = d.source(props, data); err != nil {
			return nil, err
		}
		if img.Duration, err = d.duration(props); err != nil {
			return nil, err
		}
		return img, nil
	case "crop":
		props, err := d.props("src", "region", "duration")
		if err != nil {
			return nil, err
		}
		c := &segment.CroppedRegion{ID: d.ID}
		if c.Ref, err = d.source(props, data); err != nil {
			return nil, err
		}
		if c.Duration, err = d.duration(props); err != nil {
			return nil, err
		}
		p, ok := props["region"]
		if !ok {
			return nil, d.errorf("缺少 region")
		}
		nums, err := d.numbers(p, 4)
		if err != nil {
			return nil, err
		}
		c.Region = segment.Region{X: nums[0], Y: nums[1], Width: nums[2], Height: nums[3]}
		if err := c.Region.Validate(); err != nil {
			return nil, d.errorf("%v", err)
		}
		return c, nil
	case "page":
		props, err := d.props("src", "page", "duration")
		if err != nil {
			return nil, err
		}
		pg := &segment.DocumentPage{ID: d.ID, PageNumber: 1}
		if pg.Ref, err = d.source(props, data); err != nil {
			return nil, err
		}
		if pg.Duration, err = d.duration(props); err != nil {
			return nil, err
		}
		if p, ok := props["page"]; ok {
			nums, err := d.numbers(p, 1)
			if err != nil {
				return nil, err
			}
			n := int(nums[0])
			if float64(n) != nums[0] || n < 1 {
				return nil, d.errorf("页码必须是不小于 1 的整数: %g", nums[0])
			}
			pg.PageNumber = n
		}
		return pg, nil
	default:
		return nil, d.errorf("未知的片段类型")
	}
}

func (d *Declaration) buildText(data any) (segment.Segment, error) {
	props, err := d.props("font", "size", "line-height", "color", "duration")
	if err != nil {
		return nil, err
	}
	t := &segment.Text{ID: d.ID, TextColor: segment.White}
	if d.Body == nil || len(d.Body.Lines) == 0 {
		return nil, d.errorf("缺少正文")
	}
	lines := make([]string, 0, len(d.Body.Lines))
	for _, l := range d.Body.Lines {
		lines = append(lines, Interpolate(string(l.Value), data))
	}
	t.Content = strings.Join(lines, "\n")

	if p, ok := props["font"]; ok {
		if t.Font, err = d.str(p, data); err != nil {
			return nil, err
		}
	}
	if p, ok := props["size"]; ok {
		nums, err := d.numbers(p, 1)
		if err != nil {
			return nil, err
		}
		if nums[0] <= 0 {
			return nil, d.errorf("字号必须为正数: %g", nums[0])
		}
		t.FontSize = nums[0]
	}
	if p, ok := props["line-height"]; ok {
		nums, err := d.numbers(p, 1)
		if err != nil {
			return nil, err
		}
		if nums[0] <= 0 {
			return nil, d.errorf("行高必须为正数: %g", nums[0])
		}
		t.LineHeight = nums[0]
	}
	if p, ok := props["color"]; ok {
		if len(p.Args) != 1 || p.Args[0].Color == nil {
			return nil, d.errorf("color 需要一个 #rgb 颜色值")
		}
		if t.TextColor, err = parseColor(*p.Args[0].Color); err != nil {
			return nil, d.errorf("%v", err)
		}
	}
	if t.Duration, err = d.duration(props); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *Declaration) source(props map[string]*Property, data any) (string, error) {
	p, ok := props["src"]
	if !ok {
		return "", d.errorf("缺少 src")
	}
	ref, err := d.str(p, data)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(ref) == "" {
		return "", d.errorf("src 为空")
	}
	return ref, nil
}

func (d *Declaration) str(p *Property, data any) (string, error) {
	if len(p.Args) != 1 || p.Args[0].String == nil {
		return "", d.errorf("%s 需要一个字符串参数", p.Name)
	}
	return Interpolate(string(*p.Args[0].String), data), nil
}

func (d *Declaration) numbers(p *Property, n int) ([]float64, error) {
	if len(p.Args) != n {
		return nil, d.errorf("%s 需要 %d 个数值参数，得到 %d 个", p.Name, n, len(p.Args))
	}
	out := make([]float64, 0, n)
	for _, a := range p.Args {
		if a.Number == nil {
			return nil, d.errorf("%s 的参数 %q 不是数值", p.Name, a.Raw())
		}
		f, err := strconv.ParseFloat(*a.Number, 64)
		if err != nil {
			return nil, d.errorf("%s: %v", p.Name, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func (d *Declaration) duration(props map[string]*Property) (time.Duration, error) {
	p, ok := props["duration"]
	if !ok {
		return 0, nil
	}
	if len(p.Args) != 1 || p.Args[0].Duration == nil {
		return 0, d.errorf("duration 需要一个时长参数，如 4s")
	}
	dur, err := time.ParseDuration(*p.Args[0].Duration)
	if err != nil {
		return 0, d.errorf("%v", err)
	}
	if dur <= 0 {
		return 0, d.errorf("时长必须为正: %s", dur)
	}
	return dur, nil
}

func parseColor(value string) (segment.Color, error) {
	hex := strings.TrimPrefix(value, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 && len(hex) != 8 {
		return segment.Color{}, fmt.Errorf("颜色值 %s 无法解析", value)
	}
	v, err := strconv.ParseUint(hex[:6], 16, 32)
	if err != nil {
		return segment.Color{}, fmt.Errorf("颜色值 %s 无法解析", value)
	}
	return segment.Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}
