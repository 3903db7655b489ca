// Package config loads playback settings from YAML or TOML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Duration is a time.Duration written as "5s" in both formats.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full set of runtime settings.
type Config struct {
	Viewport Viewport `yaml:"viewport" toml:"viewport"`
	Guide    Guide    `yaml:"guide" toml:"guide"`
	Playback Playback `yaml:"playback" toml:"playback"`
	Cache    Cache    `yaml:"cache" toml:"cache"`
	Assets   Assets   `yaml:"assets" toml:"assets"`
	Fonts    Fonts    `yaml:"fonts" toml:"fonts"`
	Output   Output   `yaml:"output" toml:"output"`
	Log      Log      `yaml:"log" toml:"log"`
}

// Viewport is the logical surface size.
type Viewport struct {
	Width      float64 `yaml:"width" toml:"width"`
	Height     float64 `yaml:"height" toml:"height"`
	PixelRatio float64 `yaml:"pixel_ratio" toml:"pixel_ratio"`
	Padding    float64 `yaml:"padding" toml:"padding"`
	Background string  `yaml:"background" toml:"background"`
}

// Guide is the reading line, in percent of the viewport height.
type Guide struct {
	Position float64 `yaml:"position" toml:"position"`
	Show     bool    `yaml:"show" toml:"show"`
}

// Playback controls the driver and session.
type Playback struct {
	FPS         int      `yaml:"fps" toml:"fps"`
	BaseRate    float64  `yaml:"base_rate" toml:"base_rate"`
	MinSpeed    float64  `yaml:"min_speed" toml:"min_speed"`
	MaxSpeed    float64  `yaml:"max_speed" toml:"max_speed"`
	Speed       float64  `yaml:"speed" toml:"speed"`
	Hold        Duration `yaml:"hold" toml:"hold"`
	AutoAdvance bool     `yaml:"auto_advance" toml:"auto_advance"`
	Mirror      bool     `yaml:"mirror" toml:"mirror"`
}

// Cache sizes the bitmap cache and document rasterization.
type Cache struct {
	Capacity   int     `yaml:"capacity" toml:"capacity"`
	Oversample float64 `yaml:"oversample" toml:"oversample"`
}

// Assets locates content references.
type Assets struct {
	BaseDir string `yaml:"base_dir" toml:"base_dir"`
	Redis   Redis  `yaml:"redis" toml:"redis"`
}

// Redis enables "redis:" references when Addr is set.
type Redis struct {
	Addr      string `yaml:"addr" toml:"addr"`
	Password  string `yaml:"password" toml:"password"`
	DB        int    `yaml:"db" toml:"db"`
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix"`
}

// Fonts registers font files by family name, relative to Dir.
type Fonts struct {
	Dir   string            `yaml:"dir" toml:"dir"`
	Files map[string]string `yaml:"files" toml:"files"`
}

// Output controls frame capture.
type Output struct {
	Dir   string `yaml:"dir" toml:"dir"`
	Every int    `yaml:"every" toml:"every"`
	Debug string `yaml:"debug" toml:"debug"`
}

// Log sets the log level: debug, info, warn or error.
type Log struct {
	Level string `yaml:"level" toml:"level"`
}

// Default returns a 1280×720, 60 fps configuration.
func Default() Config {
	return Config{
		Viewport: Viewport{Width: 1280, Height: 720, PixelRatio: 1, Padding: 40, Background: "#000000"},
		Guide:    Guide{Position: 40, Show: true},
		Playback: Playback{
			FPS:         60,
			BaseRate:    60,
			MinSpeed:    0.5,
			MaxSpeed:    2.0,
			Speed:       1.0,
			Hold:        Duration{5 * time.Second},
			AutoAdvance: true,
		},
		Cache:  Cache{Capacity: 16, Oversample: 2},
		Output: Output{Every: 1},
		Log:    Log{Level: "info"},
	}
}

// Load reads path over Default and validates the result. The format follows
// the extension: .yaml/.yml or .toml.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := Decode(&cfg, filepath.Ext(path), data); err != nil {
		return cfg, fmt.Errorf("解析配置 %s 失败: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode merges data, in the format named by ext, into cfg.
func Decode(cfg *Config, ext string, data []byte) error {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		return yaml.Unmarshal(data, cfg)
	case "toml":
		return toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("不支持的配置格式 %q", ext)
	}
}

// Save writes cfg to path in the format named by its extension.
func Save(cfg Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".toml":
		data, err = toml.Marshal(cfg)
	default:
		return fmt.Errorf("不支持的配置格式 %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("编码配置失败: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first out-of-range setting.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Viewport.Width > 0 && c.Viewport.Height > 0, "viewport %gx%g must be positive", c.Viewport.Width, c.Viewport.Height)
	check(c.Viewport.PixelRatio > 0, "pixel_ratio %g must be positive", c.Viewport.PixelRatio)
	check(c.Viewport.Padding >= 0 && 2*c.Viewport.Padding < c.Viewport.Width, "padding %g leaves no text width", c.Viewport.Padding)
	if _, err := ParseColor(c.Viewport.Background); err != nil {
		errs = append(errs, err)
	}
	check(c.Guide.Position >= 0 && c.Guide.Position <= 100, "guide position %g not in [0,100]", c.Guide.Position)
	check(c.Playback.FPS > 0 && c.Playback.FPS <= 240, "fps %d not in (0,240]", c.Playback.FPS)
	check(c.Playback.BaseRate > 0, "base_rate %g must be positive", c.Playback.BaseRate)
	check(c.Playback.MinSpeed > 0 && c.Playback.MinSpeed <= c.Playback.MaxSpeed, "speed band [%g,%g] is empty", c.Playback.MinSpeed, c.Playback.MaxSpeed)
	check(c.Playback.Speed > 0, "speed %g must be positive", c.Playback.Speed)
	check(c.Playback.Hold.Duration > 0, "hold %s must be positive", c.Playback.Hold.Duration)
	check(c.Cache.Capacity > 0, "cache capacity %d must be positive", c.Cache.Capacity)
	check(c.Cache.Oversample > 0, "oversample %g must be positive", c.Cache.Oversample)
	check(c.Output.Every > 0, "output every %d must be positive", c.Output.Every)
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log level %q unknown", c.Log.Level))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errs[0])
}
