package config

import (
	"fmt"
	"image/color"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ByLCY/telescroll/player"
	"github.com/ByLCY/telescroll/renderer"
)

// ParseColor parses #rgb or #rrggbb.
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("颜色值 %q 无法解析", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("颜色值 %q 无法解析", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// Renderer returns the frame renderer settings.
func (c Config) Renderer() renderer.Config {
	rc := renderer.DefaultConfig()
	rc.Width = c.Viewport.Width
	rc.Height = c.Viewport.Height
	rc.PixelRatio = c.Viewport.PixelRatio
	rc.Padding = c.Viewport.Padding
	rc.GuidePosition = c.Guide.Position
	rc.ShowGuide = c.Guide.Show
	rc.CacheCapacity = c.Cache.Capacity
	if bg, err := ParseColor(c.Viewport.Background); err == nil {
		rc.Background = bg
	}
	return rc
}

// Player returns the session options.
func (c Config) Player(logger *slog.Logger) player.Options {
	return player.Options{
		BaseRate:    c.Playback.BaseRate,
		MinSpeed:    c.Playback.MinSpeed,
		MaxSpeed:    c.Playback.MaxSpeed,
		Hold:        c.Playback.Hold.Duration,
		AutoAdvance: c.Playback.AutoAdvance,
		Logger:      logger,
	}
}

// Level returns the slog level for Log.Level.
func (c Config) Level() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
