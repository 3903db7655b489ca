package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByLCY/telescroll/config"
	"github.com/ByLCY/telescroll/driver"
	"github.com/ByLCY/telescroll/player"
	"github.com/ByLCY/telescroll/renderer"
	"github.com/ByLCY/telescroll/segment"
	"github.com/ByLCY/telescroll/textlayout"
)

const demoShow = `show "Demo" {
  meta { speed: 1.5 }
  text intro size 10 line-height 1 { "Hello ${name}" "second line" }
  image logo src "logo.png" duration 2s
}
`

var mono = textlayout.MeasureFunc(func(_ string, _ float64, s string) float64 {
	return float64(len([]rune(s))) * 10
})

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadData(t *testing.T) {
	got, err := loadData(`{"name":"Ada"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ada"}, got)

	dir := t.TempDir()
	got, err = loadData("@" + writeFile(t, dir, "data.yaml", "name: Grace\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Grace"}, got)

	got, err = loadData("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = loadData("{not json")
	assert.Error(t, err)
}

func TestLoadShow(t *testing.T) {
	path := writeFile(t, t.TempDir(), "demo.show", demoShow)
	sh, err := loadShow(path, map[string]any{"name": "Ada"})
	require.NoError(t, err)

	assert.Equal(t, "Demo", sh.settings.Title)
	assert.Equal(t, 1.5, sh.settings.Speed)
	require.Len(t, sh.segs, 2)
	assert.Equal(t, "Hello Ada\nsecond line", sh.segs[0].(*segment.Text).Content)

	empty := writeFile(t, t.TempDir(), "empty.show", `show "Nothing" { }`)
	_, err = loadShow(empty, nil)
	assert.ErrorIs(t, err, player.ErrNoSegments)
}

func TestApplyFlagsOverridesConfig(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, applyFlags(&cfg, cliOptions{fps: 24, speed: 1.5, every: 5, outDir: "frames", mirror: true}))
	assert.Equal(t, 24, cfg.Playback.FPS)
	assert.Equal(t, 1.5, cfg.Playback.Speed)
	assert.Equal(t, 5, cfg.Output.Every)
	assert.Equal(t, "frames", cfg.Output.Dir)
	assert.True(t, cfg.Playback.Mirror)

	cfg = config.Default()
	assert.ErrorIs(t, applyFlags(&cfg, cliOptions{fps: 1000}), config.ErrInvalid)
}

func newTestSession(t *testing.T, segs ...segment.Segment) *player.Session {
	t.Helper()
	cfg := renderer.DefaultConfig()
	cfg.Width, cfg.Height, cfg.Padding = 400, 100, 0
	r := renderer.New(cfg, renderer.Deps{Measurer: mono})
	sess := player.New(r, driver.NewManualSource(time.Unix(0, 0)), player.DefaultOptions())
	t.Cleanup(func() { _ = sess.Close() })
	require.NoError(t, sess.SetSegments(segs))
	return sess
}

func TestControlAppliesCommands(t *testing.T) {
	sess := newTestSession(t,
		&segment.Text{ID: "a", Content: "a", FontSize: 10, LineHeight: 1},
		&segment.Text{ID: "b", Content: "b", FontSize: 10, LineHeight: 1},
	)
	in := strings.NewReader(strings.Join([]string{
		`{"type":"next_segment"}`,
		``,
		`{"type":"set_speed","value":5}`,
		`{"type":"warp"}`,
		`{"type":"toggle_mirror"}`,
	}, "\n"))
	var out strings.Builder
	require.NoError(t, control(context.Background(), sess, in, &out))

	var lines []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 4)
	assert.Equal(t, "b", lines[0]["segment_id"])
	assert.Equal(t, 2.0, lines[1]["current_speed"], "speed is clamped to the band")
	assert.Contains(t, lines[2]["error"], "unknown command")
	assert.Equal(t, true, lines[3]["mirror"])
}

func TestWriteDebugSkipsNonText(t *testing.T) {
	segs := []segment.Segment{
		&segment.Text{ID: "intro", Content: "one two", FontSize: 10, LineHeight: 1},
		&segment.Image{ID: "logo", Ref: "logo.png"},
	}
	sess := newTestSession(t, segs...)
	path := filepath.Join(t.TempDir(), "debug", "layout.json")
	require.NoError(t, writeDebug(sess.Renderer(), segs, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var metrics map[string]textlayout.Metrics
	require.NoError(t, json.Unmarshal(raw, &metrics))
	require.Contains(t, metrics, "intro")
	assert.NotContains(t, metrics, "logo")
	assert.Equal(t, 10.0, metrics["intro"].LineHeight)
}

func TestWatchFileFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "demo.show", demoShow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- watchFile(ctx, path, slog.Default(), func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	// 监听建立前的写入可能丢失，重复写直到收到回调
	deadline := time.After(5 * time.Second)
	for fired := false; !fired; {
		writeFile(t, dir, "demo.show", demoShow+"\n")
		select {
		case <-changed:
			fired = true
		case <-time.After(300 * time.Millisecond):
		case <-deadline:
			t.Fatal("watcher never fired")
		}
	}
	cancel()
	assert.NoError(t, <-done)
}
