package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ByLCY/telescroll/assets"
	"github.com/ByLCY/telescroll/config"
	"github.com/ByLCY/telescroll/docraster"
	fitzraster "github.com/ByLCY/telescroll/docraster/fitz"
	"github.com/ByLCY/telescroll/driver"
	"github.com/ByLCY/telescroll/fonts"
	"github.com/ByLCY/telescroll/player"
	"github.com/ByLCY/telescroll/renderer"
	"github.com/ByLCY/telescroll/script"
	"github.com/ByLCY/telescroll/segment"
	canvassurface "github.com/ByLCY/telescroll/surface/canvas"
	"github.com/ByLCY/telescroll/textlayout"
)

type cliOptions struct {
	configPath string
	scriptPath string
	data       any
	outDir     string
	every      int
	fps        int
	speed      float64
	mirror     bool
	watch      bool
	control    bool
	limit      time.Duration
	debugPath  string
}

func main() {
	configPath := flag.String("config", "", "配置文件路径（.yaml/.yml/.toml）")
	scriptPath := flag.String("script", "examples/demo.show", "节目脚本路径")
	dataFlag := flag.String("data", "", "绑定到脚本的数据：JSON 字符串，或以 @ 开头的 JSON/YAML 文件路径")
	outDir := flag.String("out", "", "逐帧 PNG 输出目录，留空则不输出")
	every := flag.Int("every", 0, "每 N 帧输出一张 PNG（覆盖配置）")
	fps := flag.Int("fps", 0, "帧率（覆盖配置）")
	speed := flag.Float64("speed", 0, "速度倍率（覆盖配置）")
	mirror := flag.Bool("mirror", false, "镜像输出")
	watch := flag.Bool("watch", false, "脚本变更时重新加载")
	control := flag.Bool("control", false, "从标准输入读取 JSON 控制指令")
	limit := flag.Duration("duration", 0, "最长播放时长，0 表示播完为止")
	debug := flag.String("debug", "", "文本排版调试 JSON 输出路径")
	verbose := flag.Bool("v", false, "输出调试日志")
	flag.Parse()

	data, err := loadData(*dataFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "解析 data 失败: %v\n", err)
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
			os.Exit(2)
		}
	}
	level := cfg.Level()
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	opts := cliOptions{
		configPath: *configPath,
		scriptPath: *scriptPath,
		data:       data,
		outDir:     *outDir,
		every:      *every,
		fps:        *fps,
		speed:      *speed,
		mirror:     *mirror,
		watch:      *watch,
		control:    *control,
		limit:      *limit,
		debugPath:  *debug,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error("播放失败", "error", err)
		os.Exit(1)
	}
}

// loadData 解析 -data：内联 JSON，或 @path 指向的 JSON/YAML 文件。
func loadData(flagValue string) (any, error) {
	if flagValue == "" {
		return nil, nil
	}
	var out any
	if flagValue[0] != '@' {
		if err := json.Unmarshal([]byte(flagValue), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	path := flagValue[1:]
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &out)
	default:
		err = json.Unmarshal(raw, &out)
	}
	return out, err
}

// applyFlags 用命令行参数覆盖配置。
func applyFlags(cfg *config.Config, opts cliOptions) error {
	if opts.fps > 0 {
		cfg.Playback.FPS = opts.fps
	}
	if opts.speed > 0 {
		cfg.Playback.Speed = opts.speed
	}
	if opts.every > 0 {
		cfg.Output.Every = opts.every
	}
	if opts.outDir != "" {
		cfg.Output.Dir = opts.outDir
	}
	if opts.debugPath != "" {
		cfg.Output.Debug = opts.debugPath
	}
	if opts.mirror {
		cfg.Playback.Mirror = true
	}
	return cfg.Validate()
}

type show struct {
	settings script.Settings
	segs     []segment.Segment
}

func loadShow(path string, data any) (show, error) {
	file, err := os.Open(path)
	if err != nil {
		return show{}, fmt.Errorf("无法打开脚本 %s: %w", path, err)
	}
	defer file.Close()

	doc, err := script.Parse(path, file)
	if err != nil {
		return show{}, fmt.Errorf("解析脚本失败: %w", err)
	}
	settings, err := script.Meta(doc)
	if err != nil {
		return show{}, err
	}
	segs, err := script.Segments(doc, data)
	if err != nil {
		return show{}, err
	}
	if len(segs) == 0 {
		return show{}, fmt.Errorf("脚本 %s 没有任何片段: %w", path, player.ErrNoSegments)
	}
	return show{settings: settings, segs: segs}, nil
}

// run 串联配置、脚本、渲染器与播放会话，直到播完、超时或收到信号。
func run(ctx context.Context, cfg config.Config, opts cliOptions, logger *slog.Logger) error {
	if err := applyFlags(&cfg, opts); err != nil {
		return err
	}
	sh, err := loadShow(opts.scriptPath, opts.data)
	if err != nil {
		return err
	}

	fontFiles := make(map[string]fonts.Resource, len(cfg.Fonts.Files))
	for name, path := range cfg.Fonts.Files {
		fontFiles[name] = fonts.Resource{Path: path}
	}
	lib := fonts.NewLibrary(cfg.Fonts.Dir, fontFiles)
	surf := canvassurface.New(cfg.Viewport.Width, cfg.Viewport.Height, cfg.Viewport.PixelRatio, lib)

	baseDir := cfg.Assets.BaseDir
	if baseDir == "" {
		baseDir = filepath.Dir(opts.scriptPath)
	}
	chain := assets.NewChain(baseDir)
	if rc := cfg.Assets.Redis; rc.Addr != "" {
		rr := assets.NewRedisResolver(rc.Addr, rc.Password, rc.DB, rc.KeyPrefix)
		defer rr.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rr.Ping(pingCtx); err != nil {
			logger.Warn("redis 不可用，redis: 引用将加载失败", "addr", rc.Addr, "error", err)
		}
		cancel()
		chain.Register(assets.RedisPrefix, rr)
	}

	raster := docraster.New(fitzraster.Engine{}, chain,
		docraster.WithOversample(cfg.Cache.Oversample),
		docraster.WithLogger(logger))
	r := renderer.New(cfg.Renderer(), renderer.Deps{
		Resolver: chain,
		Raster:   raster,
		Measurer: lib,
		Logger:   logger,
	})
	r.Attach(surf)

	popts := cfg.Player(logger)
	popts.ProjectName = sh.settings.Title
	if sh.settings.Hold > 0 {
		popts.Hold = sh.settings.Hold
	}
	popts.AutoAdvance = cfg.Playback.AutoAdvance && sh.settings.AutoAdvance
	sess := player.New(r, driver.NewTicker(cfg.Playback.FPS, logger), popts)
	defer sess.Close()

	if err := sess.SetSegments(sh.segs); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := r.WaitReady(waitCtx, sh.segs...); err != nil {
		logger.Warn("部分资源预加载失败", "error", err)
	}
	cancel()

	applied := sess.SetSpeed(cfg.Playback.Speed * sh.settings.Speed)
	if cfg.Playback.Mirror || sh.settings.Mirror {
		if err := sess.ToggleMirror(); err != nil {
			return err
		}
	}

	if cfg.Output.Dir != "" {
		if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
			return fmt.Errorf("创建输出目录失败: %w", err)
		}
		sess.OnFrame(frameWriter(surf, cfg.Output.Dir, cfg.Output.Every, logger))
	}

	finished := make(chan struct{})
	var once sync.Once
	sess.OnFinished(func() { once.Do(func() { close(finished) }) })

	logger.Info("开始播放", "project", popts.ProjectName, "segments", len(sh.segs), "speed", applied, "fps", cfg.Playback.FPS)
	if err := sess.Play(); err != nil {
		return err
	}

	if opts.watch {
		go func() {
			err := watchFile(ctx, opts.scriptPath, logger, func() {
				reload(sess, opts.scriptPath, opts.data, logger)
			})
			if err != nil {
				logger.Warn("脚本监听失败", "error", err)
			}
		}()
	}
	if opts.control {
		go func() {
			if err := control(ctx, sess, os.Stdin, os.Stdout); err != nil {
				logger.Warn("控制通道关闭", "error", err)
			}
		}()
	}

	var timeout <-chan time.Time
	if opts.limit > 0 {
		timer := time.NewTimer(opts.limit)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-finished:
		logger.Info("播放完成")
	case <-timeout:
		logger.Info("达到最长播放时长", "duration", opts.limit)
	case <-ctx.Done():
		logger.Info("收到退出信号")
	}
	sess.Stop()

	if cfg.Output.Debug != "" {
		if err := writeDebug(r, sess.Segments(), cfg.Output.Debug); err != nil {
			return err
		}
	}
	if err := sess.LastRenderError(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("最后一帧渲染失败", "error", err)
	}
	return nil
}

func reload(sess *player.Session, path string, data any, logger *slog.Logger) {
	sh, err := loadShow(path, data)
	if err != nil {
		logger.Warn("重新加载脚本失败，继续播放旧版本", "error", err)
		return
	}
	playing := sess.Driver().State() == driver.Playing
	if err := sess.SetSegments(sh.segs); err != nil {
		logger.Warn("替换片段失败", "error", err)
		return
	}
	if playing {
		if err := sess.Play(); err != nil {
			logger.Warn("恢复播放失败", "error", err)
		}
	}
	logger.Info("脚本已重新加载", "segments", len(sh.segs))
}

// frameWriter 返回每 every 帧保存一张 PNG 的回调。
func frameWriter(surf *canvassurface.Surface, dir string, every int, logger *slog.Logger) func(player.Status) {
	var (
		mu sync.Mutex
		n  int
	)
	return func(st player.Status) {
		mu.Lock()
		n++
		frame := n
		mu.Unlock()
		if frame%every != 0 {
			return
		}
		path := filepath.Join(dir, fmt.Sprintf("frame_%06d.png", frame))
		if err := surf.SavePNG(path); err != nil {
			logger.Warn("写入帧失败", "path", path, "error", err)
			return
		}
		logger.Debug("帧已写入", "path", path, "segment", st.SegmentID, "offset", st.Offset)
	}
}

func writeDebug(r *renderer.Renderer, segs []segment.Segment, path string) error {
	metrics := map[string]textlayout.Metrics{}
	for _, seg := range segs {
		t, ok := seg.(*segment.Text)
		if !ok {
			continue
		}
		m, err := r.TextMetrics(t)
		if err != nil {
			return fmt.Errorf("排版片段 %s 失败: %w", t.ID, err)
		}
		metrics[t.ID] = m
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建调试目录失败: %w", err)
	}
	if err := textlayout.WriteDebugJSON(metrics, path); err != nil {
		return fmt.Errorf("输出调试 JSON 失败: %w", err)
	}
	return nil
}
