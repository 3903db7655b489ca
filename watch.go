package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ByLCY/telescroll/player"
)

// reloadDebounce 合并编辑器保存时的连续写事件。
const reloadDebounce = 150 * time.Millisecond

// watchFile 监听 path 所在目录，path 被写入或重建后调用 onChange。
func watchFile(ctx context.Context, path string, logger *slog.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	defer watcher.Close()

	// 监听目录而非文件：很多编辑器以重命名方式保存
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("监听 %s 失败: %w", path, err)
	}
	target := filepath.Clean(path)

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				fire = time.After(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("脚本监听出错", "error", err)
		case <-fire:
			fire = nil
			onChange()
		}
	}
}

// control 逐行读取 JSON 指令并应用到 sess，每条指令后输出一行状态 JSON。
func control(ctx context.Context, sess *player.Session, in io.Reader, out io.Writer) error {
	enc := json.NewEncoder(out)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cmd, err := player.ParseCommand(line)
		if err == nil {
			err = sess.Apply(cmd)
		}
		if err != nil {
			if encErr := enc.Encode(map[string]string{"error": err.Error()}); encErr != nil {
				return encErr
			}
			continue
		}
		if err := enc.Encode(sess.Status()); err != nil {
			return err
		}
	}
	return scanner.Err()
}
