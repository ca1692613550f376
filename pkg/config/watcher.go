package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 500 * time.Millisecond

// WatchSystemConfig reloads path after every debounced change and hands the
// fresh SystemConfig to apply. It blocks until ctx is done.
//
// Editors that save atomically (Vim, nano) replace the file, so the parent
// directory is watched and events are filtered by name.
func WatchSystemConfig(ctx context.Context, path string, debounce time.Duration, apply func(*SystemConfig)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve watch path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(absPath), err)
	}
	slog.Debug("Watching configuration file", "file", absPath)

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	// 單一 timer 重複使用，避免每次事件都開新的 goroutine
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				timer.Reset(debounce)
			}
		case <-timer.C:
			slog.Info("Configuration change detected", "file", absPath)
			apply(LoadSystemConfig(absPath))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Watcher encountered an error", "error", err)
		}
	}
}
