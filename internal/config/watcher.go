package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/longregen/mcphub/internal/logging"
)

const defaultDebounceDelay = 200 * time.Millisecond

// Watch reloads the config file whenever it changes and hands every config
// that loads and validates to fn. Bad edits are logged and skipped, so the
// last good configuration stays in effect. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config), logger *slog.Logger) error {
	return watch(ctx, path, defaultDebounceDelay, fn, logger)
}

func watch(ctx context.Context, path string, debounce time.Duration, fn func(*Config), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "config.watcher")

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsWatcher.Close()

	// Editors replace files by rename, which drops a watch on the file itself
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}
	logger.Debug("watching config file", "path", absPath)

	reload := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			cfg, err := LoadFrom(absPath)
			if err != nil {
				logger.Error("config reload failed, keeping previous configuration", "path", absPath, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", absPath, "servers", len(cfg.MCP.Servers))
			fn(cfg)

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
