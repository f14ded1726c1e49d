package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 500 * time.Millisecond

// Watch reloads path whenever it changes and calls fn with each config
// that loads and validates. Invalid edits are logged and skipped. The
// parent directory is watched so editors that replace the file are seen.
// Watch returns once the watcher is running; it stops when ctx ends.
func Watch(ctx context.Context, path string, logger *slog.Logger, fn func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config.watch", "path", path)

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	go watchLoop(ctx, w, abs, path, logger, fn)
	return nil
}

func watchLoop(ctx context.Context, w *fsnotify.Watcher, abs, path string, logger *slog.Logger, fn func(*Config)) {
	defer w.Close()

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config reload failed, keeping previous", "error", err)
				continue
			}
			logger.Info("config reloaded")
			fn(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}
