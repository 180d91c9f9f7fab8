package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events editors produce on save.
const reloadDebounce = 200 * time.Millisecond

// Logger is the logging interface used by the watcher.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Watcher reloads the configuration file when it changes on disk.
//
// Only successfully validated configurations are delivered; a broken edit
// is logged and the previous configuration stays in effect.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)
	logger   Logger
}

// NewWatcher watches path and calls onReload with each new valid configuration.
//
// The parent directory is watched rather than the file itself so that
// editors which replace the file via rename keep triggering reloads.
func NewWatcher(path string, onReload func(*Config), logger Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching config directory: %w", err)
	}

	return &Watcher{
		path:     path,
		watcher:  fw,
		onReload: onReload,
		logger:   logger,
	}, nil
}

// Run processes filesystem events until ctx is cancelled.
// The underlying watcher is closed on return.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	target := filepath.Base(w.path)
	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload rejected", "path", w.path, "error", err)
				continue
			}
			w.logger.Info("config reloaded", "path", w.path, "process_types", len(cfg.ProcessTypes))
			if w.onReload != nil {
				w.onReload(cfg)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
