package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

const DefaultReloadDebounce = 200 * time.Millisecond

// Watcher reloads the config file when it changes on disk. The parent
// directory is watched rather than the file itself, since Save replaces the
// file by rename and editors commonly do the same.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *log.Logger

	mu    sync.Mutex
	timer *time.Timer
}

func NewWatcher(path string, debounce time.Duration, logger *log.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		logger:   logger,
	}
}

// Watch blocks until ctx is cancelled. onReload receives every config that
// loads and validates; a broken file is logged and the previous config stays
// in effect.
func (w *Watcher) Watch(ctx context.Context, onReload func(*Config)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching config", "path", w.path)
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("config watcher events closed")
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("config file event", "op", ev.Op.String())
			w.schedule(func() { w.reload(onReload) })
		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("config watcher errors closed")
			}
			w.logger.Error("config watcher error", "err", err)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// schedule collapses bursts of events into one reload after a quiet period.
func (w *Watcher) schedule(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, fn)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) reload(onReload func(*Config)) {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous settings", "err", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
	onReload(cfg)
}
