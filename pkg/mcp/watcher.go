package mcp

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alsk1992/Flip-God-sub006/pkg/logger"
)

// ConfigWatcher reloads the client config when the file changes on disk and
// hands the parsed result to a callback. The parent directory is watched
// rather than the file itself, so editors that replace the file atomically
// still trigger a reload.
type ConfigWatcher struct {
	path     string
	onChange func(*Config)
	debounce time.Duration
	log      *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewConfigWatcher creates a watcher for the given config path. onChange
// runs on the watcher goroutine after each successful reload.
func NewConfigWatcher(path string, log *logger.Logger, onChange func(*Config)) *ConfigWatcher {
	if log == nil {
		log = logger.Discard()
	}
	return &ConfigWatcher{
		path:     path,
		onChange: onChange,
		debounce: 250 * time.Millisecond,
		log:      log.WithComponent("mcp.watcher"),
	}
}

// Start begins watching. Call Stop (or cancel ctx) to stop.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	go w.run(ctx, watcher)
	return nil
}

// Stop stops the watcher.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

func (w *ConfigWatcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// reload parses the config and invokes the callback. A file that is
// momentarily unparseable (mid-write) is skipped; the next event retries.
func (w *ConfigWatcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.log.Warn("config reload skipped", "path", w.path, "error", err)
		return
	}
	w.log.Info("config reloaded", "path", w.path, "servers", len(cfg.McpServers))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
