package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc reloads one table file. On error the previously loaded table stays active.
type ReloadFunc func(path string) error

// TableWatcher hot-reloads table files (patterns, VAT rates, chart of accounts) when they
// change on disk. Directories are watched rather than files so that editors replacing a file
// by rename are noticed too. Bursts of events per file are debounced into one reload.
type TableWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	targets map[string]ReloadFunc
	timers  map[string]*time.Timer
}

// NewTableWatcher creates a watcher; debounce <= 0 uses 100ms
func NewTableWatcher(debounce time.Duration, logger *zap.Logger) (*TableWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &TableWatcher{
		watcher:  w,
		debounce: debounce,
		logger:   logger,
		targets:  make(map[string]ReloadFunc),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Register watches path and calls reload after it changes. Empty paths are ignored.
func (w *TableWatcher) Register(path string, reload ReloadFunc) error {
	if path == "" {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	w.targets[abs] = reload
	w.logger.Info("Watching table file", zap.String("path", abs))
	return nil
}

// Run processes file events until ctx is done, then releases the watcher
func (w *TableWatcher) Run(ctx context.Context) {
	defer w.close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(filepath.Clean(event.Name))

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", zap.Error(err))
		}
	}
}

func (w *TableWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	reload, ok := w.targets[path]
	if !ok {
		return
	}
	if t, pending := w.timers[path]; pending {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if err := reload(path); err != nil {
			w.logger.Error("Failed to reload table, keeping previous version",
				zap.String("path", path),
				zap.Error(err))
			return
		}
		w.logger.Info("Table reloaded", zap.String("path", path))
	})
}

func (w *TableWatcher) close() {
	w.mu.Lock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
	w.mu.Unlock()
	_ = w.watcher.Close()
}
