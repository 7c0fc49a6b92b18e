package persona

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"personad/internal/shared/logging"
)

const defaultReloadDebounce = 300 * time.Millisecond

// WatcherStats tracks reload activity.
type WatcherStats struct {
	Events        int
	Reloads       int
	FailedReloads int
	LastError     string
	LastReload    time.Time
}

// Watcher reloads a registry from its definition directory whenever files
// under it change. Rapid saves are coalesced into one reload.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	registry *Registry
	dir      string
	debounce time.Duration
	logger   logging.Logger

	pending time.Time
	stats   WatcherStats
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a watcher for dir. A non-positive debounce uses the default.
func NewWatcher(registry *Registry, dir string, debounce time.Duration, logger logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultReloadDebounce
	}
	return &Watcher{
		watcher:  fw,
		registry: registry,
		dir:      filepath.Clean(dir),
		debounce: debounce,
		logger:   logging.OrNop(logger),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	entries, err := os.ReadDir(w.dir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				w.addSubdir(filepath.Join(w.dir, entry.Name()))
			}
		}
	}
	w.logger.Info("watching persona directory %s", w.dir)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.logger.Error("persona watcher close: %v", err)
	}
}

// Stats returns a copy of the reload counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	interval := w.debounce / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("persona watcher: %v", err)
		case <-ticker.C:
			w.reloadIfSettled()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addSubdir(event.Name)
		}
	}

	w.mu.Lock()
	w.stats.Events++
	w.pending = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) addSubdir(path string) {
	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn("persona watcher: cannot watch %s: %v", path, err)
	}
}

func (w *Watcher) reloadIfSettled() {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	err := w.registry.LoadDir(w.dir)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.stats.FailedReloads++
		w.stats.LastError = err.Error()
		w.logger.Error("persona reload from %s failed, keeping previous set: %v", w.dir, err)
		return
	}
	w.stats.Reloads++
	w.stats.LastError = ""
	w.stats.LastReload = time.Now()
}
