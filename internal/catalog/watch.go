package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mcpmux/pkg/logging"
)

// watchDebounce coalesces rapid-fire filesystem events on the catalog files
// into a single invalidation.
const watchDebounce = 300 * time.Millisecond

// Watcher observes the registry and enhanced-index files for out-of-band
// edits (an operator hand-editing mcp-registry.json) and invalidates the
// Registry's cache so the next search_mcps/add picks up the change
// immediately rather than waiting out CacheTTL.
type Watcher struct {
	registry *Registry

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	stopCh  chan struct{}
}

// NewWatcher creates a Watcher over registry.
func NewWatcher(registry *Registry) *Watcher {
	return &Watcher{registry: registry, stopCh: make(chan struct{})}
}

// Start begins watching the registry and index files' directory for writes
// and invalidates the Registry's cache on a debounced change.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dirs := map[string]struct{}{
		filepath.Dir(w.registry.registryPath): {},
		filepath.Dir(w.registry.indexPath):    {},
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return err
		}
	}

	w.mu.Lock()
	w.watcher = fsw
	w.mu.Unlock()

	go w.loop(ctx)

	logging.Info("catalog", "watching catalog files for external edits")
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	targets := map[string]struct{}{
		filepath.Clean(w.registry.registryPath): {},
		filepath.Clean(w.registry.indexPath):    {},
	}

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
			if _, watched := targets[filepath.Clean(event.Name)]; !watched {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounce()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("catalog", err, "catalog watcher error")
		}
	}
}

func (w *Watcher) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, func() {
		logging.Debug("catalog", "external catalog edit observed, invalidating cache")
		w.registry.Invalidate()
	})
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.stopCh:
		return nil
	default:
		close(w.stopCh)
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
