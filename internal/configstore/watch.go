package configstore

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mcpmux/pkg/logging"
)

// debounceInterval coalesces rapid-fire filesystem events (editors that
// write-then-rename, multiple writes in one save) into a single reload.
const debounceInterval = 300 * time.Millisecond

// ReloadFunc is invoked when the watcher observes a semantically different
// document on disk than the last-known one.
type ReloadFunc func(doc Document)

// Watcher observes the config file for external edits and invokes a reload
// callback only when the new document's server set differs from the last
// one this process knows about. This is what separates "I wrote this" from
// "someone else wrote this" — a semantic diff rather than a timing trick or
// a generation counter.
type Watcher struct {
	store *Store

	mu      sync.Mutex
	last    Document
	watcher *fsnotify.Watcher
	timer   *time.Timer
	stopCh  chan struct{}
}

// NewWatcher creates a Watcher over store. SetBaseline should be called
// once, immediately after the initial load, so the first external event is
// diffed against the state this process already reconciled.
func NewWatcher(store *Store) *Watcher {
	return &Watcher{store: store, stopCh: make(chan struct{})}
}

// SetBaseline records doc as the last-known-good document, suppressing a
// spurious reload for this process's own writes (admit/evict persistence).
func (w *Watcher) SetBaseline(doc Document) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = doc
}

// Start begins watching the config file's directory (fsnotify cannot watch
// a single file reliably across editors that replace it) and calls onReload
// whenever a debounced, semantically-different document appears.
func (w *Watcher) Start(ctx context.Context, onReload ReloadFunc) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(w.store.Path())
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return err
	}

	w.mu.Lock()
	w.watcher = fsw
	w.mu.Unlock()

	go w.loop(ctx, onReload)

	logging.Info("configstore", "watching %s for external config changes", dir)
	return nil
}

func (w *Watcher) loop(ctx context.Context, onReload ReloadFunc) {
	target := w.store.Path()

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
			if filepath.Clean(event.Name) != filepath.Clean(target) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounce(onReload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("configstore", err, "config watcher error")
		}
	}
}

func (w *Watcher) debounce(onReload ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceInterval, func() {
		w.checkAndReload(onReload)
	})
}

func (w *Watcher) checkAndReload(onReload ReloadFunc) {
	doc, err := w.store.Load()
	if err != nil {
		logging.Error("configstore", err, "failed to reload config after external change, keeping last-known-good")
		return
	}

	w.mu.Lock()
	unchanged := SameServers(w.last, doc)
	if !unchanged {
		w.last = doc
	}
	w.mu.Unlock()

	if unchanged {
		logging.Debug("configstore", "external config write observed but server set is unchanged, ignoring")
		return
	}

	onReload(doc)
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
