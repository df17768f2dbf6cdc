package catalog

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"mcpmux/pkg/logging"
)

// CacheTTL is how long a loaded catalog snapshot is considered fresh before
// a read-through reload is attempted.
const CacheTTL = 60 * time.Second

// Registry is the read-through, TTL-cached view over the catalog file and
// the enhanced-index file. It is safe for concurrent use.
type Registry struct {
	registryPath string
	indexPath    string

	mu        sync.RWMutex
	entries   map[string]Entry
	loadedAt  time.Time
	loadErr   error

	group singleflight.Group
}

// NewRegistry creates a Registry reading from the given file paths. The
// catalog is not loaded until the first call that needs it.
func NewRegistry(registryPath, indexPath string) *Registry {
	return &Registry{
		registryPath: registryPath,
		indexPath:    indexPath,
	}
}

// Invalidate forces the next access to reload from disk, regardless of TTL.
// Called by Watcher when an operator hand-edits mcp-registry.json or
// enhanced-index.json out-of-band.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadedAt = time.Time{}
}

// snapshot returns the current entries map, reloading from disk if the TTL
// has expired. Concurrent reloads for the same registry collapse into one
// via singleflight.
func (r *Registry) snapshot() (map[string]Entry, error) {
	r.mu.RLock()
	fresh := time.Since(r.loadedAt) < CacheTTL && r.entries != nil
	entries, loadErr := r.entries, r.loadErr
	r.mu.RUnlock()

	if fresh {
		return entries, loadErr
	}

	v, err, _ := r.group.Do("load", func() (interface{}, error) {
		loaded, loadErr := loadRegistryFile(r.registryPath)
		if loadErr != nil {
			return nil, loadErr
		}

		if index, idxErr := loadEnhancedIndexFile(r.indexPath); idxErr != nil {
			logging.Warn("catalog", "enhanced index unavailable, search_mcps will use keyword fallback only: %v", idxErr)
		} else {
			mergeIndex(loaded, index)
		}

		r.mu.Lock()
		r.entries = loaded
		r.loadErr = nil
		r.loadedAt = time.Now()
		r.mu.Unlock()

		return loaded, nil
	})
	if err != nil {
		r.mu.Lock()
		r.loadErr = err
		r.loadedAt = time.Now()
		r.mu.Unlock()
		return nil, err
	}

	return v.(map[string]Entry), nil
}

// Get returns the catalog entry for name, or ok=false if unknown.
func (r *Registry) Get(name string) (Entry, bool, error) {
	entries, err := r.snapshot()
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := entries[name]
	return e, ok, nil
}

// Names returns every known catalog name, for suggestion lists on
// unknown-server errors.
func (r *Registry) Names() ([]string, error) {
	entries, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	return names, nil
}

// All returns every catalog entry, for search_mcps scoring.
func (r *Registry) All() ([]Entry, error) {
	entries, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	all := make([]Entry, 0, len(entries))
	for _, e := range entries {
		all = append(all, e)
	}
	return all, nil
}
