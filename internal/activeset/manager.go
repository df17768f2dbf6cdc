package activeset

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcpmux/internal/configstore"
	"mcpmux/internal/mcpserver"
	"mcpmux/pkg/logging"
)

// ConnectFunc constructs and hand-shakes a Backend Client for snapshot. The
// default wires mcpserver.NewMCPClientFromType; tests substitute a fake.
type ConnectFunc func(ctx context.Context, snapshot LaunchSnapshot) (mcpserver.MCPClient, error)

// ChangeNotifier is called after every committed active-set mutation, at
// most once per mutation, to drive the upstream tools-list-changed
// notification.
type ChangeNotifier func()

// Manager is the LRU core: it admits, evicts, and touches backends, keeping
// at most Ceiling simultaneously live, and persists the queue through a
// configstore.Store on every admit/evict (never on touch).
type Manager struct {
	Ceiling int

	mu      sync.Mutex
	order   []string // active names, ascending last-used (front = coldest)
	entries map[string]*Entry
	servers map[string]configstore.Server // every known launch spec, superset of active
	tick    int64

	store   *configstore.Store
	connect ConnectFunc
	onChange ChangeNotifier
}

// NewManager creates a Manager with the given ceiling, backed by store for
// persistence and connect for constructing live Backend Clients.
func NewManager(ceiling int, store *configstore.Store, connect ConnectFunc, onChange ChangeNotifier) *Manager {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Manager{
		Ceiling:  ceiling,
		entries:  make(map[string]*Entry),
		servers:  make(map[string]configstore.Server),
		store:    store,
		connect:  connect,
		onChange: onChange,
	}
}

// Bootstrap seeds the manager's known-servers superset from a loaded
// document, without activating anything. Call once at startup after
// reading config.json.
func (m *Manager) Bootstrap(doc configstore.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range doc.Servers {
		m.servers[s.Name] = s
	}
}

// Active returns a snapshot of the currently active entries, ordered
// coldest-first.
func (m *Manager) Active() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, len(m.order))
	for _, name := range m.order {
		if e, ok := m.entries[name]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// IsActive reports whether name currently has a ready entry.
func (m *Manager) IsActive(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	return ok && e.State == StateReady
}

// GetClient returns the live client for an active, ready backend.
func (m *Manager) GetClient(name string) (mcpserver.MCPClient, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok || e.State != StateReady {
		return nil, false
	}
	return e.Client, true
}

// Touch marks name as most-recently-used without persisting or reloading.
// If name is not active, it admits instead.
func (m *Manager) Touch(ctx context.Context, name string) error {
	m.mu.Lock()
	_, active := m.entries[name]
	if active {
		m.moveToHot(name)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.Admit(ctx, name)
}

// moveToHot repositions name at the end of m.order (hot end) and bumps its
// LastUsed tick. Caller must hold m.mu.
func (m *Manager) moveToHot(name string) {
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.order = append(m.order, name)
	m.tick++
	if e, ok := m.entries[name]; ok {
		e.LastUsed = m.tick
	}
}

// resolveSnapshot returns the launch snapshot for name from the known
// servers superset. Callers needing catalog fallback resolution supply a
// pre-registered server via AdmitServer instead.
func (m *Manager) resolveSnapshot(name string) (LaunchSnapshot, error) {
	s, ok := m.servers[name]
	if !ok {
		return LaunchSnapshot{}, fmt.Errorf("unknown-server: %s is not configured", name)
	}
	return LaunchSnapshot{
		Type:    s.Transport.Type,
		Command: s.Transport.Command,
		Args:    s.Transport.Args,
		Env:     s.Transport.Env,
		URL:     s.Transport.URL,
		Headers: s.Transport.Headers,
	}, nil
}

// Admit resolves name against the known-servers superset (already
// configured backends) and brings it live. For backends not yet configured,
// callers go through AdmitServer (the Adder's path) instead.
func (m *Manager) Admit(ctx context.Context, name string) error {
	m.mu.Lock()
	snapshot, err := m.resolveSnapshot(name)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	return m.admitSnapshot(ctx, name, snapshot, true)
}

// AdmitServer registers server's launch spec in the known-servers superset
// (used by the Adder once it has validated arguments/auth and merged user
// input) and admits it.
func (m *Manager) AdmitServer(ctx context.Context, server configstore.Server) error {
	m.mu.Lock()
	m.servers[server.Name] = server
	m.mu.Unlock()

	snapshot := LaunchSnapshot{
		Type:    server.Transport.Type,
		Command: server.Transport.Command,
		Args:    server.Transport.Args,
		Env:     server.Transport.Env,
		URL:     server.Transport.URL,
		Headers: server.Transport.Headers,
	}
	return m.admitSnapshot(ctx, server.Name, snapshot, true)
}

// admitSnapshot drives the admit state machine: reserve a "starting"
// placeholder under the lock, release the lock for the handshake I/O, then
// reacquire to commit ready/rollback, evict the coldest entry if at
// capacity, persist, and notify. notify is false when the caller is about
// to admit a whole batch and will send its own single notification once the
// batch settles (see ReloadFromDisk).
func (m *Manager) admitSnapshot(ctx context.Context, name string, snapshot LaunchSnapshot, notify bool) error {
	attemptID := uuid.New().String()

	m.mu.Lock()
	if e, ok := m.entries[name]; ok && e.State == StateReady {
		m.moveToHot(name)
		m.mu.Unlock()
		return nil
	}
	m.entries[name] = &Entry{Name: name, LaunchSnapshot: snapshot, State: StateStarting}
	m.mu.Unlock()

	client, err := m.connect(ctx, snapshot)
	if err != nil {
		m.mu.Lock()
		delete(m.entries, name)
		m.mu.Unlock()
		logging.Error("activeset", err, "admit[%s] %s: handshake failed, rolled back", attemptID, name)
		return fmt.Errorf("handshake failed for %s: %w", name, err)
	}

	m.mu.Lock()
	var evicted *Entry
	if len(m.order) >= m.Ceiling {
		coldName := m.order[0]
		if coldName != name {
			evicted = m.entries[coldName]
			delete(m.entries, coldName)
			m.order = m.order[1:]
		}
	}

	m.entries[name] = &Entry{Name: name, LaunchSnapshot: snapshot, State: StateReady, Client: client}
	m.moveToHot(name)
	doc := m.documentLocked()
	m.mu.Unlock()

	if evicted != nil {
		closeWithGrace(evicted)
	}

	if err := m.store.Save(doc); err != nil {
		logging.Error("activeset", err, "failed to persist active set after admitting %s", name)
	}

	if notify {
		m.notify()
	}
	logging.Info("activeset", "admit[%s] admitted %s (active=%v)", attemptID, name, m.activeNames())
	return nil
}

// Evict forcibly removes name from the active set, closing its client and
// persisting the resulting queue.
func (m *Manager) Evict(name string) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s is not active", name)
	}
	e.State = StateClosing
	delete(m.entries, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	doc := m.documentLocked()
	m.mu.Unlock()

	closeWithGrace(e)

	if err := m.store.Save(doc); err != nil {
		logging.Error("activeset", err, "failed to persist active set after evicting %s", name)
	}

	m.notify()
	logging.Info("activeset", "evicted %s", name)
	return nil
}

// ReloadFromDisk replaces the known-servers superset, closes every active
// client, and re-admits the new document's active_mcp_queue in order,
// sending one change notification once the batch settles. It does this on
// every call; callers (the configstore.Watcher) are responsible for the
// semantic diff that decides whether to call this at all.
func (m *Manager) ReloadFromDisk(ctx context.Context, doc configstore.Document) error {
	m.mu.Lock()
	previouslyActive := append([]string(nil), m.order...)
	current := make(map[string]*Entry, len(m.entries))
	for k, v := range m.entries {
		current[k] = v
	}
	m.servers = make(map[string]configstore.Server, len(doc.Servers))
	for _, s := range doc.Servers {
		m.servers[s.Name] = s
	}
	m.entries = make(map[string]*Entry)
	m.order = nil
	m.mu.Unlock()

	for _, e := range current {
		closeWithGrace(e)
	}

	logging.Info("activeset", "reload_from_disk: closed %d backends, re-admitting %v", len(current), previouslyActive)

	var firstErr error
	for _, name := range doc.ActiveMCPQueue {
		m.mu.Lock()
		snapshot, err := m.resolveSnapshot(name)
		m.mu.Unlock()
		if err != nil {
			logging.Error("activeset", err, "reload_from_disk: failed to re-admit %s", name)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := m.admitSnapshot(ctx, name, snapshot, false); err != nil {
			logging.Error("activeset", err, "reload_from_disk: failed to re-admit %s", name)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	m.notify()
	return firstErr
}

// closeWithGrace closes an entry's client, logging but not blocking past
// EvictGraceTimeout — mcp-go's own Close() paths own subprocess teardown.
func closeWithGrace(e *Entry) {
	if e == nil || e.Client == nil {
		return
	}
	done := make(chan error, 1)
	go func() { done <- e.Client.Close() }()

	select {
	case err := <-done:
		if err != nil {
			logging.Warn("activeset", "error closing %s: %v", e.Name, err)
		}
	case <-time.After(EvictGraceTimeout):
		logging.Warn("activeset", "close of %s exceeded grace period, abandoning", e.Name)
	}
}

// Shutdown closes every active Backend Client in parallel, each bounded by
// EvictGraceTimeout, for use during process shutdown. It does not persist
// the queue — the document on disk still reflects the active set so a
// restart resumes it.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	entries := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		e := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			closeWithGrace(e)
		}()
	}
	wg.Wait()
}

func (m *Manager) notify() {
	if m.onChange != nil {
		m.onChange()
	}
}

// documentLocked builds the persisted Document from current state. Caller
// must hold m.mu.
func (m *Manager) documentLocked() configstore.Document {
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)

	servers := make([]configstore.Server, 0, len(names))
	for _, name := range names {
		servers = append(servers, m.servers[name])
	}

	return configstore.Document{
		Servers:        servers,
		ActiveMCPQueue: append([]string(nil), m.order...),
	}
}

func (m *Manager) activeNames() []string {
	return append([]string(nil), m.order...)
}

// DefaultConnect builds the real connect function backed by mcpserver's
// transport factory.
func DefaultConnect(ctx context.Context, snapshot LaunchSnapshot) (mcpserver.MCPClient, error) {
	client, err := mcpserver.NewMCPClientFromType(mcpserver.TransportType(snapshot.Type), mcpserver.MCPClientConfig{
		Command: snapshot.Command,
		Args:    snapshot.Args,
		Env:     snapshot.Env,
		URL:     snapshot.URL,
		Headers: snapshot.Headers,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Initialize(ctx); err != nil {
		return nil, err
	}
	return client, nil
}
