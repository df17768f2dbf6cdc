package configstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"mcpmux/pkg/logging"
)

// Store reads and writes the active-set document at a single path,
// guarding every operation with a mutex and writing atomically via
// temp-file-then-rename.
type Store struct {
	mu   sync.RWMutex
	path string
}

// NewStore creates a Store backed by path. path is not required to exist
// yet; Load returns an empty Document in that case.
func NewStore(path string) *Store {
	if path == "" {
		panic("configstore: empty path")
	}
	return &Store{path: path}
}

// Path returns the backing file path, for watcher setup.
func (s *Store) Path() string {
	return s.path
}

// Load reads and normalizes the config document. Either accepted dialect
// (standard mcpServers map, or the internal servers array) is recognized;
// the internal dialect is always returned. A missing file is not an error —
// it yields an empty document, matching first-run behavior.
func (s *Store) Load() (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, nil
		}
		return Document{}, fmt.Errorf("read config %s: %w", s.path, err)
	}

	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("parse config %s: %w", s.path, err)
	}

	return normalize(raw), nil
}

// normalize converts whichever dialect was present in raw into the internal
// Document shape. If both are present, the internal "servers" array wins.
func normalize(raw rawDocument) Document {
	if raw.Servers != nil {
		return Document{Servers: raw.Servers, ActiveMCPQueue: raw.ActiveMCPQueue}
	}

	names := make([]string, 0, len(raw.MCPServers))
	for name := range raw.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	servers := make([]Server, 0, len(names))
	for _, name := range names {
		entry := raw.MCPServers[name]
		t := Transport{Env: entry.Env}
		switch {
		case entry.URL != "" && entry.Type == "sse":
			t.Type = "sse"
			t.URL = entry.URL
		case entry.URL != "":
			t.Type = "streamable-http"
			t.URL = entry.URL
		default:
			t.Type = "command"
			t.Command = entry.Command
			t.Args = entry.Args
		}
		servers = append(servers, Server{Name: name, Transport: t})
	}

	return Document{Servers: servers, ActiveMCPQueue: raw.ActiveMCPQueue}
}

// Save writes doc atomically: serialize to a temp file in the same
// directory, then rename over the target path. This is the only way the
// config file is mutated by this process; a filesystem watcher distinguishes
// this self-write from an external edit via a semantic diff, not timing.
func (s *Store) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp config file into place: %w", err)
	}

	logging.Debug("configstore", "saved %d servers to %s", len(doc.Servers), s.path)
	return nil
}

// SameServers reports whether a and b describe the same set of backend
// names with byte-identical launch specs. active_mcp_queue is ignored
// entirely (contents and ordering), since it is not part of the semantic
// identity of "the server set".
func SameServers(a, b Document) bool {
	if len(a.Servers) != len(b.Servers) {
		return false
	}

	byName := make(map[string]Server, len(a.Servers))
	for _, s := range a.Servers {
		byName[s.Name] = s
	}

	for _, s := range b.Servers {
		other, ok := byName[s.Name]
		if !ok {
			return false
		}
		if !sameTransport(s.Transport, other.Transport) {
			return false
		}
	}

	return true
}

func sameTransport(a, b Transport) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}
