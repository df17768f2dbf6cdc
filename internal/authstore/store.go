// Package authstore persists the credential values collected by the
// `store-auth` CLI command, keyed by backend name. It is the only place
// auth_requirements values come from — process environment is not
// consulted, since the catalog is read-only and store-auth is the
// operator's one way to satisfy a requirement.
package authstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"mcpmux/pkg/logging"
)

// Store is a small atomic key-value file: name -> {env var -> value}.
type Store struct {
	mu   sync.RWMutex
	path string
}

// NewStore creates a Store backed by path. A missing file reads as empty.
func NewStore(path string) *Store {
	if path == "" {
		panic("authstore: empty path")
	}
	return &Store{path: path}
}

// Load returns every stored value for name.
func (s *Store) Load(name string) (map[string]string, error) {
	all, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	return all[name], nil
}

func (s *Store) loadAll() (map[string]map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]map[string]string{}, nil
		}
		return nil, err
	}

	out := map[string]map[string]string{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Set merges values into name's stored credentials and persists atomically.
func (s *Store) Set(name string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := map[string]map[string]string{}
	if data, err := os.ReadFile(s.path); err == nil && len(data) > 0 {
		_ = json.Unmarshal(data, &all)
	}

	if all[name] == nil {
		all[name] = map[string]string{}
	}
	for k, v := range values {
		all[name][k] = v
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".authstore-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		logging.Audit(logging.AuditEvent{
			Action:  "store_auth",
			Outcome: "failure",
			Target:  name,
			Error:   err.Error(),
		})
		return err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	logging.Audit(logging.AuditEvent{
		Action:  "store_auth",
		Outcome: "success",
		Target:  name,
		Details: "keys=" + strings.Join(keys, ","),
	})
	return nil
}
