package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"mcpmux/internal/activeset"
	"mcpmux/internal/adder"
	"mcpmux/internal/authstore"
	"mcpmux/internal/catalog"
	"mcpmux/internal/configstore"
	"mcpmux/internal/dispatcher"
	"mcpmux/internal/mcpserver"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	registry := catalog.NewRegistry(filepath.Join(dir, "mcp-registry.json"), filepath.Join(dir, "enhanced-index.json"))
	auth := authstore.NewStore(filepath.Join(dir, "auth.json"))
	store := configstore.NewStore(filepath.Join(dir, "config.json"))

	connect := func(ctx context.Context, snapshot activeset.LaunchSnapshot) (mcpserver.MCPClient, error) {
		return nil, nil
	}
	manager := activeset.NewManager(3, store, connect, func() {})
	add := adder.New(registry, auth, manager)
	d := dispatcher.New(manager, registry, add)

	return New("127.0.0.1:0", d, manager)
}

func TestHealthEndpointNoAuthRequired(t *testing.T) {
	s := newTestServer(t)
	mux := s.buildMux()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %v", body["status"])
	}
}

func TestResourceMetadataEndpointNoAuthRequired(t *testing.T) {
	s := newTestServer(t)
	mux := s.buildMux()

	req := httptest.NewRequest(http.MethodGet, ResourceMetadataPath, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMCPRouteRequiresBearerToken(t *testing.T) {
	s := newTestServer(t)
	mux := s.buildMux()

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Errorf("expected a WWW-Authenticate header on 401")
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode 401 body: %v", err)
	}
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a JSON-RPC error object, got %+v", body)
	}
	if code, _ := errObj["code"].(float64); code != -32001 {
		t.Errorf("expected error code -32001, got %v", errObj["code"])
	}
}

func TestTeardownWatchClosesDoneUnlessKeptOpen(t *testing.T) {
	s := newTestServer(t)
	s.KeepOpen = false

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := s.teardownWatch(next)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	select {
	case <-s.Done():
	default:
		t.Fatalf("expected Done() to be closed after a DELETE with KeepOpen=false")
	}
}

func TestTeardownWatchLeavesOpenWhenKeptOpen(t *testing.T) {
	s := newTestServer(t)
	s.KeepOpen = true

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := s.teardownWatch(next)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	select {
	case <-s.Done():
		t.Fatalf("Done() should not close when KeepOpen is true")
	default:
	}
}
