package activeset

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"mcpmux/internal/configstore"
	"mcpmux/internal/mcpserver"

	"github.com/mark3labs/mcp-go/mcp"
)

// fakeClient is a minimal mcpserver.MCPClient that never does real I/O.
type fakeClient struct {
	name   string
	closed bool
	fail   bool
}

func (f *fakeClient) Initialize(ctx context.Context) error { return nil }
func (f *fakeClient) Close() error                          { f.closed = true; return nil }
func (f *fakeClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return nil, nil
}
func (f *fakeClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return nil, nil
}
func (f *fakeClient) ListResources(ctx context.Context) ([]mcp.Resource, error) { return nil, nil }
func (f *fakeClient) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return nil, nil
}
func (f *fakeClient) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) { return nil, nil }
func (f *fakeClient) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	return nil, nil
}
func (f *fakeClient) Ping(ctx context.Context) error { return nil }

var _ mcpserver.MCPClient = (*fakeClient)(nil)

func fakeConnect(fail map[string]bool, made map[string]*fakeClient) ConnectFunc {
	return func(ctx context.Context, snapshot LaunchSnapshot) (mcpserver.MCPClient, error) {
		if fail[snapshot.Command] {
			return nil, fmt.Errorf("simulated handshake failure for %s", snapshot.Command)
		}
		c := &fakeClient{name: snapshot.Command}
		made[snapshot.Command] = c
		return c, nil
	}
}

func serverFor(name string) configstore.Server {
	return configstore.Server{
		Name:      name,
		Transport: configstore.Transport{Type: "command", Command: name},
	}
}

func TestAdmitTouchEvictsOnlyColdest(t *testing.T) {
	dir := t.TempDir()
	store := configstore.NewStore(filepath.Join(dir, "config.json"))

	made := map[string]*fakeClient{}
	mgr := NewManager(2, store, fakeConnect(nil, made), nil)

	ctx := context.Background()
	for _, name := range []string{"a", "b"} {
		if err := mgr.AdmitServer(ctx, serverFor(name)); err != nil {
			t.Fatalf("admit %s: %v", name, err)
		}
	}

	if err := mgr.Touch(ctx, "a"); err != nil {
		t.Fatalf("touch a: %v", err)
	}

	if err := mgr.AdmitServer(ctx, serverFor("c")); err != nil {
		t.Fatalf("admit c: %v", err)
	}

	if mgr.IsActive("b") {
		t.Error("expected b (coldest after touching a) to have been evicted")
	}
	if !mgr.IsActive("a") || !mgr.IsActive("c") {
		t.Error("expected a and c to remain active")
	}
	if !made["b"].closed {
		t.Error("expected b's client to be closed on eviction")
	}
}

func TestAdmitRollsBackOnHandshakeFailure(t *testing.T) {
	dir := t.TempDir()
	store := configstore.NewStore(filepath.Join(dir, "config.json"))

	made := map[string]*fakeClient{}
	mgr := NewManager(2, store, fakeConnect(map[string]bool{"bad": true}, made), nil)

	err := mgr.AdmitServer(context.Background(), serverFor("bad"))
	if err == nil {
		t.Fatal("expected handshake failure to propagate")
	}
	if mgr.IsActive("bad") {
		t.Error("expected failed admit to not leave an active entry")
	}
}

func TestEvictPersistsQueue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	store := configstore.NewStore(path)

	made := map[string]*fakeClient{}
	mgr := NewManager(3, store, fakeConnect(nil, made), nil)

	ctx := context.Background()
	if err := mgr.AdmitServer(ctx, serverFor("a")); err != nil {
		t.Fatalf("admit a: %v", err)
	}
	if err := mgr.Evict("a"); err != nil {
		t.Fatalf("evict a: %v", err)
	}

	doc, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.ActiveMCPQueue) != 0 {
		t.Errorf("expected empty active queue after evict, got %v", doc.ActiveMCPQueue)
	}
}

func TestReloadFromDiskClosesAndReadmits(t *testing.T) {
	dir := t.TempDir()
	store := configstore.NewStore(filepath.Join(dir, "config.json"))

	made := map[string]*fakeClient{}
	var changeCount int
	mgr := NewManager(3, store, fakeConnect(nil, made), func() { changeCount++ })

	ctx := context.Background()
	if err := mgr.AdmitServer(ctx, serverFor("a")); err != nil {
		t.Fatalf("admit a: %v", err)
	}
	first := made["a"]

	newDoc := configstore.Document{
		Servers:        []configstore.Server{serverFor("a"), serverFor("b")},
		ActiveMCPQueue: []string{"a", "b"},
	}
	changeCount = 0
	if err := mgr.ReloadFromDisk(ctx, newDoc); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if !first.closed {
		t.Error("expected prior client for a to be closed on reload")
	}
	if !mgr.IsActive("a") || !mgr.IsActive("b") {
		t.Error("expected both a and b active after reload")
	}
	if changeCount != 1 {
		t.Errorf("expected exactly one onChange notification for the whole reload (re-admitting 2 servers), got %d", changeCount)
	}
}
