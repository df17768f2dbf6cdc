package adder

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"mcpmux/internal/activeset"
	"mcpmux/internal/authstore"
	"mcpmux/internal/catalog"
	"mcpmux/internal/configstore"
	"mcpmux/internal/mcpserver"

	"github.com/mark3labs/mcp-go/mcp"
)

type fakeClient struct{}

func (f *fakeClient) Initialize(ctx context.Context) error { return nil }
func (f *fakeClient) Close() error                          { return nil }
func (f *fakeClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return []mcp.Tool{{Name: "t1"}, {Name: "t2"}}, nil
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

func writeRegistry(t *testing.T, dir string, raw map[string]interface{}) string {
	t.Helper()
	path := filepath.Join(dir, "mcp-registry.json")
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestAdder(t *testing.T, raw map[string]interface{}) (*Adder, *activeset.Manager) {
	t.Helper()
	dir := t.TempDir()
	registryPath := writeRegistry(t, dir, raw)
	indexPath := filepath.Join(dir, "enhanced-index.json")

	registry := catalog.NewRegistry(registryPath, indexPath)
	auth := authstore.NewStore(filepath.Join(dir, "auth.json"))
	store := configstore.NewStore(filepath.Join(dir, "config.json"))

	connect := func(ctx context.Context, snapshot activeset.LaunchSnapshot) (mcpserver.MCPClient, error) {
		return &fakeClient{}, nil
	}
	manager := activeset.NewManager(3, store, connect, nil)

	return New(registry, auth, manager), manager
}

func TestAddUnknownServer(t *testing.T) {
	a, _ := newTestAdder(t, map[string]interface{}{})
	result, err := a.Add(context.Background(), "ghost", nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if result.Kind != ResultUnknownServer {
		t.Errorf("expected unknown-server, got %s", result.Kind)
	}
}

func TestAddSimpleServerSucceeds(t *testing.T) {
	a, _ := newTestAdder(t, map[string]interface{}{
		"simple": map[string]interface{}{"command": "simple-mcp", "args": []string{"serve"}},
	})
	result, err := a.Add(context.Background(), "simple", nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if result.Kind != ResultSuccess {
		t.Fatalf("expected success, got %s: %s", result.Kind, result.Message)
	}
	if result.ToolCount != 2 {
		t.Errorf("expected 2 tools reported, got %d", result.ToolCount)
	}
}

func TestAddAlreadyActive(t *testing.T) {
	a, _ := newTestAdder(t, map[string]interface{}{
		"simple": map[string]interface{}{"command": "simple-mcp"},
	})
	ctx := context.Background()
	if _, err := a.Add(ctx, "simple", nil); err != nil {
		t.Fatal(err)
	}
	result, err := a.Add(ctx, "simple", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != ResultAlreadyActive {
		t.Errorf("expected already-active, got %s", result.Kind)
	}
}

func TestAddNeedsArguments(t *testing.T) {
	a, _ := newTestAdder(t, map[string]interface{}{
		"needs-args": map[string]interface{}{
			"command": "needs-args-mcp",
			"argument_requirements": []map[string]interface{}{
				{"name": "repo", "description": "repo to clone", "required": true, "position": 0},
			},
		},
	})
	result, err := a.Add(context.Background(), "needs-args", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != ResultNeedsArguments {
		t.Errorf("expected needs-arguments, got %s", result.Kind)
	}
	if len(result.NeedsArguments) != 1 || result.NeedsArguments[0].Name != "repo" {
		t.Errorf("expected missing 'repo', got %+v", result.NeedsArguments)
	}
}

func TestAddNeedsAuth(t *testing.T) {
	a, _ := newTestAdder(t, map[string]interface{}{
		"needs-auth": map[string]interface{}{
			"command": "needs-auth-mcp",
			"auth_requirements": []map[string]interface{}{
				{"name": "API_TOKEN", "description": "token for the service"},
			},
		},
	})
	result, err := a.Add(context.Background(), "needs-auth", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != ResultNeedsAuth {
		t.Errorf("expected needs-auth, got %s", result.Kind)
	}
}
