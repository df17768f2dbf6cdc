package mcpserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// fakeInnerClient is a minimal MCPClient used to drive RetryingClient
// without any real transport.
type fakeInnerClient struct {
	initErr      error
	initCalls    int
	callToolErrs []error // consumed in order, then nil
	callToolHits int
}

func (f *fakeInnerClient) Initialize(ctx context.Context) error {
	f.initCalls++
	return f.initErr
}
func (f *fakeInnerClient) Close() error { return nil }
func (f *fakeInnerClient) ListTools(ctx context.Context) ([]mcp.Tool, error) { return nil, nil }
func (f *fakeInnerClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	var err error
	if f.callToolHits < len(f.callToolErrs) {
		err = f.callToolErrs[f.callToolHits]
	}
	f.callToolHits++
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText("ok"), nil
}
func (f *fakeInnerClient) ListResources(ctx context.Context) ([]mcp.Resource, error) { return nil, nil }
func (f *fakeInnerClient) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return nil, nil
}
func (f *fakeInnerClient) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) { return nil, nil }
func (f *fakeInnerClient) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	return nil, nil
}
func (f *fakeInnerClient) Ping(ctx context.Context) error { return nil }

var _ MCPClient = (*fakeInnerClient)(nil)

func TestRetryingClientInitializeSucceedsImmediately(t *testing.T) {
	inner := &fakeInnerClient{}
	r := NewRetryingClient(inner)

	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if inner.initCalls != 1 {
		t.Errorf("expected exactly 1 handshake attempt on immediate success, got %d", inner.initCalls)
	}
}

func TestRetryingClientInitializeStopsOnContextCancel(t *testing.T) {
	inner := &fakeInnerClient{initErr: errors.New("connection closed")}
	r := NewRetryingClient(inner)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Initialize(ctx)
	if err == nil {
		t.Fatal("expected an error when every handshake attempt fails")
	}
	if inner.initCalls == 0 {
		t.Error("expected at least one handshake attempt")
	}
}

func TestRetryingClientCallToolPassesThroughNonRetryableError(t *testing.T) {
	inner := &fakeInnerClient{callToolErrs: []error{errors.New("invalid arguments")}}
	r := NewRetryingClient(inner)

	_, err := r.CallTool(context.Background(), "tool", nil)
	if err == nil || err.Error() != "invalid arguments" {
		t.Fatalf("expected the non-retryable error to pass through unchanged, got %v", err)
	}
	if inner.callToolHits != 1 {
		t.Errorf("expected no retry for a non-connection-closed error, got %d attempts", inner.callToolHits)
	}
	if inner.initCalls != 0 {
		t.Errorf("expected no reconnect for a non-connection-closed error, got %d Initialize calls", inner.initCalls)
	}
}

func TestRetryingClientCallToolRetriesOnConnectionClosed(t *testing.T) {
	inner := &fakeInnerClient{callToolErrs: []error{errors.New("connection closed"), nil}}
	r := NewRetryingClient(inner)

	result, err := r.CallTool(context.Background(), "tool", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("expected a successful result after reconnect, got %+v", result)
	}
	if inner.callToolHits != 2 {
		t.Errorf("expected one retry after a connection-closed error, got %d attempts", inner.callToolHits)
	}
	if inner.initCalls != 1 {
		t.Errorf("expected exactly one reconnect before the retry, got %d", inner.initCalls)
	}
}

func TestIsConnectionClosedRecognizesPatterns(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("some other failure"), false},
		{errors.New("connection closed"), true},
		{errors.New("transport-closed"), true},
		{errors.New("transport closed unexpectedly"), true},
		{errors.New("rpc error: -32000"), true},
		{errors.New("write: broken pipe"), true},
		{errors.New("unexpected EOF"), true},
	}
	for _, c := range cases {
		if got := isConnectionClosed(c.err); got != c.want {
			t.Errorf("isConnectionClosed(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestNewMCPClientFromTypeValidatesConfig(t *testing.T) {
	cases := []struct {
		name      string
		transport TransportType
		config    MCPClientConfig
		wantErr   bool
	}{
		{"command missing command", TransportCommand, MCPClientConfig{}, true},
		{"command with command set", TransportCommand, MCPClientConfig{Command: "true"}, false},
		{"streamable-http missing url", TransportStreamableHTTP, MCPClientConfig{}, true},
		{"streamable-http with url", TransportStreamableHTTP, MCPClientConfig{URL: "http://localhost:0"}, false},
		{"sse missing url", TransportSSE, MCPClientConfig{}, true},
		{"unsupported transport", TransportType("carrier-pigeon"), MCPClientConfig{}, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			client, err := NewMCPClientFromType(c.transport, c.config)
			if c.wantErr {
				if err == nil {
					t.Fatalf("expected an error for %s", c.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %s: %v", c.name, err)
			}
			if _, ok := client.(*RetryingClient); !ok {
				t.Errorf("expected NewMCPClientFromType to wrap every client in a RetryingClient, got %T", client)
			}
		})
	}
}
