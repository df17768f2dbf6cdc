package mcpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStdioClientInitializeFailsForMissingBinary(t *testing.T) {
	c := NewStdioClientWithEnv("definitely-not-a-real-mcpmux-binary", nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.Initialize(ctx); err == nil {
		t.Fatal("expected Initialize to fail for a nonexistent executable")
	}
}

func TestStreamableHTTPClientInitializeFailsAgainstNonMCPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewStreamableHTTPClientWithHeaders(srv.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.Initialize(ctx); err == nil {
		t.Fatal("expected Initialize to fail against a server that doesn't speak MCP")
	}
}

func TestSSEClientInitializeFailsAgainstNonMCPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewSSEClientWithHeaders(srv.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.Initialize(ctx); err == nil {
		t.Fatal("expected Initialize to fail against a server that doesn't speak MCP")
	}
}
