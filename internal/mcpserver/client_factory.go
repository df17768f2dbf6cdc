package mcpserver

import (
	"fmt"
)

// TransportType identifies how a backend's Backend Client is wired up.
type TransportType string

const (
	TransportCommand        TransportType = "command"
	TransportSSE             TransportType = "sse"
	TransportStreamableHTTP  TransportType = "streamable-http"
)

// MCPClientConfig contains configuration for creating an MCP client.
type MCPClientConfig struct {
	// Command is the executable path for stdio servers.
	Command string
	// Args are the command line arguments for stdio servers.
	Args []string
	// Env contains environment variables for stdio servers.
	Env map[string]string
	// URL is the endpoint for remote servers (streamable-http, sse).
	URL string
	// Headers are HTTP headers for remote servers.
	Headers map[string]string
}

// NewMCPClientFromType creates the appropriate MCP client based on the server's
// transport type, then wraps it with the shared retry policy.
func NewMCPClientFromType(transportType TransportType, config MCPClientConfig) (MCPClient, error) {
	var inner MCPClient

	switch transportType {
	case TransportCommand:
		if config.Command == "" {
			return nil, fmt.Errorf("command is required for %s transport", TransportCommand)
		}
		inner = NewStdioClientWithEnv(config.Command, config.Args, config.Env)

	case TransportStreamableHTTP:
		if config.URL == "" {
			return nil, fmt.Errorf("url is required for %s transport", TransportStreamableHTTP)
		}
		inner = NewStreamableHTTPClientWithHeaders(config.URL, config.Headers)

	case TransportSSE:
		if config.URL == "" {
			return nil, fmt.Errorf("url is required for %s transport", TransportSSE)
		}
		inner = NewSSEClientWithHeaders(config.URL, config.Headers)

	default:
		return nil, fmt.Errorf("unsupported transport type: %q (supported: %s, %s, %s)",
			transportType, TransportCommand, TransportSSE, TransportStreamableHTTP)
	}

	return NewRetryingClient(inner), nil
}
