// Package mcpserver implements the Backend Transport and Backend Client
// layers: one of three wire transports (stdio subprocess, SSE, or
// streamable-HTTP) wrapped in the MCP handshake plus typed tools/prompts/
// resources RPCs, and a shared retry policy (RetryingClient) for connect and
// mid-call reconnection.
package mcpserver
