// Package configstore implements the Config Store: atomic persistence of
// the active set as config.json, accepting either the standard mcpServers
// map dialect or the internal servers-array dialect on read, and a
// filesystem watcher that triggers a semantic-diff reload on external edits.
package configstore

// Transport mirrors config.json's transport.type dialect for one server
// entry: "command", "sse", or "streamable-http".
type Transport struct {
	Type string `json:"type"`

	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Server is one entry in the internal "servers" array dialect.
type Server struct {
	Name      string    `json:"name"`
	Transport Transport `json:"transport"`
}

// Document is the internal dialect of config.json: the full active-set
// document written atomically on every admit/evict.
type Document struct {
	Servers        []Server `json:"servers"`
	ActiveMCPQueue []string `json:"active_mcp_queue"`
}

// rawMCPServerEntry is one value in the standard "mcpServers" map dialect.
type rawMCPServerEntry struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Type    string            `json:"type,omitempty"`
}

// rawDocument is the superset of fields seen across both accepted dialects;
// unmarshal populates whichever side is present in the file.
type rawDocument struct {
	Servers        []Server                     `json:"servers,omitempty"`
	ActiveMCPQueue []string                     `json:"active_mcp_queue,omitempty"`
	MCPServers     map[string]rawMCPServerEntry `json:"mcpServers,omitempty"`
}
