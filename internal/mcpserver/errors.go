package mcpserver

import "strings"

// IsMethodNotFound reports whether err represents a JSON-RPC -32601
// (method not found) response. Callers use this to treat optional
// categories (prompts, resources) as simply unsupported rather than fatal.
func IsMethodNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "-32601") || strings.Contains(msg, "method not found")
}
