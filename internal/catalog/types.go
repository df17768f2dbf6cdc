// Package catalog implements the Registry & Index: the durable catalog of
// known backends (mcp-registry.json) and the embeddings-enhanced index
// (enhanced-index.json) behind the search_mcps tool.
package catalog

// LaunchSpec describes how a catalog entry is materialized into a live
// backend. Exactly one of the transport-specific sub-structs is populated,
// matching config.json's transport.type dialect.
type LaunchSpec struct {
	Type string `json:"type"` // "command" | "sse" | "streamable-http"

	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// AuthRequirement names an environment variable the backend needs to run,
// along with a human description used to prompt the operator.
type AuthRequirement struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ArgumentRequirement describes one positional launch argument the operator
// must supply when adding a backend.
type ArgumentRequirement struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Example     string `json:"example,omitempty"`
	Position    int    `json:"position"`
}

// ToolMeta is a cached, informational-only summary of a tool previously
// observed on a backend. It never substitutes for the live tools/list call.
type ToolMeta struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Entry is a single, immutable catalog entry: everything known about a
// backend before it is ever admitted.
type Entry struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`

	Launch LaunchSpec `json:"launch"`

	AuthRequirements     []AuthRequirement     `json:"auth_requirements,omitempty"`
	ArgumentRequirements []ArgumentRequirement `json:"argument_requirements,omitempty"`
	StaticArgs           []string              `json:"static_args,omitempty"`

	ToolsMeta []ToolMeta `json:"tools_meta,omitempty"`
	Embedding []float32  `json:"embedding,omitempty"`
	UseCases  []string   `json:"use_cases,omitempty"`

	// AISummary is the indexer-produced natural-language summary, used for
	// keyword fallback scoring and for the search_mcps result summary.
	AISummary string `json:"-"`
}

// AuthSatisfied reports whether every required env var resolves to a
// non-empty value in env.
func (e *Entry) AuthSatisfied(env map[string]string) bool {
	for _, req := range e.AuthRequirements {
		if env[req.Name] == "" {
			return false
		}
	}
	return true
}

// MissingAuth returns the subset of AuthRequirements not satisfied by env.
func (e *Entry) MissingAuth(env map[string]string) []AuthRequirement {
	var missing []AuthRequirement
	for _, req := range e.AuthRequirements {
		if env[req.Name] == "" {
			missing = append(missing, req)
		}
	}
	return missing
}

// MissingArguments returns the required ArgumentRequirements not present in
// provided (keyed by argument name).
func (e *Entry) MissingArguments(provided map[string]string) []ArgumentRequirement {
	var missing []ArgumentRequirement
	for _, req := range e.ArgumentRequirements {
		if !req.Required {
			continue
		}
		if _, ok := provided[req.Name]; !ok {
			missing = append(missing, req)
		}
	}
	return missing
}

// SearchResult is one hit returned by search_mcps.
type SearchResult struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Score       float64 `json:"score"`      // normalized to [0,1]
	Similarity  float64 `json:"similarity"` // cosine similarity, when embeddings were used
	Distance    float64 `json:"distance"`   // 1 - similarity, when embeddings were used
	Summary     string  `json:"summary"`
}
