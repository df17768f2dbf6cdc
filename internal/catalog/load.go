package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// rawRegistryEntry is the on-disk shape of one entry in mcp-registry.json.
// auth_requirements/argument_requirements/static_args are an extension
// beyond the bare command/args/env/remote shape the spec's wire format
// names, since the Adder (C6) needs requirement metadata to live somewhere
// and no separate requirements file exists.
type rawRegistryEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	Remote  string            `json:"remote"`

	Description          string                `json:"description"`
	StaticArgs           []string              `json:"static_args"`
	AuthRequirements     []AuthRequirement     `json:"auth_requirements"`
	ArgumentRequirements []ArgumentRequirement `json:"argument_requirements"`
}

// loadRegistryFile reads the canonical catalog file (mcp-registry.json),
// keyed by backend name.
func loadRegistryFile(path string) (map[string]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file %s: %w", path, err)
	}

	var raw map[string]rawRegistryEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}

	entries := make(map[string]Entry, len(raw))
	for name, r := range raw {
		entry := Entry{
			Name:                 name,
			DisplayName:          name,
			Description:          r.Description,
			StaticArgs:           r.StaticArgs,
			AuthRequirements:     r.AuthRequirements,
			ArgumentRequirements: r.ArgumentRequirements,
		}
		if r.Remote != "" {
			entry.Launch = LaunchSpec{Type: "streamable-http", URL: r.Remote}
		} else {
			entry.Launch = LaunchSpec{Type: "command", Command: r.Command, Args: r.Args, Env: r.Env}
		}
		entries[name] = entry
	}
	return entries, nil
}

// enhancedIndexFile is the on-disk shape of enhanced-index.json.
type enhancedIndexFile struct {
	LastUpdated  string              `json:"lastUpdated"`
	TotalServers int                 `json:"totalServers"`
	Servers      []enhancedIndexItem `json:"servers"`
}

type enhancedIndexItem struct {
	Name                string               `json:"name"`
	DisplayName         string               `json:"displayName"`
	OriginalDescription string               `json:"originalDescription"`
	AISummary           string               `json:"aiSummary"`
	AIUseCases          []string             `json:"aiUseCases"`
	ToolCount           int                  `json:"toolCount"`
	ToolDescriptions    []enhancedIndexTool  `json:"toolDescriptions"`
	Embedding           []float32            `json:"embedding"`
	LastProcessed       string               `json:"lastProcessed"`
}

type enhancedIndexTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// loadEnhancedIndexFile reads the embeddings-enhanced index file.
func loadEnhancedIndexFile(path string) (map[string]enhancedIndexItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index file %s: %w", path, err)
	}

	var raw enhancedIndexFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse index file %s: %w", path, err)
	}

	byName := make(map[string]enhancedIndexItem, len(raw.Servers))
	for _, item := range raw.Servers {
		byName[item.Name] = item
	}
	return byName, nil
}

// mergeIndex folds enhanced-index metadata into the corresponding registry
// entries: display name, AI summary/use-cases, cached tool metadata, and the
// embedding vector. Index entries with no matching registry entry are
// skipped — the registry is authoritative for which names exist.
func mergeIndex(entries map[string]Entry, index map[string]enhancedIndexItem) {
	for name, entry := range entries {
		item, ok := index[name]
		if !ok {
			continue
		}
		if item.DisplayName != "" {
			entry.DisplayName = item.DisplayName
		}
		if entry.Description == "" {
			entry.Description = item.OriginalDescription
		}
		entry.AISummary = item.AISummary
		entry.UseCases = item.AIUseCases
		entry.Embedding = item.Embedding

		tools := make([]ToolMeta, 0, len(item.ToolDescriptions))
		for _, t := range item.ToolDescriptions {
			tools = append(tools, ToolMeta{Name: t.Name, Description: t.Description})
		}
		entry.ToolsMeta = tools

		entries[name] = entry
	}
}
