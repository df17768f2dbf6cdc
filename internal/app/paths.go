package app

import "path/filepath"

// SiblingPaths is the set of on-disk locations derived from the config
// store path: the catalog, embeddings index, and auth store files expected
// alongside config.json. Only the config path is a named environment
// variable; these siblings are a documented file-layout convention.
type SiblingPaths struct {
	Registry string
	Index    string
	Auth     string
}

// ResolveSiblingPaths derives the catalog, index, and auth store paths from
// the config store's path.
func ResolveSiblingPaths(configPath string) SiblingPaths {
	dir := filepath.Dir(configPath)
	return SiblingPaths{
		Registry: filepath.Join(dir, "mcp-registry.json"),
		Index:    filepath.Join(dir, "enhanced-index.json"),
		Auth:     filepath.Join(dir, "auth.json"),
	}
}
