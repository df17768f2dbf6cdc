// Package app bootstraps mcpmux's daemon: the config store and its
// watcher, the catalog registry, the auth store, the active set manager,
// the dispatcher, and the upstream HTTP server, then runs until signaled
// to stop.
package app

import "mcpmux/pkg/logging"

// Config holds the daemon's environment-derived configuration.
type Config struct {
	ConfigPath   string
	Port         int
	KeepOpen     bool
	OpenAIAPIKey string
	Debug        bool
}

// DefaultPort is used when PORT is unset, per the upstream listen port
// convention.
const DefaultPort = 9999

// NewConfig builds a Config from already-parsed environment values.
func NewConfig(configPath string, port int, keepOpen bool, openAIAPIKey string, debug bool) *Config {
	if port <= 0 {
		port = DefaultPort
	}
	if configPath == "" {
		configPath = "config.json"
	}
	return &Config{
		ConfigPath:   configPath,
		Port:         port,
		KeepOpen:     keepOpen,
		OpenAIAPIKey: openAIAPIKey,
		Debug:        debug,
	}
}

func (c *Config) logLevel() logging.LogLevel {
	if c.Debug {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}
