package app

import (
	"autoconf/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug settings
	Debug bool

	// Silent suppresses all log output
	Silent bool

	// Trace writes reconciler spans to stderr
	Trace bool

	// Directory holding config.yaml, policies/ and triggers/
	ConfigPath string

	// Loaded settings. When set before NewApplication, config.yaml is not read.
	Settings *config.Settings
}

// NewConfig creates a new application configuration
func NewConfig(debug, trace bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Trace:      trace,
		ConfigPath: configPath,
	}
}
