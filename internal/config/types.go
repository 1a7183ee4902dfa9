package config

import "time"

// Settings is the top-level configuration structure for autoconf.
type Settings struct {
	Source     SourceSettings     `yaml:"source"`
	Store      StoreSettings      `yaml:"store"`
	Policies   PolicySettings     `yaml:"policies"`
	Reconciler ReconcilerSettings `yaml:"reconciler"`
	Log        LogSettings        `yaml:"log"`
}

// Source kinds.
const (
	SourceFilesystem = "filesystem"
	SourceKubernetes = "kubernetes"
)

// Store kinds.
const (
	StoreMemory     = "memory"
	StoreFile       = "file"
	StoreSQLite     = "sqlite"
	StoreKubernetes = "kubernetes"
)

// SourceSettings selects where triggers come from.
type SourceSettings struct {
	Kind      string `yaml:"kind,omitempty"`      // filesystem or kubernetes (default: filesystem)
	Path      string `yaml:"path,omitempty"`      // Directory of trigger files (filesystem)
	Namespace string `yaml:"namespace,omitempty"` // Namespace to watch, empty for all (kubernetes)
}

// StoreSettings selects where managed records are written.
type StoreSettings struct {
	Kind      string `yaml:"kind,omitempty"`      // memory, file, sqlite or kubernetes (default: file)
	Path      string `yaml:"path,omitempty"`      // Directory (file) or database file (sqlite)
	Namespace string `yaml:"namespace,omitempty"` // Namespace for unscoped records (kubernetes)
}

// PolicySettings locates the policy files.
type PolicySettings struct {
	Dir string `yaml:"dir,omitempty"` // Directory of policy files
}

// ReconcilerSettings tunes the reconcilers and the policy manager.
type ReconcilerSettings struct {
	DebounceInterval time.Duration `yaml:"debounceInterval,omitempty"` // Debounce for file changes (default: 200ms)
	InitialBackoff   time.Duration `yaml:"initialBackoff,omitempty"`   // First retry delay for failed policy activation (default: 1s)
	MaxBackoff       time.Duration `yaml:"maxBackoff,omitempty"`       // Retry delay cap (default: 1m)
	MaxRetries       int           `yaml:"maxRetries,omitempty"`       // Activation attempts before giving up (default: 10)
}

// LogSettings configures logging.
type LogSettings struct {
	Level string `yaml:"level,omitempty"` // debug, info, warning or error (default: info)
}
