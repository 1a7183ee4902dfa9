package config

import "time"

const (
	// DefaultTriggersDir is the trigger directory, relative to the config path.
	DefaultTriggersDir = "triggers"

	// DefaultRecordsDir is the record directory, relative to the config path.
	DefaultRecordsDir = "records"

	// DefaultRecordsDB is the SQLite database, relative to the config path.
	DefaultRecordsDB = "records.db"

	// DefaultPoliciesDir is the policy directory, relative to the config path.
	DefaultPoliciesDir = "policies"

	// DefaultNamespace receives unscoped records in the Kubernetes store.
	DefaultNamespace = "default"
)

// GetDefaultSettings returns the default settings. Paths are left empty
// and resolved against the config path by LoadSettings.
func GetDefaultSettings() Settings {
	return Settings{
		Source: SourceSettings{
			Kind: SourceFilesystem,
		},
		Store: StoreSettings{
			Kind:      StoreFile,
			Namespace: DefaultNamespace,
		},
		Reconciler: ReconcilerSettings{
			DebounceInterval: 200 * time.Millisecond,
			InitialBackoff:   time.Second,
			MaxBackoff:       time.Minute,
			MaxRetries:       10,
		},
		Log: LogSettings{
			Level: "info",
		},
	}
}
