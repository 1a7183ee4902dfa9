// Package app provides application bootstrap and lifecycle management for
// autoconf.
//
// # Architecture Overview
//
// The app package is the layer between the command line and the engine:
//
//  1. **Bootstrap (`bootstrap.go`)**: logging setup, settings loading and
//     service creation
//  2. **Configuration (`config.go`)**: runtime flags of a single run
//  3. **Services (`services.go`)**: the trigger source, record store,
//     tracer provider and policy manager selected by the settings
//  4. **Modes (`modes.go`)**: the daemon loop and its shutdown sequence
//
// # Configuration Loading
//
// Settings are read from config.yaml in the configuration directory
// (default ~/.config/autoconf). Relative paths in the file are resolved
// against that directory:
//
//	source:
//	  kind: filesystem        # or kubernetes
//	  path: triggers
//	store:
//	  kind: sqlite            # memory, file, sqlite or kubernetes
//	  path: records.db
//	policies:
//	  dir: policies
//	reconciler:
//	  debounceInterval: 200ms
//	  maxRetries: 10
//	log:
//	  level: info
//
// # Service Selection
//
// Triggers come from a directory of YAML files watched with fsnotify, or
// from labelled ConfigMaps watched through a controller-runtime cache.
// Records are written to memory, to one YAML file per record, to a SQLite
// database or to ConfigMaps.
//
// # Lifecycle
//
// Run starts the source before the policy manager so each reconciler's
// first enumeration sees existing triggers. On SIGINT, SIGTERM or context
// cancellation the manager is stopped first, deactivating every reconciler
// and deleting the records it maintained, and then the source. Under
// systemd, READY=1 and STOPPING=1 are reported through sd_notify.
//
// # Tracing
//
// With tracing enabled reconciler spans are exported to stderr by the
// OpenTelemetry stdout exporter. Otherwise a no-op provider is used.
package app
