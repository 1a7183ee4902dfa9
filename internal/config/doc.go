// Package config provides configuration management for autoconf.
//
// Configuration is loaded from a single directory. The default is
// ~/.config/autoconf; commands accept --config-path to use another one.
//
// # Configuration Directory
//
//	config.yaml     settings (optional)
//	policies/       one policy per *.yaml file
//	triggers/       trigger files for the filesystem source
//	records/        record files written by the file store
//
// # Settings
//
//	source:
//	  kind: filesystem        # filesystem or kubernetes
//	  path: triggers          # relative to the config directory
//	  namespace: ""           # kubernetes only, empty watches all namespaces
//	store:
//	  kind: file              # memory, file, sqlite or kubernetes
//	  path: records           # directory (file) or database (sqlite)
//	  namespace: default      # kubernetes only, for unscoped records
//	policies:
//	  dir: policies
//	reconciler:
//	  debounceInterval: 200ms
//	  initialBackoff: 1s
//	  maxBackoff: 1m
//	  maxRetries: 10
//	log:
//	  level: info
//
// # Policies
//
// A policy file describes the records one reconciler maintains. The file
// name without extension is the policy name.
//
//	filter: kind=database
//	multiplicity: SHARED_LAZY       # PER_TRIGGER (default), SHARED_LAZY, SHARED_EAGER
//	targetIdentity: db.pool
//	isTemplate: true                # default true
//	targetScope: ""                 # optional
//	propertyTemplates:
//	  - hosts={array:host}
//	  - size={count}
//
// The legacy field names targetPid, factory, targetLocation and
// configuration, and the multiplicity names ONE_FOR_EACH, ONE_LAZY and
// ONE_EAGER, are accepted as well.
//
// Load failures are reported as ConfigurationError values, collected in a
// ConfigurationErrorCollection when several files are involved.
package config
