// Package logging provides the leveled logging used across autoconf.
//
// It is built on Go's standard slog package and offers two styles:
//
//   - Package-level functions (Debug, Info, Warn, Error) tagged with a
//     subsystem, used by the bootstrap code, the CLI and the infrastructure
//     adapters.
//   - A Logger capability that components receive at construction time.
//     The reconciliation core only ever talks to a Logger, so it never touches
//     global state; Discard is its default.
//
// # Log Levels
//
//   - DEBUG: detailed information about individual store calls and events
//   - INFO: lifecycle messages (policy activated, source started)
//   - WARNING: recoverable failures such as a rejected store write
//   - ERROR: failures that stop a component
//
// # Initialization
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
//	logging.Info("Bootstrap", "Loaded settings from %s", path)
//	logging.Error("Store", err, "Failed to open %s", dsn)
//
//	logger := logging.ForSubsystem("Reconciler/ports")
//	logger.Warn(err, "Couldn't create record for %s", id)
//
// NewConsole writes "LEVEL - message" lines to any io.Writer. `autoconf render
// --verbose` uses it to trace matching and template resolution on stderr.
//
// # Controller-Runtime Integration
//
// InitForCLI also installs a logr bridge so controller-runtime informers and
// clients log through the same slog handler.
package logging
