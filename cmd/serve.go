package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"autoconf/internal/app"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveTrace exports reconciler spans to stderr.
var serveTrace bool

// serveCmd runs the reconciliation daemon.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconcilers for every policy in the configuration directory",
	Long: `Starts the trigger source and one reconciler per policy file, and keeps
the managed records up to date until interrupted.

Policy files are watched: adding, editing or removing one applies, replaces
or deactivates its policy without restarting. On shutdown every reconciler is
deactivated and the records it maintained are deleted.

Configuration:
  autoconf reads config.yaml from --config-path (default ~/.config/autoconf).
  Relative paths in it are resolved against that directory:
  - policies/ (policy definitions, one per file)
  - triggers/ (trigger files, when source.kind is filesystem)
  - records/  (record files, when store.kind is file)`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveTrace, configPath)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().BoolVar(&serveTrace, "trace", false, "Print reconciler trace spans to stderr")
}
