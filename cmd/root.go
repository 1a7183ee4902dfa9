package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"autoconf/internal/config"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeInvalidConfig indicates settings or policy files that failed to load.
	ExitCodeInvalidConfig = 2
)

// configPath is the configuration directory shared by all subcommands.
var configPath string

// rootCmd represents the base command for the autoconf application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "autoconf",
	Short: "Keep managed configuration records in step with live triggers",
	Long: `autoconf watches a set of triggers (YAML files or labelled ConfigMaps)
and, for every policy file, maintains configuration records whose properties
are templated from the triggers matching the policy's filter.

A policy either keeps one record per matching trigger or a single shared
record aggregating all of them.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var cfgErr config.ConfigurationError
	if errors.As(err, &cfgErr) {
		return ExitCodeInvalidConfig
	}

	var collection *config.ConfigurationErrorCollection
	if errors.As(err, &collection) {
		return ExitCodeInvalidConfig
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", config.GetDefaultConfigPathOrPanic(),
		"Configuration directory holding config.yaml, policies/ and triggers/")

	rootCmd.SetVersionTemplate(versionTemplate)
	rootCmd.AddCommand(newVersionCmd())
}
