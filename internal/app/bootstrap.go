package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"autoconf/internal/config"
	"autoconf/pkg/logging"
)

// Application represents the main application structure that bootstraps
// and runs autoconf.
//
// The Application follows a two-phase initialization pattern:
//  1. Bootstrap phase: initialize logging, load settings, create services
//  2. Execution phase: run the trigger source and the policy manager
//
// Example usage:
//
//	cfg := app.NewConfig(false, false, "/etc/autoconf")
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication creates and initializes a new application instance.
//
// Settings are read from cfg.ConfigPath/config.yaml unless cfg.Settings is
// already set. The log level comes from the settings; cfg.Debug forces
// debug logging and cfg.Silent discards all output.
func NewApplication(cfg *Config) (*Application, error) {
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = config.GetDefaultConfigPathOrPanic()
	}

	var logOutput io.Writer = os.Stdout
	if cfg.Silent {
		logOutput = io.Discard
	}
	logging.InitForCLI(logLevel(cfg), logOutput)

	if cfg.Settings == nil {
		settings, err := config.LoadSettings(cfg.ConfigPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load settings from %s", cfg.ConfigPath)
			return nil, fmt.Errorf("failed to load settings from %s: %w", cfg.ConfigPath, err)
		}
		cfg.Settings = &settings

		// The settings may lower or raise the level chosen above.
		logging.InitForCLI(logLevel(cfg), logOutput)
	}

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

func logLevel(cfg *Config) logging.LogLevel {
	if cfg.Debug {
		return logging.LevelDebug
	}
	if cfg.Settings != nil {
		if level, ok := logging.ParseLevel(cfg.Settings.Log.Level); ok {
			return level
		}
	}
	return logging.LevelInfo
}

// Services returns the application's services.
func (a *Application) Services() *Services {
	return a.services
}

// Run executes the application until ctx is cancelled or the process is
// signalled, then releases the services.
func (a *Application) Run(ctx context.Context) error {
	err := runDaemon(ctx, a.services)
	if closeErr := a.services.Close(context.WithoutCancel(ctx)); closeErr != nil {
		logging.Error("Bootstrap", closeErr, "Failed to release services")
		if err == nil {
			err = closeErr
		}
	}
	return err
}
