package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"autoconf/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/autoconf"
	configFileName = "config.yaml"
)

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadSettings loads settings from configPath/config.yaml on top of the
// defaults. Relative paths in the file are resolved against configPath.
func LoadSettings(configPath string) (Settings, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	settings := GetDefaultSettings()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Settings{}, NewConfigurationError(configFilePath, CategorySettings, ErrorTypeIO, err.Error())
	default:
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return Settings{}, NewConfigurationErrorWithDetails(configFilePath, CategorySettings, ErrorTypeParse,
				"invalid settings YAML", err.Error(), []string{"Check the YAML syntax of config.yaml"})
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	settings.resolvePaths(configPath)
	if err := settings.Validate(); err != nil {
		return Settings{}, NewConfigurationErrorWithDetails(configFilePath, CategorySettings, ErrorTypeValidation,
			"invalid settings", err.Error(), nil)
	}
	return settings, nil
}

func (s *Settings) resolvePaths(configPath string) {
	if s.Source.Path == "" {
		s.Source.Path = DefaultTriggersDir
	}
	if s.Store.Path == "" {
		if s.Store.Kind == StoreSQLite {
			s.Store.Path = DefaultRecordsDB
		} else {
			s.Store.Path = DefaultRecordsDir
		}
	}
	if s.Policies.Dir == "" {
		s.Policies.Dir = DefaultPoliciesDir
	}

	s.Source.Path = resolvePath(configPath, s.Source.Path)
	s.Store.Path = resolvePath(configPath, s.Store.Path)
	s.Policies.Dir = resolvePath(configPath, s.Policies.Dir)
}

func resolvePath(base, path string) string {
	if filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}

// Validate checks the settings for unknown kinds and impossible values.
func (s Settings) Validate() error {
	var errs ValidationErrors

	if err := ValidateOneOf("source.kind", s.Source.Kind, []string{SourceFilesystem, SourceKubernetes}); err != nil {
		errs = append(errs, err.(ValidationError))
	}
	if err := ValidateOneOf("store.kind", s.Store.Kind, []string{StoreMemory, StoreFile, StoreSQLite, StoreKubernetes}); err != nil {
		errs = append(errs, err.(ValidationError))
	}
	if _, ok := logging.ParseLevel(s.Log.Level); !ok {
		errs.Add("log.level", "must be one of: debug, info, warning, error", s.Log.Level)
	}
	if s.Reconciler.DebounceInterval < 0 {
		errs.Add("reconciler.debounceInterval", "must not be negative", s.Reconciler.DebounceInterval)
	}
	if s.Reconciler.InitialBackoff < 0 || s.Reconciler.MaxBackoff < s.Reconciler.InitialBackoff {
		errs.Add("reconciler.maxBackoff", "must be at least reconciler.initialBackoff", s.Reconciler.MaxBackoff)
	}
	if s.Reconciler.MaxRetries < 0 {
		errs.Add("reconciler.maxRetries", "must not be negative", s.Reconciler.MaxRetries)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
