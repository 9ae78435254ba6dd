// Package config loads the application configuration file. All
// settings are optional; a missing file yields the defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration.
type Config struct {
	// DataDir holds the record store, settings store, and audit log.
	DataDir string `yaml:"data_dir"`
	// LogLevel is a zerolog level name: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration: everything under
// ~/.pdvault, logging at warn so normal CLI output stays clean.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: failed to get user home directory: %w", err)
	}
	return &Config{
		DataDir:  filepath.Join(home, ".pdvault"),
		LogLevel: "warn",
	}, nil
}

// Load reads the configuration at path, filling unset fields from the
// defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: malformed %s: %w", path, err)
	}

	if file.DataDir != "" {
		cfg.DataDir = file.DataDir
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	return cfg, nil
}

// DefaultPath returns the conventional config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".pdvault", "config.yaml"), nil
}
