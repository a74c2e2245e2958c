// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Hearth components.
//
// Configuration is loaded from a single file specified by:
//   - HEARTH_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections (development,
// staging, production) that override base values when the environment matches.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for Hearth.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Server configures this server's identity.
	Server ServerConfig `yaml:"server"`

	// Database configures the event store.
	Database DatabaseConfig `yaml:"database"`

	// Rooms configures room defaults.
	Rooms RoomsConfig `yaml:"rooms"`

	// Purge configures history purging.
	Purge PurgeConfig `yaml:"purge"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Server   *ServerConfig   `yaml:"server,omitempty"`
	Database *DatabaseConfig `yaml:"database,omitempty"`
	Rooms    *RoomsConfig    `yaml:"rooms,omitempty"`
	Purge    *PurgeConfig    `yaml:"purge,omitempty"`
}

// ServerConfig configures this server's identity.
type ServerConfig struct {
	// Name is the server name suffixed onto locally minted room and
	// event identifiers. Required; there is no sensible default for
	// an identifier namespace.
	Name string `yaml:"name"`
}

// DatabaseConfig configures the event store.
type DatabaseConfig struct {
	// Path is the SQLite database file.
	// Default: ${HOME}/.cache/hearth/events.db
	Path string `yaml:"path"`

	// PoolSize is the connection pool size.
	// Default: 4
	PoolSize int `yaml:"pool_size"`
}

// RoomsConfig configures room defaults.
type RoomsConfig struct {
	// DefaultVisibility is the directory visibility for rooms whose
	// creation event does not choose one: "public" or "private".
	// Default: private
	DefaultVisibility string `yaml:"default_visibility"`

	// DirectoryRequiresAuth gates the public room directory behind
	// authentication.
	// Default: false
	DirectoryRequiresAuth bool `yaml:"directory_requires_auth"`
}

// PurgeConfig configures history purging.
type PurgeConfig struct {
	// BatchSize is how many events one purge transaction may delete.
	// Default: 100
	BatchSize int `yaml:"batch_size"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Environment: Development,
		Database: DatabaseConfig{
			Path:     filepath.Join(homeDir, ".cache", "hearth", "events.db"),
			PoolSize: 4,
		},
		Rooms: RoomsConfig{
			DefaultVisibility: "private",
		},
		Purge: PurgeConfig{
			BatchSize: 100,
		},
	}
}

// Load loads configuration from HEARTH_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if HEARTH_CONFIG is not set, this fails.
// This ensures deterministic, auditable configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("HEARTH_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("HEARTH_CONFIG environment variable not set; " +
			"set it to the path of your hearth.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values - this ensures deterministic, auditable configuration.
// The only expansion performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Server != nil {
		c.Server = *overrides.Server
	}
	if overrides.Database != nil {
		c.Database = *overrides.Database
	}
	if overrides.Rooms != nil {
		c.Rooms = *overrides.Rooms
	}
	if overrides.Purge != nil {
		c.Purge = *overrides.Purge
	}
}

// variablePattern matches ${VAR} references in path values.
var variablePattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// expandVariables expands ${HOME} and similar references in paths.
func (c *Config) expandVariables() {
	c.Database.Path = expandPath(c.Database.Path)
}

func expandPath(path string) string {
	return variablePattern.ReplaceAllStringFunc(path, func(match string) string {
		name := variablePattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

// Validate checks the configuration for missing or inconsistent
// values.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("config: server.name is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database.path is required")
	}
	if c.Database.PoolSize <= 0 {
		return fmt.Errorf("config: database.pool_size must be positive")
	}
	switch c.Rooms.DefaultVisibility {
	case "public", "private":
	default:
		return fmt.Errorf("config: rooms.default_visibility must be %q or %q, got %q", "public", "private", c.Rooms.DefaultVisibility)
	}
	if c.Purge.BatchSize <= 0 {
		return fmt.Errorf("config: purge.batch_size must be positive")
	}
	return nil
}
