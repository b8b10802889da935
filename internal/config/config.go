// Package config loads mutrec configuration files.
//
// A configuration file is optional. Missing fields take the defaults
// declared in the struct tags, and command line flags override both.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by every command.
type Config struct {
	// Workers is the number of engine workers for top-level loops.
	Workers int `yaml:"workers" default:"4"`

	LogLevel  string `yaml:"log_level" default:"info"`
	LogFormat string `yaml:"log_format" default:"text"`

	// MetricsAddr is the listen address of the Prometheus endpoint. Empty
	// disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// Database is the SQLite store path. Empty means queries read only the
	// tables declared in their document.
	Database string `yaml:"database"`

	// PollInterval is how often a following run checks the change log.
	PollInterval time.Duration `yaml:"poll_interval" default:"1s"`

	// RecursionLimit applies to loops that declare no limit. Zero means none.
	RecursionLimit int64 `yaml:"recursion_limit"`

	// MaxStateRows bounds the rows a loop may hold. Zero means unbounded.
	MaxStateRows int64 `yaml:"max_state_rows"`
}

// ValidLogLevels and ValidLogFormats list the accepted values.
var (
	ValidLogLevels  = []string{"debug", "info", "warn", "error"}
	ValidLogFormats = []string{"text", "json"}
)

// Default returns a configuration holding only defaults.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads a configuration file. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes configuration YAML, applies defaults to the fields it does
// not set and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	// Reject unknown fields so typos do not silently fall back to defaults
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if !slices.Contains(ValidLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log_level %q: must be one of %v", c.LogLevel, ValidLogLevels)
	}
	if !slices.Contains(ValidLogFormats, c.LogFormat) {
		return fmt.Errorf("invalid log_format %q: must be one of %v", c.LogFormat, ValidLogFormats)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.RecursionLimit < 0 {
		return fmt.Errorf("recursion_limit must not be negative, got %d", c.RecursionLimit)
	}
	if c.MaxStateRows < 0 {
		return fmt.Errorf("max_state_rows must not be negative, got %d", c.MaxStateRows)
	}
	return nil
}
