// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package config loads and validates the Tether configuration from a
// file, environment variables, or defaults.
package config

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	tetherr "github.com/tether-dev/tether/pkg/errors"
)

// Config is the top-level Tether configuration.
type Config struct {
	Networking NetworkingConfig `mapstructure:"networking"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Sessions   SessionsConfig   `mapstructure:"sessions"`
	Bootstrap  BootstrapConfig  `mapstructure:"bootstrap"`
}

// NetworkingConfig controls how Tether listens for connections.
type NetworkingConfig struct {
	Listen string `mapstructure:"listen"`
}

// StorageConfig selects the durable store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// RuntimeConfig holds the external conversational runtime endpoint
// and call budgets.
type RuntimeConfig struct {
	Endpoint             string `mapstructure:"endpoint"`
	APIKey               string `mapstructure:"api_key"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds"`
	CreateTimeoutSeconds int    `mapstructure:"create_timeout_seconds"`
}

// SessionsConfig controls conversation history behavior.
type SessionsConfig struct {
	HistoryPageSize int `mapstructure:"history_page_size"`
}

// BootstrapConfig is the static per-deployment state seeded into new
// remote sessions.
type BootstrapConfig struct {
	Facts map[string]string `mapstructure:"facts"`
	Notes []string          `mapstructure:"notes"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix TETHER_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("networking.listen", "127.0.0.1:18790")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "tether.db")
	// Registered with empty defaults so environment-only overrides
	// survive Unmarshal.
	v.SetDefault("runtime.endpoint", "")
	v.SetDefault("runtime.api_key", "")
	v.SetDefault("runtime.timeout_seconds", 30)
	v.SetDefault("runtime.create_timeout_seconds", 10)
	v.SetDefault("sessions.history_page_size", 50)

	// Environment
	v.SetEnvPrefix("TETHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, tetherr.Errorf(tetherr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, tetherr.Errorf(tetherr.CodeConfigLoadReadFailure, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns a
// slice of all validation errors found, collecting all issues rather
// than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNetworking()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateRuntime()...)
	errs = append(errs, c.validateSessions()...)

	return errs
}

func (c *Config) validateNetworking() []error {
	var errs []error

	if c.Networking.Listen == "" {
		errs = append(errs, tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue, "config: networking.listen must not be empty"))
	} else {
		host, portStr, err := net.SplitHostPort(c.Networking.Listen)
		if err != nil {
			errs = append(errs, tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
				"config: networking.listen must be a valid host:port address, got %q: %w",
				c.Networking.Listen, err,
			))
		} else {
			_ = host // host can be empty (e.g., ":8080"), which is valid
			port, err := strconv.Atoi(portStr)
			if err != nil {
				errs = append(errs, tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
					"config: networking.listen port must be a number, got %q",
					portStr,
				))
			} else if port < 1 || port > 65535 {
				errs = append(errs, tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
					"config: networking.listen port must be between 1 and 65535, got %d",
					port,
				))
			}
		}
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite], got %q",
			c.Storage.Backend,
		))
	}

	if c.Storage.Path == "" {
		errs = append(errs, tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue, "config: storage.path must not be empty"))
	}

	return errs
}

func (c *Config) validateRuntime() []error {
	var errs []error

	if c.Runtime.Endpoint == "" {
		errs = append(errs, tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue, "config: runtime.endpoint must not be empty"))
	} else if u, err := url.Parse(c.Runtime.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"config: runtime.endpoint must be an http(s) URL, got %q",
			c.Runtime.Endpoint,
		))
	}

	if c.Runtime.TimeoutSeconds < 1 || c.Runtime.TimeoutSeconds > 300 {
		errs = append(errs, tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"config: runtime.timeout_seconds must be between 1 and 300, got %d",
			c.Runtime.TimeoutSeconds,
		))
	}

	if c.Runtime.CreateTimeoutSeconds < 1 || c.Runtime.CreateTimeoutSeconds > 300 {
		errs = append(errs, tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"config: runtime.create_timeout_seconds must be between 1 and 300, got %d",
			c.Runtime.CreateTimeoutSeconds,
		))
	}

	return errs
}

func (c *Config) validateSessions() []error {
	var errs []error

	if c.Sessions.HistoryPageSize < 1 || c.Sessions.HistoryPageSize > 200 {
		errs = append(errs, tetherr.Errorf(tetherr.CodeConfigValidateInvalidValue,
			"config: sessions.history_page_size must be between 1 and 200, got %d",
			c.Sessions.HistoryPageSize,
		))
	}

	return errs
}
