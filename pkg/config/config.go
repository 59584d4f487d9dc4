// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
// Package config holds the hub configuration. Values are read from a YAML
// file and can be overridden through NRTH_-prefixed environment variables.
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/newrelic/thinghub/pkg/log"
)

const (
	envPrefix = "nrth"

	defaultDiscoveryTimeoutSec  = 30
	defaultPairingTimeoutSec    = 600
	defaultSetupTimeoutSec      = 600
	defaultActionTimeoutSec     = 30
	defaultBrowseTimeoutSec     = 30
	defaultDescriptorRetentSec  = 30
	defaultStatusServerPort     = 8900
	defaultLocale               = "en_US"
	defaultStoreFile            = "thinghub.db"
)

var clog = log.WithComponent("Configuration")

// Config is the hub configuration as loaded at startup. It is read-only
// once the hub is running.
type Config struct {
	// DataDir is the base directory for the persistence store.
	DataDir string `yaml:"data_dir" envconfig:"data_dir"`

	// StoreFile is the bolt database file name inside DataDir.
	StoreFile string `yaml:"store_file" envconfig:"store_file"`

	// PluginDirs are scanned for plugin metadata documents.
	PluginDirs []string `yaml:"plugin_dirs" envconfig:"plugin_dirs"`

	// TranslationDirs are scanned for plugin translation catalogs.
	TranslationDirs []string `yaml:"translation_dirs" envconfig:"translation_dirs"`

	// Locale is the default locale used to resolve display strings.
	Locale string `yaml:"locale" envconfig:"locale"`

	// Log verbosity: trace, debug, info, warning, error.
	LogLevel string `yaml:"log_level" envconfig:"log_level"`

	// LogFormat selects the log output format: text or json.
	LogFormat string `yaml:"log_format" envconfig:"log_format"`

	// StatusServerEnabled enables the read-only HTTP status API.
	StatusServerEnabled bool `yaml:"status_server_enabled" envconfig:"status_server_enabled"`

	// StatusServerPort is the status API listen port.
	StatusServerPort int `yaml:"status_server_port" envconfig:"status_server_port"`

	// Timeouts, in seconds, for plugin asynchronous operations.
	DiscoveryTimeoutSec int `yaml:"discovery_timeout_sec" envconfig:"discovery_timeout_sec"`
	PairingTimeoutSec   int `yaml:"pairing_timeout_sec" envconfig:"pairing_timeout_sec"`
	SetupTimeoutSec     int `yaml:"setup_timeout_sec" envconfig:"setup_timeout_sec"`
	ActionTimeoutSec    int `yaml:"action_timeout_sec" envconfig:"action_timeout_sec"`
	BrowseTimeoutSec    int `yaml:"browse_timeout_sec" envconfig:"browse_timeout_sec"`

	// DescriptorRetentionSec is how long consumed discovery results stay
	// available after the discovery finishes.
	DescriptorRetentionSec int `yaml:"descriptor_retention_sec" envconfig:"descriptor_retention_sec"`
}

// LoadConfig reads the configuration file, applies environment overrides
// and fills in defaults.
func LoadConfig(configFile string) (*Config, error) {
	cfg := NewConfig()

	if configFile != "" {
		raw, err := ioutil.ReadFile(configFile)
		if err != nil {
			return nil, errors.Wrap(err, "unable to read configuration file")
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrap(err, "unable to parse configuration file")
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, errors.Wrap(err, "unable to process environment overrides")
	}

	if err := NormalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewConfig returns a Config with all defaults applied.
func NewConfig() *Config {
	return &Config{
		StoreFile:              defaultStoreFile,
		Locale:                 defaultLocale,
		LogLevel:               "info",
		LogFormat:              "text",
		StatusServerPort:       defaultStatusServerPort,
		DiscoveryTimeoutSec:    defaultDiscoveryTimeoutSec,
		PairingTimeoutSec:      defaultPairingTimeoutSec,
		SetupTimeoutSec:        defaultSetupTimeoutSec,
		ActionTimeoutSec:       defaultActionTimeoutSec,
		BrowseTimeoutSec:       defaultBrowseTimeoutSec,
		DescriptorRetentionSec: defaultDescriptorRetentSec,
	}
}

// NormalizeConfig resolves defaults that depend on other values and
// validates the result.
func NormalizeConfig(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "no data_dir configured and home directory not resolvable")
		}
		cfg.DataDir = filepath.Join(home, ".thinghub")
		clog.WithField("dataDir", cfg.DataDir).Debug("No data_dir configured, using default.")
	}
	if cfg.StoreFile == "" {
		cfg.StoreFile = defaultStoreFile
	}
	if cfg.DiscoveryTimeoutSec <= 0 {
		cfg.DiscoveryTimeoutSec = defaultDiscoveryTimeoutSec
	}
	if cfg.PairingTimeoutSec <= 0 {
		cfg.PairingTimeoutSec = defaultPairingTimeoutSec
	}
	if cfg.SetupTimeoutSec <= 0 {
		cfg.SetupTimeoutSec = defaultSetupTimeoutSec
	}
	if cfg.ActionTimeoutSec <= 0 {
		cfg.ActionTimeoutSec = defaultActionTimeoutSec
	}
	if cfg.BrowseTimeoutSec <= 0 {
		cfg.BrowseTimeoutSec = defaultBrowseTimeoutSec
	}
	if cfg.DescriptorRetentionSec <= 0 {
		cfg.DescriptorRetentionSec = defaultDescriptorRetentSec
	}
	return nil
}

// StorePath is the full path of the bolt database file.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, c.StoreFile)
}

func (c *Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.DiscoveryTimeoutSec) * time.Second
}

func (c *Config) PairingTimeout() time.Duration {
	return time.Duration(c.PairingTimeoutSec) * time.Second
}

func (c *Config) SetupTimeout() time.Duration {
	return time.Duration(c.SetupTimeoutSec) * time.Second
}

func (c *Config) ActionTimeout() time.Duration {
	return time.Duration(c.ActionTimeoutSec) * time.Second
}

func (c *Config) BrowseTimeout() time.Duration {
	return time.Duration(c.BrowseTimeoutSec) * time.Second
}

func (c *Config) DescriptorRetention() time.Duration {
	return time.Duration(c.DescriptorRetentionSec) * time.Second
}

// NewTest creates a configuration for integration tests, rooted at the
// given data directory.
func NewTest(dataDir string) *Config {
	cfg := NewConfig()
	cfg.DataDir = dataDir
	cfg.LogLevel = "debug"
	if err := NormalizeConfig(cfg); err != nil {
		panic(err)
	}
	return cfg
}
