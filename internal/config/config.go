// Package config provides configuration management for the Mountkeeper
// daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultConfigDir returns the default config directory (~/.mountkeeper).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".mountkeeper"), nil
}

// DefaultConfigPath returns the default config file path
// (~/.mountkeeper/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// Config holds the daemon's configuration.
type Config struct {
	// ListenAddr is the local API bind address.
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// MountBase is where provider-chosen mount points are created.
	MountBase string `yaml:"mount_base,omitempty"`

	// HistoryPath is the journal database location.
	HistoryPath string `yaml:"history_path,omitempty"`

	// HistoryRetentionDays prunes journal rows older than this.
	HistoryRetentionDays int `yaml:"history_retention_days,omitempty"`

	// CooldownSeconds spaces automatic mount attempts per profile.
	CooldownSeconds int `yaml:"cooldown_seconds,omitempty"`

	// PollIntervalSeconds is the network sampling cadence.
	PollIntervalSeconds int `yaml:"poll_interval_seconds,omitempty"`

	// StartupSettleSeconds delays the first sweep after daemon start.
	StartupSettleSeconds int `yaml:"startup_settle_seconds,omitempty"`

	// TransitionSettleSeconds delays the sweep after a network change.
	TransitionSettleSeconds int `yaml:"transition_settle_seconds,omitempty"`

	// SweepSpec is the periodic safety sweep schedule, in cron syntax.
	SweepSpec string `yaml:"sweep_spec,omitempty"`

	// ProbeTimeoutSeconds bounds each reachability dial.
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds,omitempty"`

	// ResolveTimeoutSeconds bounds each hostname resolution.
	ResolveTimeoutSeconds int `yaml:"resolve_timeout_seconds,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:              "127.0.0.1:9553",
		HistoryRetentionDays:    90,
		CooldownSeconds:         5,
		PollIntervalSeconds:     2,
		StartupSettleSeconds:    1,
		TransitionSettleSeconds: 2,
		SweepSpec:               "@every 1m",
		ProbeTimeoutSeconds:     1,
		ResolveTimeoutSeconds:   3,
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown_seconds must not be negative")
	}
	if c.SweepSpec != "" {
		if _, err := cron.ParseStandard(c.SweepSpec); err != nil {
			return fmt.Errorf("invalid sweep_spec: %w", err)
		}
	}
	return nil
}

// Cooldown returns the per-profile attempt spacing as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// PollInterval returns the network sampling cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// StartupSettle returns the startup settle delay as a duration.
func (c *Config) StartupSettle() time.Duration {
	return time.Duration(c.StartupSettleSeconds) * time.Second
}

// TransitionSettle returns the transition settle delay as a duration.
func (c *Config) TransitionSettle() time.Duration {
	return time.Duration(c.TransitionSettleSeconds) * time.Second
}

// ProbeTimeout returns the reachability dial timeout as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// ResolveTimeout returns the hostname resolution timeout as a duration.
func (c *Config) ResolveTimeout() time.Duration {
	return time.Duration(c.ResolveTimeoutSeconds) * time.Second
}

// HistoryRetention returns the journal retention window as a duration.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}

// Load reads the configuration from the given path, filling unset fields
// with defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Save writes the configuration to the given path, creating directories
// as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
