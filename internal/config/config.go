// Package config loads the tracker's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultConfigFile is the path tried when --config is not given.
const DefaultConfigFile = "config.toml"

// Settings is the [settings] table of the config file.
type Settings struct {
	ServerPort           int    `toml:"server_port"`
	DebugMode            bool   `toml:"debug_mode"`
	DBPath               string `toml:"db_path"`
	KeepaliveTimeout     int    `toml:"keepalive_timeout"`
	BroadcastThreadCount int    `toml:"broadcast_thread_count"`
	MaxTrackerFailures   int    `toml:"max_tracker_failures"`
}

// Config is the full config file.
type Config struct {
	Settings Settings `toml:"settings"`
}

// Default returns the built-in settings used when no config file is found.
func Default() *Config {
	return &Config{
		Settings: Settings{
			ServerPort:           42070,
			DebugMode:            false,
			DBPath:               "tracker.db",
			KeepaliveTimeout:     300,
			BroadcastThreadCount: 4,
			MaxTrackerFailures:   3,
		},
	}
}

// KeepaliveTimeoutDuration returns the keepalive window as a duration.
func (s *Settings) KeepaliveTimeoutDuration() time.Duration {
	return time.Duration(s.KeepaliveTimeout) * time.Second
}

// Load reads the TOML config at path. Missing file or parse error falls back
// to defaults rather than failing startup; the caller logs which happened via
// the returned error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the config as TOML, creating the parent directory if needed.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
