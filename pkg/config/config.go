// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package config holds the controller configuration and the filter-list
// configuration with its layered resolution.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the muzzle controller.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Target   TargetConfig  `yaml:"target"`
	Payload  PayloadConfig `yaml:"payload"`
	Filters  FiltersConfig `yaml:"filters"`
	Health   HealthConfig  `yaml:"health"`
}

// TargetConfig selects the application to hook.
type TargetConfig struct {
	ProcessName  string        `yaml:"process_name"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// PayloadConfig locates the filter payload module.
type PayloadConfig struct {
	// ModuleName is the well-known file name of the payload module. The
	// stale-injection probe searches the target process for this name.
	ModuleName string `yaml:"module_name"`
	// Path overrides the layered payload lookup when set.
	Path string `yaml:"path"`
}

// FiltersConfig locates the filter lists.
type FiltersConfig struct {
	// Path overrides the layered filter lookup when set.
	Path string `yaml:"path"`
	// LiveReload pushes filter changes to the hooked payload without
	// re-injecting.
	LiveReload bool `yaml:"live_reload"`
}

// HealthConfig configures the local status endpoint.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Target: TargetConfig{
			ProcessName:  "Spotify.exe",
			PollInterval: time.Second,
		},
		Payload: PayloadConfig{
			ModuleName: "muzzle-payload.dll",
		},
		Filters: FiltersConfig{
			LiveReload: true,
		},
		Health: HealthConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

// Load reads a YAML config file, applying defaults for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the controller cannot run with.
func (c *Config) Validate() error {
	if c.Target.ProcessName == "" {
		return fmt.Errorf("target.process_name must not be empty")
	}
	if c.Target.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("target.poll_interval %s is below the 100ms minimum", c.Target.PollInterval)
	}
	if c.Payload.ModuleName == "" {
		return fmt.Errorf("payload.module_name must not be empty")
	}
	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr must be set when health.enabled is true")
	}
	return nil
}
