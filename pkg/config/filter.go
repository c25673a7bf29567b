// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Conventional filter file names next to the controller binary, in lookup
// order. The original ships TOML lists, so both formats parse.
var siblingFilterNames = []string{"filter.yaml", "filter.yml", "filter.toml"}

//go:embed default_filter.yaml
var defaultFilterBytes []byte

// FilterConfig is one resolved set of filter lists. It is immutable after
// resolution; a reload produces a fresh value.
type FilterConfig struct {
	Allowlist []string `yaml:"allowlist" toml:"allowlist"`
	Denylist  []string `yaml:"denylist" toml:"denylist"`
}

// FilterResolver performs the layered filter lookup: explicit override
// (created from the bundled default if absent), then a filter file beside
// the controller binary, then the bundled default.
type FilterResolver struct {
	Override string
	Logger   *zap.Logger

	// siblingDir overrides the executable-directory lookup in tests.
	siblingDir string
}

// Resolve returns the filter lists and the path they were loaded from.
// The path is empty when the bundled default was used.
func (r *FilterResolver) Resolve() (*FilterConfig, string, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if r.Override != "" {
		fc, err := r.resolveOverride(logger)
		if err != nil {
			return nil, "", err
		}
		return fc, r.Override, nil
	}

	dir := r.siblingDir
	if dir == "" {
		if exe, err := os.Executable(); err == nil {
			dir = filepath.Dir(exe)
		}
	}
	if dir != "" {
		for _, name := range siblingFilterNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			logger.Debug("found filter config beside binary", zap.String("path", path))
			fc, err := ParseFilterFile(path)
			if err != nil {
				logger.Warn("ignoring unparsable filter config", zap.String("path", path), zap.Error(err))
				continue
			}
			return fc, path, nil
		}
	}

	logger.Debug("using bundled default filter config")
	fc, err := parseFilters(defaultFilterBytes, "yaml")
	if err != nil {
		return nil, "", fmt.Errorf("bundled filter config: %w", err)
	}
	return fc, "", nil
}

// resolveOverride loads the explicitly requested filter file, writing the
// bundled default there first when the file does not exist yet.
func (r *FilterResolver) resolveOverride(logger *zap.Logger) (*FilterConfig, error) {
	if _, err := os.Stat(r.Override); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat filter config %s: %w", r.Override, err)
		}
		logger.Info("writing default filter config", zap.String("path", r.Override))
		if err := os.MkdirAll(filepath.Dir(r.Override), 0o755); err != nil {
			return nil, fmt.Errorf("create filter config dir: %w", err)
		}
		if err := os.WriteFile(r.Override, defaultFilterBytes, 0o644); err != nil {
			return nil, fmt.Errorf("write default filter config: %w", err)
		}
	}
	fc, err := ParseFilterFile(r.Override)
	if err != nil {
		return nil, err
	}
	return fc, nil
}

// ParseFilterFile parses a filter list file, choosing the format by
// extension. ".toml" parses as TOML, everything else as YAML.
func ParseFilterFile(path string) (*FilterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read filter config: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	fc, err := parseFilters(data, format)
	if err != nil {
		return nil, fmt.Errorf("parse filter config %s: %w", path, err)
	}
	return fc, nil
}

func parseFilters(data []byte, format string) (*FilterConfig, error) {
	fc := &FilterConfig{}
	var err error
	if format == "toml" {
		err = toml.Unmarshal(data, fc)
	} else {
		err = yaml.Unmarshal(data, fc)
	}
	if err != nil {
		return nil, err
	}
	fc.Allowlist = cleanList(fc.Allowlist)
	fc.Denylist = cleanList(fc.Denylist)
	return fc, nil
}

func cleanList(in []string) []string {
	out := in[:0]
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
