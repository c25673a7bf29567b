// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package payload locates or materializes the filter payload image that
// gets injected into the target process.
package payload

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Release builds drop the payload image into bundled/ before compiling;
// development builds run with an explicit --payload path instead.
//
//go:embed bundled
var bundledFS embed.FS

// Resolver performs the layered payload lookup: explicit override (written
// from the bundled image if absent), then an image beside the controller
// binary, then the per-user cache directory, writing the bundled image there
// when it is missing or has the wrong size.
type Resolver struct {
	Override   string
	ModuleName string
	Version    string
	Logger     *zap.Logger

	// Test overrides.
	bundled    []byte
	siblingDir string
	cacheDir   string
}

// Resolve returns a usable path to the payload image.
func (r *Resolver) Resolve() (string, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if r.Override != "" {
		if fileExists(r.Override) {
			logger.Debug("using payload from override path", zap.String("path", r.Override))
			return r.Override, nil
		}
		if err := r.writeBundled(r.Override, logger); err != nil {
			return "", fmt.Errorf("materialize payload at %s: %w", r.Override, err)
		}
		return r.Override, nil
	}

	dir := r.siblingDir
	if dir == "" {
		if exe, err := os.Executable(); err == nil {
			dir = filepath.Dir(exe)
		}
	}
	if dir != "" {
		sibling := filepath.Join(dir, r.ModuleName)
		if fileExists(sibling) {
			logger.Debug("using payload beside binary", zap.String("path", sibling))
			return sibling, nil
		}
	}

	cacheDir := r.cacheDir
	if cacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("locate user cache dir: %w", err)
		}
		cacheDir = filepath.Join(base, "muzzle", r.Version)
	}
	cached := filepath.Join(cacheDir, r.ModuleName)

	bundled, err := r.bundledImage()
	if err != nil {
		return "", fmt.Errorf("no payload image available: %w", err)
	}

	// An image from an older build may linger in the cache; the size check
	// is the original's cheap staleness test.
	if info, err := os.Stat(cached); err == nil && info.Mode().IsRegular() && info.Size() == int64(len(bundled)) {
		logger.Debug("using cached payload", zap.String("path", cached))
		return cached, nil
	}

	if err := r.writeBundled(cached, logger); err != nil {
		return "", fmt.Errorf("materialize payload at %s: %w", cached, err)
	}
	return cached, nil
}

func (r *Resolver) writeBundled(path string, logger *zap.Logger) error {
	data, err := r.bundledImage()
	if err != nil {
		return err
	}
	logger.Info("writing bundled payload", zap.String("path", path))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (r *Resolver) bundledImage() ([]byte, error) {
	if r.bundled != nil {
		return r.bundled, nil
	}
	data, err := fs.ReadFile(bundledFS, "bundled/"+r.ModuleName)
	if err != nil {
		return nil, fmt.Errorf("no bundled payload %q in this build", r.ModuleName)
	}
	return data, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
