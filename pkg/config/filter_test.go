// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParseFilterFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter.yaml")
	writeFile(t, path, "allowlist:\n  - \"*/api/*\"\ndenylist:\n  - \"*/ads/*\"\n  - \"\"\n")

	fc, err := ParseFilterFile(path)
	if err != nil {
		t.Fatalf("ParseFilterFile: %v", err)
	}
	if len(fc.Allowlist) != 1 || fc.Allowlist[0] != "*/api/*" {
		t.Errorf("allowlist = %v", fc.Allowlist)
	}
	if len(fc.Denylist) != 1 || fc.Denylist[0] != "*/ads/*" {
		t.Errorf("denylist = %v, want empty entries dropped", fc.Denylist)
	}
}

func TestParseFilterFileTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter.toml")
	writeFile(t, path, "allowlist = [\"*/api/*\"]\ndenylist = [\"*/ads/*\", \"*adswizz.com*\"]\n")

	fc, err := ParseFilterFile(path)
	if err != nil {
		t.Fatalf("ParseFilterFile: %v", err)
	}
	if len(fc.Denylist) != 2 {
		t.Errorf("denylist = %v, want 2 entries", fc.Denylist)
	}
}

func TestResolveOverrideCreatesDefaultWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "filter.yaml")
	r := &FilterResolver{Override: path, Logger: zap.NewNop()}

	fc, from, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if from != path {
		t.Errorf("resolved from %q, want %q", from, path)
	}
	if len(fc.Denylist) == 0 {
		t.Error("bundled default written to override path has empty denylist")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("override file was not created: %v", err)
	}
}

func TestResolveOverrideFailsOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter.yaml")
	writeFile(t, path, "allowlist: {not a list}\n")

	r := &FilterResolver{Override: path, Logger: zap.NewNop()}
	if _, _, err := r.Resolve(); err == nil {
		t.Fatal("Resolve accepted an unparsable override file")
	}
}

func TestResolvePrefersSiblingOverBundled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "filter.toml"), "allowlist = []\ndenylist = [\"*/sibling/*\"]\n")

	r := &FilterResolver{Logger: zap.NewNop(), siblingDir: dir}
	fc, from, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if from != filepath.Join(dir, "filter.toml") {
		t.Errorf("resolved from %q, want sibling filter.toml", from)
	}
	if len(fc.Denylist) != 1 || fc.Denylist[0] != "*/sibling/*" {
		t.Errorf("denylist = %v", fc.Denylist)
	}
}

func TestResolveFallsBackToBundled(t *testing.T) {
	r := &FilterResolver{Logger: zap.NewNop(), siblingDir: t.TempDir()}
	fc, from, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if from != "" {
		t.Errorf("resolved from %q, want bundled default", from)
	}
	if len(fc.Denylist) == 0 {
		t.Error("bundled default has empty denylist")
	}
}

func TestResolveSkipsUnparsableSibling(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "filter.yaml"), "allowlist: {broken\n")

	r := &FilterResolver{Logger: zap.NewNop(), siblingDir: dir}
	_, from, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if from != "" {
		t.Errorf("resolved from %q, want bundled default after skipping broken sibling", from)
	}
}
