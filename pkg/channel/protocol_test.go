// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package channel

import (
	"testing"

	"github.com/mbeema/muzzle/pkg/config"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"*/ads/*", "https://host/ads/banner", true},
		{"*/ads/*", "https://host/adsorbed", false},
		{"adswizz.com", "https://cdn.adswizz.com/seg", true},
		{"*.example.com/track", "https://a.example.com/track", true},
		{"*.example.com/track", "https://a.example.com/tracking", false},
		{"https://*", "https://anything/at/all", true},
		{"https://*", "http://anything", false},
		{"*one*two*", "xx-one-yy-two", true},
		{"*one*two*", "xx-two-yy-one", false},
		{"", "anything", true},
	}
	for _, tt := range tests {
		if got := matchPattern(tt.pattern, tt.s); got != tt.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}

func TestShouldBlockAllowlistWins(t *testing.T) {
	f := &config.FilterConfig{
		Allowlist: []string{"*/api/track/*"},
		Denylist:  []string{"*track*"},
	}
	if shouldBlock(f, "https://host/api/track/123") {
		t.Error("allowlisted URL was blocked")
	}
	if !shouldBlock(f, "https://host/tracker.js") {
		t.Error("denylisted URL was not blocked")
	}
	if shouldBlock(f, "https://host/clean") {
		t.Error("unlisted URL was blocked")
	}
}

func TestShouldBlockNilConfig(t *testing.T) {
	if shouldBlock(nil, "https://host/ads/x") {
		t.Error("nil filter config blocked a request")
	}
}
