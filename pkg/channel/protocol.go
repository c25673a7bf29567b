// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package channel

import (
	"strings"

	"github.com/mbeema/muzzle/pkg/config"
)

// The control channel speaks newline-delimited JSON. The payload sends a
// hello after connecting, then query messages for each request it is about
// to let through; the controller answers each query with a verdict and
// pushes filter updates whenever its lists change.

const protocolVersion = 1

type payloadMessage struct {
	Op      string `json:"op"`
	URL     string `json:"url,omitempty"`
	Version uint32 `json:"version,omitempty"`
}

type verdict struct {
	Op    string `json:"op"`
	URL   string `json:"url"`
	Block bool   `json:"block"`
}

type filterUpdate struct {
	Op        string   `json:"op"`
	Version   uint32   `json:"version"`
	Allowlist []string `json:"allowlist"`
	Denylist  []string `json:"denylist"`
}

// shouldBlock applies the filter lists to a request URL. The allowlist wins
// over the denylist, matching the payload's own short-circuit order.
func shouldBlock(f *config.FilterConfig, url string) bool {
	if f == nil {
		return false
	}
	if matchAny(f.Allowlist, url) {
		return false
	}
	return matchAny(f.Denylist, url)
}

func matchAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if matchPattern(p, s) {
			return true
		}
	}
	return false
}

// matchPattern matches s against a pattern where '*' matches any run of
// characters, slashes included. A pattern without '*' matches as a
// substring. URLs cross path separators freely, so path.Match's
// segment-bounded '*' would be the wrong tool here.
func matchPattern(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return strings.Contains(s, pattern)
	}

	parts := strings.Split(pattern, "*")

	if first := parts[0]; first != "" {
		if !strings.HasPrefix(s, first) {
			return false
		}
		s = s[len(first):]
	}

	last := parts[len(parts)-1]
	for _, mid := range parts[1 : len(parts)-1] {
		if mid == "" {
			continue
		}
		idx := strings.Index(s, mid)
		if idx < 0 {
			return false
		}
		s = s[idx+len(mid):]
	}

	return last == "" || strings.HasSuffix(s, last)
}
