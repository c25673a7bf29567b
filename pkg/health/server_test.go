// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/muzzle/pkg/controller"
)

func TestHealthEndpointUnhooked(t *testing.T) {
	status := func() controller.Status { return controller.Status{} }
	srv := NewServer(":0", "1.0.0-test", status, zap.NewNop())

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var hr healthResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if hr.Status != "healthy" {
		t.Errorf("expected status=healthy, got %q", hr.Status)
	}
	if hr.Version != "1.0.0-test" {
		t.Errorf("expected version=1.0.0-test, got %q", hr.Version)
	}
	if hr.Hooked {
		t.Error("expected hooked=false")
	}
}

func TestHealthEndpointHooked(t *testing.T) {
	status := func() controller.Status {
		return controller.Status{
			Hooked:     true,
			TargetPID:  4242,
			TargetName: "target.exe",
			Since:      time.Now().Add(-90 * time.Second),
		}
	}
	srv := NewServer(":0", "test", status, zap.NewNop())

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.handleHealth(w, req)

	var hr healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &hr); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !hr.Hooked || hr.TargetPID != 4242 {
		t.Errorf("response = %+v, want hooked target 4242", hr)
	}
	if hr.HookedFor == "" {
		t.Error("hooked_for missing for a hooked target")
	}
}

func TestReadyEndpoint_NotReady(t *testing.T) {
	srv := NewServer(":0", "test", func() controller.Status { return controller.Status{} }, zap.NewNop())

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	srv.handleReady(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestReadyEndpoint_Ready(t *testing.T) {
	srv := NewServer(":0", "test", func() controller.Status { return controller.Status{} }, zap.NewNop())
	srv.SetReady(true)

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	srv.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
