// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package health serves a small local status endpoint for the controller.
package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/muzzle/pkg/controller"
)

// StatusFunc returns the current hook-state snapshot.
type StatusFunc func() controller.Status

// Server provides health and readiness HTTP endpoints.
type Server struct {
	logger  *zap.Logger
	status  StatusFunc
	version string
	addr    string
	started time.Time
	ready   atomic.Bool
	server  *http.Server
}

// NewServer creates a health server.
func NewServer(addr, version string, status StatusFunc, logger *zap.Logger) *Server {
	return &Server{
		addr:    addr,
		version: version,
		status:  status,
		logger:  logger,
		started: time.Now(),
	}
}

// SetReady marks the controller as up and watching.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start begins serving health endpoints.
func (s *Server) Start(_ context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server error", zap.Error(err))
		}
	}()

	s.logger.Info("health server started", zap.String("addr", s.addr))
	return nil
}

// Stop gracefully shuts down the health server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	Hooked     bool   `json:"hooked"`
	TargetPID  int32  `json:"target_pid,omitempty"`
	TargetName string `json:"target_name,omitempty"`
	HookedFor  string `json:"hooked_for,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.status()
	resp := healthResponse{
		Status:     "healthy",
		Version:    s.version,
		Uptime:     time.Since(s.started).Truncate(time.Second).String(),
		Hooked:     st.Hooked,
		TargetPID:  st.TargetPID,
		TargetName: st.TargetName,
	}
	if st.Hooked {
		resp.HookedFor = time.Since(st.Since).Truncate(time.Second).String()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not_ready"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ready"}`))
}
