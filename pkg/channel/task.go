// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package channel runs the control-channel task: a self-contained serving
// loop bridging the endpoint exposed by the injected payload to the
// filtering protocol.
package channel

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/muzzle/pkg/config"
)

const dialTimeout = 5 * time.Second

// Task is one control-channel serving loop on its own dedicated thread.
// A Task is owned by exactly one hook; the owner stops it either through
// the payload's remote stop procedure (the connection closes and the loop
// drains) or through Stop, and then reaps it with Join.
type Task struct {
	addr   netip.AddrPort
	logger *zap.Logger

	filters atomic.Pointer[config.FilterConfig]

	mu      sync.Mutex
	conn    net.Conn
	enc     *json.Encoder
	stopped bool

	done chan struct{}
	err  error
}

// Spawn starts a task serving the filtering protocol on addr. The serving
// loop runs on its own locked OS thread so a stall there cannot interfere
// with presence-event handling on the main loop.
func Spawn(addr netip.AddrPort, filters *config.FilterConfig, logger *zap.Logger) *Task {
	t := &Task{
		addr:   addr,
		logger: logger,
		done:   make(chan struct{}),
	}
	t.filters.Store(filters)
	go t.run()
	return t
}

// Join blocks until the serving loop has returned and the channel socket is
// released, then reports how the task ended. A panic inside the task is
// confined to the task and surfaces only here.
func (t *Task) Join() error {
	<-t.done
	return t.err
}

// Stop force-closes the channel socket so the serving loop unblocks. The
// normal stop path is the payload's remote stop procedure followed by Join;
// Stop covers teardown when that call never reached the payload.
func (t *Task) Stop() {
	t.mu.Lock()
	t.stopped = true
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// UpdateFilters swaps the active filter lists and pushes them to the
// payload. The push is best-effort; queries always use the new lists.
func (t *Task) UpdateFilters(f *config.FilterConfig) {
	t.filters.Store(f)
	if err := t.send(filterUpdate{
		Op:        "filters",
		Version:   protocolVersion,
		Allowlist: f.Allowlist,
		Denylist:  f.Denylist,
	}); err != nil {
		t.logger.Warn("filter push failed", zap.Error(err))
	}
}

func (t *Task) run() {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("control channel task panic: %v", r)
			t.logger.Error("control channel task panicked", zap.Any("panic", r))
		}
	}()

	runtime.LockOSThread()

	if err := t.serve(); err != nil && !t.wasStopped() {
		t.err = err
	}
}

func (t *Task) serve() error {
	conn, err := net.DialTimeout("tcp", t.addr.String(), dialTimeout)
	if err != nil {
		return fmt.Errorf("dial control channel %s: %w", t.addr, err)
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		conn.Close()
		return nil
	}
	t.conn = conn
	t.enc = json.NewEncoder(conn)
	t.mu.Unlock()
	defer conn.Close()

	t.logger.Debug("control channel connected", zap.String("addr", t.addr.String()))

	if err := t.send(filterUpdate{
		Op:        "filters",
		Version:   protocolVersion,
		Allowlist: t.filters.Load().Allowlist,
		Denylist:  t.filters.Load().Denylist,
	}); err != nil {
		return fmt.Errorf("initial filter push: %w", err)
	}

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg payloadMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			t.logger.Warn("unparsable control message", zap.Error(err))
			continue
		}
		if err := t.handle(msg); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("control channel read: %w", err)
	}

	// EOF: the payload closed its endpoint after the remote stop call.
	t.logger.Debug("control channel closed by payload")
	return nil
}

func (t *Task) handle(msg payloadMessage) error {
	switch msg.Op {
	case "hello":
		t.logger.Debug("payload hello", zap.Uint32("version", msg.Version))
		return nil
	case "query":
		block := shouldBlock(t.filters.Load(), msg.URL)
		if block {
			t.logger.Info("blocked request", zap.String("url", msg.URL))
		} else {
			t.logger.Debug("allowed request", zap.String("url", msg.URL))
		}
		return t.send(verdict{Op: "verdict", URL: msg.URL, Block: block})
	default:
		t.logger.Warn("unknown control message", zap.String("op", msg.Op))
		return nil
	}
}

func (t *Task) send(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enc == nil {
		return fmt.Errorf("control channel not connected")
	}
	return t.enc.Encode(v)
}

func (t *Task) wasStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
