// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package watcher detects the target application appearing on and
// disappearing from the host and turns that into a presence-event stream.
package watcher

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// EventKind distinguishes presence transitions.
type EventKind int

const (
	// Started means the target process appeared (or was replaced by a new
	// instance with a different PID, with no Stopped event in between).
	Started EventKind = iota
	// Stopped means the target process is gone.
	Stopped
)

// Event is one presence transition. Target is set for Started events only.
type Event struct {
	Kind   EventKind
	Target *Target
}

// Target is one live instance of the watched application.
type Target struct {
	pid  int32
	name string
	proc *process.Process
}

// PID returns the target's process id.
func (t *Target) PID() int32 { return t.pid }

// Name returns the target's executable name.
func (t *Target) Name() string { return t.name }

// Alive reports whether the target process still exists.
func (t *Target) Alive() bool {
	if t.proc == nil {
		return false
	}
	running, err := t.proc.IsRunning()
	return err == nil && running
}

// NewTarget resolves a target from a known PID. The returned target reports
// Alive false when no such process exists.
func NewTarget(pid int32, name string) *Target {
	p, err := process.NewProcess(pid)
	if err != nil {
		p = nil
	}
	return &Target{pid: pid, name: name, proc: p}
}

// Watcher polls the host process table for the target executable and emits
// presence transitions. It only reports edges: a target staying up between
// polls produces no events, a target replaced by a different PID between two
// polls produces a second Started with no Stopped in between.
type Watcher struct {
	name     string
	interval time.Duration
	logger   *zap.Logger

	// scan returns the current target instance or nil. Swappable in tests.
	scan func() (*Target, error)

	events  chan Event
	current *Target
}

// New creates a watcher for the given executable name.
func New(name string, interval time.Duration, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	w := &Watcher{
		name:     name,
		interval: interval,
		logger:   logger,
		events:   make(chan Event, 8),
	}
	w.scan = w.scanProcessTable
	return w
}

// Events returns the presence-event stream.
func (w *Watcher) Events() <-chan Event { return w.events }

// Run polls until ctx is cancelled. It returns nil on cancellation; any
// other return is abnormal and the caller treats it as such.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("process watcher started",
		zap.String("target", w.name),
		zap.Duration("interval", w.interval),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	found, err := w.scan()
	if err != nil {
		w.logger.Debug("process scan failed", zap.Error(err))
		return
	}

	switch {
	case w.current == nil && found != nil:
		w.current = found
		w.emit(ctx, Event{Kind: Started, Target: found})

	case w.current != nil && found == nil:
		w.current = nil
		w.emit(ctx, Event{Kind: Stopped})

	case w.current != nil && found != nil && found.PID() != w.current.PID():
		// The target restarted between two polls. The consumer sees a
		// second Started and has to retire the old hook itself.
		w.current = found
		w.emit(ctx, Event{Kind: Started, Target: found})
	}
}

func (w *Watcher) emit(ctx context.Context, ev Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

// scanProcessTable is the production scan: walk the process table and pick
// the oldest instance whose executable name matches. The target application
// typically runs several helper processes with the same image name; the
// oldest one is the main process that owns the module we hook.
func (w *Watcher) scanProcessTable() (*Target, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var (
		best       *process.Process
		bestCreate int64
	)
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		if !nameMatches(name, w.name) {
			continue
		}
		created, err := p.CreateTime()
		if err != nil {
			created = 0
		}
		if best == nil || created < bestCreate {
			best = p
			bestCreate = created
		}
	}
	if best == nil {
		return nil, nil
	}
	return &Target{pid: best.Pid, name: w.name, proc: best}, nil
}

func nameMatches(have, want string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(have, want)
	}
	return have == want
}
