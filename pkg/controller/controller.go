// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package controller owns the hook lifecycle state machine: probing for
// stale injections, resolving resources, injecting the payload, starting
// the control channel, and the ordered teardown of all of it.
package controller

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/muzzle/pkg/channel"
	"github.com/mbeema/muzzle/pkg/config"
	"github.com/mbeema/muzzle/pkg/inject"
)

// Target is one live instance of the watched application.
type Target interface {
	PID() int32
	Name() string
	Alive() bool
}

// FilterResolver performs the layered filter-list lookup.
type FilterResolver interface {
	Resolve() (fc *config.FilterConfig, path string, err error)
}

// PayloadResolver locates or materializes the payload image.
type PayloadResolver interface {
	Resolve() (path string, err error)
}

// ChannelTask is the handle to one control-channel serving loop.
type ChannelTask interface {
	Join() error
	Stop()
	UpdateFilters(*config.FilterConfig)
}

// SpawnFunc starts a control-channel task for a freshly started payload.
type SpawnFunc func(addr netip.AddrPort, filters *config.FilterConfig) ChannelTask

// ActiveHook is the set of live resources belonging to one successful hook.
// It exclusively owns the injected module handle and the channel task; both
// are retired together in Unhook and never outlive the hook.
type ActiveHook struct {
	target   Target
	injector inject.Injector
	module   inject.Module
	procs    inject.ProcTable
	task     ChannelTask
	since    time.Time
}

// Status is a read-only snapshot of the hook state for reporting.
type Status struct {
	Hooked     bool      `json:"hooked"`
	TargetPID  int32     `json:"target_pid,omitempty"`
	TargetName string    `json:"target_name,omitempty"`
	Since      time.Time `json:"since,omitempty"`
}

// Controller drives hook and unhook transitions. Hook and Unhook are issued
// strictly sequentially by the orchestrator loop; the state needs no lock.
// The status snapshot is kept separately in an atomic pointer so the health
// endpoint can read it from other goroutines.
type Controller struct {
	injectors   inject.Factory
	filters     FilterResolver
	payloads    PayloadResolver
	payloadName string
	spawn       SpawnFunc
	logger      *zap.Logger

	// nil means Unhooked. Exclusively owned by the orchestrator goroutine.
	state *ActiveHook

	status atomic.Pointer[Status]
}

// New creates a controller in the Unhooked state. A nil spawn uses the real
// control-channel task.
func New(injectors inject.Factory, filters FilterResolver, payloads PayloadResolver, payloadName string, spawn SpawnFunc, logger *zap.Logger) *Controller {
	c := &Controller{
		injectors:   injectors,
		filters:     filters,
		payloads:    payloads,
		payloadName: payloadName,
		spawn:       spawn,
		logger:      logger,
	}
	if c.spawn == nil {
		c.spawn = func(addr netip.AddrPort, filters *config.FilterConfig) ChannelTask {
			return channel.Spawn(addr, filters, logger.Named("channel"))
		}
	}
	c.status.Store(&Status{})
	return c
}

// Hooked reports whether an ActiveHook is installed.
func (c *Controller) Hooked() bool { return c.state != nil }

// Status returns the current reporting snapshot. Safe from any goroutine.
func (c *Controller) Status() Status { return *c.status.Load() }

// Hook installs a hook on target, fully retiring any existing hook first.
// A failure anywhere in the pipeline leaves the state Unhooked and is
// returned for error-level reporting; the next Started event retries.
func (c *Controller) Hook(target Target) error {
	if c.state != nil {
		if err := c.Unhook(); err != nil {
			c.logger.Warn("unhook before rehook reported an error", zap.Error(err))
		}
	}

	c.logger.Info("found target",
		zap.String("name", target.Name()),
		zap.Int32("pid", target.PID()),
	)
	injector := c.injectors.For(target.PID())

	if err := c.purgeStale(injector); err != nil {
		return fmt.Errorf("stale payload probe: %w", err)
	}

	c.logger.Info("loading filter config")
	filters, _, err := c.filters.Resolve()
	if err != nil {
		return fmt.Errorf("resolve filter config: %w", err)
	}

	c.logger.Info("preparing payload")
	path, err := c.payloads.Resolve()
	if err != nil {
		return fmt.Errorf("resolve payload image: %w", err)
	}

	c.logger.Info("injecting payload", zap.String("path", path))
	module, err := injector.Inject(path)
	if err != nil {
		return fmt.Errorf("inject payload: %w", err)
	}

	procs, err := injector.Procedures(module)
	if err != nil {
		c.discard(injector, module)
		return fmt.Errorf("negotiate proc table: %w", err)
	}

	c.logger.Debug("starting control channel", zap.Uint32("proc_table_version", procs.Version()))
	addr, err := procs.StartChannel()
	if err != nil {
		c.discard(injector, module)
		return fmt.Errorf("start control channel: %w", err)
	}

	task := c.spawn(addr, filters)

	c.state = &ActiveHook{
		target:   target,
		injector: injector,
		module:   module,
		procs:    procs,
		task:     task,
		since:    time.Now(),
	}
	c.status.Store(&Status{
		Hooked:     true,
		TargetPID:  target.PID(),
		TargetName: target.Name(),
		Since:      c.state.since,
	})

	c.logger.Info("payload up and running", zap.String("channel", addr.String()))
	return nil
}

// purgeStale retires payload modules left behind by a crashed earlier run.
// Each iteration makes at most one stop+eject attempt and then re-probes;
// the loop is bounded by the injector reporting absence, not by a counter.
func (c *Controller) purgeStale(injector inject.Injector) error {
	for {
		module, ok, err := injector.FindModule(c.payloadName)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		c.logger.Warn("found previously injected payload", zap.String("module", c.payloadName))

		// Best effort: ask the survivor to stop its channel before ejecting.
		if procs, err := injector.Procedures(module); err != nil {
			c.logger.Error("stale payload proc table unavailable", zap.Error(err))
		} else if err := procs.StopChannel(); err != nil {
			c.logger.Error("failed to stop stale payload channel", zap.Error(err))
		} else {
			c.logger.Debug("stopped stale payload channel")
		}

		if err := injector.Eject(module); err != nil {
			c.logger.Error("failed to eject stale payload", zap.Error(err))
			continue
		}
		c.logger.Info("ejected stale payload")
	}
}

// discard best-effort ejects a module after an aborted hook attempt, so a
// half-installed payload does not linger until the next stale purge.
func (c *Controller) discard(injector inject.Injector, module inject.Module) {
	if err := injector.Eject(module); err != nil && !inject.IsBenign(err) {
		c.logger.Warn("failed to eject payload after aborted hook", zap.Error(err))
	}
}

// Unhook retires the current hook: stop the remote channel, join the task,
// then eject the module if the target still runs. The state is Unhooked
// when Unhook returns, no matter which steps failed. A no-op when already
// Unhooked.
func (c *Controller) Unhook() error {
	if c.state == nil {
		return nil
	}
	hook := c.state
	defer func() {
		c.state = nil
		c.status.Store(&Status{})
	}()

	c.logger.Info("unhooking target", zap.Int32("pid", hook.target.PID()))

	c.logger.Debug("stopping control channel")
	if err := hook.procs.StopChannel(); err != nil {
		if inject.IsBenign(err) {
			c.logger.Debug("target already gone while stopping channel")
		} else {
			c.logger.Warn("remote channel stop failed", zap.Error(err))
		}
		// The stop call never reached the payload, so the payload will not
		// close the channel; force the task's socket shut instead.
		hook.task.Stop()
	}

	if err := hook.task.Join(); err != nil {
		c.logger.Warn("control channel task ended with error", zap.Error(err))
	}
	c.logger.Debug("control channel task drained")

	if hook.target.Alive() {
		c.logger.Info("ejecting payload")
		if err := hook.injector.Eject(hook.module); err != nil {
			if inject.IsBenign(err) {
				c.logger.Debug("payload already gone", zap.Error(err))
			} else {
				// Ejection failed for a reason other than the target being
				// gone. Surface it and finish the transition anyway; holding
				// on to the hook would leak the task and block rehooking.
				c.logger.Error("unexpected ejection failure", zap.Error(err))
				return fmt.Errorf("eject payload: %w", err)
			}
		} else {
			c.logger.Info("ejected payload")
		}
	}

	c.logger.Info("target unhooked")
	return nil
}

// UpdateFilters forwards fresh filter lists to the active channel task.
// A no-op when Unhooked; the next hook resolves the lists from disk anyway.
func (c *Controller) UpdateFilters(f *config.FilterConfig) {
	if c.state == nil {
		c.logger.Debug("filter update with no active hook")
		return
	}
	c.state.task.UpdateFilters(f)
	c.logger.Info("filter lists applied to active hook",
		zap.Int("allowlist", len(f.Allowlist)),
		zap.Int("denylist", len(f.Denylist)),
	)
}
