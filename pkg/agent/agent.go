// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package agent runs the top-level event race: presence events from the
// process watcher, the termination signal, the UI exit signal, and filter
// reloads, all driving the hook controller from one loop.
package agent

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mbeema/muzzle/pkg/config"
	"github.com/mbeema/muzzle/pkg/controller"
	"github.com/mbeema/muzzle/pkg/watcher"
)

// HookController is the hook lifecycle state machine the agent drives.
type HookController interface {
	Hook(target controller.Target) error
	Unhook() error
	UpdateFilters(*config.FilterConfig)
}

// PresenceSource produces the presence-event stream for the target.
type PresenceSource interface {
	Run(ctx context.Context) error
	Events() <-chan watcher.Event
}

// Agent owns the orchestrator loop. Hook and unhook transitions are issued
// strictly sequentially from Run's goroutine; a hook attempt in progress is
// never pre-empted by the loop.
type Agent struct {
	ctrl   HookController
	source PresenceSource
	logger *zap.Logger

	// uiExit is an optional second shutdown source (the tray). nil blocks
	// forever, which is exactly right for builds without a UI.
	uiExit <-chan struct{}

	reload chan *config.FilterConfig
}

// New creates an agent. uiExit may be nil.
func New(ctrl HookController, source PresenceSource, uiExit <-chan struct{}, logger *zap.Logger) *Agent {
	return &Agent{
		ctrl:   ctrl,
		source: source,
		uiExit: uiExit,
		logger: logger,
		reload: make(chan *config.FilterConfig, 1),
	}
}

// ApplyFilters hands fresh filter lists to the loop. Only the newest
// pending value matters; an unconsumed older one is replaced.
func (a *Agent) ApplyFilters(f *config.FilterConfig) {
	for {
		select {
		case a.reload <- f:
			return
		default:
			select {
			case <-a.reload:
			default:
			}
		}
	}
}

// Run races the event sources until ctx is cancelled or the UI exits.
// Whatever ends the loop, a final unhook runs before Run returns, so no
// injected module or channel task survives controller shutdown.
func (a *Agent) Run(ctx context.Context) error {
	watcherDone := make(chan error, 1)
	go func() { watcherDone <- a.source.Run(ctx) }()

	defer func() {
		if err := a.ctrl.Unhook(); err != nil {
			a.logger.Error("final unhook failed", zap.Error(err))
		}
	}()

	a.logger.Info("watching for target")
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("termination requested")
			return nil

		case <-a.uiExit:
			a.logger.Info("ui exit requested")
			return nil

		case err := <-watcherDone:
			if ctx.Err() != nil {
				return nil
			}
			// The watcher runs forever by contract; it stopping on its own
			// is abnormal, not a routine race outcome.
			if err == nil {
				err = errors.New("process watcher stopped unexpectedly")
			}
			a.logger.Error("process watcher stopped", zap.Error(err))
			return err

		case ev := <-a.source.Events():
			a.handle(ev)

		case f := <-a.reload:
			a.ctrl.UpdateFilters(f)
		}
	}
}

func (a *Agent) handle(ev watcher.Event) {
	switch ev.Kind {
	case watcher.Started:
		if err := a.ctrl.Hook(ev.Target); err != nil {
			a.logger.Error("hook attempt failed", zap.Error(err))
		}
	case watcher.Stopped:
		if err := a.ctrl.Unhook(); err != nil {
			a.logger.Error("unhook failed", zap.Error(err))
		}
		a.logger.Info("watching for target")
	}
}
