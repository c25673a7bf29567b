// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package inject

import (
	"fmt"
)

// NewPlatformFactory returns the injector backend for the current platform.
// Injection mechanics live outside this repository; a build that does not
// link a platform backend gets a factory whose operations fail with
// ErrUnsupported, which keeps the controller watching without ever hooking.
func NewPlatformFactory() Factory {
	return unsupportedFactory{}
}

type unsupportedFactory struct{}

func (unsupportedFactory) For(pid int32) Injector {
	return unsupportedInjector{pid: pid}
}

type unsupportedInjector struct {
	pid int32
}

func (i unsupportedInjector) Inject(path string) (Module, error) {
	return nil, fmt.Errorf("inject into pid %d: %w", i.pid, ErrUnsupported)
}

func (i unsupportedInjector) Eject(Module) error {
	return fmt.Errorf("eject from pid %d: %w", i.pid, ErrUnsupported)
}

func (i unsupportedInjector) FindModule(string) (Module, bool, error) {
	return nil, false, fmt.Errorf("probe pid %d: %w", i.pid, ErrUnsupported)
}

func (i unsupportedInjector) Procedures(Module) (ProcTable, error) {
	return nil, fmt.Errorf("negotiate proc table in pid %d: %w", i.pid, ErrUnsupported)
}
