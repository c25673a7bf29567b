// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package inject defines the boundary to the code-injection capability:
// loading a payload module into the target process, retiring it again, and
// invoking the payload's exported entry points. The mechanics of injection
// are platform-provided and live behind the Factory interface; this package
// owns the types and the error taxonomy the controller relies on.
package inject

import (
	"errors"
	"net/netip"
)

// Module is an opaque handle to a payload module loaded inside the target
// process's address space. A handle is exclusively owned by whoever obtained
// it and must be retired with Eject exactly once.
type Module interface {
	// Name returns the module's file name inside the target process.
	Name() string
}

// ProcTable is the fixed function table negotiated once per injected module.
// Both entry points are resolved at negotiation time; no per-call symbol
// lookup crosses the process boundary afterwards.
type ProcTable interface {
	// Version reports the table version the payload negotiated.
	Version() uint32

	// StartChannel asks the payload to open its control channel endpoint
	// and returns the address the payload is listening on.
	StartChannel() (netip.AddrPort, error)

	// StopChannel asks the payload to close its control channel endpoint
	// and return from its serving loop.
	StopChannel() error
}

// Injector loads and unloads payload modules in one target process.
// An Injector is bound to a single process at creation time.
type Injector interface {
	// Inject loads the module at path into the target process.
	Inject(path string) (Module, error)

	// Eject unloads a previously obtained module from the target process.
	Eject(m Module) error

	// FindModule looks for an already loaded module by file name.
	// ok is false when no such module is present.
	FindModule(name string) (m Module, ok bool, err error)

	// Procedures negotiates the fixed function table for a module.
	Procedures(m Module) (ProcTable, error)
}

// Factory creates Injectors bound to a target process.
type Factory interface {
	For(pid int32) Injector
}

// Benign failure modes: the target process, or the module inside it, is
// already gone. The target exits independently of the controller, so
// teardown treats these as an acceptable outcome rather than an error.
var (
	ErrProcessInaccessible = errors.New("inject: target process inaccessible")
	ErrModuleInaccessible  = errors.New("inject: module inaccessible")
)

// ErrUnsupported is returned by builds without a platform injector backend.
var ErrUnsupported = errors.New("inject: no injector backend in this build")

// IsBenign reports whether err means the process or module is already gone.
func IsBenign(err error) bool {
	return errors.Is(err, ErrProcessInaccessible) || errors.Is(err, ErrModuleInaccessible)
}
