// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package singleton guards against a second controller instance running on
// the same host. Two controllers would race each other's injections.
package singleton

import "errors"

// ErrAlreadyRunning means another instance holds the guard.
var ErrAlreadyRunning = errors.New("singleton: another instance is already running")

// Guard is a held singleton lock. Release it on shutdown; the operating
// system also releases it if the process dies.
type Guard struct {
	release func() error
}

// Release gives up the guard.
func (g *Guard) Release() error {
	if g.release == nil {
		return nil
	}
	return g.release()
}
