// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build windows

package singleton

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// TryAcquire creates a named mutex in the local session namespace. The
// kernel drops the mutex when the process exits, crashed or not.
func TryAcquire(name string) (*Guard, error) {
	name16, err := windows.UTF16PtrFromString(name + " SINGLETON MUTEX")
	if err != nil {
		return nil, fmt.Errorf("encode mutex name: %w", err)
	}

	handle, err := windows.CreateMutex(nil, false, name16)
	if err != nil {
		if err == windows.ERROR_ALREADY_EXISTS {
			if handle != 0 {
				windows.CloseHandle(handle)
			}
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("create singleton mutex: %w", err)
	}

	return &Guard{release: func() error {
		return windows.CloseHandle(handle)
	}}, nil
}
