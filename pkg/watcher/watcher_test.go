// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package watcher

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

// scriptScan returns one scripted result per call, holding the last result
// once the script runs out.
func scriptScan(results ...*Target) func() (*Target, error) {
	i := 0
	return func() (*Target, error) {
		r := results[i]
		if i < len(results)-1 {
			i++
		}
		return r, nil
	}
}

func drain(t *testing.T, w *Watcher) []Event {
	t.Helper()
	var events []Event
	for {
		select {
		case ev := <-w.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestPollEmitsStartedOnAppearance(t *testing.T) {
	w := New("target.exe", time.Second, zap.NewNop())
	w.scan = scriptScan(nil, &Target{pid: 100, name: "target.exe"})

	ctx := context.Background()
	w.poll(ctx) // nothing found
	w.poll(ctx) // target appears

	events := drain(t, w)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Kind != Started {
		t.Errorf("kind = %v, want Started", events[0].Kind)
	}
	if events[0].Target.PID() != 100 {
		t.Errorf("pid = %d, want 100", events[0].Target.PID())
	}
}

func TestPollNoEventWhileTargetStaysUp(t *testing.T) {
	w := New("target.exe", time.Second, zap.NewNop())
	tgt := &Target{pid: 100, name: "target.exe"}
	w.scan = scriptScan(tgt)

	ctx := context.Background()
	w.poll(ctx)
	w.poll(ctx)
	w.poll(ctx)

	events := drain(t, w)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (only the initial Started)", len(events))
	}
}

func TestPollEmitsStoppedOnDisappearance(t *testing.T) {
	w := New("target.exe", time.Second, zap.NewNop())
	w.scan = scriptScan(&Target{pid: 100, name: "target.exe"}, nil)

	ctx := context.Background()
	w.poll(ctx)
	w.poll(ctx)

	events := drain(t, w)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].Kind != Stopped {
		t.Errorf("second event kind = %v, want Stopped", events[1].Kind)
	}
	if events[1].Target != nil {
		t.Errorf("Stopped event carries a target")
	}
}

func TestPollEmitsStartedWhenPIDChangesWithoutStop(t *testing.T) {
	w := New("target.exe", time.Second, zap.NewNop())
	w.scan = scriptScan(
		&Target{pid: 100, name: "target.exe"},
		&Target{pid: 200, name: "target.exe"},
	)

	ctx := context.Background()
	w.poll(ctx)
	w.poll(ctx)

	events := drain(t, w)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != Started || events[1].Kind != Started {
		t.Fatalf("kinds = %v/%v, want Started/Started", events[0].Kind, events[1].Kind)
	}
	if events[1].Target.PID() != 200 {
		t.Errorf("second Started pid = %d, want 200", events[1].Target.PID())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	w := New("target.exe", 10*time.Millisecond, zap.NewNop())
	w.scan = scriptScan(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil on cancellation", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestNewTargetDeadPID(t *testing.T) {
	tgt := NewTarget(1<<30, "ghost.exe")
	if tgt.Alive() {
		t.Error("Alive() = true for a PID that cannot exist")
	}
}
