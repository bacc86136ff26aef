// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package state drives the lifecycle of a background loop through atomic transitions.
package state

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is a loop lifecycle state.
type State uint32

// Loop states.
const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Machine holds the state of one loop. A loop is started at most once and, once
// stopped, stays stopped.
type Machine struct {
	state atomic.Uint32
	done  chan struct{}
	once  sync.Once
}

// New creates an idle machine.
func New() *Machine {
	return &Machine{done: make(chan struct{})}
}

// Get returns the current state.
func (m *Machine) Get() State {
	return State(m.state.Load())
}

// Transition moves from one state to another. It returns false when the machine was
// not in the expected state.
func (m *Machine) Transition(from, to State) bool {
	return m.state.CompareAndSwap(uint32(from), uint32(to))
}

// TransitionFrom moves to the target state from any of the given states.
func (m *Machine) TransitionFrom(to State, from ...State) bool {
	for _, f := range from {
		if m.Transition(f, to) {
			return true
		}
	}
	return false
}

// Running reports whether the loop should keep going.
func (m *Machine) Running() bool {
	return m.Get() == StateRunning
}

// Stop asks a running loop to exit. A machine that never started is finished
// immediately.
func (m *Machine) Stop() {
	if m.Transition(StateIdle, StateStopped) {
		m.finish()
		return
	}
	m.Transition(StateRunning, StateStopping)
}

// Finish marks the loop as exited. It is called by the loop goroutine.
func (m *Machine) Finish() {
	m.state.Store(uint32(StateStopped))
	m.finish()
}

func (m *Machine) finish() {
	m.once.Do(func() { close(m.done) })
}

// Done is closed once the loop has exited.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until the loop has exited or ctx is done.
func (m *Machine) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
