// Package shutdown implements the node's one-way shutdown gate.
//
// A Gate starts in Running and moves to ShuttingDown exactly once. The
// transition is a compare-and-swap on an atomic cell, so the alert path and
// the fault path may race to trigger it without coordination.
package shutdown

import (
	"sync"
	"sync/atomic"
)

// State is the shutdown state of the node.
type State int32

const (
	// Running is the initial state.
	Running State = iota
	// ShuttingDown is terminal.
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Gate is a one-way Running -> ShuttingDown state cell.
type Gate struct {
	state atomic.Int32
	done  chan struct{}

	mu     sync.Mutex
	reason string
	fired  bool
	hooks  []func(reason string)
}

// NewGate returns a gate in the Running state.
func NewGate() *Gate {
	return &Gate{done: make(chan struct{})}
}

// Trigger moves the gate to ShuttingDown. It returns true only for the call
// that performed the transition; later calls are no-ops.
func (g *Gate) Trigger(reason string) bool {
	// The swap happens under mu so a reader that observes ShuttingDown
	// and then calls Reason blocks until the reason is stored.
	g.mu.Lock()
	if !g.state.CompareAndSwap(int32(Running), int32(ShuttingDown)) {
		g.mu.Unlock()
		return false
	}
	g.reason = reason
	g.fired = true
	hooks := g.hooks
	g.hooks = nil
	close(g.done)
	g.mu.Unlock()

	for _, h := range hooks {
		h(reason)
	}
	return true
}

// State returns the current state.
func (g *Gate) State() State {
	return State(g.state.Load())
}

// ShuttingDown reports whether the gate has been triggered.
func (g *Gate) ShuttingDown() bool {
	return g.State() == ShuttingDown
}

// Done is closed when the gate is triggered.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Reason returns the reason passed to the triggering call, or "" while
// running.
func (g *Gate) Reason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

// OnShutdown registers fn to run once after the transition, on the
// triggering goroutine. If the gate has already been triggered fn runs
// immediately.
func (g *Gate) OnShutdown(fn func(reason string)) {
	g.mu.Lock()
	if g.fired {
		reason := g.reason
		g.mu.Unlock()
		fn(reason)
		return
	}
	g.hooks = append(g.hooks, fn)
	g.mu.Unlock()
}
