// Package activation models the external "activator" lifecycle token
// spec.md treats as an out-of-scope collaborator: components report
// ready/notReady/stop through it and are told when to activate/deactivate.
// It is deliberately narrow - this package is not the activation-state
// mini-framework the spec excludes, just the interface this module calls
// into.
package activation

import "github.com/frostbyte73/core"

// Activator is the narrow surface a network-facing component needs: report
// readiness, report a fatal condition, and observe a once-only stop.
//
// Grounded on onthegit-livekit/pkg/sfu/streamtrackermanager.go's use of
// core.Fuse as a once-only "closed" signal.
type Activator struct {
	fuse   core.Fuse
	ready  bool
	onStop []func()
}

// New returns an Activator in the not-ready state.
func New() *Activator {
	return &Activator{fuse: core.NewFuse()}
}

// Ready marks the component ready. Idempotent.
func (a *Activator) Ready() {
	a.ready = true
}

// NotReady marks the component not ready without stopping it (e.g. while a
// rewind is in flight). Idempotent.
func (a *Activator) NotReady() {
	a.ready = false
}

// IsReady reports whether the component last reported itself ready.
func (a *Activator) IsReady() bool {
	return a.ready
}

// Stop breaks the fuse exactly once and runs any OnStop listeners the first
// time it is called; subsequent calls are no-ops. Per spec.md §7, components
// call NotReady()+Stop() together on a critical I/O error.
func (a *Activator) Stop() {
	a.ready = false
	if a.fuse.IsBroken() {
		return
	}
	a.fuse.Break()
	for _, fn := range a.onStop {
		fn()
	}
}

// Stopped reports whether Stop has ever been called.
func (a *Activator) Stopped() bool {
	return a.fuse.IsBroken()
}

// OnStop registers fn to run exactly once, the first time Stop is called
// (or immediately, if Stop already ran).
func (a *Activator) OnStop(fn func()) {
	if a.fuse.IsBroken() {
		fn()
		return
	}
	a.onStop = append(a.onStop, fn)
}
