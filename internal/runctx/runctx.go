// File: internal/runctx/runctx.go
// Package runctx owns the process-wide run token and stop flag.
//
// Starting a run supersedes whatever run was live before it: the previous run's
// context is cancelled and its token stops being live, so any step it attempts
// afterwards can tell it has been superseded and back out without touching the page.
package runctx

import (
	"context"
	"sync"
	"sync/atomic"
)

// Registry hands out run tokens. The zero value is not usable; call NewRegistry.
type Registry struct {
	token   atomic.Uint64
	stopped atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewRegistry returns a registry with token 0 live and no run started.
func NewRegistry() *Registry {
	return &Registry{}
}

// Begin starts a new run: it increments the token, clears the stop flag and
// cancels the context of the previous run. The returned RunContext is derived from parent.
func (r *Registry) Begin(parent context.Context) *RunContext {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel

	r.stopped.Store(false)
	token := r.token.Add(1)

	return &RunContext{reg: r, token: token, ctx: ctx, cancel: cancel}
}

// Stop requests that the live run halt before its next value.
func (r *Registry) Stop() {
	r.stopped.Store(true)
}

// Token returns the currently live token.
func (r *Registry) Token() uint64 {
	return r.token.Load()
}

// Stopped reports whether stop was requested since the last Begin.
func (r *Registry) Stopped() bool {
	return r.stopped.Load()
}

// RunContext is the per-run handle passed down to every component that touches the page.
type RunContext struct {
	reg    *Registry
	token  uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Token is the token captured when the run began.
func (rc *RunContext) Token() uint64 { return rc.token }

// Context is cancelled when the run is superseded or released.
func (rc *RunContext) Context() context.Context { return rc.ctx }

// Live reports whether this run still owns the live token.
func (rc *RunContext) Live() bool { return rc.reg.token.Load() == rc.token }

// Stopped reports whether a stop was requested.
func (rc *RunContext) Stopped() bool { return rc.reg.stopped.Load() }

// Release cancels the run's context. Safe to call more than once.
func (rc *RunContext) Release() { rc.cancel() }
