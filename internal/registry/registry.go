// Package registry tracks which workflows are currently permitted to crawl.
//
// Each running workflow gets a cancellation token (a derived context) at start.
// Stop cancels the token and removes the entry; crawlers observe the
// cancellation at the top of their next scroll cycle. Absence of an entry
// means "not running".
package registry

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyRunning is returned when a workflow is started twice.
var ErrAlreadyRunning = errors.New("workflow already running")

type entry struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Registry is the process-wide workflowID -> cancellation token map. Lookups
// are safe while a removal is in flight.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Start registers the workflow and returns its cancellation token, derived
// from parent. Starting an already-running workflow fails.
func (r *Registry) Start(parent context.Context, workflowID string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[workflowID]; ok {
		return nil, ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(parent)
	r.entries[workflowID] = entry{ctx: ctx, cancel: cancel}
	return ctx, nil
}

// Running reports whether the workflow holds a live registry entry.
func (r *Registry) Running(workflowID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[workflowID]
	return ok && e.ctx.Err() == nil
}

// Stop cancels the workflow's token and removes its entry. It does not wait
// for in-flight browser operations; crawlers notice at their next cycle.
// Returns false when the workflow was not running.
func (r *Registry) Stop(workflowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[workflowID]
	if !ok {
		return false
	}
	e.cancel()
	delete(r.entries, workflowID)
	return true
}

// Remove drops the entry on run completion, releasing the token's resources.
func (r *Registry) Remove(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[workflowID]; ok {
		e.cancel()
		delete(r.entries, workflowID)
	}
}

// Len returns the number of registered workflows.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
