// Package registry tracks the active polling loop per job so duplicate
// submissions and resumes are suppressed and cancellation has a single
// owner. The registry is an explicitly constructed object with a defined
// lifecycle, passed by reference to the components that need it.
package registry

import (
	"context"
	"sync"
)

// Registry enforces "at most one active polling loop per job id" by
// checking-and-inserting atomically at registration time.
type Registry struct {
	mu       sync.Mutex
	disposed bool
	active   map[string]context.CancelFunc
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		active: make(map[string]context.CancelFunc),
	}
}

// Register atomically claims a job id and returns a context derived from
// parent that is cancelled when the job is deregistered or the registry is
// disposed. Returns ok=false when the id is already claimed or the registry
// has been disposed; the caller must not start a polling loop in that case.
func (r *Registry) Register(parent context.Context, jobID string) (context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed {
		return nil, false
	}
	if _, exists := r.active[jobID]; exists {
		return nil, false
	}

	ctx, cancel := context.WithCancel(parent)
	r.active[jobID] = cancel
	return ctx, true
}

// Deregister releases a job id and cancels its polling context. Returns
// false if the id was not registered.
func (r *Registry) Deregister(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.active[jobID]
	if ok {
		delete(r.active, jobID)
	}
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Cancel requests cooperative cancellation of a job's polling loop without
// releasing the id; the loop deregisters itself when it observes the
// cancellation. Returns false if the id was not registered.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.active[jobID]
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Has reports whether a job id currently has an active polling loop.
func (r *Registry) Has(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[jobID]
	return ok
}

// Len returns the number of active polling loops.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Dispose cancels every active polling loop and rejects further
// registrations. Safe to call more than once.
func (r *Registry) Dispose() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.active))
	for id, cancel := range r.active {
		cancels = append(cancels, cancel)
		delete(r.active, id)
	}
	r.disposed = true
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
