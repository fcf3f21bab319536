// Package session tracks which agent streams are live. The registry is
// the single source of truth for "is something already running for this
// stream": starts acquire, every terminal path releases, and stop aborts
// through the handle the starter registered.
package session

import (
	"context"
	"sync"
	"time"
)

// Handle is what the registry holds for a live session. Cancel tears the
// session's work down; the rest is metadata for the UI.
type Handle struct {
	Cancel     context.CancelFunc
	WorkingDir string
	StartedAt  time.Time
}

// Registry maps stream IDs to live session handles. Constructed per
// daemon and injected; there is no package-level instance.
type Registry struct {
	mu     sync.Mutex
	active map[string]Handle
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]Handle)}
}

// Acquire claims a stream ID for a new session. It returns false without
// touching anything when the ID is already held; the caller must not
// start work in that case.
func (r *Registry) Acquire(streamID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.active[streamID]; held {
		return false
	}
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now()
	}
	r.active[streamID] = h
	return true
}

// Release drops the stream's entry. Safe to call on an ID that was
// already released or never acquired, so terminal paths can release
// unconditionally.
func (r *Registry) Release(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, streamID)
}

// Abort cancels the held session and releases its entry. It reports
// false when nothing was running for the ID.
func (r *Registry) Abort(streamID string) bool {
	r.mu.Lock()
	h, held := r.active[streamID]
	if held {
		delete(r.active, streamID)
	}
	r.mu.Unlock()

	if !held {
		return false
	}
	if h.Cancel != nil {
		h.Cancel()
	}
	return true
}

// Holds reports whether the stream ID currently has a live session.
func (r *Registry) Holds(streamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.active[streamID]
	return held
}

// Active returns the IDs of all live sessions.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}
