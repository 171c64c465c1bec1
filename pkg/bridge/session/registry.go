package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSessionExists is returned when Create is called with an identifier that
// is already live. Overwriting silently would let two orchestrators share a
// call, so creation is rejected instead.
var ErrSessionExists = errors.New("session already exists")

// Registry is the process-wide map from session identifier to Session. One
// relay orchestrator owns one entry; entries are created by the inbound call
// handler and removed after the transcript is flushed.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create inserts a new Session. It fails with ErrSessionExists when the
// identifier is already present.
func (r *Registry) Create(id string, opts Options) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrSessionExists)
	}
	s := newSession(id, opts, r.now())
	r.sessions[id] = s
	r.wg.Add(1)
	return s, nil
}

// Get returns the live Session for id, if any.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the Session for id. Removing an absent id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	r.wg.Done()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Wait blocks until every live session has been removed or the context is
// done. It reports whether the registry fully drained.
func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
