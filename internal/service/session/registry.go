package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/morviq/gateway/internal/metrics"
)

var (
	ErrCapacityExceeded = errors.New("maximum number of sessions reached")
	ErrSessionNotFound  = errors.New("session not found")
)

// Options 会话注册表配置
type Options struct {
	MaxSessions   int
	Timeout       time.Duration
	SweepInterval time.Duration
}

// Registry owns the set of live sessions and is the only writer to it.
type Registry struct {
	opts     Options
	renderer Renderer

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. renderer may be nil.
func NewRegistry(opts Options, renderer Renderer) *Registry {
	return &Registry{
		opts:     opts,
		renderer: renderer,
		sessions: make(map[string]*Session),
	}
}

// Create provisions a session with default state.
func (r *Registry) Create(userID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.opts.MaxSessions {
		return nil, ErrCapacityExceeded
	}

	session := New(uuid.NewString(), userID, r.renderer)
	r.sessions[session.ID()] = session
	metrics.SetSessionsActive(len(r.sessions))

	log.Printf("[registry] session created id=%s user=%s", session.ID(), userID)
	return session, nil
}

// Get looks a session up by identifier.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	return session, ok
}

// Lookup is Get with ErrSessionNotFound for unknown identifiers.
func (r *Registry) Lookup(id string) (*Session, error) {
	session, ok := r.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Delete removes and tears down a session. It reports whether it existed.
// Teardown writes to connections, so it runs after r.mu is released.
func (r *Registry) Delete(id string) bool {
	session, ok := r.remove(id)
	if !ok {
		return false
	}
	session.Teardown(CloseNormal, ReasonSessionEnded)

	log.Printf("[registry] session deleted id=%s", id)
	return true
}

func (r *Registry) remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	metrics.SetSessionsActive(len(r.sessions))
	return session, true
}

// List returns a snapshot of the live sessions in no particular order.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		out = append(out, session)
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Run sweeps idle sessions every SweepInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

// sweep deletes every session idle for longer than Timeout as of now.
func (r *Registry) sweep(now time.Time) []string {
	var expired []*Session

	r.mu.Lock()
	for id, session := range r.sessions {
		if now.Sub(session.LastActivity()) > r.opts.Timeout {
			expired = append(expired, session)
			delete(r.sessions, id)
		}
	}
	if len(expired) > 0 {
		metrics.SetSessionsActive(len(r.sessions))
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, session := range expired {
		session.Teardown(CloseNormal, ReasonSessionEnded)
		metrics.RecordSessionExpired()
		log.Printf("[registry] session expired and removed id=%s", session.ID())
		ids = append(ids, session.ID())
	}
	return ids
}

// Close tears down every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, session := range r.sessions {
		sessions = append(sessions, session)
		delete(r.sessions, id)
	}
	metrics.SetSessionsActive(0)
	r.mu.Unlock()

	for _, session := range sessions {
		session.Teardown(CloseNormal, ReasonSessionEnded)
	}
}
