// Package session manages in-memory per-user sessions and per-thread brains.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pinnokio/orchestrator/pkg/config"
)

// Registry manages sessions in memory, one per (user_id, company_id).
type Registry struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	loader ContextLoader
	cfg    config.AgentConfig
	now    func() time.Time
}

// NewRegistry creates a new session registry.
func NewRegistry(loader ContextLoader, cfg config.AgentConfig) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		loader:   loader,
		cfg:      cfg,
		now:      time.Now,
	}
}

func sessionKey(userID, companyID string) string {
	return userID + "|" + companyID
}

// GetOrCreate returns the session for (userID, companyID), creating it
// atomically on first use. Concurrent callers always observe the same
// instance.
func (r *Registry) GetOrCreate(userID, companyID string) *Session {
	key := sessionKey(userID, companyID)

	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if ok {
		s.touch(r.now())
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		s.touch(r.now())
		return s
	}
	s = newSession(userID, companyID, r.loader, r.cfg, r.now)
	r.sessions[key] = s
	slog.Info("Session created", "user_id", userID, "company_id", companyID)
	return s
}

// Get returns an existing session without creating one.
func (r *Registry) Get(userID, companyID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionKey(userID, companyID)]
	return s, ok
}

// Evict removes a session, e.g. on logout.
func (r *Registry) Evict(userID, companyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionKey(userID, companyID))
}

// SweepIdle evicts sessions idle longer than the configured timeout and
// returns how many were removed. Task records are durable, so an evicted
// session with in-flight LPTs is rebuilt by the next callback.
func (r *Registry) SweepIdle() int {
	cutoff := r.now().Add(-r.cfg.IdleTimeout)

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for key, s := range r.sessions {
		if s.lastActivity().Before(cutoff) {
			delete(r.sessions, key)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Info("Idle sessions evicted", "count", evicted)
	}
	return evicted
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
