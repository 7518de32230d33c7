package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pinnokio/orchestrator/pkg/config"
	"github.com/pinnokio/orchestrator/pkg/models"
)

// ContextLoader resolves the per-thread business context from the document
// store. Implemented by services.ClientService.
type ContextLoader interface {
	ResolveContext(ctx context.Context, userID, companyID string) (*models.Context, error)
}

// ContextLoadError wraps a failed business context resolution. The agent
// surfaces it to the user instead of dispatching with a partial context.
type ContextLoadError struct {
	UserID    string
	CompanyID string
	Err       error
}

func (e *ContextLoadError) Error() string {
	return fmt.Sprintf("failed to load business context for user %s company %s: %v", e.UserID, e.CompanyID, e.Err)
}

func (e *ContextLoadError) Unwrap() error { return e.Err }

// Session is the singleton conversational surface for one (user, company)
// pair. It owns the per-thread brains and a TTL cache of the business
// context.
type Session struct {
	UserID    string
	CompanyID string

	loader ContextLoader
	cfg    config.AgentConfig
	now    func() time.Time

	mu         sync.Mutex
	brains     map[string]*Brain
	cachedCtx  *models.Context
	cachedAt   time.Time
	activityAt time.Time
}

func newSession(userID, companyID string, loader ContextLoader, cfg config.AgentConfig, now func() time.Time) *Session {
	return &Session{
		UserID:     userID,
		CompanyID:  companyID,
		loader:     loader,
		cfg:        cfg,
		now:        now,
		brains:     make(map[string]*Brain),
		activityAt: now(),
	}
}

// Brain returns the brain for a thread key, creating it on first use.
func (s *Session) Brain(threadKey string) *Brain {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.brains[threadKey]
	if !ok {
		b = newBrain(threadKey)
		s.brains[threadKey] = b
	}
	return b
}

// Context returns the business context, reloading it when the cache entry is
// older than the TTL. The freshness check is strict: an entry aged exactly
// the TTL is stale.
func (s *Session) Context(ctx context.Context) (*models.Context, error) {
	s.mu.Lock()
	if s.cachedCtx != nil && s.now().Sub(s.cachedAt) < s.cfg.ContextTTL {
		cached := s.cachedCtx
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	loaded, err := s.loader.ResolveContext(ctx, s.UserID, s.CompanyID)
	if err != nil {
		return nil, &ContextLoadError{UserID: s.UserID, CompanyID: s.CompanyID, Err: err}
	}

	s.mu.Lock()
	s.cachedCtx = loaded
	s.cachedAt = s.now()
	s.mu.Unlock()
	return loaded, nil
}

// InvalidateContext drops the cached context so the next read reloads.
func (s *Session) InvalidateContext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachedCtx = nil
}

func (s *Session) touch(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activityAt = at
}

func (s *Session) lastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activityAt
}
