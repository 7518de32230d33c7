// Package auth verifies frontend identity tokens and bootstraps per-login
// session records in the ephemeral store.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pinnokio/orchestrator/pkg/config"
)

// ErrInvalidToken is returned when the identity provider rejects a token.
var ErrInvalidToken = errors.New("invalid identity token")

// Identity is a verified login.
type Identity struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	SessionID string `json:"session_id"`
}

// TokenVerifier checks an identity token with the provider.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID, email string, err error)
}

// SessionStore persists login session records. Implemented by
// ephemeral.Store.
type SessionStore interface {
	CreateAuthSession(ctx context.Context, userID, sessionID, email string, ttl time.Duration) error
	DeleteAuthSession(ctx context.Context, userID, sessionID string) error
}

// Service performs the login handshake.
type Service struct {
	verifier TokenVerifier
	sessions SessionStore
	ttl      time.Duration
}

// NewService creates an auth service.
func NewService(verifier TokenVerifier, sessions SessionStore, ttl time.Duration) *Service {
	return &Service{verifier: verifier, sessions: sessions, ttl: ttl}
}

// Login verifies the token and writes the session record. The frontend may
// supply its own session ID; one is generated otherwise. The returned session
// ID identifies this login until its TTL expires.
func (s *Service) Login(ctx context.Context, token, sessionID string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	userID, email, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	id := &Identity{UserID: userID, Email: email, SessionID: sessionID}
	if err := s.sessions.CreateAuthSession(ctx, id.UserID, id.SessionID, id.Email, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to create session record: %w", err)
	}
	return id, nil
}

// Logout removes the session record.
func (s *Service) Logout(ctx context.Context, userID, sessionID string) error {
	return s.sessions.DeleteAuthSession(ctx, userID, sessionID)
}

// HTTPVerifier validates tokens against the identity provider's lookup
// endpoint.
type HTTPVerifier struct {
	url        string
	httpClient *http.Client
}

// NewHTTPVerifier creates a verifier for the configured endpoint.
func NewHTTPVerifier(cfg config.AuthConfig) *HTTPVerifier {
	return &HTTPVerifier{
		url:        cfg.VerifyURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify implements TokenVerifier.
func (v *HTTPVerifier) Verify(ctx context.Context, token string) (string, string, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal verify request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", "", ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("identity provider error (status %d)", resp.StatusCode)
	}

	var out struct {
		UserID string `json:"user_id"`
		Email  string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("failed to decode verify response: %w", err)
	}
	if out.UserID == "" {
		return "", "", ErrInvalidToken
	}
	return out.UserID, out.Email, nil
}
