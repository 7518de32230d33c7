// Package ephemeral provides the Redis-backed ephemeral store used for auth
// sessions, heartbeats, and connection-mode classification.
package ephemeral

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pinnokio/orchestrator/pkg/config"
)

// Key layout.
const (
	heartbeatField = "heartbeat.last_heartbeat"
)

// registryKey is the per-user connection registry hash.
func registryKey(userID string) string {
	return "registry:" + userID
}

// sessionKey is the per-login auth session record.
func sessionKey(userID, sessionID string) string {
	return fmt.Sprintf("session:%s:%s", userID, sessionID)
}

// Store wraps a Redis client with the orchestrator's key conventions.
type Store struct {
	rdb redis.UniversalClient
}

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

// NewStoreFromClient wraps an existing client (useful for testing).
func NewStoreFromClient(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Ping checks connectivity for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// --- Auth sessions ---

// CreateAuthSession writes the session record for a verified login with the
// configured TTL (the frontend re-authenticates when it expires).
func (s *Store) CreateAuthSession(ctx context.Context, userID, sessionID, email string, ttl time.Duration) error {
	key := sessionKey(userID, sessionID)
	if err := s.rdb.HSet(ctx, key,
		"user_id", userID,
		"email", email,
		"created_at", time.Now().UTC().Format(time.RFC3339),
	).Err(); err != nil {
		return fmt.Errorf("failed to create auth session: %w", err)
	}
	if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set auth session TTL: %w", err)
	}
	return nil
}

// AuthSessionExists reports whether the session record is still live.
func (s *Store) AuthSessionExists(ctx context.Context, userID, sessionID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, sessionKey(userID, sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check auth session: %w", err)
	}
	return n > 0, nil
}

// DeleteAuthSession removes the session record on logout.
func (s *Store) DeleteAuthSession(ctx context.Context, userID, sessionID string) error {
	return s.rdb.Del(ctx, sessionKey(userID, sessionID)).Err()
}

// --- Heartbeats ---

// TouchHeartbeat records the user's latest heartbeat in the connection
// registry. Called on every heartbeat frame from an attached UI.
func (s *Store) TouchHeartbeat(ctx context.Context, userID string, at time.Time) error {
	err := s.rdb.HSet(ctx, registryKey(userID), heartbeatField, at.UTC().Unix()).Err()
	if err != nil {
		return fmt.Errorf("failed to touch heartbeat: %w", err)
	}
	return nil
}

// LastHeartbeat returns the user's most recent heartbeat, or the zero time
// when no heartbeat has ever been recorded.
func (s *Store) LastHeartbeat(ctx context.Context, userID string) (time.Time, error) {
	val, err := s.rdb.HGet(ctx, registryKey(userID), heartbeatField).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read heartbeat: %w", err)
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed heartbeat value %q: %w", val, err)
	}
	return time.Unix(unix, 0).UTC(), nil
}
