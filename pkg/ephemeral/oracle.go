package ephemeral

import (
	"context"
	"log/slog"
	"time"
)

// Mode classifies a user's connection state.
type Mode string

// Connection modes.
const (
	// ModeUI means the user has a live frontend attached: stream chunks over
	// the WebSocket hub AND persist to the transcript store.
	ModeUI Mode = "UI"
	// ModeBackend means the heartbeat is stale: persist only, no broadcasts.
	// The user sees the reply on reconnect via their transcript subscription.
	ModeBackend Mode = "BACKEND"
)

// HeartbeatMaxAge is the freshness window for classifying a user as attached.
const HeartbeatMaxAge = 300 * time.Second

// Oracle classifies users as UI-attached or backend-only from heartbeats.
type Oracle struct {
	store *Store
	now   func() time.Time
}

// NewOracle creates an oracle reading heartbeats from the given store.
func NewOracle(store *Store) *Oracle {
	return &Oracle{store: store, now: time.Now}
}

// ModeFor returns the user's current connection mode. Read failures degrade
// to BACKEND: persistence is unconditional, so a missed broadcast is the
// cheaper mistake.
func (o *Oracle) ModeFor(ctx context.Context, userID string) Mode {
	last, err := o.store.LastHeartbeat(ctx, userID)
	if err != nil {
		slog.Warn("Heartbeat read failed, classifying as backend", "user_id", userID, "error", err)
		return ModeBackend
	}
	return Classify(last, o.now())
}

// Classify applies the freshness rule: strictly less than HeartbeatMaxAge is
// UI; a heartbeat aged exactly HeartbeatMaxAge (or missing) is BACKEND.
func Classify(lastHeartbeat, now time.Time) Mode {
	if lastHeartbeat.IsZero() {
		return ModeBackend
	}
	if now.Sub(lastHeartbeat) < HeartbeatMaxAge {
		return ModeUI
	}
	return ModeBackend
}
