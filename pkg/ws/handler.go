package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pinnokio/orchestrator/pkg/auth"
	"github.com/pinnokio/orchestrator/pkg/models"
)

// Ingress frame types sent by the frontend.
const (
	FrameAuthLogin              = "auth.firebase_token"
	FrameHeartbeat              = "heartbeat"
	FrameChatUserMessage        = "chat.user_message"
	FrameDashboardInit          = "dashboard.orchestrate_init"
	FrameDashboardCompanyChange = "dashboard.company_change"
	FrameDashboardRefresh       = "dashboard.refresh"
)

// Egress control frame types.
const (
	FrameAuthConfirmed       = "auth.session_confirmed"
	FrameAuthError           = "auth.login_error"
	FramePhaseStart          = "phase_start"
	FramePhaseComplete       = "phase_complete"
	FrameDataLoadingProgress = "data_loading_progress"
	FrameError               = "error"
)

const frameTimeout = 15 * time.Second

// Authenticator performs the login handshake. Implemented by auth.Service.
type Authenticator interface {
	Login(ctx context.Context, token, sessionID string) (*auth.Identity, error)
}

// Orchestrator is the chat and dashboard entrypoint.
type Orchestrator interface {
	HandleUserMessage(ctx context.Context, userID, companyID, threadKey, content string) error
	LoadContext(ctx context.Context, userID, companyID string, refresh bool) (*models.Context, error)
}

// HeartbeatStore records user liveness. Implemented by ephemeral.Store.
type HeartbeatStore interface {
	TouchHeartbeat(ctx context.Context, userID string, at time.Time) error
}

// JobLister lists a user's scheduled jobs for the dashboard.
type JobLister interface {
	ListJobsForUser(ctx context.Context, userID string) ([]*models.SchedulerJob, error)
}

// NotificationLister lists a user's task notifications for the dashboard.
type NotificationLister interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
}

// Handler upgrades HTTP requests and runs the per-connection read loop.
type Handler struct {
	hub           *Hub
	auth          Authenticator
	orchestrator  Orchestrator
	heartbeats    HeartbeatStore
	jobs          JobLister
	notifications NotificationLister
	upgrader      websocket.Upgrader
}

// NewHandler creates a WebSocket handler.
func NewHandler(hub *Hub, authn Authenticator, orch Orchestrator, heartbeats HeartbeatStore, jobs JobLister, notifications NotificationLister) *Handler {
	return &Handler{
		hub:           hub,
		auth:          authn,
		orchestrator:  orch,
		heartbeats:    heartbeats,
		jobs:          jobs,
		notifications: notifications,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect cross-origin from the frontend host.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ingressFrame is the envelope every frontend message arrives in.
type ingressFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// controlFrame is the envelope for non-streaming replies.
type controlFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// HandleConnection upgrades the request and processes frames until the peer
// disconnects. Only auth frames are accepted before a successful login.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	c := &conn{ws: ws}
	defer func() { _ = ws.Close() }()

	var ident *auth.Identity
	defer func() {
		if ident != nil {
			h.hub.remove(ident.UserID, c)
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var frame ingressFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.writeError(c, "malformed frame")
			continue
		}

		if ident == nil && frame.Type != FrameAuthLogin {
			h.writeError(c, "authentication required")
			continue
		}

		switch frame.Type {
		case FrameAuthLogin:
			if id := h.handleAuth(r.Context(), c, frame.Payload); id != nil {
				ident = id
			}
		case FrameHeartbeat:
			h.touchHeartbeat(r.Context(), ident.UserID)
		case FrameChatUserMessage:
			h.handleChat(c, ident, frame.Payload)
		case FrameDashboardInit:
			h.handleDashboard(r.Context(), c, ident, frame.Payload, false)
		case FrameDashboardCompanyChange, FrameDashboardRefresh:
			h.handleDashboard(r.Context(), c, ident, frame.Payload, true)
		default:
			slog.Warn("Unknown frame type", "type", frame.Type)
			h.writeError(c, "unknown frame type: "+frame.Type)
		}
	}
}

type authPayload struct {
	Token     string `json:"token"`
	UID       string `json:"uid"`
	Email     string `json:"email"`
	SessionID string `json:"sessionId"`
}

func (h *Handler) handleAuth(ctx context.Context, c *conn, payload json.RawMessage) *auth.Identity {
	var p authPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.write(c, controlFrame{Type: FrameAuthError, Payload: map[string]string{"error": "malformed auth payload"}})
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()

	ident, err := h.auth.Login(ctx, p.Token, p.SessionID)
	if err != nil {
		slog.Warn("Login rejected", "uid", p.UID, "error", err)
		h.write(c, controlFrame{Type: FrameAuthError, Payload: map[string]string{"error": "token verification failed"}})
		return nil
	}

	h.hub.add(ident.UserID, c)
	// A fresh attach counts as a heartbeat; the user is UI-mode from now on.
	h.touchHeartbeat(ctx, ident.UserID)

	h.write(c, controlFrame{Type: FrameAuthConfirmed, Payload: ident})
	return ident
}

type chatPayload struct {
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
	ThreadKey string `json:"thread_key"`
	Content   string `json:"content"`
}

// handleChat validates the payload and hands the message to the agent loop on
// its own goroutine, keeping the read loop free for heartbeats.
func (h *Handler) handleChat(c *conn, ident *auth.Identity, payload json.RawMessage) {
	var p chatPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.writeError(c, "malformed chat payload")
		return
	}
	if p.CompanyID == "" || p.ThreadKey == "" || p.Content == "" {
		h.writeError(c, "chat message requires company_id, thread_key and content")
		return
	}

	// The verified login identity wins over whatever the payload claims.
	userID := ident.UserID

	go func() {
		if err := h.orchestrator.HandleUserMessage(context.Background(), userID, p.CompanyID, p.ThreadKey, p.Content); err != nil {
			slog.Error("Chat message handling failed",
				"user_id", userID, "thread_key", p.ThreadKey, "error", err)
		}
	}()
}

type dashboardPayload struct {
	CompanyID string `json:"company_id"`
}

// handleDashboard runs the initial-context orchestration: resolve the business
// context, then load dashboard data, reporting progress per phase.
func (h *Handler) handleDashboard(ctx context.Context, c *conn, ident *auth.Identity, payload json.RawMessage, refresh bool) {
	var p dashboardPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.CompanyID == "" {
		h.writeError(c, "dashboard frame requires company_id")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()

	h.write(c, controlFrame{Type: FramePhaseStart, Payload: map[string]string{"phase": "context"}})
	bizCtx, err := h.orchestrator.LoadContext(ctx, ident.UserID, p.CompanyID, refresh)
	if err != nil {
		slog.Error("Dashboard context load failed", "user_id", ident.UserID, "company_id", p.CompanyID, "error", err)
		h.write(c, controlFrame{Type: FramePhaseComplete, Payload: map[string]string{
			"phase": "context", "error": "failed to load business context",
		}})
		return
	}
	h.write(c, controlFrame{Type: FramePhaseComplete, Payload: map[string]any{
		"phase":        "context",
		"company_name": bizCtx.CompanyName,
		"mandate_path": bizCtx.MandatePath,
	}})

	h.write(c, controlFrame{Type: FramePhaseStart, Payload: map[string]string{"phase": "data"}})

	jobs, err := h.jobs.ListJobsForUser(ctx, ident.UserID)
	if err != nil {
		slog.Warn("Dashboard job listing failed", "user_id", ident.UserID, "error", err)
	}
	h.write(c, controlFrame{Type: FrameDataLoadingProgress, Payload: map[string]any{
		"resource": "jobs", "count": len(jobs), "progress": 50, "items": jobs,
	}})

	notifications, err := h.notifications.ListForUser(ctx, ident.UserID, 50)
	if err != nil {
		slog.Warn("Dashboard notification listing failed", "user_id", ident.UserID, "error", err)
	}
	h.write(c, controlFrame{Type: FrameDataLoadingProgress, Payload: map[string]any{
		"resource": "notifications", "count": len(notifications), "progress": 100, "items": notifications,
	}})

	h.write(c, controlFrame{Type: FramePhaseComplete, Payload: map[string]string{"phase": "data"}})
}

func (h *Handler) touchHeartbeat(ctx context.Context, userID string) {
	if err := h.heartbeats.TouchHeartbeat(ctx, userID, time.Now()); err != nil {
		slog.Warn("Heartbeat update failed", "user_id", userID, "error", err)
	}
}

func (h *Handler) write(c *conn, frame controlFrame) {
	if err := c.writeJSON(frame); err != nil {
		slog.Debug("Control frame write failed", "type", frame.Type, "error", err)
	}
}

func (h *Handler) writeError(c *conn, msg string) {
	h.write(c, controlFrame{Type: FrameError, Payload: map[string]string{"error": msg}})
}
