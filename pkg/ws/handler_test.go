package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinnokio/orchestrator/pkg/auth"
	"github.com/pinnokio/orchestrator/pkg/models"
)

type fakeAuth struct {
	ident *auth.Identity
	err   error
}

func (f *fakeAuth) Login(_ context.Context, token, sessionID string) (*auth.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	id := *f.ident
	if sessionID != "" {
		id.SessionID = sessionID
	}
	return &id, nil
}

type chatCall struct {
	userID, companyID, threadKey, content string
}

type fakeOrch struct {
	chats  chan chatCall
	bizCtx *models.Context
	ctxErr error
}

func newFakeOrch() *fakeOrch {
	return &fakeOrch{
		chats:  make(chan chatCall, 4),
		bizCtx: &models.Context{CompanyName: "Acme SA", MandatePath: "clients/cu/mandates/m1"},
	}
}

func (f *fakeOrch) HandleUserMessage(_ context.Context, userID, companyID, threadKey, content string) error {
	f.chats <- chatCall{userID, companyID, threadKey, content}
	return nil
}

func (f *fakeOrch) LoadContext(context.Context, string, string, bool) (*models.Context, error) {
	return f.bizCtx, f.ctxErr
}

type fakeHeartbeats struct {
	touched chan string
}

func (f *fakeHeartbeats) TouchHeartbeat(_ context.Context, userID string, _ time.Time) error {
	f.touched <- userID
	return nil
}

type fakeJobs struct{ jobs []*models.SchedulerJob }

func (f *fakeJobs) ListJobsForUser(context.Context, string) ([]*models.SchedulerJob, error) {
	return f.jobs, nil
}

type fakeNotifications struct{ items []*models.Notification }

func (f *fakeNotifications) ListForUser(context.Context, string, int) ([]*models.Notification, error) {
	return f.items, nil
}

type wsFixture struct {
	hub        *Hub
	auth       *fakeAuth
	orch       *fakeOrch
	heartbeats *fakeHeartbeats
	client     *websocket.Conn
	server     *httptest.Server
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	f := &wsFixture{
		hub:        NewHub(),
		auth:       &fakeAuth{ident: &auth.Identity{UserID: "u1", Email: "a@b.ch", SessionID: "s1"}},
		orch:       newFakeOrch(),
		heartbeats: &fakeHeartbeats{touched: make(chan string, 8)},
	}
	handler := NewHandler(f.hub, f.auth, f.orch, f.heartbeats,
		&fakeJobs{jobs: []*models.SchedulerJob{{JobID: "j1"}}},
		&fakeNotifications{items: []*models.Notification{{TaskID: "T1"}, {TaskID: "T2"}}})

	f.server = httptest.NewServer(http.HandlerFunc(handler.HandleConnection))
	t.Cleanup(f.server.Close)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	f.client = client
	return f
}

type receivedFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (f *wsFixture) send(t *testing.T, frameType string, payload any) {
	t.Helper()
	require.NoError(t, f.client.WriteJSON(map[string]any{"type": frameType, "payload": payload}))
}

func (f *wsFixture) read(t *testing.T) receivedFrame {
	t.Helper()
	require.NoError(t, f.client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame receivedFrame
	require.NoError(t, f.client.ReadJSON(&frame))
	return frame
}

func (f *wsFixture) login(t *testing.T) {
	t.Helper()
	f.send(t, FrameAuthLogin, map[string]string{"token": "tok", "uid": "u1", "sessionId": "s1"})
	frame := f.read(t)
	require.Equal(t, FrameAuthConfirmed, frame.Type)
}

func TestAuthHandshake(t *testing.T) {
	f := newWSFixture(t)

	f.send(t, FrameAuthLogin, map[string]string{"token": "tok", "uid": "u1", "sessionId": "s1"})
	frame := f.read(t)

	require.Equal(t, FrameAuthConfirmed, frame.Type)
	var ident auth.Identity
	require.NoError(t, json.Unmarshal(frame.Payload, &ident))
	assert.Equal(t, "u1", ident.UserID)
	assert.Equal(t, "s1", ident.SessionID)

	// the attach counted as a heartbeat and registered the connection
	assert.Equal(t, "u1", <-f.heartbeats.touched)
	assert.Eventually(t, func() bool { return f.hub.ConnectionCount("u1") == 1 },
		time.Second, 10*time.Millisecond)
}

func TestAuthFailure(t *testing.T) {
	f := newWSFixture(t)
	f.auth.err = auth.ErrInvalidToken

	f.send(t, FrameAuthLogin, map[string]string{"token": "bad"})
	frame := f.read(t)

	assert.Equal(t, FrameAuthError, frame.Type)
	assert.Equal(t, 0, f.hub.ConnectionCount("u1"))
}

func TestFramesRejectedBeforeAuth(t *testing.T) {
	f := newWSFixture(t)

	f.send(t, FrameChatUserMessage, map[string]string{
		"company_id": "c1", "thread_key": "t1", "content": "hi",
	})
	frame := f.read(t)

	assert.Equal(t, FrameError, frame.Type)
	assert.Contains(t, string(frame.Payload), "authentication required")
	select {
	case <-f.orch.chats:
		t.Fatal("unauthenticated chat must not reach the orchestrator")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChatDispatchesWithVerifiedIdentity(t *testing.T) {
	f := newWSFixture(t)
	f.login(t)

	f.send(t, FrameChatUserMessage, map[string]string{
		"user_id": "someone-else", "company_id": "c1", "thread_key": "ap_invoices", "content": "book these",
	})

	select {
	case call := <-f.orch.chats:
		assert.Equal(t, "u1", call.userID, "payload user_id must not override the login")
		assert.Equal(t, "c1", call.companyID)
		assert.Equal(t, "ap_invoices", call.threadKey)
		assert.Equal(t, "book these", call.content)
	case <-time.After(2 * time.Second):
		t.Fatal("chat message never reached the orchestrator")
	}
}

func TestHeartbeatTouchesRegistry(t *testing.T) {
	f := newWSFixture(t)
	f.login(t)
	<-f.heartbeats.touched // login heartbeat

	f.send(t, FrameHeartbeat, map[string]any{})

	select {
	case userID := <-f.heartbeats.touched:
		assert.Equal(t, "u1", userID)
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat frame never touched the registry")
	}
}

func TestDashboardInitPhases(t *testing.T) {
	f := newWSFixture(t)
	f.login(t)

	f.send(t, FrameDashboardInit, map[string]string{"company_id": "c1"})

	types := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		types = append(types, f.read(t).Type)
	}
	assert.Equal(t, []string{
		FramePhaseStart, FramePhaseComplete,
		FramePhaseStart, FrameDataLoadingProgress, FrameDataLoadingProgress, FramePhaseComplete,
	}, types)
}

func TestDashboardContextFailureEndsPhase(t *testing.T) {
	f := newWSFixture(t)
	f.orch.ctxErr = context.DeadlineExceeded
	f.login(t)

	f.send(t, FrameDashboardRefresh, map[string]string{"company_id": "c1"})

	assert.Equal(t, FramePhaseStart, f.read(t).Type)
	frame := f.read(t)
	assert.Equal(t, FramePhaseComplete, frame.Type)
	assert.Contains(t, string(frame.Payload), "error")
}

func TestHubBroadcastReachesClient(t *testing.T) {
	f := newWSFixture(t)
	f.login(t)
	require.Eventually(t, func() bool { return f.hub.ConnectionCount("u1") == 1 },
		time.Second, 10*time.Millisecond)

	f.hub.Broadcast("u1", map[string]string{"type": "llm_stream_chunk", "content": "Hel"})

	frame := f.read(t)
	assert.Equal(t, "llm_stream_chunk", frame.Type)
}

func TestMalformedFrame(t *testing.T) {
	f := newWSFixture(t)
	require.NoError(t, f.client.WriteMessage(websocket.TextMessage, []byte("{not json")))
	frame := f.read(t)
	assert.Equal(t, FrameError, frame.Type)
}
