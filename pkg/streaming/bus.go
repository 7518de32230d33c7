// Package streaming fans agent output out to the transcript store and, when
// the user is attached, the WebSocket hub.
package streaming

import (
	"context"
	"log/slog"

	"github.com/pinnokio/orchestrator/pkg/ephemeral"
	"github.com/pinnokio/orchestrator/pkg/models"
)

// TranscriptStore persists thread transcripts. Implemented by
// services.TranscriptService.
type TranscriptStore interface {
	AppendMessage(ctx context.Context, msg *models.ChatMessage) (string, error)
	UpdateStreamingContent(ctx context.Context, messageID, content string) error
	CompleteMessage(ctx context.Context, messageID, content string, status models.MessageStatus) error
}

// Broadcaster pushes frames to a user's live connections. Implemented by
// ws.Hub.
type Broadcaster interface {
	Broadcast(userID string, frame any)
}

// ModeOracle classifies users as attached or detached.
type ModeOracle interface {
	ModeFor(ctx context.Context, userID string) ephemeral.Mode
}

// Frame types pushed to the frontend.
const (
	FrameLLMStreamChunk    = "llm_stream_chunk"
	FrameLLMStreamComplete = "llm_stream_complete"
	FrameMessageAppended   = "message_appended"
)

// StreamFrame is the egress WebSocket frame.
type StreamFrame struct {
	Type      string `json:"type"`
	ThreadKey string `json:"thread_key"`
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Role      string `json:"role,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Bus routes one message's lifecycle. Persistence is unconditional; only the
// live broadcast depends on connection mode.
type Bus struct {
	store  TranscriptStore
	hub    Broadcaster
	oracle ModeOracle
}

// NewBus creates a streaming bus.
func NewBus(store TranscriptStore, hub Broadcaster, oracle ModeOracle) *Bus {
	return &Bus{store: store, hub: hub, oracle: oracle}
}

// AppendUserMessage persists the inbound user message and echoes it to other
// live connections of the same user.
func (b *Bus) AppendUserMessage(ctx context.Context, userID, companyID, threadKey, content string) error {
	id, err := b.store.AppendMessage(ctx, &models.ChatMessage{
		CompanyID: companyID,
		ThreadKey: threadKey,
		Role:      models.RoleUser,
		Content:   content,
		Status:    models.MessageStatusComplete,
	})
	if err != nil {
		return err
	}
	if b.oracle.ModeFor(ctx, userID) == ephemeral.ModeUI {
		b.hub.Broadcast(userID, StreamFrame{
			Type: FrameMessageAppended, ThreadKey: threadKey, MessageID: id,
			Content: content, Role: string(models.RoleUser),
		})
	}
	return nil
}

// AssistantStream tracks one streaming assistant message.
type AssistantStream struct {
	bus       *Bus
	userID    string
	threadKey string
	messageID string
	content   string
	broadcast bool
}

// StartAssistantStream creates the streaming transcript record and returns
// the stream handle. The connection mode is sampled once per message.
func (b *Bus) StartAssistantStream(ctx context.Context, userID, companyID, threadKey string) (*AssistantStream, error) {
	id, err := b.store.AppendMessage(ctx, &models.ChatMessage{
		CompanyID: companyID,
		ThreadKey: threadKey,
		Role:      models.RoleAssistant,
		Status:    models.MessageStatusStreaming,
	})
	if err != nil {
		return nil, err
	}
	return &AssistantStream{
		bus:       b,
		userID:    userID,
		threadKey: threadKey,
		messageID: id,
		broadcast: b.oracle.ModeFor(ctx, userID) == ephemeral.ModeUI,
	}, nil
}

// Push appends a text delta: the stored record is rewritten with the
// accumulated content and attached frontends get the delta.
func (s *AssistantStream) Push(ctx context.Context, delta string) {
	s.content += delta
	if err := s.bus.store.UpdateStreamingContent(ctx, s.messageID, s.content); err != nil {
		slog.Warn("Failed to persist stream content", "message_id", s.messageID, "error", err)
	}
	if s.broadcast {
		s.bus.hub.Broadcast(s.userID, StreamFrame{
			Type: FrameLLMStreamChunk, ThreadKey: s.threadKey,
			MessageID: s.messageID, Content: delta,
		})
	}
}

// Complete finalizes the message. When final differs from the accumulated
// content (e.g. the loop substituted a conclusion), the stored record gets
// the final text.
func (s *AssistantStream) Complete(ctx context.Context, final string, status models.MessageStatus) error {
	if final == "" {
		final = s.content
	}
	if err := s.bus.store.CompleteMessage(ctx, s.messageID, final, status); err != nil {
		return err
	}
	if s.broadcast {
		s.bus.hub.Broadcast(s.userID, StreamFrame{
			Type: FrameLLMStreamComplete, ThreadKey: s.threadKey,
			MessageID: s.messageID, Content: final, Status: string(status),
		})
	}
	return nil
}

// MessageID returns the transcript record ID.
func (s *AssistantStream) MessageID() string { return s.messageID }
