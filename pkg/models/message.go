package models

import "time"

// MessageRole identifies who produced a transcript message.
type MessageRole string

// Message roles.
const (
	RoleUser          MessageRole = "user"
	RoleAssistant     MessageRole = "assistant"
	RoleToolResult    MessageRole = "tool_result"
	RoleSystemSummary MessageRole = "system_summary"
)

// MessageStatus is the delivery status of a transcript message.
// Assistant messages start as "streaming" and are rewritten chunk by chunk
// until a terminal "complete" (or "error") marker is set.
type MessageStatus string

// Message statuses.
const (
	MessageStatusStreaming MessageStatus = "streaming"
	MessageStatusComplete  MessageStatus = "complete"
	MessageStatusError     MessageStatus = "error"
)

// ChatMessage is one entry in a thread transcript, persisted at
// {company_id}/job_chats/{thread_key}/messages/{auto_id}.
// The transcript is append-only; ordering is preserved by the store's
// auto-generated IDs.
type ChatMessage struct {
	ID        string        `bson:"_id,omitempty" json:"id,omitempty"`
	CompanyID string        `bson:"company_id" json:"company_id"`
	ThreadKey string        `bson:"thread_key" json:"thread_key"`
	Role      MessageRole   `bson:"role" json:"role"`
	Content   string        `bson:"content" json:"content"`
	Status    MessageStatus `bson:"status" json:"status"`
	Timestamp time.Time     `bson:"timestamp" json:"timestamp"`
}

// Notification is the UI feedback record written when an LPT is dispatched,
// stored under clients/{user_id}/notifications.
type Notification struct {
	ID        string    `bson:"_id,omitempty" json:"id,omitempty"`
	UserID    string    `bson:"user_id" json:"user_id"`
	TaskID    string    `bson:"task_id" json:"task_id"`
	TaskType  string    `bson:"task_type" json:"task_type"`
	ThreadKey string    `bson:"thread_key" json:"thread_key"`
	Status    string    `bson:"status" json:"status"` // "in queue", then mirrors task status
	Message   string    `bson:"message,omitempty" json:"message,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
