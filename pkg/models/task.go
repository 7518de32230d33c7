package models

import "time"

// TaskStatus is the lifecycle status of a dispatched long-process task.
type TaskStatus string

// Task status constants.
const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is terminal. Terminal task records
// never re-open; callbacks for them are idempotent no-ops.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether the status is one of the known values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskRecord is the persisted description of one dispatched LPT.
// Stored under clients/{user_id}/workflow_pinnokio/{thread_key}/tasks/{task_id}
// in the document store; it survives process restarts so a worker callback
// always finds a record even when the in-memory session is gone.
type TaskRecord struct {
	TaskID         string         `bson:"task_id" json:"task_id"`
	TaskType       string         `bson:"task_type" json:"task_type"`
	ThreadKey      string         `bson:"thread_key" json:"thread_key"`
	UserID         string         `bson:"user_id" json:"user_id"`
	CompanyID      string         `bson:"company_id" json:"company_id"`
	JobID          string         `bson:"job_id,omitempty" json:"job_id,omitempty"`
	Status         TaskStatus     `bson:"status" json:"status"`
	PayloadSummary string         `bson:"payload_summary,omitempty" json:"payload_summary,omitempty"`
	Result         map[string]any `bson:"result,omitempty" json:"result,omitempty"`
	Error          string         `bson:"error,omitempty" json:"error,omitempty"`
	Progress       int            `bson:"progress,omitempty" json:"progress,omitempty"`
	CurrentStep    string         `bson:"current_step,omitempty" json:"current_step,omitempty"`
	CreatedAt      time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `bson:"updated_at" json:"updated_at"`
}

// WorkerCallback is the body a worker POSTs to /lpt/callback when a task
// progresses or reaches a terminal state.
type WorkerCallback struct {
	TaskID      string         `json:"task_id"`
	ThreadKey   string         `json:"thread_key"`
	UserID      string         `json:"user_id"`
	Status      string         `json:"status"` // "completed" | "failed" | "progress"
	Progress    int            `json:"progress,omitempty"`
	CurrentStep string         `json:"current_step,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Validate checks the callback carries the fields required for routing.
func (c *WorkerCallback) Validate() error {
	if c.TaskID == "" {
		return NewValidationError("task_id", "required")
	}
	if c.ThreadKey == "" {
		return NewValidationError("thread_key", "required")
	}
	if c.UserID == "" {
		return NewValidationError("user_id", "required")
	}
	switch c.Status {
	case "completed", "failed", "progress":
		return nil
	default:
		return NewValidationError("status", "must be completed, failed or progress")
	}
}
