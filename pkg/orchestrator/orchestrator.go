// Package orchestrator wires sessions, the agent loop, the streaming bus and
// task records into the two entry points of the system: user messages and
// worker callbacks.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pinnokio/orchestrator/pkg/agent"
	"github.com/pinnokio/orchestrator/pkg/models"
	"github.com/pinnokio/orchestrator/pkg/services"
	"github.com/pinnokio/orchestrator/pkg/session"
	"github.com/pinnokio/orchestrator/pkg/streaming"
	"github.com/pinnokio/orchestrator/pkg/tools"
)

// AgentRunner abstracts the agent loop.
type AgentRunner interface {
	Run(ctx context.Context, brain *session.Brain, env *tools.Env, input string, onText func(string)) *agent.RunResult
}

// TaskStore merges worker callbacks into task records. Implemented by
// services.TaskService.
type TaskStore interface {
	ApplyCallback(ctx context.Context, cb *models.WorkerCallback) (*models.TaskRecord, error)
}

// NotificationStore mirrors task progress to the UI feedback records.
type NotificationStore interface {
	UpdateStatus(ctx context.Context, taskID, status, message string) error
}

// Orchestrator is the top-level coordinator.
type Orchestrator struct {
	registry      *session.Registry
	runner        AgentRunner
	bus           *streaming.Bus
	tasks         TaskStore
	notifications NotificationStore
}

// New creates an orchestrator.
func New(registry *session.Registry, runner AgentRunner, bus *streaming.Bus, tasks TaskStore, notifications NotificationStore) *Orchestrator {
	return &Orchestrator{
		registry:      registry,
		runner:        runner,
		bus:           bus,
		tasks:         tasks,
		notifications: notifications,
	}
}

// HandleUserMessage drives one inbound chat message to completion or
// suspension. Runs on the caller's goroutine; the WS layer invokes it async.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, userID, companyID, threadKey, content string) error {
	sess := o.registry.GetOrCreate(userID, companyID)
	brain := sess.Brain(threadKey)

	// Serialize runs per thread: a user message and a callback for the same
	// thread never interleave.
	brain.Lock()
	defer brain.Unlock()

	if err := o.bus.AppendUserMessage(ctx, userID, companyID, threadKey, content); err != nil {
		return fmt.Errorf("failed to persist user message: %w", err)
	}

	return o.runAgent(ctx, sess, brain, content)
}

// LoadContext warms the user's session and returns the resolved business
// context. With refresh, any cached context is discarded first, forcing a
// document-store round trip.
func (o *Orchestrator) LoadContext(ctx context.Context, userID, companyID string, refresh bool) (*models.Context, error) {
	sess := o.registry.GetOrCreate(userID, companyID)
	if refresh {
		sess.InvalidateContext()
	}
	return sess.Context(ctx)
}

// HandleCallback processes a worker callback: merge into the task record,
// then resume the agent loop with a continuation message. Idempotent by
// task_id; unknown and already-terminal tasks are logged no-ops.
func (o *Orchestrator) HandleCallback(ctx context.Context, cb *models.WorkerCallback) error {
	if err := cb.Validate(); err != nil {
		return err
	}

	task, err := o.tasks.ApplyCallback(ctx, cb)
	if errors.Is(err, services.ErrNotFound) {
		slog.Warn("Callback for unknown task ignored", "task_id", cb.TaskID, "thread_key", cb.ThreadKey)
		return nil
	}
	if errors.Is(err, services.ErrTerminalStatus) {
		slog.Warn("Callback for terminal task ignored", "task_id", cb.TaskID, "status", task.Status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to apply callback: %w", err)
	}

	if err := o.notifications.UpdateStatus(ctx, task.TaskID, string(task.Status), task.Error); err != nil {
		slog.Warn("Failed to mirror task status to notification", "task_id", task.TaskID, "error", err)
	}

	// Progress pings update the record but never resume the loop.
	if !task.Status.IsTerminal() {
		slog.Debug("Task progress recorded",
			"task_id", task.TaskID, "progress", task.Progress, "step", task.CurrentStep)
		return nil
	}

	// The resumption outlives the worker's HTTP request: a worker client
	// hanging up after POSTing must not cancel the agent loop it triggered.
	ctx = context.WithoutCancel(ctx)

	// Rehydrate the session if the worker outlived it; company_id comes from
	// the durable record.
	sess := o.registry.GetOrCreate(task.UserID, task.CompanyID)
	brain := sess.Brain(task.ThreadKey)

	brain.Lock()
	defer brain.Unlock()

	if !brain.ResolveLPT(task.TaskID) {
		slog.Info("Resuming thread rebuilt after restart", "task_id", task.TaskID, "thread_key", task.ThreadKey)
	}

	return o.runAgent(ctx, sess, brain, continuationMessage(task))
}

// runAgent loads the business context, opens an assistant stream, runs the
// loop, and finalizes the transcript record. Caller holds the brain lock.
func (o *Orchestrator) runAgent(ctx context.Context, sess *session.Session, brain *session.Brain, input string) error {
	bizCtx, err := sess.Context(ctx)
	if err != nil {
		slog.Error("Context load failed", "user_id", sess.UserID, "error", err)
		_, appendErr := o.appendAssistantError(ctx, sess, brain,
			"I could not load your business configuration. Please try again shortly.")
		if appendErr != nil {
			return appendErr
		}
		return err
	}

	stream, err := o.bus.StartAssistantStream(ctx, sess.UserID, sess.CompanyID, brain.ThreadKey)
	if err != nil {
		return fmt.Errorf("failed to open assistant stream: %w", err)
	}

	env := &tools.Env{
		UserID:    sess.UserID,
		CompanyID: sess.CompanyID,
		ThreadKey: brain.ThreadKey,
		Context:   bizCtx,
	}
	res := o.runner.Run(ctx, brain, env, input, func(delta string) {
		stream.Push(ctx, delta)
	})

	final, status := finalizeMessage(res)
	if err := stream.Complete(ctx, final, status); err != nil {
		return fmt.Errorf("failed to complete assistant message: %w", err)
	}

	slog.Info("Agent run finished",
		"user_id", sess.UserID,
		"thread_key", brain.ThreadKey,
		"status", res.Status,
		"iterations", res.Iterations,
		"turns", res.Turns,
		"tasks", res.TaskIDs)
	return nil
}

func (o *Orchestrator) appendAssistantError(ctx context.Context, sess *session.Session, brain *session.Brain, text string) (string, error) {
	stream, err := o.bus.StartAssistantStream(ctx, sess.UserID, sess.CompanyID, brain.ThreadKey)
	if err != nil {
		return "", err
	}
	return stream.MessageID(), stream.Complete(ctx, text, models.MessageStatusError)
}

// finalizeMessage maps a run result to the persisted assistant message.
func finalizeMessage(res *agent.RunResult) (string, models.MessageStatus) {
	switch res.Status {
	case agent.StatusErrorFatal:
		return "Something went wrong while processing your request. Please try again.", models.MessageStatusError
	case agent.StatusMaxTurnsReached:
		msg := res.Message
		if msg == "" {
			msg = "I could not finish this request within my limits."
		}
		return msg, models.MessageStatusComplete
	case agent.StatusNoAction:
		return "I could not determine an action for this request. Could you rephrase?", models.MessageStatusComplete
	default:
		return res.Message, models.MessageStatusComplete
	}
}

// continuationMessage builds the templated resume input from a terminal task
// record.
func continuationMessage(task *models.TaskRecord) string {
	detail := task.Error
	if task.Status == models.TaskStatusCompleted {
		if body, err := json.Marshal(task.Result); err == nil {
			detail = string(body)
		}
	}
	return fmt.Sprintf("Task %s (%s) %s. Result: %s. Continue or terminate.",
		task.TaskID, task.TaskType, task.Status, detail)
}
