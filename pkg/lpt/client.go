// Package lpt dispatches long-process tasks to external HTTP workers.
package lpt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pinnokio/orchestrator/pkg/config"
	"github.com/pinnokio/orchestrator/pkg/models"
)

// Worker kinds. Each maps to an endpoint path segment under the worker base
// URL.
const (
	WorkerAPBookkeeper     = "ap_bookkeeper"
	WorkerBankTransactions = "bank_transactions"
	WorkerPinnokioRouter   = "pinnokio_router"
)

// TaskStore persists task records. Implemented by services.TaskService.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.TaskRecord) error
	MarkFailed(ctx context.Context, taskID, reason string) error
}

// Notifier writes UI feedback records. Implemented by
// services.NotificationService.
type Notifier interface {
	NotifyDispatched(ctx context.Context, task *models.TaskRecord) error
}

// DispatchInput is everything needed to launch one worker task. The LLM only
// ever supplies Inputs and Instructions; identity and business configuration
// are injected by the caller from the session's Context.
type DispatchInput struct {
	TaskType  string
	UserID    string
	CompanyID string
	ThreadKey string
	JobID     string // set when fired by the scheduler

	Context      *models.Context
	Inputs       map[string]any // per-tool IDs (invoice_ids, transaction_ids, ...)
	Instructions string
}

// Validate checks the dispatch carries the mandatory routing fields.
func (in *DispatchInput) Validate() error {
	if in.TaskType == "" {
		return models.NewValidationError("task_type", "required")
	}
	if in.UserID == "" {
		return models.NewValidationError("user_id", "required")
	}
	if in.ThreadKey == "" {
		return models.NewValidationError("thread_key", "required")
	}
	if in.Context.IsEmpty() {
		return models.NewValidationError("context", "business context required for dispatch")
	}
	return nil
}

// workerPayload is the body POSTed to the worker endpoint. The thread_key is
// always present; workers echo it in their callback so the resumer can route.
type workerPayload struct {
	TaskID       string         `json:"task_id"`
	ThreadKey    string         `json:"thread_key"`
	UserID       string         `json:"user_id"`
	CompanyID    string         `json:"company_id"`
	CallbackURL  string         `json:"callback_url"`
	Context      models.Context `json:"context"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
}

// Client dispatches tasks to the worker fleet.
type Client struct {
	cfg        config.LPTConfig
	tasks      TaskStore
	notifier   Notifier
	httpClient *http.Client
	newTaskID  func() string
}

// NewClient creates an LPT dispatch client.
func NewClient(cfg config.LPTConfig, tasks TaskStore, notifier Notifier) *Client {
	return &Client{
		cfg:        cfg,
		tasks:      tasks,
		notifier:   notifier,
		httpClient: &http.Client{Timeout: cfg.DispatchTimeout},
		newTaskID:  func() string { return uuid.New().String() },
	}
}

// Dispatch persists a queued task record, POSTs the payload to the worker,
// and returns the record. The record is written BEFORE the POST so a fast
// callback always finds it. Any 2xx response is acceptance; workers execute
// asynchronously and call back later.
func (c *Client) Dispatch(ctx context.Context, in *DispatchInput) (*models.TaskRecord, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	task := &models.TaskRecord{
		TaskID:         c.newTaskID(),
		TaskType:       in.TaskType,
		ThreadKey:      in.ThreadKey,
		UserID:         in.UserID,
		CompanyID:      in.CompanyID,
		JobID:          in.JobID,
		PayloadSummary: in.Instructions,
	}
	if err := c.tasks.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist task record: %w", err)
	}

	if err := c.notifier.NotifyDispatched(ctx, task); err != nil {
		// Notification is UI feedback only; the dispatch still proceeds.
		slog.Warn("Failed to write dispatch notification", "task_id", task.TaskID, "error", err)
	}

	if err := c.post(ctx, task, in); err != nil {
		if markErr := c.tasks.MarkFailed(ctx, task.TaskID, err.Error()); markErr != nil {
			slog.Error("Failed to mark task failed after dispatch error",
				"task_id", task.TaskID, "error", markErr)
		}
		return nil, fmt.Errorf("worker dispatch failed: %w", err)
	}

	slog.Info("LPT dispatched",
		"task_id", task.TaskID,
		"task_type", task.TaskType,
		"thread_key", task.ThreadKey,
		"user_id", task.UserID)
	return task, nil
}

func (c *Client) post(ctx context.Context, task *models.TaskRecord, in *DispatchInput) error {
	payload := workerPayload{
		TaskID:       task.TaskID,
		ThreadKey:    in.ThreadKey,
		UserID:       in.UserID,
		CompanyID:    in.CompanyID,
		CallbackURL:  c.cfg.CallbackBaseURL + "/lpt/callback",
		Context:      *in.Context,
		Inputs:       in.Inputs,
		Instructions: in.Instructions,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s", c.cfg.WorkerBaseURL, in.TaskType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("worker unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("worker rejected task (status %d): %s", resp.StatusCode, string(respBody))
	}
	slog.Debug("Worker accepted task",
		"task_id", task.TaskID, "status", resp.StatusCode, "duration", time.Since(start))
	return nil
}
