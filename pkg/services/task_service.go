// Package services contains business logic service layer implementations.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pinnokio/orchestrator/pkg/database"
	"github.com/pinnokio/orchestrator/pkg/models"
)

// TaskService manages durable task records for dispatched LPTs.
type TaskService struct {
	db *database.Client
}

// NewTaskService creates a new TaskService
func NewTaskService(db *database.Client) *TaskService {
	return &TaskService{db: db}
}

// CreateTask persists a queued task record. This is written BEFORE the worker
// dispatch so a fast callback always finds the record.
func (s *TaskService) CreateTask(httpCtx context.Context, task *models.TaskRecord) error {
	if task.TaskID == "" {
		return models.NewValidationError("task_id", "required")
	}
	if task.ThreadKey == "" {
		return models.NewValidationError("thread_key", "required")
	}
	if task.UserID == "" {
		return models.NewValidationError("user_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	task.Status = models.TaskStatusQueued
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := s.db.Collection(database.CollTasks).InsertOne(ctx, task)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask returns the task record by ID.
func (s *TaskService) GetTask(httpCtx context.Context, taskID string) (*models.TaskRecord, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	var task models.TaskRecord
	err := s.db.Collection(database.CollTasks).
		FindOne(ctx, bson.M{"task_id": taskID}).
		Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// ApplyCallback merges a worker callback into the task record. Terminal
// records are never re-opened: a callback for one returns ErrTerminalStatus
// so the caller can treat it as an idempotent no-op.
func (s *TaskService) ApplyCallback(httpCtx context.Context, cb *models.WorkerCallback) (*models.TaskRecord, error) {
	if err := cb.Validate(); err != nil {
		return nil, err
	}

	task, err := s.GetTask(httpCtx, cb.TaskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return task, ErrTerminalStatus
	}

	update := bson.M{"updated_at": time.Now().UTC()}
	switch cb.Status {
	case "completed":
		update["status"] = models.TaskStatusCompleted
		update["progress"] = 100
		if cb.Result != nil {
			update["result"] = cb.Result
		}
	case "failed":
		update["status"] = models.TaskStatusFailed
		update["error"] = cb.Error
	case "progress":
		update["status"] = models.TaskStatusRunning
		if cb.Progress > 0 {
			update["progress"] = cb.Progress
		}
		if cb.CurrentStep != "" {
			update["current_step"] = cb.CurrentStep
		}
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	// Guard in the filter too: a concurrent terminal write wins.
	res := s.db.Collection(database.CollTasks).FindOneAndUpdate(ctx,
		bson.M{"task_id": cb.TaskID, "status": bson.M{"$nin": bson.A{
			models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled,
		}}},
		bson.M{"$set": update},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var updated models.TaskRecord
	if err := res.Decode(&updated); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return task, ErrTerminalStatus
		}
		return nil, fmt.Errorf("failed to apply callback: %w", err)
	}
	return &updated, nil
}

// MarkFailed stamps a task failed with the given reason. Used when dispatch
// to the worker itself fails.
func (s *TaskService) MarkFailed(httpCtx context.Context, taskID, reason string) error {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	_, err := s.db.Collection(database.CollTasks).UpdateOne(ctx,
		bson.M{"task_id": taskID},
		bson.M{"$set": bson.M{
			"status":     models.TaskStatusFailed,
			"error":      reason,
			"updated_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return nil
}

// LatestTaskForJob returns the most recently created task for a scheduler
// job, or ErrNotFound when the job has never fired.
func (s *TaskService) LatestTaskForJob(httpCtx context.Context, jobID string) (*models.TaskRecord, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	var task models.TaskRecord
	err := s.db.Collection(database.CollTasks).
		FindOne(ctx, bson.M{"job_id": jobID},
			options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})).
		Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest task for job: %w", err)
	}
	return &task, nil
}

// DeleteTerminalBefore removes terminal task records created before the
// cutoff. Active records are never touched regardless of age.
func (s *TaskService) DeleteTerminalBefore(httpCtx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 30*time.Second)
	defer cancel()

	res, err := s.db.Collection(database.CollTasks).DeleteMany(ctx, bson.M{
		"created_at": bson.M{"$lt": cutoff},
		"status": bson.M{"$in": bson.A{
			models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled,
		}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old task records: %w", err)
	}
	return res.DeletedCount, nil
}

// ActiveTasksForThread lists non-terminal tasks on a thread, used to
// rehydrate a brain's active task set after a restart.
func (s *TaskService) ActiveTasksForThread(httpCtx context.Context, userID, threadKey string) ([]*models.TaskRecord, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	cur, err := s.db.Collection(database.CollTasks).Find(ctx, bson.M{
		"user_id":    userID,
		"thread_key": threadKey,
		"status":     bson.M{"$in": bson.A{models.TaskStatusQueued, models.TaskStatusRunning}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list active tasks: %w", err)
	}
	var tasks []*models.TaskRecord
	if err := cur.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode active tasks: %w", err)
	}
	return tasks, nil
}
