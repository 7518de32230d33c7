package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pinnokio/orchestrator/pkg/database"
	"github.com/pinnokio/orchestrator/pkg/models"
)

// NotificationStatusQueued is the initial status written at dispatch time.
const NotificationStatusQueued = "in queue"

// NotificationService writes UI feedback records for dispatched tasks.
type NotificationService struct {
	db *database.Client
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(db *database.Client) *NotificationService {
	return &NotificationService{db: db}
}

// NotifyDispatched records that a task entered the worker queue.
func (s *NotificationService) NotifyDispatched(httpCtx context.Context, task *models.TaskRecord) error {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	n := &models.Notification{
		ID:        uuid.New().String(),
		UserID:    task.UserID,
		TaskID:    task.TaskID,
		TaskType:  task.TaskType,
		ThreadKey: task.ThreadKey,
		Status:    NotificationStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.db.Collection(database.CollNotifications).InsertOne(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// UpdateStatus mirrors a task status change onto its notification.
func (s *NotificationService) UpdateStatus(httpCtx context.Context, taskID, status, message string) error {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	update := bson.M{"status": status}
	if message != "" {
		update["message"] = message
	}
	_, err := s.db.Collection(database.CollNotifications).UpdateOne(ctx,
		bson.M{"task_id": taskID}, bson.M{"$set": update})
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	return nil
}

// ListForUser returns a user's notifications, newest first.
func (s *NotificationService) ListForUser(httpCtx context.Context, userID string, limit int) ([]*models.Notification, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cur, err := s.db.Collection(database.CollNotifications).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	var out []*models.Notification
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return out, nil
}

// DeleteBefore removes notifications created before the cutoff.
func (s *NotificationService) DeleteBefore(httpCtx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 30*time.Second)
	defer cancel()

	res, err := s.db.Collection(database.CollNotifications).DeleteMany(ctx,
		bson.M{"created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}
	return res.DeletedCount, nil
}
