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

// JobService manages recurring job definitions for the scheduler.
type JobService struct {
	db *database.Client
}

// NewJobService creates a new JobService
func NewJobService(db *database.Client) *JobService {
	return &JobService{db: db}
}

// SaveJob upserts a job definition. The deterministic ID means re-saving a
// job for the same mandate and type replaces the previous schedule.
func (s *JobService) SaveJob(httpCtx context.Context, job *models.SchedulerJob) error {
	if job.JobID == "" {
		return models.NewValidationError("job_id", "required")
	}
	if job.CronExpression == "" {
		return models.NewValidationError("cron_expression", "required")
	}
	if job.UserID == "" {
		return models.NewValidationError("user_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	_, err := s.db.Collection(database.CollJobs).ReplaceOne(ctx,
		bson.M{"_id": job.JobID}, job, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// GetJob returns a job definition by ID.
func (s *JobService) GetJob(httpCtx context.Context, jobID string) (*models.SchedulerJob, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	var job models.SchedulerJob
	err := s.db.Collection(database.CollJobs).
		FindOne(ctx, bson.M{"_id": jobID}).
		Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListJobsForUser returns all job definitions owned by a user.
func (s *JobService) ListJobsForUser(httpCtx context.Context, userID string) ([]*models.SchedulerJob, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	cur, err := s.db.Collection(database.CollJobs).Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	var jobs []*models.SchedulerJob
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}
	return jobs, nil
}

// DueJobs returns enabled jobs whose next_execution is at or before now.
func (s *JobService) DueJobs(httpCtx context.Context, now time.Time) ([]*models.SchedulerJob, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	cur, err := s.db.Collection(database.CollJobs).Find(ctx, bson.M{
		"enabled":        true,
		"next_execution": bson.M{"$lte": now},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	var jobs []*models.SchedulerJob
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode due jobs: %w", err)
	}
	return jobs, nil
}

// MarkFired records a firing and schedules the next execution.
func (s *JobService) MarkFired(httpCtx context.Context, jobID string, firedAt, next time.Time) error {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	res, err := s.db.Collection(database.CollJobs).UpdateOne(ctx,
		bson.M{"_id": jobID},
		bson.M{"$set": bson.M{"last_fired_at": firedAt, "next_execution": next}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark job fired: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteJob removes a job definition.
func (s *JobService) DeleteJob(httpCtx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	res, err := s.db.Collection(database.CollJobs).DeleteOne(ctx, bson.M{"_id": jobID})
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
