package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pinnokio/orchestrator/pkg/config"
	"github.com/pinnokio/orchestrator/pkg/lpt"
	"github.com/pinnokio/orchestrator/pkg/models"
	"github.com/pinnokio/orchestrator/pkg/services"
)

// JobStore manages job definitions. Implemented by services.JobService.
type JobStore interface {
	SaveJob(ctx context.Context, job *models.SchedulerJob) error
	DueJobs(ctx context.Context, now time.Time) ([]*models.SchedulerJob, error)
	MarkFired(ctx context.Context, jobID string, firedAt, next time.Time) error
	DeleteJob(ctx context.Context, jobID string) error
}

// TaskLookup checks a job's most recent run. Implemented by
// services.TaskService.
type TaskLookup interface {
	LatestTaskForJob(ctx context.Context, jobID string) (*models.TaskRecord, error)
}

// Dispatcher launches worker tasks. Implemented by lpt.Client; the scheduler
// shares the agent's dispatch path.
type Dispatcher interface {
	Dispatch(ctx context.Context, in *lpt.DispatchInput) (*models.TaskRecord, error)
}

// Scheduler fires due jobs on a minute ticker.
type Scheduler struct {
	jobs       JobStore
	tasks      TaskLookup
	dispatcher Dispatcher
	cfg        config.SchedulerConfig
	now        func() time.Time
}

// New creates a scheduler.
func New(jobs JobStore, tasks TaskLookup, dispatcher Dispatcher, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		jobs:       jobs,
		tasks:      tasks,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SaveJob validates the schedule, derives the cron expression and next
// execution, and upserts the record.
func (s *Scheduler) SaveJob(ctx context.Context, job *models.SchedulerJob, schedule models.JobSchedule) error {
	expr, err := CronExpression(schedule)
	if err != nil {
		return err
	}
	job.CronExpression = expr
	job.Timezone = schedule.Timezone
	if job.Timezone == "" {
		job.Timezone = "UTC"
	}
	job.JobID = models.JobID(job.MandatePath, job.JobType)
	job.Enabled = true

	next, err := NextExecution(expr, job.Timezone, s.now())
	if err != nil {
		return err
	}
	job.NextExecution = next

	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return err
	}
	slog.Info("Job saved", "job_id", job.JobID, "cron", expr, "next_execution", next)
	return nil
}

// DeleteJob removes a job definition. Task records of past runs remain for
// audit.
func (s *Scheduler) DeleteJob(ctx context.Context, jobID string) error {
	return s.jobs.DeleteJob(ctx, jobID)
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	slog.Info("Scheduler started", "tick_interval", s.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every due job once. Exported for tests and manual triggering.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	due, err := s.jobs.DueJobs(ctx, now)
	if err != nil {
		slog.Error("Failed to query due jobs", "error", err)
		return
	}
	for _, job := range due {
		s.fire(ctx, job, now)
	}
}

// fire dispatches one job run unless the previous run is still active.
func (s *Scheduler) fire(ctx context.Context, job *models.SchedulerJob, now time.Time) {
	latest, err := s.tasks.LatestTaskForJob(ctx, job.JobID)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		slog.Error("Failed to check latest run", "job_id", job.JobID, "error", err)
		return
	}
	if latest != nil && !latest.Status.IsTerminal() {
		// No concurrent duplicates: reschedule and skip this tick.
		slog.Info("Previous run still active, skipping",
			"job_id", job.JobID, "task_id", latest.TaskID, "status", latest.Status)
		s.reschedule(ctx, job, now)
		return
	}

	_, err = s.dispatcher.Dispatch(ctx, &lpt.DispatchInput{
		TaskType:     job.JobType,
		UserID:       job.UserID,
		CompanyID:    job.CompanyID,
		ThreadKey:    job.ThreadKey,
		JobID:        job.JobID,
		Context:      &job.Context,
		Instructions: job.Instructions,
	})
	if err != nil {
		slog.Error("Scheduled dispatch failed", "job_id", job.JobID, "error", err)
		// Still reschedule; the next tick should not refire immediately.
	}
	s.reschedule(ctx, job, now)
}

func (s *Scheduler) reschedule(ctx context.Context, job *models.SchedulerJob, firedAt time.Time) {
	next, err := NextExecution(job.CronExpression, job.Timezone, firedAt)
	if err != nil {
		slog.Error("Failed to compute next execution", "job_id", job.JobID, "error", err)
		return
	}
	if err := s.jobs.MarkFired(ctx, job.JobID, firedAt, next); err != nil {
		slog.Error("Failed to persist firing", "job_id", job.JobID, "error", err)
	}
}
