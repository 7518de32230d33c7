// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/pinnokio/orchestrator/pkg/config"
)

// TaskPruner removes aged terminal task records. Implemented by
// services.TaskService.
type TaskPruner interface {
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NotificationPruner removes aged UI feedback records. Implemented by
// services.NotificationService.
type NotificationPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically enforces retention policies:
//   - Removes terminal task records past the task retention age
//   - Removes notifications past the notification retention age
//
// Active task records are never touched; transcripts are kept indefinitely
// so reconnecting users can replay their threads. All operations are
// idempotent and safe to run from multiple replicas.
type Service struct {
	cfg           config.RetentionConfig
	tasks         TaskPruner
	notifications NotificationPruner
	now           func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg config.RetentionConfig, tasks TaskPruner, notifications NotificationPruner) *Service {
	return &Service{
		cfg:           cfg,
		tasks:         tasks,
		notifications: notifications,
		now:           time.Now,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"task_retention", s.cfg.TaskRetention,
		"notification_retention", s.cfg.NotificationRetention,
		"interval", s.cfg.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce applies every retention policy once. Exported for tests and manual
// triggering.
func (s *Service) RunOnce(ctx context.Context) {
	now := s.now()

	deleted, err := s.tasks.DeleteTerminalBefore(ctx, now.Add(-s.cfg.TaskRetention))
	if err != nil {
		slog.Error("Task record cleanup failed", "error", err)
	} else if deleted > 0 {
		slog.Info("Deleted old task records", "count", deleted)
	}

	deleted, err = s.notifications.DeleteBefore(ctx, now.Add(-s.cfg.NotificationRetention))
	if err != nil {
		slog.Error("Notification cleanup failed", "error", err)
	} else if deleted > 0 {
		slog.Info("Deleted old notifications", "count", deleted)
	}
}
