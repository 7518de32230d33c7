package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinnokio/orchestrator/pkg/config"
)

type fakeTaskPruner struct {
	cutoffs []time.Time
	err     error
}

func (f *fakeTaskPruner) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 3, f.err
}

type fakeNotificationPruner struct {
	cutoffs []time.Time
}

func (f *fakeNotificationPruner) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 1, nil
}

func TestRunOnceAppliesRetentionAges(t *testing.T) {
	tasks := &fakeTaskPruner{}
	notifications := &fakeNotificationPruner{}
	svc := NewService(config.RetentionConfig{
		TaskRetention:         90 * 24 * time.Hour,
		NotificationRetention: 30 * 24 * time.Hour,
		CleanupInterval:       time.Hour,
	}, tasks, notifications)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	svc.RunOnce(context.Background())

	require.Len(t, tasks.cutoffs, 1)
	assert.Equal(t, now.Add(-90*24*time.Hour), tasks.cutoffs[0])
	require.Len(t, notifications.cutoffs, 1)
	assert.Equal(t, now.Add(-30*24*time.Hour), notifications.cutoffs[0])
}

func TestRunOnceContinuesPastFailures(t *testing.T) {
	tasks := &fakeTaskPruner{err: errors.New("mongo down")}
	notifications := &fakeNotificationPruner{}
	svc := NewService(config.RetentionConfig{
		TaskRetention:         time.Hour,
		NotificationRetention: time.Hour,
		CleanupInterval:       time.Hour,
	}, tasks, notifications)

	svc.RunOnce(context.Background())

	assert.Len(t, notifications.cutoffs, 1, "a failed policy must not block the others")
}

func TestStartStop(t *testing.T) {
	svc := NewService(config.RetentionConfig{
		TaskRetention:         time.Hour,
		NotificationRetention: time.Hour,
		CleanupInterval:       time.Hour,
	}, &fakeTaskPruner{}, &fakeNotificationPruner{})

	svc.Start(context.Background())
	svc.Stop()
}
