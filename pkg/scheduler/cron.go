// Package scheduler fires recurring LPT launches from durable job records.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pinnokio/orchestrator/pkg/models"
)

// CronExpression translates a user-facing schedule into a standard 5-field
// cron expression. day_of_week uses 0 = Sunday.
func CronExpression(s models.JobSchedule) (string, error) {
	hour, minute, err := parseClock(s.Time)
	if err != nil {
		return "", err
	}

	switch s.Frequency {
	case "daily":
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case "weekly":
		if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
			return "", models.NewValidationError("day_of_week", "must be 0 (Sunday) to 6 (Saturday)")
		}
		return fmt.Sprintf("%d %d * * %d", minute, hour, s.DayOfWeek), nil
	case "monthly":
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return "", models.NewValidationError("day_of_month", "must be 1 to 31")
		}
		return fmt.Sprintf("%d %d %d * *", minute, hour, s.DayOfMonth), nil
	}
	return "", models.NewValidationError("frequency", "must be daily, weekly or monthly")
}

func parseClock(clock string) (hour, minute int, err error) {
	parts := strings.Split(clock, ":")
	if len(parts) != 2 {
		return 0, 0, models.NewValidationError("time", "must be HH:MM")
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, models.NewValidationError("time", "hour out of range")
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, models.NewValidationError("time", "minute out of range")
	}
	return hour, minute, nil
}

// NextExecution computes the first firing after now, evaluated in the job's
// timezone. An empty timezone means UTC.
func NextExecution(cronExpr, timezone string, now time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	if timezone == "" {
		timezone = "UTC"
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return schedule.Next(now.In(location)), nil
}
