package models

import (
	"fmt"
	"time"
)

// SchedulerJob is a recurring LPT launch definition, stored in the top-level
// jobs collection. The ID is deterministic ({mandate_path}_{job_type}) so a
// re-save is an upsert.
type SchedulerJob struct {
	JobID          string    `bson:"_id" json:"job_id"`
	JobType        string    `bson:"job_type" json:"job_type"`
	UserID         string    `bson:"user_id" json:"user_id"`
	CompanyID      string    `bson:"company_id" json:"company_id"`
	ThreadKey      string    `bson:"thread_key" json:"thread_key"`
	MandatePath    string    `bson:"mandate_path" json:"mandate_path"`
	CronExpression string    `bson:"cron_expression" json:"cron_expression"`
	Timezone       string    `bson:"timezone" json:"timezone"`
	NextExecution  time.Time `bson:"next_execution" json:"next_execution"`
	LastFiredAt    time.Time `bson:"last_fired_at,omitempty" json:"last_fired_at,omitempty"`
	Enabled        bool      `bson:"enabled" json:"enabled"`

	// Context holds the business configuration captured at save time so the
	// scheduler can build the LPT payload without a live session.
	Context Context `bson:"context" json:"context"`

	// Instructions is the free-text brief forwarded to the worker on each run.
	Instructions string `bson:"instructions,omitempty" json:"instructions,omitempty"`
}

// JobID derives the deterministic job identifier for a mandate and job type.
func JobID(mandatePath, jobType string) string {
	return fmt.Sprintf("%s_%s", mandatePath, jobType)
}

// JobSchedule is the user-facing recurrence description that gets translated
// into a 5-field cron expression (day_of_week uses 0 = Sunday).
type JobSchedule struct {
	Frequency  string `json:"frequency"` // "daily" | "weekly" | "monthly"
	Time       string `json:"time"`      // "HH:MM", 24h clock
	DayOfWeek  int    `json:"day_of_week,omitempty"`
	DayOfMonth int    `json:"day_of_month,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}
