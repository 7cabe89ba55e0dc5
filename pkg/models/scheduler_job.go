package models

import (
	"time"

	"github.com/google/uuid"
)

// SchedulerJobExtra is the opaque back-link from a SchedulerJob to the
// tracker that owns it (spec.md §3's "extra" column).
type SchedulerJobExtra struct {
	TrackerID uuid.UUID `json:"trackerId"`
}

// SchedulerJob is the persistent cron record owned by the Job Scheduler.
type SchedulerJob struct {
	ID       uuid.UUID         `json:"id" db:"id"`
	Schedule string            `json:"schedule" db:"schedule"`
	NextTick time.Time         `json:"nextTick" db:"next_tick"`
	LastTick *time.Time        `json:"lastTick,omitempty" db:"last_tick"`
	Stopped  bool              `json:"stopped" db:"stopped"`
	// RetryAttempt counts consecutive transient-failure retries scheduled
	// via Scheduler.ScheduleRetry since the job's last regular-cadence tick.
	// It resets to 0 whenever the job advances along its normal schedule.
	RetryAttempt int               `json:"retryAttempt" db:"retry_attempt"`
	Extra        SchedulerJobExtra `json:"extra" db:"-"`
}
