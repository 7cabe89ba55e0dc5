// Package scheduler implements the Job Scheduler of spec.md §4.1: a
// persistent cron-driven dispatcher that materializes tracker schedules
// as due-time "tick" events.
//
// Grounded on the teacher's (ignatij/goflow) pkg/service/worker_pool.go
// dispatcher-loop shape (a ticking poll loop invoking a registered
// callback, restarted cleanly on context cancellation) and on
// original_source/src/scheduler/cron_ext.rs for min-interval sampling and
// the cron alias table (pkg/scheduler/cron.go). robfig/cron/v3 supplies
// Schedule.Next; no pack repo parses cron schedules itself.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/retrack-dev/retrack/pkg/errkind"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/storage"
)

// Logger matches the teacher's pkg/service.Logger shape.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// TickResult tells Run whether the handler already rescheduled job's
// next_tick itself (a one-off retry tick via ScheduleRetry), so the regular
// cron-cadence advance in fireTick must be skipped rather than clobbering it.
type TickResult struct {
	Rescheduled bool
}

// TickHandler is the single global on_tick callback of spec.md §4.1,
// invoked exactly once per scheduled instant per job under normal
// operation.
type TickHandler func(ctx context.Context, job models.SchedulerJob) TickResult

// Scheduler is the Job Scheduler.
type Scheduler struct {
	db                  storage.Store
	logger              Logger
	minScheduleInterval time.Duration
	whitelist           []string
	pollInterval        time.Duration
	handler             TickHandler
}

// Config bundles the enumerated trackers.* config of spec.md §6 the
// scheduler needs at registration time.
type Config struct {
	MinScheduleInterval time.Duration
	SchedulesWhitelist  []string
	PollInterval        time.Duration
}

// New returns a Scheduler bound to db.
func New(db storage.Store, logger Logger, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Scheduler{
		db:                  db,
		logger:              logger,
		minScheduleInterval: cfg.MinScheduleInterval,
		whitelist:           cfg.SchedulesWhitelist,
		pollInterval:        cfg.PollInterval,
	}
}

// OnTick registers the single global tick handler, per spec.md §4.1.
func (s *Scheduler) OnTick(h TickHandler) {
	s.handler = h
}

// Register implements spec.md §4.1's register(tracker_id, schedule, extra)
// -> job_id: validates schedule against the whitelist plus the named
// aliases, rejects schedules whose sampled min interval is below
// min_schedule_interval, and persists a new SchedulerJob with next_tick
// computed from now.
//
// Re-registering the same (tracker_id, schedule) — i.e. calling Register
// again for a tracker that already has a job — updates that job in place
// rather than creating a duplicate, per spec.md §8's idempotence law.
func (s *Scheduler) Register(trackerID uuid.UUID, schedule string) (models.SchedulerJob, error) {
	if !s.scheduleAllowed(schedule) {
		return models.SchedulerJob{}, errkind.Validationf("scheduler: schedule %q is not in the allowed set", schedule)
	}
	parsed, err := ParsePattern(schedule)
	if err != nil {
		return models.SchedulerJob{}, errkind.Validationf("scheduler: invalid schedule %q: %v", schedule, err)
	}

	now := time.Now().UTC()
	if s.minScheduleInterval > 0 {
		if interval := MinInterval(parsed, now); interval < s.minScheduleInterval {
			return models.SchedulerJob{}, errkind.Validationf(
				"scheduler: schedule %q has interval %s below minimum %s", schedule, interval, s.minScheduleInterval)
		}
	}

	existing, err := s.db.GetSchedulerJobByTrackerID(trackerID)
	if err != nil {
		return models.SchedulerJob{}, errkind.Transientf("scheduler: lookup existing job: %v", err)
	}

	job := models.SchedulerJob{
		ID:       uuid.Must(uuid.NewV7()),
		Schedule: schedule,
		NextTick: parsed.Next(now),
		Stopped:  false,
		Extra:    models.SchedulerJobExtra{TrackerID: trackerID},
	}
	if existing != nil {
		job.ID = existing.ID
		job.LastTick = existing.LastTick
	}
	if err := s.db.UpsertSchedulerJob(job); err != nil {
		return models.SchedulerJob{}, errkind.Transientf("scheduler: persist job: %v", err)
	}
	return job, nil
}

// Unregister implements spec.md §4.1's unregister(job_id): marks the job
// stopped so tick callbacks no longer fire for it.
func (s *Scheduler) Unregister(jobID uuid.UUID) error {
	if err := s.db.StopSchedulerJob(jobID); err != nil {
		return errkind.Transientf("scheduler: stop job: %v", err)
	}
	return nil
}

func (s *Scheduler) scheduleAllowed(schedule string) bool {
	if _, ok := cronAliases[schedule]; ok {
		return true
	}
	for _, allowed := range s.whitelist {
		if allowed == schedule {
			return true
		}
	}
	return len(s.whitelist) == 0
}

// Reconcile implements spec.md §4.1's "stopped-job reconciliation": on
// startup, for every job where stopped=true and an associated tracker
// still exists and is enabled, re-register the job. This repairs state
// after a crash mid-reschedule (spec.md §4.8).
func (s *Scheduler) Reconcile() error {
	jobs, err := s.db.ListStoppedReconcilableJobs()
	if err != nil {
		return errkind.Transientf("scheduler: list reconcilable jobs: %v", err)
	}
	for _, job := range jobs {
		tracker, err := s.db.GetTracker(job.Extra.TrackerID)
		if err != nil {
			s.logger.Warnf("scheduler: reconcile: tracker %s for job %s vanished: %v", job.Extra.TrackerID, job.ID, err)
			continue
		}
		if tracker.Config.Job == nil {
			continue
		}
		if _, err := s.Register(tracker.ID, tracker.Config.Job.Schedule); err != nil {
			s.logger.Errorf("scheduler: reconcile job %s: %v", job.ID, err)
			continue
		}
		s.logger.Infof("scheduler: reconciled job %s for tracker %s", job.ID, tracker.ID)
	}
	return nil
}

// Run starts the dispatcher loop: it scans for due jobs, invokes the
// handler, advances next_tick, and persists, until ctx is cancelled.
// Ticks whose firing time lies in the past coalesce into a single tick on
// restart (spec.md §4.1's "no catch-up storm"), since Advance always
// jumps straight to schedule.Next(now) rather than replaying every missed
// instant.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.db.ListDueSchedulerJobs(now, 100)
	if err != nil {
		s.logger.Errorf("scheduler: list due jobs: %v", err)
		return
	}
	for _, job := range due {
		s.fireTick(ctx, job, now)
	}
}

// ScheduleRetry implements spec.md §4.2/§4.9's one-off retry tick: it
// moves job's next_tick to retryAt and persists attempt. last_tick keeps
// job's value when it has one; a job that has never ticked gets last_tick
// set to retryAt. The job's regular cron cadence resumes once the retry
// fires (or exhausts).
func (s *Scheduler) ScheduleRetry(job models.SchedulerJob, attempt int, retryAt time.Time) error {
	last := retryAt
	if job.LastTick != nil {
		last = *job.LastTick
	}
	if err := s.db.ScheduleSchedulerJobRetry(job.ID, attempt, last, retryAt); err != nil {
		return errkind.Transientf("scheduler: schedule retry for job %s: %v", job.ID, err)
	}
	return nil
}

func (s *Scheduler) fireTick(ctx context.Context, job models.SchedulerJob, now time.Time) {
	parsed, err := ParsePattern(job.Schedule)
	if err != nil {
		s.logger.Errorf("scheduler: job %s has unparseable schedule %q: %v", job.ID, job.Schedule, err)
		return
	}

	var result TickResult
	if s.handler != nil {
		// Scheduler failures to invoke the handler are logged; ticks are
		// not retried (spec.md §4.1's failure semantics) — the missed
		// revision is picked up next tick.
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Errorf("scheduler: handler panicked for job %s: %v", job.ID, r)
				}
			}()
			result = s.handler(ctx, job)
		}()
	}

	if result.Rescheduled {
		// The handler already moved next_tick to a one-off retry instant;
		// advancing to the regular cadence here would clobber it.
		return
	}

	if err := s.db.AdvanceSchedulerJob(job.ID, now, parsed.Next(now)); err != nil {
		s.logger.Errorf("scheduler: advance job %s: %v", job.ID, err)
	}
}
