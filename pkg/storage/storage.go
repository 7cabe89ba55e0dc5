// Package storage defines the persistence contract for Retrack (spec.md
// §4.8/§6): trackers, their revisions, the task queue, and scheduler jobs,
// all reachable through one transactional Store interface — grounded on
// the teacher's pkg/storage.Store (Begin/Commit/Rollback/Close plus
// domain methods on the same type).
package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/retrack-dev/retrack/pkg/models"
)

// ErrNotFound is returned when a lookup by ID/name finds nothing.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned on a uniqueness violation (tracker name).
var ErrConflict = errors.New("conflict")

// TrackerFilter narrows ListTrackers; Tags applies AND semantics across
// all listed tags, per spec.md §6's GET /api/trackers?tag=<t> (repeated).
type TrackerFilter struct {
	Tags []string
}

// Store is the full persistence surface. Begin returns a new Store bound
// to a transaction; Commit/Rollback end that transaction. On the root
// Postgres store Commit/Rollback return an error and Close closes the
// connection pool; Close on a transaction does nothing.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	CreateTracker(t models.Tracker) (models.Tracker, error)
	GetTracker(id uuid.UUID) (models.Tracker, error)
	GetTrackerByName(name string) (models.Tracker, error)
	ListTrackers(filter TrackerFilter) ([]models.Tracker, error)
	UpdateTracker(t models.Tracker) error
	DeleteTracker(id uuid.UUID) error
	DeleteTrackersByTag(tag string) (int, error)

	AppendRevision(r models.Revision) error
	ListRevisions(trackerID uuid.UUID, since *time.Time) ([]models.Revision, error)
	TailRevision(trackerID uuid.UUID) (*models.Revision, error)
	CountRevisions(trackerID uuid.UUID) (int, error)
	TrimOldestRevisions(trackerID uuid.UUID, keep int) error
	ClearRevisions(trackerID uuid.UUID) error

	EnqueueTask(t models.Task) error
	ClaimDueTasks(now time.Time, lease time.Duration, limit int) ([]models.Task, error)
	DeleteTask(id uuid.UUID) error
	RescheduleTask(id uuid.UUID, attempt int, next time.Time) error

	UpsertSchedulerJob(j models.SchedulerJob) error
	GetSchedulerJob(id uuid.UUID) (models.SchedulerJob, error)
	GetSchedulerJobByTrackerID(trackerID uuid.UUID) (*models.SchedulerJob, error)
	ListDueSchedulerJobs(now time.Time, limit int) ([]models.SchedulerJob, error)
	ListStoppedReconcilableJobs() ([]models.SchedulerJob, error)
	AdvanceSchedulerJob(id uuid.UUID, lastTick, nextTick time.Time) error
	ScheduleSchedulerJobRetry(id uuid.UUID, attempt int, lastTick, nextTick time.Time) error
	StopSchedulerJob(id uuid.UUID) error
}
