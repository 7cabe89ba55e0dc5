// Package storage implements pkg/storage.Store against Postgres, grounded
// on the teacher's (ignatij/goflow) internal/storage/postgres.go DBInterface
// abstraction and Begin/Commit/Rollback-on-sqlx.Tx shape.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/storage"
)

// DBInterface is the sqlx surface PostgresStore needs, satisfied by both
// *sqlx.DB and *sqlx.Tx, per the teacher's pattern.
type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore implements storage.Store over Postgres.
type PostgresStore struct {
	db DBInterface
}

// NewPostgresStore opens and pings a connection to connStr.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	db, ok := s.db.(*sqlx.DB)
	if !ok {
		return nil, fmt.Errorf("cannot begin transaction on a transaction")
	}
	tx, err := db.Beginx()
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: tx}, nil
}

func (s *PostgresStore) Commit() error {
	tx, ok := s.db.(*sqlx.Tx)
	if !ok {
		return fmt.Errorf("cannot commit: not a transaction")
	}
	return tx.Commit()
}

func (s *PostgresStore) Rollback() error {
	tx, ok := s.db.(*sqlx.Tx)
	if !ok {
		return fmt.Errorf("cannot rollback: not a transaction")
	}
	return tx.Rollback()
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil
}

type trackerRow struct {
	ID        uuid.UUID       `db:"id"`
	Name      string          `db:"name"`
	Tags      pq.StringArray  `db:"tags"`
	Target    json.RawMessage `db:"target"`
	Actions   json.RawMessage `db:"actions"`
	Config    json.RawMessage `db:"config"`
	Enabled   bool            `db:"enabled"`
	JobNeeded bool            `db:"job_needed"`
	JobID     *uuid.UUID      `db:"job_id"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func (r trackerRow) toModel() (models.Tracker, error) {
	t := models.Tracker{
		ID:        r.ID,
		Name:      r.Name,
		Tags:      []string(r.Tags),
		Enabled:   r.Enabled,
		JobNeeded: r.JobNeeded,
		JobID:     r.JobID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Target, &t.Target); err != nil {
		return models.Tracker{}, fmt.Errorf("decode target: %w", err)
	}
	if err := json.Unmarshal(r.Actions, &t.Actions); err != nil {
		return models.Tracker{}, fmt.Errorf("decode actions: %w", err)
	}
	if err := json.Unmarshal(r.Config, &t.Config); err != nil {
		return models.Tracker{}, fmt.Errorf("decode config: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) CreateTracker(t models.Tracker) (models.Tracker, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.Must(uuid.NewV7())
	}
	target, err := json.Marshal(t.Target)
	if err != nil {
		return models.Tracker{}, err
	}
	actions := t.Actions
	if actions == nil {
		actions = []models.Action{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return models.Tracker{}, err
	}
	config, err := json.Marshal(t.Config)
	if err != nil {
		return models.Tracker{}, err
	}

	row := s.db.QueryRowx(`
		INSERT INTO trackers (id, name, tags, target, actions, config, enabled, job_needed, job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		t.ID, t.Name, pq.Array(t.Tags), target, actionsJSON, config, t.Enabled, t.JobNeeded, t.JobID)
	if err := row.Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return models.Tracker{}, storage.ErrConflict
		}
		return models.Tracker{}, fmt.Errorf("create tracker: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetTracker(id uuid.UUID) (models.Tracker, error) {
	var row trackerRow
	err := s.db.Get(&row, `SELECT id, name, tags, target, actions, config, enabled, job_needed, job_id, created_at, updated_at
		FROM trackers WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return models.Tracker{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Tracker{}, fmt.Errorf("get tracker: %w", err)
	}
	return row.toModel()
}

func (s *PostgresStore) GetTrackerByName(name string) (models.Tracker, error) {
	var row trackerRow
	err := s.db.Get(&row, `SELECT id, name, tags, target, actions, config, enabled, job_needed, job_id, created_at, updated_at
		FROM trackers WHERE lower(name) = lower($1)`, name)
	if err == sql.ErrNoRows {
		return models.Tracker{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Tracker{}, fmt.Errorf("get tracker by name: %w", err)
	}
	return row.toModel()
}

func (s *PostgresStore) ListTrackers(filter storage.TrackerFilter) ([]models.Tracker, error) {
	query := `SELECT id, name, tags, target, actions, config, enabled, job_needed, job_id, created_at, updated_at
		FROM trackers`
	var args []interface{}
	if len(filter.Tags) > 0 {
		query += " WHERE tags @> $1"
		args = append(args, pq.Array(filter.Tags))
	}
	query += " ORDER BY created_at"

	var rows []trackerRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("list trackers: %w", err)
	}
	out := make([]models.Tracker, len(rows))
	for i, r := range rows {
		t, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (s *PostgresStore) UpdateTracker(t models.Tracker) error {
	target, err := json.Marshal(t.Target)
	if err != nil {
		return err
	}
	actions := t.Actions
	if actions == nil {
		actions = []models.Action{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return err
	}
	config, err := json.Marshal(t.Config)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE trackers SET name=$2, tags=$3, target=$4, actions=$5, config=$6,
			enabled=$7, job_needed=$8, job_id=$9, updated_at=now()
		WHERE id=$1`,
		t.ID, t.Name, pq.Array(t.Tags), target, actionsJSON, config, t.Enabled, t.JobNeeded, t.JobID)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("update tracker: %w", err)
	}
	return requireRowsAffected(res)
}

func (s *PostgresStore) DeleteTracker(id uuid.UUID) error {
	res, err := s.db.Exec(`DELETE FROM trackers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tracker: %w", err)
	}
	return requireRowsAffected(res)
}

func (s *PostgresStore) DeleteTrackersByTag(tag string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM trackers WHERE tags @> $1`, pq.Array([]string{tag}))
	if err != nil {
		return 0, fmt.Errorf("delete trackers by tag: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) AppendRevision(r models.Revision) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.Must(uuid.NewV7())
	}
	_, err := s.db.Exec(`INSERT INTO tracker_revisions (id, tracker_id, created_at, data) VALUES ($1, $2, $3, $4)`,
		r.ID, r.TrackerID, r.CreatedAt, []byte(r.Data))
	if err != nil {
		return fmt.Errorf("append revision: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRevisions(trackerID uuid.UUID, since *time.Time) ([]models.Revision, error) {
	query := `SELECT id, tracker_id, created_at, data FROM tracker_revisions WHERE tracker_id = $1`
	args := []interface{}{trackerID}
	if since != nil {
		query += " AND created_at >= $2"
		args = append(args, *since)
	}
	query += " ORDER BY created_at"

	var revs []models.Revision
	if err := s.db.Select(&revs, query, args...); err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	return revs, nil
}

func (s *PostgresStore) TailRevision(trackerID uuid.UUID) (*models.Revision, error) {
	var rev models.Revision
	err := s.db.Get(&rev, `SELECT id, tracker_id, created_at, data FROM tracker_revisions
		WHERE tracker_id = $1 ORDER BY created_at DESC LIMIT 1`, trackerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tail revision: %w", err)
	}
	return &rev, nil
}

func (s *PostgresStore) CountRevisions(trackerID uuid.UUID) (int, error) {
	var count int
	err := s.db.Get(&count, `SELECT count(*) FROM tracker_revisions WHERE tracker_id = $1`, trackerID)
	if err != nil {
		return 0, fmt.Errorf("count revisions: %w", err)
	}
	return count, nil
}

// TrimOldestRevisions deletes every revision for trackerID beyond the keep
// most recent, via a single correlated-subquery delete rather than a
// round trip per row.
func (s *PostgresStore) TrimOldestRevisions(trackerID uuid.UUID, keep int) error {
	_, err := s.db.Exec(`
		DELETE FROM tracker_revisions
		WHERE tracker_id = $1 AND id NOT IN (
			SELECT id FROM tracker_revisions WHERE tracker_id = $1
			ORDER BY created_at DESC LIMIT $2
		)`, trackerID, keep)
	if err != nil {
		return fmt.Errorf("trim revisions: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearRevisions(trackerID uuid.UUID) error {
	_, err := s.db.Exec(`DELETE FROM tracker_revisions WHERE tracker_id = $1`, trackerID)
	if err != nil {
		return fmt.Errorf("clear revisions: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnqueueTask(t models.Task) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.Must(uuid.NewV7())
	}
	taskType, err := json.Marshal(t.Type)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO tasks (id, type, tags, scheduled_at, retry_attempt) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, taskType, pq.Array(t.Tags), t.ScheduledAt, t.RetryAttempt)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

type taskRow struct {
	ID           uuid.UUID       `db:"id"`
	Type         json.RawMessage `db:"type"`
	Tags         pq.StringArray  `db:"tags"`
	ScheduledAt  time.Time       `db:"scheduled_at"`
	RetryAttempt int             `db:"retry_attempt"`
}

func (r taskRow) toModel() (models.Task, error) {
	t := models.Task{ID: r.ID, Tags: []string(r.Tags), ScheduledAt: r.ScheduledAt, RetryAttempt: r.RetryAttempt}
	if err := json.Unmarshal(r.Type, &t.Type); err != nil {
		return models.Task{}, fmt.Errorf("decode task type: %w", err)
	}
	return t, nil
}

// ClaimDueTasks implements spec.md §4.6's claim step with
// `SELECT ... FOR UPDATE SKIP LOCKED`, the standard Postgres pattern for a
// multi-worker queue claim that never blocks on another worker's lease.
func (s *PostgresStore) ClaimDueTasks(now time.Time, lease time.Duration, limit int) ([]models.Task, error) {
	var rows []taskRow
	err := s.db.Select(&rows, `
		UPDATE tasks SET scheduled_at = $1
		WHERE id IN (
			SELECT id FROM tasks WHERE scheduled_at <= $2
			ORDER BY scheduled_at LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, type, tags, scheduled_at, retry_attempt`,
		now.Add(lease), now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	out := make([]models.Task, len(rows))
	for i, r := range rows {
		t, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (s *PostgresStore) DeleteTask(id uuid.UUID) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *PostgresStore) RescheduleTask(id uuid.UUID, attempt int, next time.Time) error {
	res, err := s.db.Exec(`UPDATE tasks SET retry_attempt = $2, scheduled_at = $3 WHERE id = $1`, id, attempt, next)
	if err != nil {
		return fmt.Errorf("reschedule task: %w", err)
	}
	return requireRowsAffected(res)
}

func (s *PostgresStore) UpsertSchedulerJob(j models.SchedulerJob) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.Must(uuid.NewV7())
	}
	_, err := s.db.Exec(`
		INSERT INTO scheduler_jobs (id, schedule, next_tick, last_tick, stopped, tracker_id, retry_attempt)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		ON CONFLICT (tracker_id) DO UPDATE SET
			schedule = EXCLUDED.schedule, next_tick = EXCLUDED.next_tick,
			last_tick = EXCLUDED.last_tick, stopped = EXCLUDED.stopped, retry_attempt = 0`,
		j.ID, j.Schedule, j.NextTick, j.LastTick, j.Stopped, j.Extra.TrackerID)
	if err != nil {
		return fmt.Errorf("upsert scheduler job: %w", err)
	}
	return nil
}

const schedulerJobColumns = "id, schedule, next_tick, last_tick, stopped, tracker_id, retry_attempt"

type jobRow struct {
	ID           uuid.UUID  `db:"id"`
	Schedule     string     `db:"schedule"`
	NextTick     time.Time  `db:"next_tick"`
	LastTick     *time.Time `db:"last_tick"`
	Stopped      bool       `db:"stopped"`
	TrackerID    uuid.UUID  `db:"tracker_id"`
	RetryAttempt int        `db:"retry_attempt"`
}

func (r jobRow) toModel() models.SchedulerJob {
	return models.SchedulerJob{
		ID: r.ID, Schedule: r.Schedule, NextTick: r.NextTick, LastTick: r.LastTick,
		Stopped: r.Stopped, RetryAttempt: r.RetryAttempt,
		Extra: models.SchedulerJobExtra{TrackerID: r.TrackerID},
	}
}

func (s *PostgresStore) GetSchedulerJob(id uuid.UUID) (models.SchedulerJob, error) {
	var row jobRow
	err := s.db.Get(&row, `SELECT `+schedulerJobColumns+` FROM scheduler_jobs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return models.SchedulerJob{}, storage.ErrNotFound
	}
	if err != nil {
		return models.SchedulerJob{}, fmt.Errorf("get scheduler job: %w", err)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) GetSchedulerJobByTrackerID(trackerID uuid.UUID) (*models.SchedulerJob, error) {
	var row jobRow
	err := s.db.Get(&row, `SELECT `+schedulerJobColumns+` FROM scheduler_jobs WHERE tracker_id = $1`, trackerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduler job by tracker: %w", err)
	}
	job := row.toModel()
	return &job, nil
}

func (s *PostgresStore) ListDueSchedulerJobs(now time.Time, limit int) ([]models.SchedulerJob, error) {
	var rows []jobRow
	err := s.db.Select(&rows, `SELECT `+schedulerJobColumns+` FROM scheduler_jobs
		WHERE NOT stopped AND next_tick <= $1 ORDER BY next_tick LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due scheduler jobs: %w", err)
	}
	out := make([]models.SchedulerJob, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *PostgresStore) ListStoppedReconcilableJobs() ([]models.SchedulerJob, error) {
	var rows []jobRow
	err := s.db.Select(&rows, `
		SELECT sj.id, sj.schedule, sj.next_tick, sj.last_tick, sj.stopped, sj.tracker_id, sj.retry_attempt
		FROM scheduler_jobs sj
		JOIN trackers t ON t.id = sj.tracker_id
		WHERE sj.stopped AND t.enabled AND t.job_needed`)
	if err != nil {
		return nil, fmt.Errorf("list reconcilable jobs: %w", err)
	}
	out := make([]models.SchedulerJob, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// AdvanceSchedulerJob moves a job to its next regular-cadence tick and
// resets retry_attempt, since reaching the normal cadence means any
// preceding retry chain is over (succeeded or exhausted into a diagnostic).
func (s *PostgresStore) AdvanceSchedulerJob(id uuid.UUID, lastTick, nextTick time.Time) error {
	res, err := s.db.Exec(`UPDATE scheduler_jobs SET last_tick = $2, next_tick = $3, retry_attempt = 0 WHERE id = $1`, id, lastTick, nextTick)
	if err != nil {
		return fmt.Errorf("advance scheduler job: %w", err)
	}
	return requireRowsAffected(res)
}

// ScheduleSchedulerJobRetry persists a one-off retry tick at nextTick and
// the attempt count backing it, per spec.md §4.9's retry-exhaustion policy.
func (s *PostgresStore) ScheduleSchedulerJobRetry(id uuid.UUID, attempt int, lastTick, nextTick time.Time) error {
	res, err := s.db.Exec(`UPDATE scheduler_jobs SET last_tick = $2, next_tick = $3, retry_attempt = $4 WHERE id = $1`,
		id, lastTick, nextTick, attempt)
	if err != nil {
		return fmt.Errorf("schedule scheduler job retry: %w", err)
	}
	return requireRowsAffected(res)
}

func (s *PostgresStore) StopSchedulerJob(id uuid.UUID) error {
	res, err := s.db.Exec(`UPDATE scheduler_jobs SET stopped = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("stop scheduler job: %w", err)
	}
	return requireRowsAffected(res)
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
