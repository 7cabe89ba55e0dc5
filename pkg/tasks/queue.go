// Package tasks implements the Task Queue of spec.md §4.6: at-least-once
// dispatch of deferred side-effects, with retry policy and dead-letter
// conversion on terminal/exhausted failure.
//
// Grounded on the teacher's (ignatij/goflow) pkg/service/worker_pool.go
// worker-pool/channel shape — bounded workers pulling claimed work,
// context cancellation stopping the pool cleanly — generalized from
// Go-closure task functions to the four fixed task-type handlers of
// spec.md §4.6.
package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/retrack-dev/retrack/pkg/errkind"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/storage"
)

// Logger is the minimal logging surface the queue needs, matching the
// teacher's pkg/service.Logger shape extended with Warnf.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Outcome is a handler's classification of its own attempt.
type Outcome int

const (
	Ok Outcome = iota
	Transient
	Terminal
)

// Handler executes one task type's side effect.
type Handler func(ctx context.Context, t models.Task) (Outcome, error)

// Queue is the Task Queue: enqueue plus a polling dispatcher loop.
type Queue struct {
	db           storage.Store
	logger       Logger
	handlers     map[models.TaskTypeKind]Handler
	pollInterval time.Duration
	leaseFor     time.Duration
	workerCount  int

	work chan models.Task
	wg   sync.WaitGroup
}

// New returns a Queue dispatching with workerCount concurrent workers,
// polling for due tasks every pollInterval (task_queue.poll_interval_ms
// and task_queue.worker_count of spec.md §6).
func New(db storage.Store, logger Logger, pollInterval time.Duration, workerCount int) *Queue {
	if workerCount <= 0 {
		workerCount = 4
	}
	q := &Queue{
		db:           db,
		logger:       logger,
		handlers:     make(map[models.TaskTypeKind]Handler),
		pollInterval: pollInterval,
		leaseFor:     pollInterval * 4,
		workerCount:  workerCount,
		work:         make(chan models.Task, workerCount),
	}
	return q
}

// RegisterHandler binds a type-specific handler, per spec.md §4.6.
func (q *Queue) RegisterHandler(kind models.TaskTypeKind, h Handler) {
	q.handlers[kind] = h
}

// Enqueue implements spec.md §4.6's enqueue(task) -> task_id.
func (q *Queue) Enqueue(t models.Task) (uuid.UUID, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.Must(uuid.NewV7())
	}
	if err := q.db.EnqueueTask(t); err != nil {
		return uuid.Nil, errkind.Transientf("tasks: enqueue: %v", err)
	}
	return t.ID, nil
}

// Run starts the worker pool and the poll loop; it blocks until ctx is
// cancelled, mirroring the teacher's WorkerPool.Start/Stop lifecycle.
func (q *Queue) Run(ctx context.Context) {
	q.work = make(chan models.Task, q.workerCount)
	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.poll(ctx)
	close(q.work)
	q.wg.Wait()
}

func (q *Queue) poll(ctx context.Context) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.claimDue(ctx)
		}
	}
}

func (q *Queue) claimDue(ctx context.Context) {
	due, err := q.db.ClaimDueTasks(time.Now().UTC(), q.leaseFor, q.workerCount*4)
	if err != nil {
		q.logger.Errorf("tasks: claim due tasks: %v", err)
		return
	}
	for _, t := range due {
		select {
		case q.work <- t:
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-q.work:
			if !ok {
				return
			}
			q.dispatch(ctx, t)
		}
	}
}

// dispatch implements spec.md §4.6's per-attempt outcome handling: Ok
// deletes the row, Transient reschedules per retry policy (converting to
// dead-letter on exhaustion), Terminal dead-letters immediately.
func (q *Queue) dispatch(ctx context.Context, t models.Task) {
	handler, ok := q.handlers[t.Type.Kind]
	if !ok {
		q.logger.Errorf("tasks: no handler registered for %s, dead-lettering task %s", t.Type.Kind, t.ID)
		q.deadLetter(t, "no handler registered")
		return
	}

	outcome, err := handler(ctx, t)
	switch outcome {
	case Ok:
		if delErr := q.db.DeleteTask(t.ID); delErr != nil {
			q.logger.Errorf("tasks: delete completed task %s: %v", t.ID, delErr)
		}
	case Terminal:
		q.logger.Warnf("tasks: task %s failed terminally: %v", t.ID, err)
		q.deadLetter(t, errString(err))
	case Transient:
		q.retryOrDeadLetter(t, err)
	}
}

func (q *Queue) retryOrDeadLetter(t models.Task, cause error) {
	strategy := q.retryStrategyForTask(t)
	nextAttempt := t.RetryAttempt + 1
	if nextAttempt >= strategy.MaxAttempts {
		q.logger.Warnf("tasks: task %s exhausted %d attempts: %v", t.ID, strategy.MaxAttempts, cause)
		q.deadLetter(t, errString(cause))
		return
	}
	next := time.Now().UTC().Add(strategy.Interval(nextAttempt))
	if err := q.db.RescheduleTask(t.ID, nextAttempt, next); err != nil {
		q.logger.Errorf("tasks: reschedule task %s: %v", t.ID, err)
	}
}

// deadLetter implements spec.md §3's "serialized back onto itself with a
// sentinel tag, then emitted as server_log": the dead-letter task's
// payload embeds the original Task JSON, per SPEC_FULL.md's supplemented
// feature #4.
func (q *Queue) deadLetter(t models.Task, reason string) {
	original, err := json.Marshal(t)
	if err != nil {
		q.logger.Errorf("tasks: marshal task %s for dead-letter: %v", t.ID, err)
		original = []byte("null")
	}
	dead := models.Task{
		ID: uuid.Must(uuid.NewV7()),
		Type: models.TaskType{
			Kind: models.TaskTypeKindServerLog,
			ServerLog: &models.ServerLogPayload{
				Level:   "error",
				Message: "task dead-lettered: " + reason,
				Fields:  json.RawMessage(original),
			},
		},
		Tags:        append(append([]string{}, t.Tags...), models.DeadLetterTag),
		ScheduledAt: time.Now().UTC(),
	}
	if err := q.db.EnqueueTask(dead); err != nil {
		q.logger.Errorf("tasks: enqueue dead-letter for task %s: %v", t.ID, err)
	}
	if err := q.db.DeleteTask(t.ID); err != nil {
		q.logger.Errorf("tasks: delete dead-lettered task %s: %v", t.ID, err)
	}
}

// retryStrategyForTask resolves the retry policy to apply to this task's
// dispatch: the originating tracker's config.job.retry_strategy when that
// tracker still exists and declares one (spec.md §4.9's "retries apply to
// ... dispatch of tasks derived from that tick"), falling back to
// DefaultTaskRetryStrategy otherwise — including when the tracker has
// since been deleted, since tasks reference a tracker only by tag
// (spec.md §3's ownership model) and are expected to complete or age out
// independently of the tracker's lifetime.
func (q *Queue) retryStrategyForTask(t models.Task) models.RetryStrategy {
	for _, tag := range t.Tags {
		trackerID, err := uuid.Parse(tag)
		if err != nil {
			continue
		}
		tracker, err := q.db.GetTracker(trackerID)
		if err != nil {
			continue
		}
		if tracker.Config.Job != nil && tracker.Config.Job.RetryStrategy != nil {
			return *tracker.Config.Job.RetryStrategy
		}
	}
	return *models.DefaultTaskRetryStrategy()
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
