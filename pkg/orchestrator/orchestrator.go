// Package orchestrator implements the Tracker Orchestrator of spec.md
// §4.2: the per-tick pipeline step that glues the Job Scheduler, Target
// Executors, Revision Store, and Action Pipeline together.
//
// Grounded on the teacher's (ignatij/goflow) pkg/service/service.go
// ExecuteFlow transactional orchestration shape: load -> validate ->
// execute -> persist -> classify failure, generalized from a flow's
// topologically-sorted task graph to a tracker's single target
// execution.
package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/retrack-dev/retrack/pkg/actions"
	"github.com/retrack-dev/retrack/pkg/errkind"
	"github.com/retrack-dev/retrack/pkg/executor"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/revisions"
	"github.com/retrack-dev/retrack/pkg/scheduler"
	"github.com/retrack-dev/retrack/pkg/storage"
)

// Logger matches the teacher's pkg/service.Logger shape.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// State is one step of the per-tick state machine of spec.md §4.2:
// Pending -> Running -> (Succeeded | TransientFail | TerminalFail).
type State string

const (
	StatePending       State = "pending"
	StateRunning       State = "running"
	StateSucceeded     State = "succeeded"
	StateTransientFail State = "transient_fail"
	StateTerminalFail  State = "terminal_fail"
)

// Outcome reports the result of one ExecuteTick call, for logging and
// for tests that assert the seed scenarios of spec.md §8.
type Outcome struct {
	State    State
	Appended bool
	Err      error
}

// Orchestrator is the Tracker Orchestrator.
type Orchestrator struct {
	db         storage.Store
	logger     Logger
	scheduler  *scheduler.Scheduler
	revisions  *revisions.Store
	actions    *actions.Pipeline
	pageTarget executor.Target
	apiTarget  executor.Target

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// New returns an Orchestrator wiring together the Revision Store, Action
// Pipeline, and the two Target Executors.
func New(
	db storage.Store,
	logger Logger,
	sched *scheduler.Scheduler,
	revStore *revisions.Store,
	pipeline *actions.Pipeline,
	pageTarget executor.Target,
	apiTarget executor.Target,
) *Orchestrator {
	return &Orchestrator{
		db:         db,
		logger:     logger,
		scheduler:  sched,
		revisions:  revStore,
		actions:    pipeline,
		pageTarget: pageTarget,
		apiTarget:  apiTarget,
		running:    make(map[uuid.UUID]struct{}),
	}
}

// ExecuteTick implements spec.md §4.2's per-tick procedure for the
// tracker backing job. It enforces "at most one concurrent tick
// in-flight" per tracker (spec.md §5) via an advisory in-memory lock.
func (o *Orchestrator) ExecuteTick(ctx context.Context, job models.SchedulerJob) Outcome {
	trackerID := job.Extra.TrackerID

	if !o.tryLock(trackerID) {
		o.logger.Warnf("orchestrator: tracker %s already has a tick in-flight, skipping", trackerID)
		return Outcome{State: StatePending}
	}
	defer o.unlock(trackerID)

	tracker, err := o.db.GetTracker(trackerID)
	if err != nil {
		// Tracker delete cancels the scheduler registration synchronously
		// (spec.md §5), but an in-flight tick may observe the gap; stop
		// the job defensively so a dangling reference can't keep firing.
		o.logger.Infof("orchestrator: tracker %s missing, stopping job %s", trackerID, job.ID)
		_ = o.scheduler.Unregister(job.ID)
		return Outcome{State: StateTerminalFail, Err: err}
	}
	if !tracker.Enabled {
		o.logger.Infof("orchestrator: tracker %s disabled, stopping job %s", trackerID, job.ID)
		_ = o.scheduler.Unregister(job.ID)
		return Outcome{State: StateTerminalFail}
	}

	return o.runTick(ctx, tracker, job)
}

// RunNow implements spec.md §6's POST /api/trackers/{id}/revisions: forces
// an immediate tick with the same semantics as a scheduled one, without
// going through the Job Scheduler.
func (o *Orchestrator) RunNow(ctx context.Context, trackerID uuid.UUID) Outcome {
	if !o.tryLock(trackerID) {
		return Outcome{State: StatePending}
	}
	defer o.unlock(trackerID)

	tracker, err := o.db.GetTracker(trackerID)
	if err != nil {
		return Outcome{State: StateTerminalFail, Err: err}
	}
	return o.runTick(ctx, tracker, models.SchedulerJob{Extra: models.SchedulerJobExtra{TrackerID: trackerID}})
}

func (o *Orchestrator) runTick(ctx context.Context, tracker models.Tracker, job models.SchedulerJob) Outcome {
	tickCtx, cancel := context.WithTimeout(ctx, tracker.Config.Timeout())
	defer cancel()

	previous, err := o.previousContent(tracker.ID)
	if err != nil {
		o.logger.Errorf("orchestrator: tracker %s: load previous content: %v", tracker.ID, err)
	}

	target := o.targetFor(tracker)
	if target == nil {
		return Outcome{State: StateTerminalFail, Err: errkind.Terminalf("orchestrator: tracker %s has no executable target", tracker.ID)}
	}

	result, execErr := target.Execute(tickCtx, tracker, previous)
	if execErr != nil {
		return o.handleFailure(tracker, job, execErr)
	}

	now := time.Now().UTC()
	appendResult, err := o.revisions.AppendIfChanged(tracker.ID, result.Content, now, tracker.Config.RevisionsRetained)
	if err != nil {
		o.logger.Errorf("orchestrator: tracker %s: append revision: %v", tracker.ID, err)
		return Outcome{State: StateTerminalFail, Err: err}
	}

	if !appendResult.Appended {
		o.logger.Infof("orchestrator: tracker %s: no change at tick", tracker.ID)
		return Outcome{State: StateSucceeded, Appended: false}
	}

	var previousForActions interface{}
	if previous != nil {
		previousForActions = previous
	}
	if err := o.actions.Dispatch(tracker, previousForActions, result.Content); err != nil {
		// Action dispatch failures are classified Terminal and logged;
		// the revision itself is already durably written, so a formatter
		// bug must not roll that back (spec.md §7's propagation policy:
		// only Fatal escapes).
		o.logger.Errorf("orchestrator: tracker %s: dispatch actions: %v", tracker.ID, err)
	}

	return Outcome{State: StateSucceeded, Appended: true}
}

func (o *Orchestrator) previousContent(trackerID uuid.UUID) (interface{}, error) {
	tail, err := o.db.TailRevision(trackerID)
	if err != nil {
		return nil, errkind.Transientf("orchestrator: load tail revision: %v", err)
	}
	if tail == nil {
		return nil, nil
	}
	var content interface{}
	if err := json.Unmarshal(tail.Data, &content); err != nil {
		return nil, errkind.Terminalf("orchestrator: decode tail revision: %v", err)
	}
	return content, nil
}

func (o *Orchestrator) targetFor(tracker models.Tracker) executor.Target {
	switch tracker.Target.Kind {
	case models.TargetKindPage:
		return o.pageTarget
	case models.TargetKindAPI:
		return o.apiTarget
	default:
		return nil
	}
}

// handleFailure implements spec.md §4.2 step 3: on Transient failure,
// apply the tracker's retry strategy and reschedule a one-off retry tick
// until job.RetryAttempt reaches the strategy's max_attempts, mirroring
// pkg/tasks/queue.go's retryOrDeadLetter exhaustion check; on Terminal
// failure (including unclassified errors, which fail closed to Terminal
// per pkg/errkind) or exhausted retries, emit a server_log action.
func (o *Orchestrator) handleFailure(tracker models.Tracker, job models.SchedulerJob, err error) Outcome {
	kind := errkind.KindOf(err)
	if kind == errkind.Transient && job.ID != uuid.Nil {
		strategy := models.RetryStrategy{Kind: models.RetryKindConstant, MaxAttempts: 0}
		if tracker.Config.Job != nil && tracker.Config.Job.RetryStrategy != nil {
			strategy = *tracker.Config.Job.RetryStrategy
		}
		nextAttempt := job.RetryAttempt + 1
		if strategy.MaxAttempts > 0 && nextAttempt < strategy.MaxAttempts {
			retryAt := time.Now().UTC().Add(strategy.Interval(nextAttempt))
			if schedErr := o.scheduler.ScheduleRetry(job, nextAttempt, retryAt); schedErr != nil {
				o.logger.Errorf("orchestrator: tracker %s: schedule retry: %v", tracker.ID, schedErr)
			}
			o.logger.Warnf("orchestrator: tracker %s: transient failure (attempt %d/%d), retrying at %s: %v",
				tracker.ID, nextAttempt, strategy.MaxAttempts, retryAt, err)
			return Outcome{State: StateTransientFail, Err: err}
		}
		if strategy.MaxAttempts > 0 {
			o.logger.Warnf("orchestrator: tracker %s: exhausted %d retry attempts: %v", tracker.ID, strategy.MaxAttempts, err)
		}
	}

	if dispatchErr := o.actions.DispatchDiagnostic(tracker, err); dispatchErr != nil {
		o.logger.Errorf("orchestrator: tracker %s: dispatch failure diagnostic: %v", tracker.ID, dispatchErr)
	}
	return Outcome{State: StateTerminalFail, Err: err}
}

func (o *Orchestrator) tryLock(trackerID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, inFlight := o.running[trackerID]; inFlight {
		return false
	}
	o.running[trackerID] = struct{}{}
	return true
}

func (o *Orchestrator) unlock(trackerID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, trackerID)
}
