package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/retrack-dev/retrack/pkg/actions"
	"github.com/retrack-dev/retrack/pkg/errkind"
	"github.com/retrack-dev/retrack/pkg/executor"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/orchestrator"
	"github.com/retrack-dev/retrack/pkg/revisions"
	"github.com/retrack-dev/retrack/pkg/scheduler"
	"github.com/retrack-dev/retrack/pkg/storage"
	"github.com/retrack-dev/retrack/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (testLogger) Infof(string, ...interface{})  {}
func (testLogger) Warnf(string, ...interface{})  {}
func (testLogger) Errorf(string, ...interface{}) {}

// fakeTarget returns a fixed sequence of Result/error pairs, one per call.
type fakeTarget struct {
	calls   int
	results []executor.Result
	errs    []error
}

func (f *fakeTarget) Execute(ctx context.Context, tracker models.Tracker, previous interface{}) (executor.Result, error) {
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.results[i], err
}

func newHarness(t *testing.T, target executor.Target) (*orchestrator.Orchestrator, storage.Store, *scheduler.Scheduler) {
	db := storage.NewMockStore()
	sched := scheduler.New(db, testLogger{}, scheduler.Config{})
	revStore := revisions.New(db)
	queue := tasks.New(db, testLogger{}, time.Second, 1)
	pipeline := actions.New(queue)
	o := orchestrator.New(db, testLogger{}, sched, revStore, pipeline, target, target)
	return o, db, sched
}

func pageTracker(t *testing.T, db storage.Store, actionsList ...models.Action) models.Tracker {
	tr, err := db.CreateTracker(models.Tracker{
		Name:    "t",
		Enabled: true,
		Target:  models.Target{Kind: models.TargetKindPage, Page: &models.PageTarget{Extractor: "({content}) => content"}},
		Actions: actionsList,
		Config:  models.TrackerConfig{RevisionsRetained: 10},
	})
	require.NoError(t, err)
	return tr
}

func TestRunNow_FirstRunAppendsRevision(t *testing.T) {
	target := &fakeTarget{results: []executor.Result{{Content: map[string]interface{}{"v": 1.0}}}}
	o, db, _ := newHarness(t, target)
	tracker := pageTracker(t, db)

	outcome := o.RunNow(context.Background(), tracker.ID)
	assert.Equal(t, orchestrator.StateSucceeded, outcome.State)
	assert.True(t, outcome.Appended)

	tail, err := db.TailRevision(tracker.ID)
	require.NoError(t, err)
	require.NotNil(t, tail)
}

func TestRunNow_NoChangeSuppressesRevision(t *testing.T) {
	content := map[string]interface{}{"v": 1.0}
	target := &fakeTarget{results: []executor.Result{{Content: content}, {Content: content}}}
	o, db, _ := newHarness(t, target)
	tracker := pageTracker(t, db)

	first := o.RunNow(context.Background(), tracker.ID)
	require.True(t, first.Appended)

	second := o.RunNow(context.Background(), tracker.ID)
	assert.Equal(t, orchestrator.StateSucceeded, second.State)
	assert.False(t, second.Appended)

	count, err := db.CountRevisions(tracker.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunNow_AppendDispatchesConfiguredActions(t *testing.T) {
	target := &fakeTarget{results: []executor.Result{{Content: "hello"}}}
	o, db, _ := newHarness(t, target)
	tracker := pageTracker(t, db, models.Action{Kind: models.ActionKindServerLog})

	outcome := o.RunNow(context.Background(), tracker.ID)
	require.True(t, outcome.Appended)

	due, err := db.ClaimDueTasks(time.Now().Add(time.Hour), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, models.TaskTypeKindServerLog, due[0].Type.Kind)
}

func TestRunNow_TerminalFailureDispatchesDiagnostic(t *testing.T) {
	target := &fakeTarget{results: []executor.Result{{}}, errs: []error{assertErrTerminal}}
	o, db, _ := newHarness(t, target)
	tracker := pageTracker(t, db)

	outcome := o.RunNow(context.Background(), tracker.ID)
	assert.Equal(t, orchestrator.StateTerminalFail, outcome.State)

	due, err := db.ClaimDueTasks(time.Now().Add(time.Hour), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, models.TaskTypeKindServerLog, due[0].Type.Kind)
}

func TestExecuteTick_DisabledTrackerStopsJob(t *testing.T) {
	target := &fakeTarget{results: []executor.Result{{Content: "x"}}}
	o, db, sched := newHarness(t, target)
	tracker := pageTracker(t, db)
	tracker.Enabled = false
	require.NoError(t, db.UpdateTracker(tracker))

	job, err := sched.Register(tracker.ID, "@hourly")
	require.NoError(t, err)

	outcome := o.ExecuteTick(context.Background(), job)
	assert.Equal(t, orchestrator.StateTerminalFail, outcome.State)

	got, err := db.GetSchedulerJob(job.ID)
	require.NoError(t, err)
	assert.True(t, got.Stopped)
}

func TestExecuteTick_MissingTrackerStopsJob(t *testing.T) {
	target := &fakeTarget{results: []executor.Result{{Content: "x"}}}
	o, db, _ := newHarness(t, target)

	job := models.SchedulerJob{
		ID:       uuid.Must(uuid.NewV7()),
		Schedule: "@hourly",
		Extra:    models.SchedulerJobExtra{TrackerID: uuid.Must(uuid.NewV7())},
	}
	require.NoError(t, db.UpsertSchedulerJob(job))

	outcome := o.ExecuteTick(context.Background(), job)
	assert.Equal(t, orchestrator.StateTerminalFail, outcome.State)

	got, err := db.GetSchedulerJob(job.ID)
	require.NoError(t, err)
	assert.True(t, got.Stopped)
}

var assertErrTerminal = errTerminal{}

type errTerminal struct{}

func (errTerminal) Error() string { return "boom" }

func TestExecuteTick_TransientFailureRetriesThenExhausts(t *testing.T) {
	target := &fakeTarget{
		results: []executor.Result{{}, {}, {}},
		errs:    []error{errkind.Transientf("boom"), errkind.Transientf("boom"), errkind.Transientf("boom")},
	}
	o, db, sched := newHarness(t, target)
	tracker, err := db.CreateTracker(models.Tracker{
		Name:    "t",
		Enabled: true,
		Target:  models.Target{Kind: models.TargetKindPage, Page: &models.PageTarget{Extractor: "x"}},
		Config: models.TrackerConfig{
			RevisionsRetained: 10,
			Job: &models.JobConfig{
				Schedule:      "@hourly",
				RetryStrategy: &models.RetryStrategy{Kind: models.RetryKindConstant, IntervalMS: 1, MaxAttempts: 2},
			},
		},
	})
	require.NoError(t, err)

	job, err := sched.Register(tracker.ID, "@hourly")
	require.NoError(t, err)

	// Attempt 1: transient, under max_attempts=2, reschedules with RetryAttempt=1.
	outcome := o.ExecuteTick(context.Background(), job)
	assert.Equal(t, orchestrator.StateTransientFail, outcome.State)
	job, err = db.GetSchedulerJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.RetryAttempt)

	// Attempt 2: exhausts max_attempts=2, dispatches a diagnostic instead.
	outcome = o.ExecuteTick(context.Background(), job)
	assert.Equal(t, orchestrator.StateTerminalFail, outcome.State)

	due, err := db.ClaimDueTasks(time.Now().Add(time.Hour), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, models.TaskTypeKindServerLog, due[0].Type.Kind)
}
