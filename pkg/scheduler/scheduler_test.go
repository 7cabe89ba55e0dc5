package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/retrack-dev/retrack/pkg/errkind"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/scheduler"
	"github.com/retrack-dev/retrack/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (testLogger) Infof(string, ...interface{})  {}
func (testLogger) Warnf(string, ...interface{})  {}
func (testLogger) Errorf(string, ...interface{}) {}

func TestRegister_RejectsScheduleBelowMinInterval(t *testing.T) {
	db := storage.NewMockStore()
	s := scheduler.New(db, testLogger{}, scheduler.Config{MinScheduleInterval: 5 * time.Minute})
	_, err := s.Register(uuid.Must(uuid.NewV7()), "@hourly")
	require.NoError(t, err)

	_, err = s.Register(uuid.Must(uuid.NewV7()), "*/1 * * * * *")
	require.Error(t, err)
	assert.Equal(t, errkind.Validation, errkind.KindOf(err))
}

func TestRegister_RejectsScheduleOutsideWhitelist(t *testing.T) {
	db := storage.NewMockStore()
	s := scheduler.New(db, testLogger{}, scheduler.Config{SchedulesWhitelist: []string{"@daily"}})
	_, err := s.Register(uuid.Must(uuid.NewV7()), "@hourly")
	require.Error(t, err)
	assert.Equal(t, errkind.Validation, errkind.KindOf(err))

	_, err = s.Register(uuid.Must(uuid.NewV7()), "@daily")
	require.NoError(t, err)
}

func TestRegister_IsIdempotentPerTracker(t *testing.T) {
	db := storage.NewMockStore()
	s := scheduler.New(db, testLogger{}, scheduler.Config{})
	trackerID := uuid.Must(uuid.NewV7())

	first, err := s.Register(trackerID, "@daily")
	require.NoError(t, err)
	second, err := s.Register(trackerID, "@daily")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	jobs, err := db.ListDueSchedulerJobs(time.Now().Add(365*24*time.Hour), 10)
	require.NoError(t, err)
	count := 0
	for _, j := range jobs {
		if j.Extra.TrackerID == trackerID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestUnregister_StopsJob(t *testing.T) {
	db := storage.NewMockStore()
	s := scheduler.New(db, testLogger{}, scheduler.Config{})
	job, err := s.Register(uuid.Must(uuid.NewV7()), "@hourly")
	require.NoError(t, err)

	require.NoError(t, s.Unregister(job.ID))

	got, err := db.GetSchedulerJob(job.ID)
	require.NoError(t, err)
	assert.True(t, got.Stopped)
}

func TestRun_FiresDueJobsAndAdvancesNextTick(t *testing.T) {
	db := storage.NewMockStore()
	s := scheduler.New(db, testLogger{}, scheduler.Config{PollInterval: 2 * time.Millisecond})

	trackerID := uuid.Must(uuid.NewV7())
	job, err := s.Register(trackerID, "@hourly")
	require.NoError(t, err)
	// Force the job due immediately.
	require.NoError(t, db.AdvanceSchedulerJob(job.ID, time.Time{}, time.Now().Add(-time.Second)))

	var fired atomic.Int32
	s.OnTick(func(ctx context.Context, j models.SchedulerJob) scheduler.TickResult {
		fired.Add(1)
		return scheduler.TickResult{}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.GreaterOrEqual(t, fired.Load(), int32(1))
	got, err := db.GetSchedulerJob(job.ID)
	require.NoError(t, err)
	assert.True(t, got.NextTick.After(time.Now()))
}

func TestReconcile_RestartsStoppedJobsForEnabledTrackers(t *testing.T) {
	db := storage.NewMockStore()
	s := scheduler.New(db, testLogger{}, scheduler.Config{})

	tracker, err := db.CreateTracker(models.Tracker{
		Name:      "t",
		Enabled:   true,
		JobNeeded: true,
		Config: models.TrackerConfig{
			RevisionsRetained: 10,
			Job:               &models.JobConfig{Schedule: "@daily"},
		},
	})
	require.NoError(t, err)

	job, err := s.Register(tracker.ID, "@daily")
	require.NoError(t, err)
	require.NoError(t, s.Unregister(job.ID))

	require.NoError(t, s.Reconcile())

	got, err := db.GetSchedulerJob(job.ID)
	require.NoError(t, err)
	assert.False(t, got.Stopped)
}
