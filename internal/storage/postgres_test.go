package storage_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	internal_storage "github.com/retrack-dev/retrack/internal/storage"
	"github.com/retrack-dev/retrack/internal/testutil"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	newTxStore := func(t *testing.T) *internal_storage.PostgresStore {
		store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
		require.NoError(t, err)
		txStore, err := store.Begin()
		require.NoError(t, err)
		t.Cleanup(func() { txStore.Rollback() })
		return txStore.(*internal_storage.PostgresStore)
	}

	t.Run("CreateAndGetTracker", func(t *testing.T) {
		s := newTxStore(t)
		tracker := models.Tracker{
			Name:   "pg-test",
			Tags:   []string{"a", "b"},
			Target: models.Target{Kind: models.TargetKindPage, Page: &models.PageTarget{Extractor: "x"}},
			Config: models.TrackerConfig{RevisionsRetained: 5},
		}
		created, err := s.CreateTracker(tracker)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, created.ID)

		got, err := s.GetTracker(created.ID)
		require.NoError(t, err)
		assert.Equal(t, "pg-test", got.Name)
		assert.ElementsMatch(t, []string{"a", "b"}, got.Tags)
		assert.Equal(t, models.TargetKindPage, got.Target.Kind)
	})

	t.Run("CreateTracker_RejectsDuplicateNameCaseInsensitively", func(t *testing.T) {
		s := newTxStore(t)
		_, err := s.CreateTracker(models.Tracker{
			Name:   "Dup",
			Target: models.Target{Kind: models.TargetKindPage, Page: &models.PageTarget{Extractor: "x"}},
			Config: models.TrackerConfig{RevisionsRetained: 5},
		})
		require.NoError(t, err)

		_, err = s.CreateTracker(models.Tracker{
			Name:   "dup",
			Target: models.Target{Kind: models.TargetKindPage, Page: &models.PageTarget{Extractor: "x"}},
			Config: models.TrackerConfig{RevisionsRetained: 5},
		})
		assert.ErrorIs(t, err, storage.ErrConflict)
	})

	t.Run("GetTracker_NotFound", func(t *testing.T) {
		s := newTxStore(t)
		_, err := s.GetTracker(uuid.Must(uuid.NewV7()))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListTrackers_FiltersByTagAND", func(t *testing.T) {
		s := newTxStore(t)
		mk := func(name string, tags ...string) {
			_, err := s.CreateTracker(models.Tracker{
				Name:   name,
				Tags:   tags,
				Target: models.Target{Kind: models.TargetKindPage, Page: &models.PageTarget{Extractor: "x"}},
				Config: models.TrackerConfig{RevisionsRetained: 5},
			})
			require.NoError(t, err)
		}
		mk("one", "prod", "web")
		mk("two", "prod")
		mk("three", "web")

		out, err := s.ListTrackers(storage.TrackerFilter{Tags: []string{"prod", "web"}})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "one", out[0].Name)
	})

	t.Run("AppendAndTrimRevisions", func(t *testing.T) {
		s := newTxStore(t)
		tracker, err := s.CreateTracker(models.Tracker{
			Name:   "rev-test",
			Target: models.Target{Kind: models.TargetKindPage, Page: &models.PageTarget{Extractor: "x"}},
			Config: models.TrackerConfig{RevisionsRetained: 2},
		})
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			err := s.AppendRevision(models.Revision{
				TrackerID: tracker.ID,
				CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
				Data:      []byte(`{"v":1}`),
			})
			require.NoError(t, err)
		}
		require.NoError(t, s.TrimOldestRevisions(tracker.ID, 2))

		count, err := s.CountRevisions(tracker.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("EnqueueAndClaimTasks", func(t *testing.T) {
		s := newTxStore(t)
		task := models.Task{
			Type:        models.TaskType{Kind: models.TaskTypeKindServerLog, ServerLog: &models.ServerLogPayload{Level: "info", Message: "m"}},
			ScheduledAt: time.Now().UTC().Add(-time.Minute),
		}
		require.NoError(t, s.EnqueueTask(task))

		claimed, err := s.ClaimDueTasks(time.Now().UTC(), time.Minute, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, models.TaskTypeKindServerLog, claimed[0].Type.Kind)
	})

	t.Run("SchedulerJobUpsertIsIdempotentPerTracker", func(t *testing.T) {
		s := newTxStore(t)
		tracker, err := s.CreateTracker(models.Tracker{
			Name:   "job-test",
			Target: models.Target{Kind: models.TargetKindPage, Page: &models.PageTarget{Extractor: "x"}},
			Config: models.TrackerConfig{RevisionsRetained: 5},
		})
		require.NoError(t, err)

		job := models.SchedulerJob{
			ID:       uuid.Must(uuid.NewV7()),
			Schedule: "@daily",
			NextTick: time.Now().UTC().Add(time.Hour),
			Extra:    models.SchedulerJobExtra{TrackerID: tracker.ID},
		}
		require.NoError(t, s.UpsertSchedulerJob(job))
		job.Schedule = "@hourly"
		require.NoError(t, s.UpsertSchedulerJob(job))

		got, err := s.GetSchedulerJobByTrackerID(tracker.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "@hourly", got.Schedule)
	})
}
