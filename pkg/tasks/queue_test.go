package tasks_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/storage"
	"github.com/retrack-dev/retrack/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

func webhookTask(trackerID uuid.UUID) models.Task {
	return models.Task{
		ID:   uuid.Must(uuid.NewV7()),
		Type: models.TaskType{Kind: models.TaskTypeKindWebhook, Webhook: &models.WebhookPayload{URL: "http://example.invalid", Method: "POST"}},
		Tags: []string{trackerID.String()},
	}
}

func TestEnqueue_PersistsTask(t *testing.T) {
	db := storage.NewMockStore()
	q := tasks.New(db, nopLogger{}, time.Millisecond, 1)
	id, err := q.Enqueue(webhookTask(uuid.Must(uuid.NewV7())))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	due, err := db.ClaimDueTasks(time.Now().Add(time.Hour), time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestRun_OkDeletesTask(t *testing.T) {
	db := storage.NewMockStore()
	q := tasks.New(db, nopLogger{}, 5*time.Millisecond, 1)
	q.RegisterHandler(models.TaskTypeKindWebhook, func(ctx context.Context, t models.Task) (tasks.Outcome, error) {
		return tasks.Ok, nil
	})
	_, err := q.Enqueue(webhookTask(uuid.Must(uuid.NewV7())))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	q.Run(ctx)

	due, err := db.ClaimDueTasks(time.Now().Add(time.Hour), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDispatch_TransientFirstAttemptReschedules(t *testing.T) {
	db := storage.NewMockStore()
	q := tasks.New(db, nopLogger{}, 5*time.Millisecond, 1)
	var attempts atomic.Int32
	q.RegisterHandler(models.TaskTypeKindWebhook, func(ctx context.Context, t models.Task) (tasks.Outcome, error) {
		attempts.Add(1)
		return tasks.Transient, errSentinel{}
	})
	_, err := q.Enqueue(webhookTask(uuid.Must(uuid.NewV7())))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	q.Run(ctx)

	assert.Equal(t, int32(1), attempts.Load())
	due, err := db.ClaimDueTasks(time.Now().Add(24*time.Hour), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].RetryAttempt)
}

func TestDispatch_ExhaustedRetriesDeadLetters(t *testing.T) {
	db := storage.NewMockStore()
	q := tasks.New(db, nopLogger{}, time.Millisecond, 1)
	q.RegisterHandler(models.TaskTypeKindWebhook, func(ctx context.Context, t models.Task) (tasks.Outcome, error) {
		return tasks.Transient, errSentinel{}
	})
	taskID, err := q.Enqueue(webhookTask(uuid.Must(uuid.NewV7())))
	require.NoError(t, err)

	// Default task retry strategy is constant{interval=1m, max_attempts=3};
	// drive three dispatch cycles directly, fast-forwarding scheduled_at
	// between runs rather than waiting out real retry intervals.
	for i := 0; i < 3; i++ {
		require.NoError(t, db.RescheduleTask(taskID, i, time.Now()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		q.Run(ctx)
		cancel()
	}

	due, err := db.ClaimDueTasks(time.Now().Add(24*time.Hour), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, models.TaskTypeKindServerLog, due[0].Type.Kind)
	assert.Contains(t, due[0].Tags, models.DeadLetterTag)
}

type errSentinel struct{}

func (errSentinel) Error() string { return "boom" }
