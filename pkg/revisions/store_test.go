package revisions_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/retrack-dev/retrack/pkg/revisions"
	"github.com/retrack-dev/retrack/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendIfChanged_FirstRunAlwaysAppends(t *testing.T) {
	store := revisions.New(storage.NewMockStore())
	trackerID := uuid.Must(uuid.NewV7())

	res, err := store.AppendIfChanged(trackerID, map[string]int{"v": 1}, time.Now(), 10)
	require.NoError(t, err)
	assert.True(t, res.Appended)
	assert.Nil(t, res.Diff)
}

func TestAppendIfChanged_SuppressesNoChange(t *testing.T) {
	store := revisions.New(storage.NewMockStore())
	trackerID := uuid.Must(uuid.NewV7())

	_, err := store.AppendIfChanged(trackerID, map[string]int{"v": 1}, time.Now(), 10)
	require.NoError(t, err)

	res, err := store.AppendIfChanged(trackerID, map[string]int{"v": 1}, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.False(t, res.Appended)
}

func TestAppendIfChanged_KeyOrderDifferencesDoNotCountAsChange(t *testing.T) {
	store := revisions.New(storage.NewMockStore())
	trackerID := uuid.Must(uuid.NewV7())

	_, err := store.AppendIfChanged(trackerID, map[string]interface{}{"a": 1, "b": 2}, time.Now(), 10)
	require.NoError(t, err)

	res, err := store.AppendIfChanged(trackerID, map[string]interface{}{"b": 2, "a": 1}, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.False(t, res.Appended)
}

func TestAppendIfChanged_ChangeProducesDiff(t *testing.T) {
	store := revisions.New(storage.NewMockStore())
	trackerID := uuid.Must(uuid.NewV7())

	_, err := store.AppendIfChanged(trackerID, map[string]int{"v": 1}, time.Now(), 10)
	require.NoError(t, err)

	res, err := store.AppendIfChanged(trackerID, map[string]int{"v": 2}, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.True(t, res.Appended)
	require.NotNil(t, res.Diff)
}

func TestAppendIfChanged_TrimsToRetention(t *testing.T) {
	store := revisions.New(storage.NewMockStore())
	trackerID := uuid.Must(uuid.NewV7())

	for i := 0; i < 5; i++ {
		_, err := store.AppendIfChanged(trackerID, map[string]int{"v": i}, time.Now().Add(time.Duration(i)*time.Minute), 3)
		require.NoError(t, err)
	}

	listed, err := store.List(trackerID, revisions.ListOptions{})
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.JSONEq(t, `{"v":2}`, string(listed[0].Data))
	assert.JSONEq(t, `{"v":4}`, string(listed[2].Data))
}

func TestList_CalculatesDiffAgainstPredecessor(t *testing.T) {
	store := revisions.New(storage.NewMockStore())
	trackerID := uuid.Must(uuid.NewV7())

	_, err := store.AppendIfChanged(trackerID, map[string]int{"v": 1}, time.Now(), 10)
	require.NoError(t, err)
	_, err = store.AppendIfChanged(trackerID, map[string]int{"v": 2}, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)

	listed, err := store.List(trackerID, revisions.ListOptions{CalculateDiff: true})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Nil(t, listed[0].Diff)
	assert.NotNil(t, listed[1].Diff)
}

func TestDrop_ClearsHistory(t *testing.T) {
	store := revisions.New(storage.NewMockStore())
	trackerID := uuid.Must(uuid.NewV7())
	_, err := store.AppendIfChanged(trackerID, map[string]int{"v": 1}, time.Now(), 10)
	require.NoError(t, err)

	require.NoError(t, store.Drop(trackerID))

	listed, err := store.List(trackerID, revisions.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, listed)
}
