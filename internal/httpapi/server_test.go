package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retrack-dev/retrack/internal/httpapi"
	"github.com/retrack-dev/retrack/pkg/actions"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/orchestrator"
	"github.com/retrack-dev/retrack/pkg/revisions"
	"github.com/retrack-dev/retrack/pkg/scheduler"
	"github.com/retrack-dev/retrack/pkg/storage"
	"github.com/retrack-dev/retrack/pkg/tasks"
)

type testLogger struct{}

func (testLogger) Infof(string, ...interface{})  {}
func (testLogger) Warnf(string, ...interface{})  {}
func (testLogger) Errorf(string, ...interface{}) {}

func newTestServer(t *testing.T) (*httpapi.Server, storage.Store) {
	t.Helper()
	db := storage.NewMockStore()
	sched := scheduler.New(db, testLogger{}, scheduler.Config{})
	revStore := revisions.New(db)
	queue := tasks.New(db, testLogger{}, time.Second, 1)
	pipeline := actions.New(queue)
	orch := orchestrator.New(db, testLogger{}, sched, revStore, pipeline, nil, nil)
	return httpapi.NewServer(db, sched, revStore, orch, 10), db
}

func TestCreateTracker_ReturnsTrackerWithID(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"name":"example","target":{"type":"page","extractor":"x"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/trackers", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotEmpty(t, got["id"])
}

func TestCreateTracker_RejectsMissingName(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/trackers", bytes.NewBufferString(`{"target":{"type":"page","extractor":"x"}}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTracker_NotFound(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/trackers/0198a26e-0000-7000-8000-000000000000", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotEmpty(t, got["message"])
}

func TestListTrackers_FiltersByTag(t *testing.T) {
	s, db := newTestServer(t)
	_, err := db.CreateTracker(trackerFixture("a", "prod"))
	require.NoError(t, err)
	_, err = db.CreateTracker(trackerFixture("b", "staging"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/trackers?tag=prod", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Trackers []map[string]interface{} `json:"trackers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Trackers, 1)
}

func TestDeleteTracker_NoContent(t *testing.T) {
	s, db := newTestServer(t)
	created, err := db.CreateTracker(trackerFixture("to-delete"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/api/trackers/"+created.ID.String(), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	_, err = db.GetTracker(created.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetStatus_ReportsVersion(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, httpapi.Version, got["version"])
}

func trackerFixture(name string, tags ...string) models.Tracker {
	return models.Tracker{
		Name:    name,
		Tags:    tags,
		Target:  models.Target{Kind: models.TargetKindPage, Page: &models.PageTarget{Extractor: "x"}},
		Config:  models.TrackerConfig{RevisionsRetained: 5},
		Enabled: true,
	}
}
