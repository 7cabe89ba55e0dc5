package executor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/retrack-dev/retrack/pkg/errkind"
	"github.com/retrack-dev/retrack/pkg/executor"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackerWithAPITarget(target models.APITarget) models.Tracker {
	return models.Tracker{
		ID:     uuid.Must(uuid.NewV7()),
		Name:   "t",
		Target: models.Target{Kind: models.TargetKindAPI, API: &target},
		Config: models.TrackerConfig{RevisionsRetained: 10, TimeoutMS: 5000},
	}
}

func TestAPITarget_NoExtractorUsesLastBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int{"v": 1})
	}))
	defer srv.Close()

	tracker := trackerWithAPITarget(models.APITarget{
		Requests: []models.APIRequest{{URL: srv.URL}},
	})
	exec := executor.NewAPITarget()
	res, err := exec.Execute(context.Background(), tracker, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"v": json.Number("1")}, res.Content)
}

func TestAPITarget_ExtractorTransformsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int{"v": 41})
	}))
	defer srv.Close()

	tracker := trackerWithAPITarget(models.APITarget{
		Requests:  []models.APIRequest{{URL: srv.URL}},
		Extractor: `context.body.v + 1`,
	})
	exec := executor.NewAPITarget()
	res, err := exec.Execute(context.Background(), tracker, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(42), res.Content)
}

func TestAPITarget_5xxIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tracker := trackerWithAPITarget(models.APITarget{Requests: []models.APIRequest{{URL: srv.URL}}})
	exec := executor.NewAPITarget()
	_, err := exec.Execute(context.Background(), tracker, nil)
	require.Error(t, err)
	assert.Equal(t, errkind.Transient, errkind.KindOf(err))
}

func TestAPITarget_4xxIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tracker := trackerWithAPITarget(models.APITarget{Requests: []models.APIRequest{{URL: srv.URL}}})
	exec := executor.NewAPITarget()
	_, err := exec.Execute(context.Background(), tracker, nil)
	require.Error(t, err)
	assert.Equal(t, errkind.Terminal, errkind.KindOf(err))
}

func TestAPITarget_ConfiguratorShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_ = json.NewEncoder(w).Encode(map[string]int{"v": 1})
	}))
	defer srv.Close()

	tracker := trackerWithAPITarget(models.APITarget{
		Requests:     []models.APIRequest{{URL: srv.URL}},
		Configurator: `({response: {status: 200, headers: {}, body: {short: true}}})`,
		Extractor:    `context.body.short`,
	})
	exec := executor.NewAPITarget()
	res, err := exec.Execute(context.Background(), tracker, nil)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, true, res.Content)
}

func TestAPITarget_ConfiguratorOverridesRequest(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]int{"v": 1})
	}))
	defer srv.Close()

	tracker := trackerWithAPITarget(models.APITarget{
		Requests:     []models.APIRequest{{URL: srv.URL + "/original"}},
		Configurator: `({request: {url: context.requests[0].url.replace("/original", "/overridden"), method: "GET"}})`,
	})
	exec := executor.NewAPITarget()
	_, err := exec.Execute(context.Background(), tracker, nil)
	require.NoError(t, err)
	assert.Equal(t, "/overridden", gotPath)
}
