package executor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/retrack-dev/retrack/pkg/executor"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageTarget_DelegatesToScraperClient(t *testing.T) {
	var gotExtractor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Extractor string `json:"extractor"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotExtractor = body.Extractor
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"title":"hi"}`))
	}))
	defer srv.Close()

	tracker := models.Tracker{
		ID:   uuid.Must(uuid.NewV7()),
		Name: "page-tracker",
		Target: models.Target{Kind: models.TargetKindPage, Page: &models.PageTarget{
			Extractor: "export default () => ({title: document.title})",
		}},
		Config: models.TrackerConfig{RevisionsRetained: 10, TimeoutMS: 5000},
	}

	exec := executor.NewPageTarget(scraper.New(srv.URL))
	res, err := exec.Execute(context.Background(), tracker, nil)
	require.NoError(t, err)
	assert.Contains(t, gotExtractor, "document.title")
	assert.Equal(t, map[string]interface{}{"title": "hi"}, res.Content)
}
