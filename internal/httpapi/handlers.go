package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/retrack-dev/retrack/pkg/errkind"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/revisions"
	"github.com/retrack-dev/retrack/pkg/storage"
)

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

// createTrackerRequest is the body of POST /api/trackers.
type createTrackerRequest struct {
	Name    string               `json:"name"`
	Target  models.Target        `json:"target"`
	Actions []models.Action      `json:"actions,omitempty"`
	Config  models.TrackerConfig `json:"config,omitempty"`
	Tags    []string             `json:"tags,omitempty"`
}

func (s *Server) createTracker(w http.ResponseWriter, r *http.Request) {
	var req createTrackerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	tracker := models.Tracker{
		Name:    req.Name,
		Tags:    req.Tags,
		Target:  req.Target,
		Actions: req.Actions,
		Config:  req.Config,
		Enabled: true,
	}
	if tracker.Config.RevisionsRetained <= 0 {
		tracker.Config.RevisionsRetained = s.defaultMaxRevisions
	}
	tracker.DeriveJobNeeded()

	created, err := s.store.CreateTracker(tracker)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if created.JobNeeded {
		job, err := s.sched.Register(created.ID, created.Config.Job.Schedule)
		if err != nil {
			_ = s.store.DeleteTracker(created.ID)
			writeStoreError(w, err)
			return
		}
		created.JobID = &job.ID
		if err := s.store.UpdateTracker(created); err != nil {
			writeStoreError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listTrackers(w http.ResponseWriter, r *http.Request) {
	filter := storage.TrackerFilter{Tags: r.URL.Query()["tag"]}
	trackers, err := s.store.ListTrackers(filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trackers": trackers})
}

func (s *Server) getTracker(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tracker id")
		return
	}
	tracker, err := s.store.GetTracker(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tracker)
}

// updateTrackerRequest is the body of PUT /api/trackers/{id}: every field
// is optional and merged onto the existing tracker, per spec.md §6.
type updateTrackerRequest struct {
	Name    *string               `json:"name,omitempty"`
	Target  *models.Target        `json:"target,omitempty"`
	Actions *[]models.Action      `json:"actions,omitempty"`
	Config  *models.TrackerConfig `json:"config,omitempty"`
	Tags    *[]string             `json:"tags,omitempty"`
	Enabled *bool                 `json:"enabled,omitempty"`
}

func (s *Server) updateTracker(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tracker id")
		return
	}
	tracker, err := s.store.GetTracker(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req updateTrackerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Name != nil {
		tracker.Name = *req.Name
	}
	if req.Target != nil {
		tracker.Target = *req.Target
	}
	if req.Actions != nil {
		tracker.Actions = *req.Actions
	}
	if req.Config != nil {
		tracker.Config = *req.Config
		if tracker.Config.RevisionsRetained <= 0 {
			tracker.Config.RevisionsRetained = s.defaultMaxRevisions
		}
	}
	if req.Tags != nil {
		tracker.Tags = *req.Tags
	}
	if req.Enabled != nil {
		tracker.Enabled = *req.Enabled
	}

	wasJobNeeded := tracker.JobNeeded
	oldJobID := tracker.JobID
	tracker.DeriveJobNeeded()

	switch {
	case tracker.JobNeeded:
		job, err := s.sched.Register(tracker.ID, tracker.Config.Job.Schedule)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		tracker.JobID = &job.ID
	case wasJobNeeded && oldJobID != nil:
		if err := s.sched.Unregister(*oldJobID); err != nil {
			s.logger.Errorf("httpapi: unregister job %s for tracker %s: %v", *oldJobID, tracker.ID, err)
		}
		tracker.JobID = nil
	}

	if err := s.store.UpdateTracker(tracker); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tracker)
}

func (s *Server) deleteTracker(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tracker id")
		return
	}
	tracker, err := s.store.GetTracker(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if tracker.JobID != nil {
		if err := s.sched.Unregister(*tracker.JobID); err != nil {
			s.logger.Errorf("httpapi: unregister job %s for tracker %s: %v", *tracker.JobID, tracker.ID, err)
		}
	}
	if err := s.store.DeleteTracker(id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteTrackersByTag(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		writeError(w, http.StatusBadRequest, "tag query parameter is required")
		return
	}
	matches, err := s.store.ListTrackers(storage.TrackerFilter{Tags: []string{tag}})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	for _, t := range matches {
		if t.JobID != nil {
			if err := s.sched.Unregister(*t.JobID); err != nil {
				s.logger.Errorf("httpapi: unregister job %s for tracker %s: %v", *t.JobID, t.ID, err)
			}
		}
	}
	n, err := s.store.DeleteTrackersByTag(tag)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) listRevisions(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tracker id")
		return
	}
	opts := revisions.ListOptions{
		CalculateDiff: r.URL.Query().Get("calculateDiff") == "true",
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		opts.Since = &t
	}
	out, err := s.revisions.List(id, opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"revisions": out})
}

// runNow implements spec.md §6's POST /api/trackers/{id}/revisions: force
// an immediate tick with the same semantics as a scheduled one.
func (s *Server) runNow(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tracker id")
		return
	}
	if _, err := s.store.GetTracker(id); err != nil {
		writeStoreError(w, err)
		return
	}

	outcome := s.orch.RunNow(r.Context(), id)
	resp := map[string]interface{}{
		"state":    outcome.State,
		"appended": outcome.Appended,
	}
	if outcome.Err != nil {
		resp["message"] = outcome.Err.Error()
	}
	status := http.StatusAccepted
	if outcome.Err != nil && errkind.KindOf(outcome.Err) == errkind.Validation {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func (s *Server) dropRevisions(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tracker id")
		return
	}
	if _, err := s.store.GetTracker(id); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.revisions.Drop(id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
