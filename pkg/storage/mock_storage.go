package storage

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/retrack-dev/retrack/pkg/models"
)

// mockStore implements Store with in-memory storage, grounded on the
// teacher's pkg/storage/mock_storage.go shape (Begin returns the same
// instance; Commit only sets a flag and Rollback does nothing, since there
// is nothing to roll back to once a write has landed in the slice).
type mockStore struct {
	mu        sync.Mutex
	trackers  map[uuid.UUID]models.Tracker
	revisions map[uuid.UUID][]models.Revision
	tasks     map[uuid.UUID]models.Task
	jobs      map[uuid.UUID]models.SchedulerJob
	committed bool
}

// NewMockStore returns a fresh in-memory Store for unit tests that don't
// need real SQL semantics (scheduler, orchestrator, task queue tests).
func NewMockStore() Store {
	return &mockStore{
		trackers:  make(map[uuid.UUID]models.Tracker),
		revisions: make(map[uuid.UUID][]models.Revision),
		tasks:     make(map[uuid.UUID]models.Task),
		jobs:      make(map[uuid.UUID]models.SchedulerJob),
	}
}

func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { m.committed = true; return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) CreateTracker(t models.Tracker) (models.Tracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.trackers {
		if strings.EqualFold(existing.Name, t.Name) {
			return models.Tracker{}, ErrConflict
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	m.trackers[t.ID] = t
	return t, nil
}

func (m *mockStore) GetTracker(id uuid.UUID) (models.Tracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[id]
	if !ok {
		return models.Tracker{}, ErrNotFound
	}
	return t, nil
}

func (m *mockStore) GetTrackerByName(name string) (models.Tracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trackers {
		if strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}
	return models.Tracker{}, ErrNotFound
}

func (m *mockStore) ListTrackers(filter TrackerFilter) ([]models.Tracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Tracker, 0, len(m.trackers))
	for _, t := range m.trackers {
		if hasAllTags(t.Tags, filter.Tags) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) UpdateTracker(t models.Tracker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trackers[t.ID]; !ok {
		return ErrNotFound
	}
	t.UpdatedAt = time.Now().UTC()
	m.trackers[t.ID] = t
	return nil
}

func (m *mockStore) DeleteTracker(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trackers[id]; !ok {
		return ErrNotFound
	}
	delete(m.trackers, id)
	delete(m.revisions, id)
	for jobID, j := range m.jobs {
		if j.Extra.TrackerID == id {
			delete(m.jobs, jobID)
		}
	}
	return nil
}

func (m *mockStore) DeleteTrackersByTag(tag string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.trackers {
		if hasAllTags(t.Tags, []string{tag}) {
			delete(m.trackers, id)
			delete(m.revisions, id)
			n++
		}
	}
	return n, nil
}

func (m *mockStore) AppendRevision(r models.Revision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.Must(uuid.NewV7())
	}
	m.revisions[r.TrackerID] = append(m.revisions[r.TrackerID], r)
	return nil
}

func (m *mockStore) ListRevisions(trackerID uuid.UUID, since *time.Time) ([]models.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Revision
	for _, r := range m.revisions[trackerID] {
		if since != nil && r.CreatedAt.Before(*since) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockStore) TailRevision(trackerID uuid.UUID) (*models.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	revs := m.revisions[trackerID]
	if len(revs) == 0 {
		return nil, nil
	}
	tail := revs[len(revs)-1]
	return &tail, nil
}

func (m *mockStore) CountRevisions(trackerID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.revisions[trackerID]), nil
}

func (m *mockStore) TrimOldestRevisions(trackerID uuid.UUID, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	revs := m.revisions[trackerID]
	if len(revs) > keep {
		m.revisions[trackerID] = revs[len(revs)-keep:]
	}
	return nil
}

func (m *mockStore) ClearRevisions(trackerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.revisions, trackerID)
	return nil
}

func (m *mockStore) EnqueueTask(t models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.Must(uuid.NewV7())
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *mockStore) ClaimDueTasks(now time.Time, lease time.Duration, limit int) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.Task
	for _, t := range m.tasks {
		if !t.ScheduledAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for _, t := range due {
		leased := t
		leased.ScheduledAt = now.Add(lease)
		m.tasks[t.ID] = leased
	}
	return due, nil
}

func (m *mockStore) DeleteTask(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *mockStore) RescheduleTask(id uuid.UUID, attempt int, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.RetryAttempt = attempt
	t.ScheduledAt = next
	m.tasks[id] = t
	return nil
}

func (m *mockStore) UpsertSchedulerJob(j models.SchedulerJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == uuid.Nil {
		j.ID = uuid.Must(uuid.NewV7())
	}
	m.jobs[j.ID] = j
	return nil
}

func (m *mockStore) GetSchedulerJob(id uuid.UUID) (models.SchedulerJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return models.SchedulerJob{}, ErrNotFound
	}
	return j, nil
}

func (m *mockStore) GetSchedulerJobByTrackerID(trackerID uuid.UUID) (*models.SchedulerJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Extra.TrackerID == trackerID {
			job := j
			return &job, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ListDueSchedulerJobs(now time.Time, limit int) ([]models.SchedulerJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.SchedulerJob
	for _, j := range m.jobs {
		if !j.Stopped && !j.NextTick.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextTick.Before(due[j].NextTick) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *mockStore) ListStoppedReconcilableJobs() ([]models.SchedulerJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SchedulerJob
	for _, j := range m.jobs {
		if j.Stopped {
			if t, ok := m.trackers[j.Extra.TrackerID]; ok && t.Enabled && t.JobNeeded {
				out = append(out, j)
			}
		}
	}
	return out, nil
}

func (m *mockStore) AdvanceSchedulerJob(id uuid.UUID, lastTick, nextTick time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.LastTick = &lastTick
	j.NextTick = nextTick
	j.RetryAttempt = 0
	m.jobs[id] = j
	return nil
}

func (m *mockStore) ScheduleSchedulerJobRetry(id uuid.UUID, attempt int, lastTick, nextTick time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.LastTick = &lastTick
	j.NextTick = nextTick
	j.RetryAttempt = attempt
	m.jobs[id] = j
	return nil
}

func (m *mockStore) StopSchedulerJob(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Stopped = true
	m.jobs[id] = j
	return nil
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
