// Package revisions implements the Revision Store of spec.md §4.5: a
// tail-aware append with diff, backed by pkg/storage and grounded on the
// teacher's (ignatij/goflow) pkg/service/task_service.go transactional
// Begin/Commit/Rollback pattern.
package revisions

import (
	"time"

	"github.com/google/uuid"
	"github.com/retrack-dev/retrack/pkg/canon"
	"github.com/retrack-dev/retrack/pkg/diff"
	"github.com/retrack-dev/retrack/pkg/errkind"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/storage"
)

// AppendResult reports the outcome of AppendIfChanged.
type AppendResult struct {
	Appended bool
	Revision models.Revision
	Diff     *diff.Diff
}

// Store is the Revision Store.
type Store struct {
	db storage.Store
}

// New returns a Store over db.
func New(db storage.Store) *Store {
	return &Store{db: db}
}

// AppendIfChanged implements spec.md §4.5's append_if_changed: it loads the
// tail revision, compares byte-for-byte under canonicalization, and only
// appends (then trims to retention) when the content differs or no tail
// exists yet.
func (s *Store) AppendIfChanged(trackerID uuid.UUID, content interface{}, createdAt time.Time, retain int) (AppendResult, error) {
	canonical, err := canon.Marshal(content)
	if err != nil {
		return AppendResult{}, errkind.Terminalf("revisions: canonicalize: %v", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return AppendResult{}, errkind.Transientf("revisions: begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	tail, err := tx.TailRevision(trackerID)
	if err != nil {
		return AppendResult{}, errkind.Transientf("revisions: load tail: %v", err)
	}

	if tail != nil {
		equal, err := canon.Equal(tail.Data, canonical)
		if err != nil {
			return AppendResult{}, errkind.Terminalf("revisions: compare: %v", err)
		}
		if equal {
			return AppendResult{Appended: false}, nil
		}
	}

	rev := models.Revision{
		ID:        uuid.Must(uuid.NewV7()),
		TrackerID: trackerID,
		CreatedAt: createdAt,
		Data:      canonical,
	}
	if err := tx.AppendRevision(rev); err != nil {
		return AppendResult{}, errkind.Transientf("revisions: append: %v", err)
	}
	if retain > 0 {
		if err := tx.TrimOldestRevisions(trackerID, retain); err != nil {
			return AppendResult{}, errkind.Transientf("revisions: trim: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return AppendResult{}, errkind.Transientf("revisions: commit: %v", err)
	}

	result := AppendResult{Appended: true, Revision: rev}
	if tail != nil {
		d, err := diff.Compute(tail.Data, canonical)
		if err != nil {
			return AppendResult{}, errkind.Terminalf("revisions: diff: %v", err)
		}
		result.Diff = &d
	}
	return result, nil
}

// ListOptions narrows List.
type ListOptions struct {
	Since         *time.Time
	CalculateDiff bool
}

// ListedRevision pairs a Revision with its diff against the immediate
// predecessor, when requested.
type ListedRevision struct {
	models.Revision
	Diff *diff.Diff `json:"diff,omitempty"`
}

// List implements spec.md §4.5's list(tracker_id, {since?, calculate_diff?}).
func (s *Store) List(trackerID uuid.UUID, opts ListOptions) ([]ListedRevision, error) {
	revs, err := s.db.ListRevisions(trackerID, opts.Since)
	if err != nil {
		return nil, errkind.Transientf("revisions: list: %v", err)
	}
	out := make([]ListedRevision, len(revs))
	for i, r := range revs {
		out[i] = ListedRevision{Revision: r}
		if opts.CalculateDiff && i > 0 {
			d, err := diff.Compute(revs[i-1].Data, r.Data)
			if err != nil {
				return nil, errkind.Terminalf("revisions: diff: %v", err)
			}
			out[i].Diff = &d
		}
	}
	return out, nil
}

// Drop implements spec.md §4.5's drop(tracker_id): clears a tracker's
// revision history, e.g. on DELETE /api/trackers/{id}/revisions.
func (s *Store) Drop(trackerID uuid.UUID) error {
	if err := s.db.ClearRevisions(trackerID); err != nil {
		return errkind.Transientf("revisions: drop: %v", err)
	}
	return nil
}
