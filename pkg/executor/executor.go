// Package executor implements the API Target Executor (spec.md §4.3) and
// Page Target Executor (spec.md §4.4): the two backends the Tracker
// Orchestrator delegates a tick to depending on the tracker's target kind.
//
// Grounded on the teacher's (ignatij/goflow) pkg/service/worker_pool.go
// attempt/timeout loop shape (context-scoped timeouts, classified
// outcomes) generalized from Go-closure tasks to HTTP requests and
// sandboxed scripts.
package executor

import (
	"context"

	"github.com/retrack-dev/retrack/pkg/models"
)

// Result is the content value produced by a target execution, ready for
// the Revision Store to canonicalize and compare against the tail
// revision.
type Result struct {
	Content interface{}
}

// Target executes one tick's worth of work against a tracker's declared
// target and returns its content value, or a classified error (Transient/
// Terminal/ScriptTimeout/ScriptForbiddenImport per spec.md §7).
type Target interface {
	Execute(ctx context.Context, tracker models.Tracker, previousContent interface{}) (Result, error)
}
