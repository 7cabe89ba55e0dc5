// Package errkind implements the error taxonomy of spec.md §7: leaf
// operations classify their errors, the orchestrator and task dispatcher
// switch on Kind instead of matching message strings, and only Fatal
// escapes to crash the process.
package errkind

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the classes of spec.md §7.
type Kind string

const (
	Validation           Kind = "validation"
	NotFound             Kind = "not_found"
	Transient            Kind = "transient"
	Terminal             Kind = "terminal"
	ScriptTimeout        Kind = "script_timeout"
	ScriptForbiddenImport Kind = "script_forbidden_import"
	Fatal                Kind = "fatal"
)

// Classified wraps an error with its taxonomy Kind.
type Classified struct {
	kind Kind
	err  error
}

func (c *Classified) Error() string {
	return fmt.Sprintf("%s: %v", c.kind, c.err)
}

func (c *Classified) Unwrap() error { return c.err }

// KindOf returns the Kind of the given error, defaulting to Terminal if the
// error was not classified (fail closed: an unclassified error does not
// get retried forever).
func KindOf(err error) Kind {
	var c *Classified
	if errors.As(err, &c) {
		return c.kind
	}
	return Terminal
}

// Classify wraps err with kind. Classify(nil, ...) returns nil.
func Classify(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &Classified{kind: kind, err: err}
}

func Validationf(format string, args ...interface{}) error {
	return Classify(errors.Errorf(format, args...), Validation)
}

func NotFoundf(format string, args ...interface{}) error {
	return Classify(errors.Errorf(format, args...), NotFound)
}

func Transientf(format string, args ...interface{}) error {
	return Classify(errors.Errorf(format, args...), Transient)
}

func Terminalf(format string, args ...interface{}) error {
	return Classify(errors.Errorf(format, args...), Terminal)
}

// IsRetryable reports whether an error of this Kind should be retried by
// the task dispatcher or the orchestrator's one-off retick.
func IsRetryable(err error) bool {
	return KindOf(err) == Transient
}
