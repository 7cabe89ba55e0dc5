package log

import (
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger

func init() {
	logger = logrus.New()
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		logger.SetLevel(logrus.DebugLevel)
	case "WARN":
		logger.SetLevel(logrus.WarnLevel)
	case "ERROR":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// GetLogger returns the shared logger instance.
func GetLogger() *logrus.Logger {
	return logger
}

// Fields is the structured context a component attaches to a log entry,
// per SPEC_FULL.md's ambient logging section: tracker/job/task identity
// plus the emitting component's name.
type Fields struct {
	TrackerID uuid.UUID
	JobID     uuid.UUID
	TaskID    uuid.UUID
	Component string
}

// entry builds a *logrus.Entry with only the populated fields attached,
// so a bare Component-only Fields doesn't log three empty UUID columns.
func (f Fields) entry() *logrus.Entry {
	fields := logrus.Fields{}
	if f.Component != "" {
		fields["component"] = f.Component
	}
	if f.TrackerID != uuid.Nil {
		fields["tracker_id"] = f.TrackerID
	}
	if f.JobID != uuid.Nil {
		fields["job_id"] = f.JobID
	}
	if f.TaskID != uuid.Nil {
		fields["task_id"] = f.TaskID
	}
	return logger.WithFields(fields)
}

// Logger is the minimal interface every component (scheduler, orchestrator,
// task queue, sandbox) depends on, rather than reaching for GetLogger
// directly — satisfied by *Scoped below.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Scoped is a Logger bound to a fixed set of structured Fields.
type Scoped struct {
	fields Fields
}

// For returns a Scoped logger carrying fields on every call.
func For(fields Fields) *Scoped {
	return &Scoped{fields: fields}
}

func (s *Scoped) Debugf(format string, args ...interface{}) { s.fields.entry().Debugf(format, args...) }
func (s *Scoped) Infof(format string, args ...interface{})  { s.fields.entry().Infof(format, args...) }
func (s *Scoped) Warnf(format string, args ...interface{})  { s.fields.entry().Warnf(format, args...) }
func (s *Scoped) Errorf(format string, args ...interface{}) { s.fields.entry().Errorf(format, args...) }
