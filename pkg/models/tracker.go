package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TargetKind discriminates the tagged Target union.
type TargetKind string

const (
	TargetKindPage TargetKind = "page"
	TargetKindAPI  TargetKind = "api"
)

// PageTarget observes a resource through the browser worker.
type PageTarget struct {
	Extractor                 string          `json:"extractor"`
	Params                    json.RawMessage `json:"params,omitempty"`
	Engine                    string          `json:"engine,omitempty"` // "chromium" | "firefox"
	UserAgent                 string          `json:"userAgent,omitempty"`
	AcceptInvalidCertificates bool            `json:"acceptInvalidCertificates,omitempty"`
}

// APIRequest is one HTTP request in an api target's ordered request list.
type APIRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// APITarget observes a resource through one or more chained HTTP requests.
type APITarget struct {
	Requests     []APIRequest `json:"requests"`
	Configurator string       `json:"configurator,omitempty"`
	Extractor    string       `json:"extractor,omitempty"`
}

// Target is the tagged variant page{...} | api{...} of spec.md §3.
type Target struct {
	Kind TargetKind
	Page *PageTarget
	API  *APITarget
}

func (t Target) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case TargetKindPage:
		return json.Marshal(struct {
			Type string `json:"type"`
			*PageTarget
		}{"page", t.Page})
	case TargetKindAPI:
		return json.Marshal(struct {
			Type string `json:"type"`
			*APITarget
		}{"api", t.API})
	default:
		return nil, fmt.Errorf("target: unknown kind %q", t.Kind)
	}
}

func (t *Target) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	switch TargetKind(tagged.Type) {
	case TargetKindPage:
		var p PageTarget
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		t.Kind, t.Page, t.API = TargetKindPage, &p, nil
	case TargetKindAPI:
		var a APITarget
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		t.Kind, t.API, t.Page = TargetKindAPI, &a, nil
	default:
		return fmt.Errorf("target: unknown type %q", tagged.Type)
	}
	return nil
}

// JobConfig declares the cron schedule and retry policy for a tracker's job.
type JobConfig struct {
	Schedule      string         `json:"schedule"`
	RetryStrategy *RetryStrategy `json:"retryStrategy,omitempty"`
}

// TrackerConfig is the user-tunable knobs of spec.md §3's config{...}.
type TrackerConfig struct {
	RevisionsRetained int        `json:"revisionsRetained"`
	TimeoutMS         int64      `json:"timeout"`
	Job               *JobConfig `json:"job,omitempty"`
}

// Timeout returns the configured per-tick timeout, defaulting to 30s.
func (c TrackerConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

const DefaultRevisionsRetained = 10

// Tracker is the persistent user-declared observation unit of spec.md §3.
type Tracker struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	Name      string        `json:"name" db:"name"`
	Tags      []string      `json:"tags" db:"tags"`
	Target    Target        `json:"target" db:"-"`
	Actions   []Action      `json:"actions" db:"-"`
	Config    TrackerConfig `json:"config" db:"-"`
	Enabled   bool          `json:"enabled" db:"enabled"`
	JobNeeded bool          `json:"jobNeeded" db:"job_needed"`
	JobID     *uuid.UUID    `json:"jobId,omitempty" db:"job_id"`
	CreatedAt time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time     `json:"updatedAt" db:"updated_at"`
}

// DeriveJobNeeded implements the invariant job_needed ⇔ config.job is set ∧ enabled.
func (t *Tracker) DeriveJobNeeded() {
	t.JobNeeded = t.Config.Job != nil && t.Enabled
}
