package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskTypeKind discriminates the tagged TaskType union of spec.md §3.
type TaskTypeKind string

const (
	TaskTypeKindEmail     TaskTypeKind = "email"
	TaskTypeKindWebhook   TaskTypeKind = "webhook"
	TaskTypeKindServerLog TaskTypeKind = "server_log"
)

// EmailPayload is the fully-formatted content of an email task.
type EmailPayload struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// WebhookPayload is the fully-formatted content of a webhook task.
type WebhookPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// ServerLogPayload is a structured diagnostic record, used both for the
// `server_log` action and for dead-lettered tasks (spec.md §4.6).
type ServerLogPayload struct {
	Level   string          `json:"level"`
	Message string          `json:"message"`
	Fields  json.RawMessage `json:"fields,omitempty"`
}

// TaskType is the tagged variant email{} | webhook{} | server_log{} of spec.md §3.
type TaskType struct {
	Kind      TaskTypeKind
	Email     *EmailPayload
	Webhook   *WebhookPayload
	ServerLog *ServerLogPayload
}

func (t TaskType) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case TaskTypeKindEmail:
		return json.Marshal(struct {
			Type string `json:"type"`
			*EmailPayload
		}{"email", t.Email})
	case TaskTypeKindWebhook:
		return json.Marshal(struct {
			Type string `json:"type"`
			*WebhookPayload
		}{"webhook", t.Webhook})
	case TaskTypeKindServerLog:
		return json.Marshal(struct {
			Type string `json:"type"`
			*ServerLogPayload
		}{"server_log", t.ServerLog})
	default:
		return nil, fmt.Errorf("taskType: unknown kind %q", t.Kind)
	}
}

func (t *TaskType) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	switch TaskTypeKind(tagged.Type) {
	case TaskTypeKindEmail:
		var e EmailPayload
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		*t = TaskType{Kind: TaskTypeKindEmail, Email: &e}
	case TaskTypeKindWebhook:
		var w WebhookPayload
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*t = TaskType{Kind: TaskTypeKindWebhook, Webhook: &w}
	case TaskTypeKindServerLog:
		var s ServerLogPayload
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = TaskType{Kind: TaskTypeKindServerLog, ServerLog: &s}
	default:
		return fmt.Errorf("taskType: unknown type %q", tagged.Type)
	}
	return nil
}

// DeadLetterTag marks a task re-emitted as server_log after retry exhaustion.
const DeadLetterTag = "retrack:dead-letter"

// Task is a durable deferred side-effect (spec.md §3).
type Task struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Type         TaskType  `json:"type" db:"-"`
	Tags         []string  `json:"tags" db:"tags"`
	ScheduledAt  time.Time `json:"scheduledAt" db:"scheduled_at"`
	RetryAttempt int       `json:"retryAttempt" db:"retry_attempt"`
}

// HasTag reports whether the task carries the given tag.
func (t Task) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if tg == tag {
			return true
		}
	}
	return false
}
