// Package actions implements the Action Pipeline of spec.md §4.2 step 5:
// formats a tracker run's outcome and dispatches one Task per configured
// action (email / webhook / log / server_log).
//
// Grounded on pkg/sandbox (formatter scripts) and pkg/models (the Action/
// TaskType tagged unions); the task construction and enqueue step is
// grounded on the teacher's (ignatij/goflow) TaskService's "build then
// persist" shape.
package actions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/retrack-dev/retrack/pkg/errkind"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/sandbox"
	"github.com/retrack-dev/retrack/pkg/tasks"
)

// formatterContext is the { action, previousContent, newContent, tracker }
// shape a formatter script is called with, per spec.md §4.2 step 5.
type formatterContext struct {
	Action          models.Action   `json:"action"`
	PreviousContent interface{}     `json:"previousContent"`
	NewContent      interface{}     `json:"newContent"`
	Tracker         models.Tracker  `json:"tracker"`
}

// formatterResult is the flat { body?, subject?, method?, headers? }
// shape a formatter may return (a bare string is taken as body): body is
// the message (email body, webhook body, or log message), subject
// overrides an email's subject, and method/headers override a webhook's
// request. Fields under any other key, such as a nested request object,
// are ignored.
type formatterResult struct {
	Body    string            `json:"body"`
	Subject string            `json:"subject"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
}

// Pipeline is the Action Pipeline.
type Pipeline struct {
	queue *tasks.Queue
}

// New returns a Pipeline enqueuing onto queue.
func New(queue *tasks.Queue) *Pipeline {
	return &Pipeline{queue: queue}
}

// Dispatch implements spec.md §4.2 step 5: for each of tracker's
// configured actions, in declaration order, run its formatter (if any)
// and enqueue one Task with scheduled_at=now, tags=[tracker_id].
func (p *Pipeline) Dispatch(tracker models.Tracker, previousContent, newContent interface{}) error {
	var firstErr error
	for _, action := range tracker.Actions {
		task, err := p.buildTask(tracker, action, previousContent, newContent)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, err := p.queue.Enqueue(task); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DispatchDiagnostic implements spec.md §4.2/§7's "TerminalFail emits
// server_log and advances": it enqueues a single server_log task
// carrying the tick's classified failure, independent of the tracker's
// configured actions.
func (p *Pipeline) DispatchDiagnostic(tracker models.Tracker, cause error) error {
	task := models.Task{
		ID: uuid.Must(uuid.NewV7()),
		Type: models.TaskType{
			Kind: models.TaskTypeKindServerLog,
			ServerLog: &models.ServerLogPayload{
				Level:   "error",
				Message: fmt.Sprintf("tracker %s tick failed: %v", tracker.ID, cause),
			},
		},
		Tags:        []string{tracker.ID.String()},
		ScheduledAt: time.Now().UTC(),
	}
	_, err := p.queue.Enqueue(task)
	return err
}

func (p *Pipeline) buildTask(tracker models.Tracker, action models.Action, previousContent, newContent interface{}) (models.Task, error) {
	formatted, err := p.runFormatter(tracker, action, previousContent, newContent)
	if err != nil {
		return models.Task{}, err
	}

	task := models.Task{
		ID:          uuid.Must(uuid.NewV7()),
		Tags:        []string{tracker.ID.String()},
		ScheduledAt: time.Now().UTC(),
	}

	switch action.Kind {
	case models.ActionKindEmail:
		subject := formatted.Subject
		if subject == "" {
			subject = action.Email.Subject
		}
		task.Type = models.TaskType{Kind: models.TaskTypeKindEmail, Email: &models.EmailPayload{
			To:      action.Email.To,
			Subject: subject,
			Body:    formatted.Body,
		}}
	case models.ActionKindWebhook:
		method := formatted.Method
		if method == "" {
			method = action.Webhook.Method
		}
		if method == "" {
			method = "POST"
		}
		headers := action.Webhook.Headers
		for k, v := range formatted.Headers {
			if headers == nil {
				headers = map[string]string{}
			}
			headers[k] = v
		}
		body := formatted.Body
		if body == "" {
			body = defaultWebhookBody(tracker, newContent)
		}
		task.Type = models.TaskType{Kind: models.TaskTypeKindWebhook, Webhook: &models.WebhookPayload{
			URL:     action.Webhook.URL,
			Method:  method,
			Headers: headers,
			Body:    body,
		}}
	case models.ActionKindServerLog, models.ActionKindLog:
		task.Type = models.TaskType{Kind: models.TaskTypeKindServerLog, ServerLog: &models.ServerLogPayload{
			Level:   "info",
			Message: defaultLogMessage(tracker, formatted.Body),
		}}
	default:
		return models.Task{}, errkind.Terminalf("actions: unknown action kind %q", action.Kind)
	}
	return task, nil
}

func (p *Pipeline) runFormatter(tracker models.Tracker, action models.Action, previousContent, newContent interface{}) (formatterResult, error) {
	source := formatterSource(action)
	if source == "" {
		return formatterResult{}, nil
	}

	ctx := formatterContext{
		Action:          action,
		PreviousContent: previousContent,
		NewContent:      newContent,
		Tracker:         tracker,
	}
	raw, err := sandbox.Run(sandbox.EntryFormatter, source, ctx, sandbox.Options{Timeout: tracker.Config.Timeout()})
	if err != nil {
		return formatterResult{}, err
	}
	if raw == nil {
		return formatterResult{}, nil
	}

	switch v := raw.(type) {
	case string:
		return formatterResult{Body: v}, nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return formatterResult{}, errkind.Terminalf("actions: re-encode formatter result: %v", err)
		}
		var result formatterResult
		if err := json.Unmarshal(encoded, &result); err != nil {
			return formatterResult{}, errkind.Terminalf("actions: formatter returned an unrecognized shape: %v", err)
		}
		return result, nil
	}
}

func formatterSource(action models.Action) string {
	switch action.Kind {
	case models.ActionKindEmail:
		return action.Email.Formatter
	case models.ActionKindWebhook:
		return action.Webhook.Formatter
	default:
		return ""
	}
}

func defaultWebhookBody(tracker models.Tracker, newContent interface{}) string {
	encoded, err := json.Marshal(map[string]interface{}{
		"trackerId": tracker.ID,
		"trackerName": tracker.Name,
		"content":   newContent,
	})
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func defaultLogMessage(tracker models.Tracker, body string) string {
	if body != "" {
		return body
	}
	return fmt.Sprintf("tracker %s (%s) produced a new revision", tracker.Name, tracker.ID)
}
