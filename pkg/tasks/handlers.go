package tasks

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/wneessen/go-mail"
)

// NewWebhookHandler implements spec.md §4.6's webhook handler: 2xx is Ok,
// 5xx/network failure is Transient, 4xx is Terminal.
func NewWebhookHandler(client *http.Client) Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, t models.Task) (Outcome, error) {
		payload := t.Type.Webhook
		method := payload.Method
		if method == "" {
			method = http.MethodPost
		}
		req, err := http.NewRequestWithContext(ctx, method, payload.URL, bytes.NewReader([]byte(payload.Body)))
		if err != nil {
			return Terminal, err
		}
		for k, v := range payload.Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return Transient, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return Ok, nil
		case resp.StatusCode >= 500:
			return Transient, httpStatusError(resp.StatusCode)
		default:
			return Terminal, httpStatusError(resp.StatusCode)
		}
	}
}

// SMTPConfig is the transport spec.md §6 enumerates under smtp.*.
type SMTPConfig struct {
	Address  string
	Username string
	Password string
	From     string
}

// NewEmailHandler implements spec.md §4.6's email handler: submits via
// SMTP using wneessen/go-mail (DESIGN.md: ecosystem choice, no pack repo
// sends email). Transport errors are Transient; errors whose text carries
// a permanent SMTP reply code (550-554) are Terminal.
func NewEmailHandler(cfg SMTPConfig) Handler {
	return func(ctx context.Context, t models.Task) (Outcome, error) {
		payload := t.Type.Email

		msg := mail.NewMsg()
		if err := msg.From(cfg.From); err != nil {
			return Terminal, err
		}
		if err := msg.To(payload.To...); err != nil {
			return Terminal, err
		}
		msg.Subject(payload.Subject)
		msg.SetBodyString(mail.TypeTextPlain, payload.Body)

		client, err := mail.NewClient(cfg.Address,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
		if err != nil {
			return Transient, err
		}

		if err := client.DialAndSendWithContext(ctx, msg); err != nil {
			if isPermanentBounce(err) {
				return Terminal, err
			}
			return Transient, err
		}
		return Ok, nil
	}
}

// ServerSink writes structured records to the observability sink (§4.6's
// server_log / log handler target).
type ServerSink interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NewServerLogHandler implements spec.md §4.6's server_log / log handler:
// always Ok, since writing to the local observability sink cannot itself
// fail the task.
func NewServerLogHandler(sink ServerSink) Handler {
	return func(ctx context.Context, t models.Task) (Outcome, error) {
		payload := t.Type.ServerLog
		if payload == nil {
			sink.Infof("server_log task %s (no payload)", t.ID)
			return Ok, nil
		}
		switch payload.Level {
		case "warn":
			sink.Warnf("%s", payload.Message)
		case "error":
			sink.Errorf("%s", payload.Message)
		default:
			sink.Infof("%s", payload.Message)
		}
		return Ok, nil
	}
}

type httpStatusErr struct{ status int }

func (e httpStatusErr) Error() string { return http.StatusText(e.status) }

func httpStatusError(status int) error { return httpStatusErr{status: status} }

// isPermanentBounce reports whether an SMTP error's text contains one of
// the permanent-failure reply codes 550-554, per spec.md §4.6; enhanced
// status codes (5.x.x) are not inspected. go-mail surfaces the underlying
// *textproto/smtp error via Unwrap; this is a best-effort text match since
// the SMTP permanent/transient distinction is carried in free-text reply
// codes rather than a typed Go error in most transports.
func isPermanentBounce(err error) bool {
	msg := err.Error()
	for _, code := range []string{"550", "551", "552", "553", "554"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}
