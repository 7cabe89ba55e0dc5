// Package scraper implements the Scraper Client of spec.md §4.4: a typed
// HTTP client to the out-of-process browser worker, which itself is
// explicitly out of scope for this core (spec.md §1) — only its JSON
// request/response contract is specified here.
//
// Built on the standard library net/http, per DESIGN.md: the worker is a
// narrow, internal-only POST/JSON contract and no pack repo wraps a
// sibling-service client with a third-party HTTP client library.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/retrack-dev/retrack/pkg/errkind"
)

// Request is the body of POST /api/web_page/execute (spec.md §4.4).
type Request struct {
	Extractor                 string          `json:"extractor"`
	ExtractorParams           json.RawMessage `json:"extractorParams,omitempty"`
	ExtractorBackend          string          `json:"extractorBackend,omitempty"`
	Tags                      []string        `json:"tags,omitempty"`
	PreviousContent           interface{}     `json:"previousContent,omitempty"`
	TimeoutMS                 int64           `json:"timeout"`
	UserAgent                 string          `json:"userAgent,omitempty"`
	AcceptInvalidCertificates bool            `json:"acceptInvalidCertificates,omitempty"`
}

// errorEnvelope is the non-200 error body of spec.md §4.4.
type errorEnvelope struct {
	Message string `json:"message"`
}

// Client talks to the web-scraper worker.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Client targeting the worker's base URL (components.web_scraper_url
// in the enumerated config of spec.md §6).
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// Execute submits req to the worker and returns its canonicalized JSON
// result, or a classified error: 4xx becomes Terminal (or ScriptTimeout
// when the message matches the worker's stable timeout wording, or
// ScriptForbiddenImport for its sandbox-violation wording); 5xx and
// network failures become Transient, per spec.md §4.4.
func (c *Client) Execute(ctx context.Context, req Request) (interface{}, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errkind.Terminalf("scraper: marshal request: %v", err)
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/api/web_page/execute", bytes.NewReader(body))
	if err != nil {
		return nil, errkind.Terminalf("scraper: build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errkind.Transientf("scraper: request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Transientf("scraper: read response: %v", err)
	}

	if resp.StatusCode >= 500 {
		return nil, errkind.Transientf("scraper: worker fault (%d): %s", resp.StatusCode, string(respBody))
	}
	if resp.StatusCode >= 400 {
		return nil, classifyClientError(resp.StatusCode, respBody)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errkind.Transientf("scraper: unexpected status %d", resp.StatusCode)
	}

	var value interface{}
	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return nil, errkind.Terminalf("scraper: decode response: %v", err)
	}
	return value, nil
}

func classifyClientError(status int, body []byte) error {
	var env errorEnvelope
	_ = json.Unmarshal(body, &env)
	msg := env.Message
	if msg == "" {
		msg = fmt.Sprintf("worker returned %d", status)
	}
	switch {
	case isTimeoutMessage(msg):
		return errkind.Classify(fmt.Errorf("scraper: %s", msg), errkind.ScriptTimeout)
	case isForbiddenImportMessage(msg):
		return errkind.Classify(fmt.Errorf("scraper: %s", msg), errkind.ScriptForbiddenImport)
	default:
		return errkind.Terminalf("scraper: %s", msg)
	}
}

// isTimeoutMessage matches the worker's stable wording from spec.md §4.4:
// "execution was terminated due to timeout Xms".
func isTimeoutMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "execution was terminated due to timeout")
}

func isForbiddenImportMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "forbidden import") || strings.Contains(lower, "disallowed module")
}
