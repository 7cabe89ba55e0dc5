package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/retrack-dev/retrack/pkg/errkind"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/sandbox"
)

// maxRedirects bounds the "follow redirects up to a fixed bound" rule of
// spec.md §4.3.
const maxRedirects = 10

// httpResponse is the response shape exposed to configurator/extractor
// scripts, and accumulated across an api target's request chain.
type httpResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    interface{}       `json:"body"`
}

// APITarget is the API Target Executor of spec.md §4.3.
type APITarget struct {
	HTTPClient *http.Client
}

// NewAPITarget returns an APITarget with redirect-bounded default client.
func NewAPITarget() *APITarget {
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return &APITarget{HTTPClient: client}
}

func (e *APITarget) Execute(ctx context.Context, tracker models.Tracker, previousContent interface{}) (Result, error) {
	if tracker.Target.Kind != models.TargetKindAPI || tracker.Target.API == nil {
		return Result{}, errkind.Terminalf("api executor: tracker %s has no api target", tracker.ID)
	}
	target := tracker.Target.API
	if len(target.Requests) == 0 {
		return Result{}, errkind.Validationf("api executor: tracker %s declares zero requests", tracker.ID)
	}

	requests := make([]models.APIRequest, len(target.Requests))
	copy(requests, target.Requests)
	var responses []httpResponse

	for i := 0; i < len(requests); i++ {
		req := requests[i]

		if target.Configurator != "" {
			outcome, err := runConfigurator(target.Configurator, previousContent, requests, responses, tracker.Config.Timeout())
			if err != nil {
				return Result{}, err
			}
			if outcome.shortCircuit != nil {
				responses = append(responses, *outcome.shortCircuit)
				continue
			}
			if outcome.overrideRequest != nil {
				req = *outcome.overrideRequest
			}
		}

		resp, err := e.doRequest(ctx, req)
		if err != nil {
			return Result{}, err
		}
		responses = append(responses, resp)
	}

	last := responses[len(responses)-1]
	if target.Extractor != "" {
		content, err := runExtractor(target.Extractor, last, previousContent, tracker.Config.Timeout())
		if err != nil {
			return Result{}, err
		}
		return Result{Content: content}, nil
	}
	return Result{Content: last.Body}, nil
}

func (e *APITarget) doRequest(ctx context.Context, req models.APIRequest) (httpResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return httpResponse{}, errkind.Terminalf("api executor: build request: %v", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := e.HTTPClient.Do(httpReq)
	if err != nil {
		return httpResponse{}, errkind.Transientf("api executor: request to %s failed: %v", req.URL, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpResponse{}, errkind.Transientf("api executor: read response body: %v", err)
	}

	if resp.StatusCode >= 500 {
		return httpResponse{}, errkind.Transientf("api executor: %s returned %d", req.URL, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return httpResponse{}, errkind.Terminalf("api executor: %s returned %d", req.URL, resp.StatusCode)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return httpResponse{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    decodeBody(rawBody, resp.Header.Get("Content-Type")),
	}, nil
}

// decodeBody implements spec.md §4.3's "the last response body parsed as
// JSON (or raw bytes base64-encoded)" fallback content rule.
func decodeBody(raw []byte, contentType string) interface{} {
	if len(raw) == 0 {
		return nil
	}
	if strings.Contains(contentType, "json") || json.Valid(raw) {
		var v interface{}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err == nil {
			return v
		}
	}
	return base64.StdEncoding.EncodeToString(raw)
}

type configuratorOutcome struct {
	overrideRequest *models.APIRequest
	shortCircuit    *httpResponse
}

// configuratorContext is the { previousContent, requests, responses }
// shape a configurator script is called with (spec.md §4.3 step 1).
type configuratorContext struct {
	PreviousContent interface{}         `json:"previousContent"`
	Requests        []models.APIRequest `json:"requests"`
	Responses       []httpResponse      `json:"responses"`
}

// configuratorReturn is the { request: {...} } | { response: {...} }
// shape a configurator script may return.
type configuratorReturn struct {
	Request  *models.APIRequest `json:"request"`
	Response *httpResponse      `json:"response"`
}

func runConfigurator(source string, previousContent interface{}, requests []models.APIRequest, responses []httpResponse, timeout time.Duration) (configuratorOutcome, error) {
	ctx := configuratorContext{
		PreviousContent: previousContent,
		Requests:        requests,
		Responses:       responses,
	}
	raw, err := sandbox.Run(sandbox.EntryConfigurator, source, ctx, sandbox.Options{Timeout: timeout})
	if err != nil {
		return configuratorOutcome{}, err
	}
	if raw == nil {
		return configuratorOutcome{}, nil
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return configuratorOutcome{}, errkind.Terminalf("api executor: re-encode configurator result: %v", err)
	}
	var parsed configuratorReturn
	if err := json.Unmarshal(encoded, &parsed); err != nil {
		return configuratorOutcome{}, errkind.Terminalf("api executor: configurator returned an unrecognized shape: %v", err)
	}
	return configuratorOutcome{overrideRequest: parsed.Request, shortCircuit: parsed.Response}, nil
}

// extractorContext is the { body, headers, status, previousContent }
// shape an api-target extractor script is called with (spec.md §4.3 step 3).
type extractorContext struct {
	Body            interface{}       `json:"body"`
	Headers         map[string]string `json:"headers"`
	Status          int               `json:"status"`
	PreviousContent interface{}       `json:"previousContent"`
}

func runExtractor(source string, last httpResponse, previousContent interface{}, timeout time.Duration) (interface{}, error) {
	ctx := extractorContext{
		Body:            last.Body,
		Headers:         last.Headers,
		Status:          last.Status,
		PreviousContent: previousContent,
	}
	return sandbox.Run(sandbox.EntryExtractor, source, ctx, sandbox.Options{Timeout: timeout})
}
