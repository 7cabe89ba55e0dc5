package executor

import (
	"context"

	"github.com/retrack-dev/retrack/pkg/errkind"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/scraper"
)

// PageTarget is the Page Target Executor of spec.md §4.4: it delegates
// entirely to the Scraper Client and returns whatever content value the
// worker produced.
type PageTarget struct {
	Client *scraper.Client
}

// NewPageTarget returns a PageTarget backed by client.
func NewPageTarget(client *scraper.Client) *PageTarget {
	return &PageTarget{Client: client}
}

func (e *PageTarget) Execute(ctx context.Context, tracker models.Tracker, previousContent interface{}) (Result, error) {
	if tracker.Target.Kind != models.TargetKindPage || tracker.Target.Page == nil {
		return Result{}, errkind.Terminalf("page executor: tracker %s has no page target", tracker.ID)
	}
	target := tracker.Target.Page

	req := scraper.Request{
		Extractor:                 target.Extractor,
		ExtractorParams:           target.Params,
		ExtractorBackend:          target.Engine,
		Tags:                      []string{tracker.ID.String()},
		PreviousContent:           previousContent,
		TimeoutMS:                 tracker.Config.Timeout().Milliseconds(),
		UserAgent:                 target.UserAgent,
		AcceptInvalidCertificates: target.AcceptInvalidCertificates,
	}

	content, err := e.Client.Execute(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Result{Content: content}, nil
}
