package tracker

import (
	"context"

	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/upstream"
)

// Guarded wraps an Adapter so every upstream RPC goes through the shared
// rate limiter and circuit breaker. Normalization is local computation and
// passes straight through. Guarded satisfies Adapter itself, so it can be
// dropped in wherever the bare client would go.
type Guarded struct {
	adapter Adapter
	guard   *upstream.Guard
}

func NewGuarded(adapter Adapter, guard *upstream.Guard) *Guarded {
	if adapter == nil {
		panic("adapter is required")
	}
	if guard == nil {
		panic("guard is required")
	}
	return &Guarded{adapter: adapter, guard: guard}
}

func (g *Guarded) NormalizeWebhookEvent(payload []byte) ([]models.Event, error) {
	return g.adapter.NormalizeWebhookEvent(payload)
}

func (g *Guarded) ScanProjectIssues(ctx context.Context, project string) ([]*models.Issue, error) {
	var issues []*models.Issue
	err := g.guard.Do(ctx, "scan_issues", func(ctx context.Context) error {
		var err error
		issues, err = g.adapter.ScanProjectIssues(ctx, project)
		return err
	})
	if err != nil {
		return nil, err
	}
	return issues, nil
}

func (g *Guarded) ScanProjectIssuesWithParents(ctx context.Context, project string) (*ScanResult, error) {
	var res *ScanResult
	err := g.guard.Do(ctx, "scan_issues_with_parents", func(ctx context.Context) error {
		var err error
		res, err = g.adapter.ScanProjectIssuesWithParents(ctx, project)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (g *Guarded) TransitionIssue(ctx context.Context, issueID string, to models.IssueStatus) error {
	return g.guard.Do(ctx, "transition_issue", func(ctx context.Context) error {
		return g.adapter.TransitionIssue(ctx, issueID, to)
	})
}
