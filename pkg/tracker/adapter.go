// Package tracker defines the contract between the governor and the issue
// tracking platform, plus the pieces of it that are platform-neutral: webhook
// payload normalization, the poll sweep, and the rate-limit/breaker guard
// wrapper. A concrete platform client implements Adapter; everything else in
// the system talks to issues only through this package and stays ignorant of
// which tracker is on the other end.
package tracker

import (
	"context"

	"github.com/codeready-toolchain/governor/pkg/models"
)

// ScanResult is the outcome of a project scan that also resolves parent
// relationships. ParentIDs holds the IDs of issues that have at least one
// child, so snapshots can be routed to coordination work instead of solo work.
type ScanResult struct {
	Issues    []*models.Issue
	ParentIDs map[string]bool
}

// Adapter is implemented by a platform client. All scan methods must return
// fully resolved issues in a single upstream call; per-issue follow-up
// requests would not survive the quota budget.
type Adapter interface {
	// NormalizeWebhookEvent maps one raw webhook payload into zero or more
	// events. A nil slice with a nil error means the payload was a recognized
	// shape the governor does not act on. A non-nil error means the payload
	// could not be parsed at all.
	NormalizeWebhookEvent(payload []byte) ([]models.Event, error)

	// ScanProjectIssues returns every non-terminal issue in the project.
	ScanProjectIssues(ctx context.Context, project string) ([]*models.Issue, error)

	// ScanProjectIssuesWithParents is ScanProjectIssues plus parent
	// resolution, for callers that need to distinguish coordination work.
	ScanProjectIssuesWithParents(ctx context.Context, project string) (*ScanResult, error)

	// TransitionIssue moves an issue to the given status on the platform.
	TransitionIssue(ctx context.Context, issueID string, to models.IssueStatus) error
}
