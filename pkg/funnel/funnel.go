// Package funnel decides what happens to Icebox issues before they reach the
// backlog: trigger a research session, trigger backlog creation, or leave the
// issue alone. The policy is pure; callers supply the governor-side facts it
// cannot derive from the issue snapshot itself.
package funnel

import (
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/governor/pkg/config"
	"github.com/codeready-toolchain/governor/pkg/models"
)

// IssueState carries the governor-side facts about an issue that the policy
// needs beyond the issue snapshot: session activity, hold state, and which
// processing phases have already run during this visit to Icebox.
type IssueState struct {
	HasActiveSession         bool
	Held                     bool
	ResearchCompleted        bool
	BacklogCreationCompleted bool
}

// Policy evaluates the top-of-funnel rules against one configuration.
type Policy struct {
	cfg *config.TopOfFunnelConfig
}

func NewPolicy(cfg *config.TopOfFunnelConfig) *Policy {
	return &Policy{cfg: cfg}
}

// IsWellResearched reports whether a description is substantial enough to
// decompose into backlog work: long enough, and structured with at least one
// of the recognized headers.
func (p *Policy) IsWellResearched(description string) bool {
	if len(description) < p.cfg.MinResearchedDescriptionLength {
		return false
	}
	for _, header := range p.cfg.ResearchedHeaders {
		if strings.Contains(description, header) {
			return true
		}
	}
	return false
}

// NeedsResearch reports whether an issue should get a research session: an
// Icebox leaf issue that is either thin or explicitly labeled for research,
// and old enough that a human has had a chance to fill it in first.
func (p *Policy) NeedsResearch(issue *models.Issue, now time.Time) bool {
	if issue.Status != models.StatusIcebox || issue.IsParent {
		return false
	}
	if p.IsWellResearched(issue.Description) && p.researchRequestLabel(issue) == "" {
		return false
	}
	age := now.Sub(time.UnixMilli(issue.CreatedAt))
	return age >= p.cfg.IceboxResearchDelay
}

// IsReadyForBacklogCreation reports whether an Icebox leaf issue is
// substantial enough to decompose into backlog work.
func (p *Policy) IsReadyForBacklogCreation(issue *models.Issue) bool {
	return issue.Status == models.StatusIcebox &&
		!issue.IsParent &&
		p.IsWellResearched(issue.Description)
}

// DetermineAction runs the full policy for one issue.
func (p *Policy) DetermineAction(issue *models.Issue, state IssueState, now time.Time) models.AgentAction {
	switch {
	case issue.Status != models.StatusIcebox:
		return models.AgentAction{Type: models.ActionNone, Reason: fmt.Sprintf("issue is in %s, not Icebox", issue.Status)}
	case state.HasActiveSession:
		return models.AgentAction{Type: models.ActionNone, Reason: "issue already has an active session"}
	case state.Held:
		return models.AgentAction{Type: models.ActionNone, Reason: "issue is held by operator directive"}
	case issue.IsParent:
		return models.AgentAction{Type: models.ActionNone, Reason: "parent issues are decomposed through their children"}
	}

	needsResearch := p.NeedsResearch(issue, now)
	if needsResearch && p.cfg.AutoResearchEnabled() && !state.ResearchCompleted {
		return models.AgentAction{Type: models.ActionTriggerResearch, Reason: p.researchReason(issue)}
	}

	ready := p.IsReadyForBacklogCreation(issue)
	if ready && p.cfg.AutoBacklogCreationEnabled() && !state.BacklogCreationCompleted {
		return models.AgentAction{Type: models.ActionTriggerBacklogCreation, Reason: "description is well-researched and ready to decompose"}
	}

	switch {
	case needsResearch && !p.cfg.AutoResearchEnabled():
		return models.AgentAction{Type: models.ActionNone, Reason: "auto-research is disabled"}
	case needsResearch && state.ResearchCompleted:
		return models.AgentAction{Type: models.ActionNone, Reason: "research phase already completed"}
	case ready && !p.cfg.AutoBacklogCreationEnabled():
		return models.AgentAction{Type: models.ActionNone, Reason: "auto-backlog-creation is disabled"}
	case ready && state.BacklogCreationCompleted:
		return models.AgentAction{Type: models.ActionNone, Reason: "backlog creation phase already completed"}
	case !p.IsWellResearched(issue.Description):
		return models.AgentAction{Type: models.ActionNone, Reason: "description lacks sufficient detail and the research delay has not elapsed"}
	default:
		return models.AgentAction{Type: models.ActionNone, Reason: "no top-of-funnel action applies"}
	}
}

// researchReason explains why research was triggered, for the session prompt
// and the audit log.
func (p *Policy) researchReason(issue *models.Issue) string {
	if label := p.researchRequestLabel(issue); label != "" {
		return fmt.Sprintf("research requested via label %q", label)
	}
	return "description lacks sufficient detail"
}

func (p *Policy) researchRequestLabel(issue *models.Issue) string {
	for _, label := range p.cfg.ResearchRequestLabels {
		if issue.HasLabel(label) {
			return label
		}
	}
	return ""
}
