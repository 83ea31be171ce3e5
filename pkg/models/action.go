package models

// ActionType is what the policy layer decided to do about an issue.
type ActionType string

const (
	// ActionNone means leave the issue alone.
	ActionNone ActionType = "none"
	// ActionTriggerResearch dispatches a research session.
	ActionTriggerResearch ActionType = "trigger-research"
	// ActionTriggerBacklogCreation dispatches a decomposition session.
	ActionTriggerBacklogCreation ActionType = "trigger-backlog-creation"
	// ActionTriggerDevelopment dispatches a development session.
	ActionTriggerDevelopment ActionType = "trigger-development"
	// ActionTriggerQA dispatches a verification session.
	ActionTriggerQA ActionType = "trigger-qa"
	// ActionTriggerAcceptance dispatches an acceptance session.
	ActionTriggerAcceptance ActionType = "trigger-acceptance"
	// ActionTriggerRefinement dispatches a refinement session.
	ActionTriggerRefinement ActionType = "trigger-refinement"
)

// AgentAction is a policy decision plus the human-readable reason behind it.
// Reason strings surface in logs and the public stats view, so they stay
// stable enough to grep for.
type AgentAction struct {
	Type   ActionType `json:"type"`
	Reason string     `json:"reason,omitempty"`
}

// IssueContext is the per-issue state snapshot gathered before every
// evaluation. One gather per event; never cached across events.
type IssueContext struct {
	HasActiveSession         bool   `json:"has_active_session"`
	IsWithinCooldown         bool   `json:"is_within_cooldown"`
	IsParentIssue            bool   `json:"is_parent_issue"`
	IsHeld                   bool   `json:"is_held"`
	ResearchCompleted        bool   `json:"research_completed"`
	BacklogCreationCompleted bool   `json:"backlog_creation_completed"`
	WorkflowStrategy         string `json:"workflow_strategy,omitempty"`
}
