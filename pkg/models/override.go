package models

// Directive is a human override parsed from an issue comment.
type Directive string

const (
	// DirectiveHold suppresses all dispatches for the issue until cleared.
	DirectiveHold Directive = "hold"
	// DirectiveResume clears a hold and re-evaluates the issue immediately.
	DirectiveResume Directive = "resume"
	// DirectiveSkipQA suppresses qa and qa-coordination dispatches.
	DirectiveSkipQA Directive = "skip-qa"
	// DirectiveDecompose requests splitting a rejected issue into sub-issues.
	DirectiveDecompose Directive = "decompose"
	// DirectiveReassign invalidates the active worker binding.
	DirectiveReassign Directive = "reassign"
	// DirectivePriority overrides the work-type priority table for the issue.
	DirectivePriority Directive = "priority"
)

// PriorityLevel is the argument of a priority directive.
type PriorityLevel string

const (
	// PriorityHigh queues ahead of all table-derived priorities.
	PriorityHigh PriorityLevel = "high"
	// PriorityMedium queues with the mid-table priorities.
	PriorityMedium PriorityLevel = "medium"
	// PriorityLow queues behind all table-derived priorities.
	PriorityLow PriorityLevel = "low"
)

// IsValid reports whether the level is one of the closed set.
func (p PriorityLevel) IsValid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// QueuePriority maps the level onto the numeric queue scale (lower = earlier).
func (p PriorityLevel) QueuePriority() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 5
	case PriorityLow:
		return 9
	default:
		return 5
	}
}

// Comment is the slice of a tracker comment the override engine needs.
type Comment struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	UserID    string `json:"user_id,omitempty"`
	UserName  string `json:"user_name,omitempty"`
	IsBot     bool   `json:"is_bot,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// OverrideRecord is the persisted override state for an issue, one per issue,
// written by the override engine when a directive comment is parsed.
type OverrideRecord struct {
	IssueID   string        `json:"issue_id"`
	Directive Directive     `json:"directive"`
	CommentID string        `json:"comment_id"`
	UserID    string        `json:"user_id,omitempty"`
	Timestamp int64         `json:"timestamp"`
	Reason    string        `json:"reason,omitempty"`
	Priority  PriorityLevel `json:"priority,omitempty"`
}
