package models

import "strconv"

// EventSource identifies how an event reached the governor.
type EventSource string

const (
	// SourceWebhook events arrive from the tracker's webhook push.
	SourceWebhook EventSource = "webhook"
	// SourcePoll events are synthesized by the periodic project sweep.
	SourcePoll EventSource = "poll"
	// SourceManual events come from operator actions (tests, admin endpoints).
	SourceManual EventSource = "manual"
)

// EventType discriminates the Event union.
type EventType string

const (
	// EventIssueStatusChanged fires when an issue's workflow state moved.
	EventIssueStatusChanged EventType = "issue-status-changed"
	// EventCommentAdded fires when a comment was posted on an issue.
	EventCommentAdded EventType = "comment-added"
	// EventSessionCompleted fires when an agent session reached an outcome.
	EventSessionCompleted EventType = "session-completed"
	// EventPollSnapshot is the per-issue synthetic event of a poll sweep.
	EventPollSnapshot EventType = "poll-snapshot"
)

// Event is the tagged union consumed by the governor loop. Type selects the
// variant; the variant-specific fields below the common block are set only for
// their own type and zero otherwise.
type Event struct {
	Type      EventType   `json:"type"`
	IssueID   string      `json:"issue_id"`
	Issue     Issue       `json:"issue"`
	Timestamp int64       `json:"timestamp"`
	Source    EventSource `json:"source"`

	// issue-status-changed. PreviousStatus is informational only: webhook
	// payloads carry just a state id, so it is frequently empty. Policy must
	// never branch on it.
	PreviousStatus IssueStatus `json:"previous_status,omitempty"`
	NewStatus      IssueStatus `json:"new_status,omitempty"`

	// comment-added
	CommentID   string `json:"comment_id,omitempty"`
	CommentBody string `json:"comment_body,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	UserName    string `json:"user_name,omitempty"`

	// session-completed
	SessionID string         `json:"session_id,omitempty"`
	Outcome   SessionOutcome `json:"outcome,omitempty"`

	// poll-snapshot
	Project string `json:"project,omitempty"`
}

// DedupKey returns the canonical deduplication key for the event, or "" for
// events that are never deduplicated.
func (e *Event) DedupKey() string {
	switch e.Type {
	case EventIssueStatusChanged:
		return e.IssueID + ":" + string(e.NewStatus)
	case EventCommentAdded:
		return e.IssueID + ":comment:" + e.CommentID
	case EventSessionCompleted:
		return e.SessionID + ":" + string(e.Type) + ":" + strconv.FormatInt(e.Timestamp, 10)
	case EventPollSnapshot:
		// Poll snapshots dedup like status events so an unchanged issue seen
		// by webhook and sweep inside one window is processed once.
		return e.IssueID + ":" + string(e.Issue.Status)
	default:
		return ""
	}
}

// EventEnvelope wraps an event on the bus with its delivery id.
type EventEnvelope struct {
	ID    string `json:"id"`
	Event Event  `json:"event"`
}
