package models

// QueuedWork is one queue entry: everything a worker needs to start an agent
// session against an issue. Ordering in the global queue is priority asc, then
// QueuedAt asc (FIFO within a priority).
type QueuedWork struct {
	SessionID         string   `json:"session_id"`
	IssueID           string   `json:"issue_id"`
	IssueIdentifier   string   `json:"issue_identifier"`
	Priority          int      `json:"priority"`
	QueuedAt          int64    `json:"queued_at"`
	Prompt            string   `json:"prompt"`
	ProviderSessionID string   `json:"provider_session_id,omitempty"`
	WorkType          WorkType `json:"work_type"`
	ProjectName       string   `json:"project_name,omitempty"`
}

// WorkFromSession rebuilds the queue payload for a pending session. The queue
// itself stores only session IDs; the session record is the payload of record.
func WorkFromSession(rec *SessionRecord) *QueuedWork {
	return &QueuedWork{
		SessionID:         rec.SessionID,
		IssueID:           rec.IssueID,
		IssueIdentifier:   rec.IssueIdentifier,
		Priority:          rec.Priority,
		QueuedAt:          rec.QueuedAt,
		Prompt:            rec.PromptContext,
		ProviderSessionID: rec.ProviderSessionID,
		WorkType:          rec.WorkType,
		ProjectName:       rec.ProjectName,
	}
}

// IssueLock is the exclusive lease one session holds on an issue while its
// work is queued or running. Exactly one lock per issue; competing dispatches
// park behind it.
type IssueLock struct {
	IssueID    string   `json:"issue_id"`
	SessionID  string   `json:"session_id"`
	WorkType   WorkType `json:"work_type"`
	AcquiredAt int64    `json:"acquired_at"`
	TTLMs      int64    `json:"ttl_ms"`
}

// DispatchResult reports what happened to a dispatch request.
type DispatchResult struct {
	// Dispatched is true when the work entered the global queue.
	Dispatched bool `json:"dispatched"`
	// Parked is true when the issue's lock was held and the work was parked.
	Parked bool `json:"parked"`
	// Replaced is true when parking displaced an older entry of the same work type.
	Replaced bool `json:"replaced"`
	// SessionID identifies the session created (or parked) for this work.
	SessionID string `json:"session_id,omitempty"`
}

// ClaimReason explains a refused claim.
type ClaimReason string

const (
	// ClaimReasonExpired means the queue entry was gone (already claimed or reaped).
	ClaimReasonExpired ClaimReason = "expired"
	// ClaimReasonWrongStatus means the session was not pending.
	ClaimReasonWrongStatus ClaimReason = "wrong_status"
	// ClaimReasonTransientFailure means a storage race; the work was re-queued
	// and may be claimed again.
	ClaimReasonTransientFailure ClaimReason = "transient_failure"
)

// ClaimResult reports the outcome of a claim attempt. Claimed and Reason are
// mutually exclusive.
type ClaimResult struct {
	Claimed bool           `json:"claimed"`
	Session *SessionRecord `json:"session,omitempty"`
	Work    *QueuedWork    `json:"work,omitempty"`
	Reason  ClaimReason    `json:"reason,omitempty"`
}
