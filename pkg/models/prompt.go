package models

// PendingPrompt is user input addressed to a session that is already claimed
// or running. It rides a per-session FIFO side-channel and is injected
// mid-session by the worker; it is never turned into new queued work, which
// would lose the provider session.
type PendingPrompt struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	IssueID   string `json:"issue_id"`
	Prompt    string `json:"prompt"`
	User      string `json:"user,omitempty"`
	CreatedAt int64  `json:"created_at"`
}
