package models

import (
	"strings"

	"github.com/google/uuid"
)

// SessionStatus is a session's position in its lifecycle. Transitions are
// strictly forward; terminal statuses are absorbing.
type SessionStatus string

const (
	// SessionStatusPending is queued, waiting for a worker to claim it.
	SessionStatusPending SessionStatus = "pending"
	// SessionStatusClaimed is assigned to a worker that has not started it yet.
	SessionStatusClaimed SessionStatus = "claimed"
	// SessionStatusRunning has an agent process executing.
	SessionStatusRunning SessionStatus = "running"
	// SessionStatusFinalizing is wrapping up (pushing results upstream).
	SessionStatusFinalizing SessionStatus = "finalizing"
	// SessionStatusCompleted finished successfully. Terminal.
	SessionStatusCompleted SessionStatus = "completed"
	// SessionStatusFailed finished unsuccessfully. Terminal.
	SessionStatusFailed SessionStatus = "failed"
	// SessionStatusStopped was cancelled by an operator or stop signal. Terminal.
	SessionStatusStopped SessionStatus = "stopped"
)

// IsTerminal reports whether the status is absorbing.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusStopped:
		return true
	default:
		return false
	}
}

// IsValid reports whether the status is one of the closed set.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusPending, SessionStatusClaimed, SessionStatusRunning,
		SessionStatusFinalizing, SessionStatusCompleted, SessionStatusFailed,
		SessionStatusStopped:
		return true
	default:
		return false
	}
}

// rank orders the non-terminal lattice for forward-only checks. Terminal
// statuses share the highest rank: reachable from anything non-terminal,
// never left.
func (s SessionStatus) rank() int {
	switch s {
	case SessionStatusPending:
		return 0
	case SessionStatusClaimed:
		return 1
	case SessionStatusRunning:
		return 2
	case SessionStatusFinalizing:
		return 3
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusStopped:
		return 4
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next respects the lattice
// pending → claimed → running → finalizing → {completed|failed|stopped}.
// Skipping forward is allowed (a worker may fail a claimed session without
// ever running it); moving backward or out of a terminal status is not.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// RequiresWorker reports whether a session in this status must have a worker
// bound to it. The invariant is two-sided: outside these statuses WorkerID is
// empty.
func (s SessionStatus) RequiresWorker() bool {
	switch s {
	case SessionStatusClaimed, SessionStatusRunning, SessionStatusFinalizing:
		return true
	default:
		return false
	}
}

// syntheticSessionPrefix marks session ids minted by the governor itself.
// Worker operations on synthetic sessions are acked locally and never
// forwarded upstream.
const syntheticSessionPrefix = "governor-"

// NewSyntheticSessionID returns a fresh governor-minted session id.
func NewSyntheticSessionID() string {
	return syntheticSessionPrefix + uuid.New().String()
}

// IsSyntheticSessionID reports whether the id was minted by the governor
// rather than assigned by the upstream tracker.
func IsSyntheticSessionID(id string) bool {
	return strings.HasPrefix(id, syntheticSessionPrefix)
}

// SessionRecord is the durable record of one agent session. One record per
// session id; mutated by the worker API as the session advances.
type SessionRecord struct {
	SessionID         string        `json:"session_id"`
	IssueID           string        `json:"issue_id"`
	IssueIdentifier   string        `json:"issue_identifier"`
	WorkerID          string        `json:"worker_id,omitempty"`
	WorkType          WorkType      `json:"work_type"`
	Status            SessionStatus `json:"status"`
	ProjectName       string        `json:"project_name,omitempty"`
	CreatedAt         int64         `json:"created_at"`
	UpdatedAt         int64         `json:"updated_at"`
	QueuedAt          int64         `json:"queued_at,omitempty"`
	ClaimedAt         int64         `json:"claimed_at,omitempty"`
	WorktreePath      string        `json:"worktree_path,omitempty"`
	ProviderSessionID string        `json:"provider_session_id,omitempty"`
	OrganizationID    string        `json:"organization_id,omitempty"`
	Priority          int           `json:"priority"`
	PromptContext     string        `json:"prompt_context,omitempty"`
	Error             string        `json:"error,omitempty"`
	TotalCostUSD      float64       `json:"total_cost_usd,omitempty"`
	InputTokens       int64         `json:"input_tokens,omitempty"`
	OutputTokens      int64         `json:"output_tokens,omitempty"`
}

// SessionStatusUpdate carries a worker-reported status change.
type SessionStatusUpdate struct {
	WorkerID          string        `json:"worker_id"`
	Status            SessionStatus `json:"status"`
	ProviderSessionID string        `json:"provider_session_id,omitempty"`
	WorktreePath      string        `json:"worktree_path,omitempty"`
	Error             string        `json:"error,omitempty"`
	TotalCostUSD      float64       `json:"total_cost_usd,omitempty"`
	InputTokens       int64         `json:"input_tokens,omitempty"`
	OutputTokens      int64         `json:"output_tokens,omitempty"`
}
