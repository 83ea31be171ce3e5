package models

// StreamEventType labels a message on the live event stream.
type StreamEventType string

const (
	// StreamSessionStatus reports a session status change.
	StreamSessionStatus StreamEventType = "session.status"
	// StreamWorkDispatched reports work entering the global queue.
	StreamWorkDispatched StreamEventType = "work.dispatched"
	// StreamWorkParked reports work parked behind an issue lock.
	StreamWorkParked StreamEventType = "work.parked"
	// StreamWorkPromoted reports parked work entering the queue after the
	// lock holder finished.
	StreamWorkPromoted StreamEventType = "work.promoted"
	// StreamSessionTransferred reports a session moving between workers.
	StreamSessionTransferred StreamEventType = "session.transferred"
	// StreamPromptQueued reports a prompt appended to a session's FIFO.
	StreamPromptQueued StreamEventType = "prompt.queued"
)

// StreamEvent is one message on the live event stream. Subscribers receive
// events from the moment they connect; there is no catch-up of history.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	IssueID   string          `json:"issue_id,omitempty"`
	WorkType  WorkType        `json:"work_type,omitempty"`
	Status    SessionStatus   `json:"status,omitempty"`
	WorkerID  string          `json:"worker_id,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Timestamp int64           `json:"timestamp"`
}
