package api

// Worker registration and heartbeat bind the service input structs directly;
// only bodies with no service-side counterpart get a type here.

// ClaimRequest is the body of POST /sessions/:id/claim.
type ClaimRequest struct {
	WorkerID string `json:"worker_id"`
}

// LockRefreshRequest is the body of POST /sessions/:id/lock-refresh.
type LockRefreshRequest struct {
	WorkerID string `json:"worker_id"`
	IssueID  string `json:"issue_id,omitempty"`
}

// TransferRequest is the body of POST /sessions/:id/transfer-ownership.
type TransferRequest struct {
	OldWorkerID string `json:"old_worker_id"`
	NewWorkerID string `json:"new_worker_id"`
}

// StopRequest is the body of POST /sessions/:id/stop.
type StopRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ClaimPromptRequest is the body of POST /sessions/:id/prompts.
type ClaimPromptRequest struct {
	PromptID string `json:"prompt_id"`
}
