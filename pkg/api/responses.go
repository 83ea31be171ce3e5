package api

import "github.com/codeready-toolchain/governor/pkg/models"

// HeartbeatResponse is returned by POST /workers/:id/heartbeat.
type HeartbeatResponse struct {
	PendingWorkCount int64 `json:"pending_work_count"`
}

// LockRefreshResponse is returned by POST /sessions/:id/lock-refresh.
// Refreshed false means the lease is gone and the worker must abandon the
// session.
type LockRefreshResponse struct {
	Refreshed bool `json:"refreshed"`
}

// PromptListResponse is returned by GET /sessions/:id/prompts.
type PromptListResponse struct {
	Prompts []*models.PendingPrompt `json:"prompts"`
}

// ReportAckResponse is returned by the session report relay endpoints.
type ReportAckResponse struct {
	Acked     bool `json:"acked"`
	Forwarded bool `json:"forwarded"`
}

// WebhookResponse is returned by POST /webhook. The tracker only looks at
// the status code; the body is for humans replaying deliveries.
type WebhookResponse struct {
	Status string `json:"status"`
	Events int    `json:"events,omitempty"`
}

// WorkerListResponse is returned by GET /workers.
type WorkerListResponse struct {
	Workers []*models.WorkerRecord `json:"workers"`
}

// SessionListResponse is returned by GET /sessions.
type SessionListResponse struct {
	Sessions []*models.SessionRecord `json:"sessions"`
}

// HealthCheck is one dependency's slice of the health report.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}
