package store

import (
	"time"

	"github.com/codeready-toolchain/governor/pkg/models"
)

// Key layout. Every key a governor writes lives under one of these prefixes,
// so a single Redis database can be inspected or cleared per concern.
const (
	// QueueKey is the single global work queue, a sorted set of session IDs.
	QueueKey = "queue:work"

	sessionPrefix  = "session:"
	claimPrefix    = "claim:"
	lockPrefix     = "lock:issue:"
	parkedPrefix   = "parked:issue:"
	workerPrefix   = "worker:"
	overridePrefix = "override:"
	phasePrefix    = "governor:processing:"
	dedupPrefix    = "dedup:"
	promptsPrefix  = "prompts:"
	webhookPrefix  = "webhook:processed:"
	cooldownPrefix = "cooldown:issue:"
)

// Default retention and lease durations.
const (
	// SessionRetention keeps terminal session records visible for a week.
	SessionRetention = 7 * 24 * time.Hour
	// ClaimTTL is the worker claim lease; a worker that stops refreshing
	// loses its sessions after this long.
	ClaimTTL = 60 * time.Second
	// IssueLockTTL bounds how long a crashed session can hold an issue.
	IssueLockTTL = 30 * time.Minute
	// PhaseRetention keeps completed-phase markers for a month.
	PhaseRetention = 30 * 24 * time.Hour
	// WorkerTTL expires registrations that stop heartbeating.
	WorkerTTL = 24 * time.Hour
	// WebhookRetention bounds the webhook idempotency window.
	WebhookRetention = 24 * time.Hour
)

func SessionKey(sessionID string) string { return sessionPrefix + sessionID }
func ClaimKey(sessionID string) string   { return claimPrefix + sessionID }
func IssueLockKey(issueID string) string { return lockPrefix + issueID }
func ParkedKey(issueID string) string    { return parkedPrefix + issueID }
func WorkerKey(workerID string) string   { return workerPrefix + workerID }
func OverrideKey(issueID string) string  { return overridePrefix + issueID }
func DedupMarkerKey(key string) string   { return dedupPrefix + key }
func PromptsKey(sessionID string) string { return promptsPrefix + sessionID }
func WebhookKey(key string) string       { return webhookPrefix + key }
func CooldownKey(issueID string) string  { return cooldownPrefix + issueID }

func WorkerSessionsKey(workerID string) string {
	return workerPrefix + workerID + ":sessions"
}

func PhaseKey(issueID string, phase models.ProcessingPhase) string {
	return phasePrefix + issueID + ":" + string(phase)
}

// QueueScore orders the global queue by priority first, then enqueue time.
// Millisecond timestamps stay below 10^13 for the next ~250 years, so
// priority*10^13 keeps the two components from ever colliding, and the sum
// stays well inside float64's exact-integer range.
func QueueScore(priority int, queuedAt int64) float64 {
	return float64(priority)*1e13 + float64(queuedAt)
}
