// Package store persists governor state: session records, the global work
// queue, issue locks, parked work, overrides, processing phases, dedup
// markers, worker registrations and pending prompts.
//
// Two implementations exist. RedisStore is the production backend; every
// multi-key operation (claim, park, transfer) runs as a Lua script so
// concurrent governors and workers never observe partial state. MemoryStore
// mirrors the same semantics behind a single mutex and backs unit tests and
// single-process deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/codeready-toolchain/governor/pkg/models"
)

// ErrNotFound is returned by conditional mutations (CAS updates, transfers)
// when the target record does not exist. Plain getters return (nil, nil) for
// absent records instead.
var ErrNotFound = errors.New("record not found")

// Store is the persistence contract shared by the Redis and in-memory
// backends. All blocking calls honor ctx.
type Store interface {
	// Sessions.

	// SaveSession writes the full session record, preserving any expiry
	// already set on it.
	SaveSession(ctx context.Context, rec *models.SessionRecord) error
	// GetSession returns the session record, or (nil, nil) when absent.
	GetSession(ctx context.Context, sessionID string) (*models.SessionRecord, error)
	// GetSessions bulk-loads records by ID. Missing IDs are skipped.
	GetSessions(ctx context.Context, sessionIDs []string) ([]*models.SessionRecord, error)
	// UpdateSessionCAS replaces the record only while its stored status
	// equals expected. Returns false on a status race, ErrNotFound when the
	// record is gone.
	UpdateSessionCAS(ctx context.Context, rec *models.SessionRecord, expected models.SessionStatus) (bool, error)
	// ExpireSession schedules the record for deletion after ttl. Terminal
	// sessions are retained this way instead of being deleted outright.
	ExpireSession(ctx context.Context, sessionID string, ttl time.Duration) error
	ListSessions(ctx context.Context) ([]*models.SessionRecord, error)

	// Global work queue. Members are session IDs ordered by
	// priority*10^13+queuedAt, so lower priority values drain first and
	// equal priorities drain oldest-first.

	EnqueueWork(ctx context.Context, sessionID string, priority int, queuedAt int64) error
	// RemoveQueued drops a queue entry. Returns false when it was not queued.
	RemoveQueued(ctx context.Context, sessionID string) (bool, error)
	// PeekQueue returns up to limit session IDs in dispatch order without
	// removing them. limit <= 0 returns the whole queue.
	PeekQueue(ctx context.Context, limit int64) ([]string, error)
	QueueDepth(ctx context.Context) (int64, error)

	// ClaimSession atomically removes the queue entry, verifies the session
	// is pending, writes the claim lease for workerID and flips the session
	// to claimed. Refusals carry a ClaimReason; a claim-lease race re-queues
	// the entry so another worker can take it.
	ClaimSession(ctx context.Context, sessionID, workerID string, claimTTL time.Duration) (*models.ClaimResult, error)

	// Claim leases. A live claim key means a worker owns the session; expiry
	// without refresh is how worker death is detected.

	// GetClaimOwner returns the owning worker ID, or "" when no claim is live.
	GetClaimOwner(ctx context.Context, sessionID string) (string, error)
	// RefreshClaim extends the lease while workerID still owns it.
	RefreshClaim(ctx context.Context, sessionID, workerID string, ttl time.Duration) (bool, error)
	// ReleaseClaim deletes the lease while workerID still owns it.
	ReleaseClaim(ctx context.Context, sessionID, workerID string) (bool, error)
	// ForceReleaseClaim deletes the lease regardless of owner. Used when a
	// session reaches a terminal state through the governor rather than the
	// owning worker.
	ForceReleaseClaim(ctx context.Context, sessionID string) error

	// TransferSession moves session ownership from one worker to another:
	// CAS on the record's worker ID, rewrite of the claim lease, and move of
	// the reverse-index entry. Returns false when fromWorkerID no longer owns
	// the session, ErrNotFound when the record is gone.
	TransferSession(ctx context.Context, sessionID, fromWorkerID, toWorkerID string, claimTTL time.Duration) (bool, error)

	// Issue locks. At most one session holds an issue at a time; competing
	// dispatches park behind the holder.

	// AcquireIssueLock takes the lock for lock.SessionID. Returns false when
	// another session already holds it.
	AcquireIssueLock(ctx context.Context, lock *models.IssueLock, ttl time.Duration) (bool, error)
	// GetIssueLock returns the current lock, or (nil, nil) when the issue is free.
	GetIssueLock(ctx context.Context, issueID string) (*models.IssueLock, error)
	// RefreshIssueLock extends the lock TTL while sessionID still holds it.
	RefreshIssueLock(ctx context.Context, issueID, sessionID string, ttl time.Duration) (bool, error)
	// ReleaseIssueLock frees the lock while sessionID still holds it.
	ReleaseIssueLock(ctx context.Context, issueID, sessionID string) (bool, error)
	ListIssueLocks(ctx context.Context) ([]*models.IssueLock, error)

	// Parked work, per issue. Parking replaces an existing entry of the same
	// work type so an issue never accumulates duplicate intents.

	// ParkWork appends work to the issue's parked list. Returns true when an
	// entry of the same work type was replaced instead of appended.
	ParkWork(ctx context.Context, work *models.QueuedWork) (replaced bool, err error)
	// PopParked removes and returns the best parked entry (priority asc,
	// queuedAt asc), or (nil, nil) when nothing is parked.
	PopParked(ctx context.Context, issueID string) (*models.QueuedWork, error)
	// RemoveParked drops the parked entry with the given session ID.
	RemoveParked(ctx context.Context, issueID, sessionID string) (bool, error)
	ListParked(ctx context.Context, issueID string) ([]*models.QueuedWork, error)
	// ParkedDepth counts parked entries across all issues.
	ParkedDepth(ctx context.Context) (int64, error)

	// Manual overrides, one per issue. A newer directive replaces the old one.

	SaveOverride(ctx context.Context, rec *models.OverrideRecord) error
	// GetOverride returns the active override, or (nil, nil) when none is set.
	GetOverride(ctx context.Context, issueID string) (*models.OverrideRecord, error)
	ClearOverride(ctx context.Context, issueID string) error

	// Completed processing phases, per issue. Retained so automation does not
	// repeat research or backlog creation for the same issue.

	MarkPhaseCompleted(ctx context.Context, rec *models.ProcessingPhaseRecord, ttl time.Duration) error
	// GetPhaseRecord returns the completion record, or (nil, nil) when the
	// phase has not completed (or the marker expired).
	GetPhaseRecord(ctx context.Context, issueID string, phase models.ProcessingPhase) (*models.ProcessingPhaseRecord, error)

	// Event dedup markers.

	// CheckAndMarkDedup marks key as seen for the window and reports whether
	// it was already marked. The check and the mark are a single atomic step.
	CheckAndMarkDedup(ctx context.Context, key string, window time.Duration) (duplicate bool, err error)
	ClearDedup(ctx context.Context, key string) error

	// Post-session cooldowns, per issue.

	SetCooldown(ctx context.Context, issueID string, d time.Duration) error
	InCooldown(ctx context.Context, issueID string) (bool, error)

	// Worker registry. Registrations expire unless refreshed by heartbeats;
	// the per-worker session set is the reverse index used on transfer and
	// by the reaper.

	SaveWorker(ctx context.Context, rec *models.WorkerRecord, ttl time.Duration) error
	// GetWorker returns the registration, or (nil, nil) when unknown or expired.
	GetWorker(ctx context.Context, workerID string) (*models.WorkerRecord, error)
	DeleteWorker(ctx context.Context, workerID string) error
	ListWorkers(ctx context.Context) ([]*models.WorkerRecord, error)
	AddWorkerSession(ctx context.Context, workerID, sessionID string) error
	RemoveWorkerSession(ctx context.Context, workerID, sessionID string) error
	ListWorkerSessions(ctx context.Context, workerID string) ([]string, error)

	// Pending prompts, FIFO per session.

	AppendPrompt(ctx context.Context, p *models.PendingPrompt) error
	ListPrompts(ctx context.Context, sessionID string) ([]*models.PendingPrompt, error)
	// PopPrompt removes and returns the oldest prompt, or (nil, nil) when
	// the list is empty.
	PopPrompt(ctx context.Context, sessionID string) (*models.PendingPrompt, error)
	// TakePrompt removes and returns the prompt with the given ID, or
	// (nil, nil) when it is not present. Two workers racing for the same
	// prompt see exactly one winner.
	TakePrompt(ctx context.Context, sessionID, promptID string) (*models.PendingPrompt, error)

	// Webhook idempotency markers.

	// MarkWebhookProcessed records a delivery key and reports whether this
	// call was the first to do so within the retention window.
	MarkWebhookProcessed(ctx context.Context, key string, ttl time.Duration) (first bool, err error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}
