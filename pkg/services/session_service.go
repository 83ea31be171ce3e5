package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/governor/pkg/config"
	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/store"
	"github.com/codeready-toolchain/governor/pkg/telemetry"
)

// IssueTransitioner pushes a completion-driven status change to the upstream
// tracker. Implementations route the call through the upstream guard; a nil
// transitioner disables upstream transitions.
type IssueTransitioner interface {
	TransitionIssue(ctx context.Context, issueID string, to models.IssueStatus) error
}

// SessionService manages the agent session lifecycle: claiming queued work,
// worker-reported status changes, ownership transfer and governor-side stops.
type SessionService struct {
	store        store.Store
	cfg          *config.GovernorConfig
	dispatch     *DispatchService
	transitioner IssueTransitioner
	notifier     Notifier
	logger       *slog.Logger
}

// NewSessionService creates a new SessionService. transitioner and notifier
// may be nil; both then degrade to no-ops.
func NewSessionService(st store.Store, cfg *config.GovernorConfig, dispatch *DispatchService, transitioner IssueTransitioner, notifier Notifier, logger *slog.Logger) *SessionService {
	if st == nil {
		panic("store is required")
	}
	if cfg == nil {
		panic("governor config is required")
	}
	if dispatch == nil {
		panic("dispatch service is required")
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &SessionService{
		store:        st,
		cfg:          cfg,
		dispatch:     dispatch,
		transitioner: transitioner,
		notifier:     notifier,
		logger:       logger.With("component", "sessions"),
	}
}

// Get returns the session record, or ErrNotFound when it is gone or expired.
func (s *SessionService) Get(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	rec, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// List returns every live session record.
func (s *SessionService) List(ctx context.Context) ([]*models.SessionRecord, error) {
	recs, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return recs, nil
}

// Claim hands a queued session to a worker. The store side is atomic: queue
// removal, the pending check, the lease write and the status flip happen as
// one step, so two workers racing for the same entry see exactly one winner.
// Refusals are not errors; the result carries the reason.
func (s *SessionService) Claim(ctx context.Context, sessionID, workerID string) (*models.ClaimResult, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if workerID == "" {
		return nil, NewValidationError("worker_id", "required")
	}
	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load worker: %w", err)
	}
	if worker == nil {
		return nil, fmt.Errorf("worker %s: %w", workerID, ErrNotFound)
	}

	res, err := s.store.ClaimSession(ctx, sessionID, workerID, store.ClaimTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to claim session: %w", err)
	}
	if !res.Claimed {
		telemetry.Claims.WithLabelValues(string(res.Reason)).Inc()
		s.logger.Info("claim refused",
			"session_id", sessionID,
			"worker_id", workerID,
			"reason", res.Reason)
		return res, nil
	}

	telemetry.Claims.WithLabelValues("claimed").Inc()
	s.logger.Info("session claimed",
		"session_id", sessionID,
		"worker_id", workerID,
		"issue_id", res.Session.IssueID,
		"work_type", res.Session.WorkType)
	s.notifier.Notify(ctx, models.StreamEvent{
		Type:      models.StreamSessionStatus,
		SessionID: sessionID,
		IssueID:   res.Session.IssueID,
		WorkType:  res.Session.WorkType,
		Status:    models.SessionStatusClaimed,
		WorkerID:  workerID,
		Timestamp: res.Session.UpdatedAt,
	})
	return res, nil
}

// UpdateStatus applies a worker-reported status change. Transitions move
// forward through the lifecycle only; a backward or repeated status is
// ignored and the current record returned, so a worker retrying a stale
// update does not crash-loop. Terminal statuses trigger the cleanup path.
func (s *SessionService) UpdateStatus(ctx context.Context, sessionID string, update models.SessionStatusUpdate) (*models.SessionRecord, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if update.WorkerID == "" {
		return nil, NewValidationError("worker_id", "required")
	}
	if !update.Status.IsValid() {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status %q", update.Status))
	}

	rec, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	if rec.WorkerID != update.WorkerID {
		return nil, fmt.Errorf("session %s is not owned by worker %s: %w", sessionID, update.WorkerID, ErrForbidden)
	}
	if !rec.Status.CanTransitionTo(update.Status) {
		s.logger.Warn("ignoring invalid session transition",
			"session_id", sessionID,
			"from", rec.Status,
			"to", update.Status,
			"worker_id", update.WorkerID)
		return rec, nil
	}

	if update.Status.IsTerminal() {
		// Terminal cleanup must finish even if the worker's request is
		// cancelled mid-flight.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	updated := *rec
	updated.Status = update.Status
	updated.UpdatedAt = time.Now().UnixMilli()
	if update.ProviderSessionID != "" {
		updated.ProviderSessionID = update.ProviderSessionID
	}
	if update.WorktreePath != "" {
		updated.WorktreePath = update.WorktreePath
	}
	if update.Error != "" {
		updated.Error = update.Error
	}
	if update.TotalCostUSD > 0 {
		updated.TotalCostUSD = update.TotalCostUSD
	}
	if update.InputTokens > 0 {
		updated.InputTokens = update.InputTokens
	}
	if update.OutputTokens > 0 {
		updated.OutputTokens = update.OutputTokens
	}
	if update.Status.IsTerminal() {
		// Worker binding ends with the session.
		updated.WorkerID = ""
	}

	ok, err := s.store.UpdateSessionCAS(ctx, &updated, rec.Status)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	if !ok {
		return nil, ErrConcurrentModification
	}

	if update.Status.IsTerminal() {
		s.handleTerminal(ctx, &updated, rec.WorkerID)
	}

	s.logger.Info("session status updated",
		"session_id", sessionID,
		"from", rec.Status,
		"to", update.Status,
		"worker_id", update.WorkerID)
	s.notifier.Notify(ctx, models.StreamEvent{
		Type:      models.StreamSessionStatus,
		SessionID: sessionID,
		IssueID:   rec.IssueID,
		WorkType:  rec.WorkType,
		Status:    update.Status,
		WorkerID:  update.WorkerID,
		Timestamp: updated.UpdatedAt,
	})
	return &updated, nil
}

// Stop cancels a session with governor authority, regardless of owner: its
// queue entry is dropped, any claim lease dies, and parked work behind the
// issue is promoted. Stopping an already-terminal session is a no-op.
func (s *SessionService) Stop(ctx context.Context, sessionID, reason string) (*models.SessionRecord, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	rec, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	if rec.Status.IsTerminal() {
		return rec, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	updated := *rec
	updated.Status = models.SessionStatusStopped
	updated.UpdatedAt = time.Now().UnixMilli()
	updated.WorkerID = ""
	if reason != "" {
		updated.Error = reason
	}
	ok, err := s.store.UpdateSessionCAS(ctx, &updated, rec.Status)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stop session: %w", err)
	}
	if !ok {
		return nil, ErrConcurrentModification
	}

	s.handleTerminal(ctx, &updated, rec.WorkerID)

	s.logger.Info("session stopped",
		"session_id", sessionID,
		"previous_status", rec.Status,
		"reason", reason)
	s.notifier.Notify(ctx, models.StreamEvent{
		Type:      models.StreamSessionStatus,
		SessionID: sessionID,
		IssueID:   rec.IssueID,
		WorkType:  rec.WorkType,
		Status:    models.SessionStatusStopped,
		Detail:    reason,
		Timestamp: updated.UpdatedAt,
	})
	return &updated, nil
}

// Requeue returns a claimed or running session to the queue with governor
// authority: the worker binding is severed and the entry re-enters at its
// original score so it does not jump the line. Used when a worker dies or an
// operator reassigns. Terminal and pending sessions are left alone.
func (s *SessionService) Requeue(ctx context.Context, sessionID, reason string) (*models.SessionRecord, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	rec, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	if rec.Status.IsTerminal() || rec.Status == models.SessionStatusPending {
		return rec, nil
	}

	if err := s.store.ForceReleaseClaim(ctx, sessionID); err != nil {
		s.logger.Warn("failed to release claim during requeue",
			"session_id", sessionID, "error", err)
	}
	if rec.WorkerID != "" {
		if err := s.store.RemoveWorkerSession(ctx, rec.WorkerID, sessionID); err != nil {
			s.logger.Warn("failed to unindex worker session during requeue",
				"session_id", sessionID, "worker_id", rec.WorkerID, "error", err)
		}
	}

	updated := *rec
	updated.Status = models.SessionStatusPending
	updated.WorkerID = ""
	updated.ClaimedAt = 0
	updated.UpdatedAt = time.Now().UnixMilli()
	ok, err := s.store.UpdateSessionCAS(ctx, &updated, rec.Status)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to requeue session: %w", err)
	}
	if !ok {
		return nil, ErrConcurrentModification
	}
	if err := s.store.EnqueueWork(ctx, sessionID, rec.Priority, rec.QueuedAt); err != nil {
		return nil, fmt.Errorf("failed to enqueue requeued session: %w", err)
	}

	telemetry.Dispatches.WithLabelValues(string(rec.WorkType), "requeued").Inc()
	s.logger.Info("session requeued",
		"session_id", sessionID,
		"previous_worker", rec.WorkerID,
		"reason", reason)
	s.notifier.Notify(ctx, models.StreamEvent{
		Type:      models.StreamSessionStatus,
		SessionID: sessionID,
		IssueID:   rec.IssueID,
		WorkType:  rec.WorkType,
		Status:    models.SessionStatusPending,
		Detail:    reason,
		Timestamp: updated.UpdatedAt,
	})
	return &updated, nil
}

// Transfer moves a live session from one worker to another. The record CAS,
// the lease rewrite and the reverse-index move are one atomic store step; the
// old worker's in-flight updates fail with ErrForbidden afterwards.
func (s *SessionService) Transfer(ctx context.Context, sessionID, fromWorkerID, toWorkerID string) (*models.SessionRecord, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if fromWorkerID == "" {
		return nil, NewValidationError("old_worker_id", "required")
	}
	if toWorkerID == "" {
		return nil, NewValidationError("new_worker_id", "required")
	}
	if fromWorkerID == toWorkerID {
		return nil, NewValidationError("new_worker_id", "must differ from the current owner")
	}
	target, err := s.store.GetWorker(ctx, toWorkerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load worker: %w", err)
	}
	if target == nil {
		return nil, fmt.Errorf("worker %s: %w", toWorkerID, ErrNotFound)
	}

	ok, err := s.store.TransferSession(ctx, sessionID, fromWorkerID, toWorkerID, store.ClaimTTL)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to transfer session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("worker %s does not own session %s: %w", fromWorkerID, sessionID, ErrConcurrentModification)
	}

	rec, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session after transfer: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	s.logger.Info("session transferred",
		"session_id", sessionID,
		"from_worker", fromWorkerID,
		"to_worker", toWorkerID)
	s.notifier.Notify(ctx, models.StreamEvent{
		Type:      models.StreamSessionTransferred,
		SessionID: sessionID,
		IssueID:   rec.IssueID,
		WorkType:  rec.WorkType,
		Status:    rec.Status,
		WorkerID:  toWorkerID,
		Timestamp: rec.UpdatedAt,
	})
	return rec, nil
}

// RefreshLock extends the claim lease and the issue lock for a session the
// worker still owns. refreshed=false tells the worker its lease is gone (the
// reaper or a transfer took it) and it must abandon the session.
func (s *SessionService) RefreshLock(ctx context.Context, sessionID, workerID, issueID string) (bool, error) {
	if sessionID == "" {
		return false, NewValidationError("session_id", "required")
	}
	if workerID == "" {
		return false, NewValidationError("worker_id", "required")
	}
	rec, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to load session: %w", err)
	}
	if rec == nil {
		return false, ErrNotFound
	}
	if rec.WorkerID != workerID {
		return false, fmt.Errorf("session %s is not owned by worker %s: %w", sessionID, workerID, ErrForbidden)
	}
	if issueID != "" && rec.IssueID != issueID {
		return false, NewValidationError("issue_id", "does not match session")
	}

	claimLive, err := s.store.RefreshClaim(ctx, sessionID, workerID, store.ClaimTTL)
	if err != nil {
		return false, fmt.Errorf("failed to refresh claim: %w", err)
	}
	lockLive, err := s.store.RefreshIssueLock(ctx, rec.IssueID, sessionID, store.IssueLockTTL)
	if err != nil {
		return false, fmt.Errorf("failed to refresh issue lock: %w", err)
	}
	if !claimLive || !lockLive {
		s.logger.Warn("lock refresh refused",
			"session_id", sessionID,
			"worker_id", workerID,
			"claim_live", claimLive,
			"lock_live", lockLive)
		return false, nil
	}
	return true, nil
}

// handleTerminal runs the cleanup owed once a session record is terminal:
// queue and lease teardown, record retention, cooldown, phase bookkeeping,
// the upstream status transition and promotion of parked work. Each step is
// independent; failures are logged and the rest still run.
func (s *SessionService) handleTerminal(ctx context.Context, rec *models.SessionRecord, prevWorkerID string) {
	if _, err := s.store.RemoveQueued(ctx, rec.SessionID); err != nil {
		s.logger.Warn("failed to remove queue entry",
			"session_id", rec.SessionID, "error", err)
	}
	if err := s.store.ForceReleaseClaim(ctx, rec.SessionID); err != nil {
		s.logger.Warn("failed to release claim",
			"session_id", rec.SessionID, "error", err)
	}
	if prevWorkerID != "" {
		if err := s.store.RemoveWorkerSession(ctx, prevWorkerID, rec.SessionID); err != nil {
			s.logger.Warn("failed to unindex worker session",
				"session_id", rec.SessionID, "worker_id", prevWorkerID, "error", err)
		}
	}

	released, err := s.store.ReleaseIssueLock(ctx, rec.IssueID, rec.SessionID)
	if err != nil {
		s.logger.Warn("failed to release issue lock",
			"issue_id", rec.IssueID, "session_id", rec.SessionID, "error", err)
	} else if !released {
		s.logger.Warn("issue lock not held by terminal session",
			"issue_id", rec.IssueID, "session_id", rec.SessionID)
	}

	if err := s.store.ExpireSession(ctx, rec.SessionID, store.SessionRetention); err != nil {
		s.logger.Warn("failed to schedule session retention",
			"session_id", rec.SessionID, "error", err)
	}

	// Operator stops skip the cooldown so a resumed issue can re-dispatch
	// immediately.
	if rec.Status != models.SessionStatusStopped && s.cfg.Cooldown > 0 {
		if err := s.store.SetCooldown(ctx, rec.IssueID, s.cfg.Cooldown); err != nil {
			s.logger.Warn("failed to set cooldown",
				"issue_id", rec.IssueID, "error", err)
		}
	}

	if rec.Status == models.SessionStatusCompleted {
		if phase, ok := models.PhaseForWorkType(rec.WorkType); ok {
			mark := &models.ProcessingPhaseRecord{
				IssueID:     rec.IssueID,
				Phase:       phase,
				CompletedAt: rec.UpdatedAt,
				SessionID:   rec.SessionID,
			}
			if err := s.store.MarkPhaseCompleted(ctx, mark, store.PhaseRetention); err != nil {
				s.logger.Warn("failed to mark phase completed",
					"issue_id", rec.IssueID, "phase", phase, "error", err)
			}
		}
	}

	s.reportCompletion(ctx, rec)

	if _, err := s.dispatch.PromoteNext(ctx, rec.IssueID); err != nil {
		s.logger.Warn("failed to promote parked work",
			"issue_id", rec.IssueID, "error", err)
	}

	telemetry.SessionsFinished.WithLabelValues(string(rec.WorkType), string(rec.Status)).Inc()
}

// reportCompletion pushes the completion-driven issue transition upstream.
// Failures are logged, never propagated: the session is already terminal and
// the tracker converges on the next poll sweep.
func (s *SessionService) reportCompletion(ctx context.Context, rec *models.SessionRecord) {
	if s.transitioner == nil {
		return
	}
	var outcome models.SessionOutcome
	switch rec.Status {
	case models.SessionStatusCompleted:
		outcome = models.OutcomeSuccess
	case models.SessionStatusFailed:
		outcome = models.OutcomeFailure
	default:
		// Stopped sessions leave the issue where it is.
		return
	}
	target, ok := models.CompletionStatus(rec.WorkType, outcome)
	if !ok {
		return
	}
	if err := s.transitioner.TransitionIssue(ctx, rec.IssueID, target); err != nil {
		s.logger.Warn("failed to transition issue after session end",
			"issue_id", rec.IssueID,
			"target_status", target,
			"session_id", rec.SessionID,
			"error", err)
		return
	}
	s.logger.Info("issue transitioned",
		"issue_id", rec.IssueID,
		"target_status", target,
		"work_type", rec.WorkType)
}
