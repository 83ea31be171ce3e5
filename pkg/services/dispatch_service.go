// Package services implements the governor's domain operations on top of the
// store: dispatching work, the session lifecycle, worker registration, prompt
// delivery and the public stats view. The API layer translates service errors
// to HTTP statuses; the governor loop calls the same services directly.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/governor/pkg/config"
	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/store"
	"github.com/codeready-toolchain/governor/pkg/telemetry"
)

// DispatchService turns evaluated work into queued sessions while holding the
// one-session-per-issue invariant: a dispatch either takes the issue lock and
// enters the global queue, or parks behind the current holder. Never both.
type DispatchService struct {
	store    store.Store
	cfg      *config.GovernorConfig
	notifier Notifier
	logger   *slog.Logger
}

// NewDispatchService creates a new DispatchService. A nil notifier disables
// stream publishing.
func NewDispatchService(st store.Store, cfg *config.GovernorConfig, notifier Notifier, logger *slog.Logger) *DispatchService {
	if st == nil {
		panic("store is required")
	}
	if cfg == nil {
		panic("governor config is required")
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &DispatchService{
		store:    st,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.With("component", "dispatch"),
	}
}

// DispatchInput describes one unit of work to dispatch for an issue.
type DispatchInput struct {
	Issue    *models.Issue
	WorkType models.WorkType
	// Prompt is the instruction text handed to the agent session.
	Prompt string
	// Priority is the queue priority (lower drains first). The evaluator
	// resolves it from the work-type table and any priority override before
	// dispatching.
	Priority int
}

// Dispatch validates the work, mints a session id and routes the work into
// the queue or the issue's parked list. Work types outside the allowed set
// for the issue's status are refused with ErrForbidden.
func (s *DispatchService) Dispatch(ctx context.Context, input DispatchInput) (*models.DispatchResult, error) {
	if input.Issue == nil {
		return nil, NewValidationError("issue", "required")
	}
	if input.Issue.ID == "" {
		return nil, NewValidationError("issue.id", "required")
	}
	if !input.WorkType.IsValid() {
		return nil, NewValidationError("work_type", fmt.Sprintf("unknown work type %q", input.WorkType))
	}
	if input.Priority < 0 {
		return nil, NewValidationError("priority", "must not be negative")
	}
	if !models.IsValidWorkTypeFor(input.WorkType, input.Issue.Status, input.Issue.IsParent) {
		s.logger.Warn("work type not allowed for issue status, refusing dispatch",
			"issue_id", input.Issue.ID,
			"issue_status", input.Issue.Status,
			"work_type", input.WorkType)
		return nil, fmt.Errorf("work type %q not allowed for status %q: %w",
			input.WorkType, input.Issue.Status, ErrForbidden)
	}

	work := &models.QueuedWork{
		SessionID:       models.NewSyntheticSessionID(),
		IssueID:         input.Issue.ID,
		IssueIdentifier: input.Issue.Identifier,
		Priority:        input.Priority,
		QueuedAt:        time.Now().UnixMilli(),
		Prompt:          input.Prompt,
		WorkType:        input.WorkType,
		ProjectName:     input.Issue.ProjectName,
	}
	return s.dispatchWork(ctx, work)
}

// PromoteNext dispatches the best parked entry for an issue, usually right
// after its lock was released. Returns (nil, nil) when nothing is parked.
func (s *DispatchService) PromoteNext(ctx context.Context, issueID string) (*models.DispatchResult, error) {
	work, err := s.store.PopParked(ctx, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to pop parked work: %w", err)
	}
	if work == nil {
		return nil, nil
	}
	res, err := s.dispatchWork(ctx, work)
	if err != nil {
		return nil, err
	}
	if res.Dispatched {
		s.logger.Info("promoted parked work",
			"issue_id", work.IssueID,
			"work_type", work.WorkType,
			"session_id", work.SessionID)
		s.notifier.Notify(ctx, models.StreamEvent{
			Type:      models.StreamWorkPromoted,
			SessionID: work.SessionID,
			IssueID:   work.IssueID,
			WorkType:  work.WorkType,
			Timestamp: time.Now().UnixMilli(),
		})
	}
	return res, nil
}

// dispatchWork takes the issue lock and queues the work, or parks it when the
// lock is held. The parked payload keeps its original session id, priority
// and enqueue time so promotion preserves queue ordering.
func (s *DispatchService) dispatchWork(ctx context.Context, work *models.QueuedWork) (*models.DispatchResult, error) {
	lock := &models.IssueLock{
		IssueID:    work.IssueID,
		SessionID:  work.SessionID,
		WorkType:   work.WorkType,
		AcquiredAt: time.Now().UnixMilli(),
		TTLMs:      store.IssueLockTTL.Milliseconds(),
	}
	acquired, err := s.store.AcquireIssueLock(ctx, lock, store.IssueLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire issue lock: %w", err)
	}
	if !acquired {
		replaced, err := s.store.ParkWork(ctx, work)
		if err != nil {
			return nil, fmt.Errorf("failed to park work: %w", err)
		}
		telemetry.Dispatches.WithLabelValues(string(work.WorkType), "parked").Inc()
		s.logger.Info("issue locked, parked work",
			"issue_id", work.IssueID,
			"work_type", work.WorkType,
			"session_id", work.SessionID,
			"replaced", replaced)
		s.notifier.Notify(ctx, models.StreamEvent{
			Type:      models.StreamWorkParked,
			SessionID: work.SessionID,
			IssueID:   work.IssueID,
			WorkType:  work.WorkType,
			Timestamp: time.Now().UnixMilli(),
		})
		return &models.DispatchResult{Parked: true, Replaced: replaced, SessionID: work.SessionID}, nil
	}

	now := time.Now().UnixMilli()
	rec := &models.SessionRecord{
		SessionID:         work.SessionID,
		IssueID:           work.IssueID,
		IssueIdentifier:   work.IssueIdentifier,
		WorkType:          work.WorkType,
		Status:            models.SessionStatusPending,
		ProjectName:       work.ProjectName,
		CreatedAt:         now,
		UpdatedAt:         now,
		QueuedAt:          work.QueuedAt,
		Priority:          work.Priority,
		PromptContext:     work.Prompt,
		ProviderSessionID: work.ProviderSessionID,
	}
	if err := s.store.SaveSession(ctx, rec); err != nil {
		// Free the lock so the issue is not stranded behind a session that
		// was never persisted.
		_, _ = s.store.ReleaseIssueLock(ctx, work.IssueID, work.SessionID)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	if err := s.store.EnqueueWork(ctx, work.SessionID, work.Priority, work.QueuedAt); err != nil {
		_, _ = s.store.ReleaseIssueLock(ctx, work.IssueID, work.SessionID)
		return nil, fmt.Errorf("failed to enqueue work: %w", err)
	}

	telemetry.Dispatches.WithLabelValues(string(work.WorkType), "queued").Inc()
	s.logger.Info("dispatched work",
		"issue_id", work.IssueID,
		"issue_identifier", work.IssueIdentifier,
		"work_type", work.WorkType,
		"session_id", work.SessionID,
		"priority", work.Priority)
	s.notifier.Notify(ctx, models.StreamEvent{
		Type:      models.StreamWorkDispatched,
		SessionID: work.SessionID,
		IssueID:   work.IssueID,
		WorkType:  work.WorkType,
		Status:    models.SessionStatusPending,
		Timestamp: now,
	})
	return &models.DispatchResult{Dispatched: true, SessionID: work.SessionID}, nil
}
