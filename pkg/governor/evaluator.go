package governor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/governor/pkg/config"
	"github.com/codeready-toolchain/governor/pkg/funnel"
	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/override"
	"github.com/codeready-toolchain/governor/pkg/services"
	"github.com/codeready-toolchain/governor/pkg/store"
)

// Evaluator turns one issue snapshot into at most one dispatch. Every
// evaluation gathers fresh per-issue context; nothing is cached across
// events.
type Evaluator struct {
	store     store.Store
	cfg       *config.GovernorConfig
	policy    *funnel.Policy
	overrides *override.Engine
	dispatch  *services.DispatchService
	logger    *slog.Logger
}

// NewEvaluator creates a new Evaluator. All dependencies are required.
func NewEvaluator(st store.Store, cfg *config.GovernorConfig, policy *funnel.Policy, overrides *override.Engine, dispatch *services.DispatchService, logger *slog.Logger) *Evaluator {
	if st == nil {
		panic("store is required")
	}
	if cfg == nil {
		panic("governor config is required")
	}
	if policy == nil {
		panic("funnel policy is required")
	}
	if overrides == nil {
		panic("override engine is required")
	}
	if dispatch == nil {
		panic("dispatch service is required")
	}
	return &Evaluator{
		store:     st,
		cfg:       cfg,
		policy:    policy,
		overrides: overrides,
		dispatch:  dispatch,
		logger:    logger.With("component", "evaluator"),
	}
}

// Evaluation is the outcome of evaluating one issue snapshot. Exactly one of
// Dispatched, Parked, or DropReason describes what happened.
type Evaluation struct {
	Dispatched bool
	Parked     bool
	WorkType   models.WorkType
	SessionID  string
	DropReason string
}

// Evaluate runs the dispatch decision for one issue snapshot. hint is
// free-form operator text (usually a comment body) that can steer the work
// type within the issue's allowed set; it also rides into the session
// prompt. A drop is not an error: the returned Evaluation carries the
// reason. Errors mean the decision could not be made at all.
func (e *Evaluator) Evaluate(ctx context.Context, issue *models.Issue, hint string) (*Evaluation, error) {
	if issue == nil || issue.ID == "" {
		return nil, services.NewValidationError("issue", "required")
	}

	// Override state first: a hold ends evaluation before anything else,
	// and a priority level is carried into the final dispatch.
	held, holdReason, err := e.overrides.Held(ctx, issue.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch override state: %w", err)
	}
	if held {
		reason := "held by operator directive"
		if holdReason != "" {
			reason = fmt.Sprintf("held by operator directive: %s", holdReason)
		}
		return e.drop(issue, "", reason), nil
	}
	level, hasLevel, err := e.overrides.PriorityFor(ctx, issue.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch priority override: %w", err)
	}

	ictx, err := e.gatherContext(ctx, issue, held)
	if err != nil {
		return nil, err
	}

	if issue.Status.IsTerminal() {
		return e.drop(issue, "", fmt.Sprintf("issue status %s is terminal", issue.Status)), nil
	}

	// Icebox issues are routed by the top-of-funnel policy; every other
	// status maps to its work type directly.
	var workType models.WorkType
	var trigger string
	if issue.Status == models.StatusIcebox {
		action := e.policy.DetermineAction(issue, funnel.IssueState{
			HasActiveSession:         ictx.HasActiveSession,
			Held:                     ictx.IsHeld,
			ResearchCompleted:        ictx.ResearchCompleted,
			BacklogCreationCompleted: ictx.BacklogCreationCompleted,
		}, time.Now())
		switch action.Type {
		case models.ActionTriggerResearch:
			workType = models.WorkTypeResearch
		case models.ActionTriggerBacklogCreation:
			workType = models.WorkTypeBacklogCreation
		default:
			return e.drop(issue, "", action.Reason), nil
		}
		trigger = action.Reason
	} else {
		base, ok := models.DeriveWorkType(issue.Status, issue.IsParent)
		if !ok {
			return e.drop(issue, "", fmt.Sprintf("no work type for status %s", issue.Status)), nil
		}
		workType = base
	}

	// Keyword refinement can only move within the allowed set for the
	// status, so the validity check after it is belt and braces.
	workType = models.RefineWorkType(workType, issue.Status, issue.IsParent, hint)
	if !models.IsValidWorkTypeFor(workType, issue.Status, issue.IsParent) {
		return e.drop(issue, workType, fmt.Sprintf("work type %s not allowed for status %s", workType, issue.Status)), nil
	}

	if workType == models.WorkTypeQA || workType == models.WorkTypeQACoordination {
		skipped, err := e.overrides.QASkipped(ctx, issue.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch skip-qa state: %w", err)
		}
		if skipped {
			return e.drop(issue, workType, "verification suppressed by skip-qa directive"), nil
		}
	}

	if ictx.HasActiveSession {
		return e.drop(issue, workType, "issue already has an active session"), nil
	}
	if ictx.IsWithinCooldown {
		return e.drop(issue, workType, "issue is in post-session cooldown"), nil
	}

	priority := e.cfg.PriorityFor(workType)
	if hasLevel {
		priority = level.QueuePriority()
	}

	res, err := e.dispatch.Dispatch(ctx, services.DispatchInput{
		Issue:    issue,
		WorkType: workType,
		Prompt:   promptFor(issue, workType, trigger, hint),
		Priority: priority,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch %s for issue %s: %w", workType, issue.ID, err)
	}
	return &Evaluation{
		Dispatched: res.Dispatched,
		Parked:     res.Parked,
		WorkType:   workType,
		SessionID:  res.SessionID,
	}, nil
}

// gatherContext assembles the per-issue facts the decision needs. One gather
// per evaluation.
func (e *Evaluator) gatherContext(ctx context.Context, issue *models.Issue, held bool) (*models.IssueContext, error) {
	lock, err := e.store.GetIssueLock(ctx, issue.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check issue lock: %w", err)
	}
	cooling, err := e.store.InCooldown(ctx, issue.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check cooldown: %w", err)
	}
	research, err := e.store.GetPhaseRecord(ctx, issue.ID, models.PhaseResearch)
	if err != nil {
		return nil, fmt.Errorf("failed to check research phase: %w", err)
	}
	backlog, err := e.store.GetPhaseRecord(ctx, issue.ID, models.PhaseBacklogCreation)
	if err != nil {
		return nil, fmt.Errorf("failed to check backlog-creation phase: %w", err)
	}
	return &models.IssueContext{
		HasActiveSession:         lock != nil,
		IsWithinCooldown:         cooling,
		IsParentIssue:            issue.IsParent,
		IsHeld:                   held,
		ResearchCompleted:        research != nil,
		BacklogCreationCompleted: backlog != nil,
	}, nil
}

func (e *Evaluator) drop(issue *models.Issue, w models.WorkType, reason string) *Evaluation {
	e.logger.Info("evaluation dropped",
		"issue_id", issue.ID,
		"issue", issue.Identifier,
		"status", issue.Status,
		"work_type", w,
		"reason", reason)
	return &Evaluation{WorkType: w, DropReason: reason}
}
