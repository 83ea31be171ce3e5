// Package governor runs the event loop at the heart of the system: it
// consumes normalized tracker events from the bus, deduplicates them,
// evaluates the affected issue against override and funnel policy, and
// dispatches agent work. Comments are routed here too, either as operator
// directives, as prompts for a live session, or as evaluation hints.
package governor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/governor/pkg/bus"
	"github.com/codeready-toolchain/governor/pkg/config"
	"github.com/codeready-toolchain/governor/pkg/dedup"
	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/override"
	"github.com/codeready-toolchain/governor/pkg/services"
	"github.com/codeready-toolchain/governor/pkg/store"
	"github.com/codeready-toolchain/governor/pkg/telemetry"
)

// LoopDeps are the collaborators of the governor loop. All fields are
// required.
type LoopDeps struct {
	Bus       *bus.Bus
	Dedup     *dedup.Deduper
	Evaluator *Evaluator
	Overrides *override.Engine
	Sessions  *services.SessionService
	Prompts   *services.PromptService
	Store     store.Store
	Config    *config.GovernorConfig
	Logger    *slog.Logger
}

// Loop is the single consumer of the event bus. Events are handled on a
// bounded pool of goroutines; racing evaluations for the same issue are
// serialized further down by the issue lock.
type Loop struct {
	deps LoopDeps
	log  *slog.Logger
	sem  chan struct{}
	wg   sync.WaitGroup
}

// NewLoop creates a new Loop.
func NewLoop(deps LoopDeps) *Loop {
	if deps.Bus == nil || deps.Dedup == nil || deps.Evaluator == nil ||
		deps.Overrides == nil || deps.Sessions == nil || deps.Prompts == nil ||
		deps.Store == nil || deps.Config == nil {
		panic("all loop dependencies are required")
	}
	inflight := deps.Config.MaxInflightEvaluations
	if inflight < 1 {
		inflight = 1
	}
	return &Loop{
		deps: deps,
		log:  deps.Logger.With("component", "loop"),
		sem:  make(chan struct{}, inflight),
	}
}

// Run consumes the bus until the context is cancelled or the bus is closed.
// In-flight evaluations are drained before it returns. An event taken from
// the bus is always acked after a handling attempt, whatever the result;
// failed evaluations are logged, not retried.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("governor loop started",
		"max_inflight", cap(l.sem),
		"dedup_window", l.deps.Config.DedupWindow)
	defer l.wg.Wait()

	for {
		env, err := l.deps.Bus.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, bus.ErrBusClosed) {
				l.log.Info("governor loop stopped", "reason", err)
				return nil
			}
			return err
		}

		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			// Not handled yet, so hand it back for the next start.
			l.deps.Bus.Nack(env.ID)
			l.log.Info("governor loop stopped", "reason", ctx.Err())
			return nil
		}

		l.wg.Add(1)
		go func(env *models.EventEnvelope) {
			defer l.wg.Done()
			defer func() { <-l.sem }()
			l.handle(ctx, env)
		}(env)
	}
}

func (l *Loop) handle(ctx context.Context, env *models.EventEnvelope) {
	ev := env.Event
	defer l.deps.Bus.Ack(env.ID)

	dup, err := l.deps.Dedup.IsDuplicate(ctx, ev)
	if err != nil {
		// Dedup fails open: processing twice beats losing the event.
		l.log.Warn("dedup check failed",
			"issue_id", ev.IssueID, "type", ev.Type, "error", err)
	} else if dup {
		telemetry.EventsDeduplicated.Inc()
		telemetry.EventsProcessed.WithLabelValues(string(ev.Type), "duplicate").Inc()
		return
	}

	var result string
	switch ev.Type {
	case models.EventCommentAdded:
		result = l.handleComment(ctx, &ev)
	case models.EventIssueStatusChanged, models.EventPollSnapshot, models.EventSessionCompleted:
		result = l.evaluate(ctx, &ev, "")
	default:
		l.log.Warn("unknown event type", "type", ev.Type, "issue_id", ev.IssueID)
		result = "unknown"
	}
	telemetry.EventsProcessed.WithLabelValues(string(ev.Type), result).Inc()
}

// evaluate runs the evaluator on the event's issue snapshot and maps the
// outcome to a metrics label.
func (l *Loop) evaluate(ctx context.Context, ev *models.Event, hint string) string {
	issue := ev.Issue
	if issue.ID == "" {
		l.log.Warn("event carries no issue snapshot",
			"issue_id", ev.IssueID, "type", ev.Type)
		return "dropped"
	}
	res, err := l.deps.Evaluator.Evaluate(ctx, &issue, hint)
	if err != nil {
		l.log.Error("evaluation failed",
			"issue_id", issue.ID, "type", ev.Type, "error", err)
		return "error"
	}
	switch {
	case res.Dispatched:
		return "dispatched"
	case res.Parked:
		return "parked"
	default:
		return "dropped"
	}
}

// handleComment applies any directive the comment carries, then routes the
// remainder: directive comments act through the override engine, plain
// comments steer the live session when there is one and otherwise become an
// evaluation hint.
func (l *Loop) handleComment(ctx context.Context, ev *models.Event) string {
	comment := models.Comment{
		ID:        ev.CommentID,
		Body:      ev.CommentBody,
		UserID:    ev.UserID,
		UserName:  ev.UserName,
		CreatedAt: ev.Timestamp,
	}
	parsed, err := l.deps.Overrides.Apply(ctx, ev.IssueID, comment)
	if err != nil {
		l.log.Error("failed to apply override",
			"issue_id", ev.IssueID, "comment_id", ev.CommentID, "error", err)
		return "error"
	}
	if parsed != nil {
		return l.handleDirective(ctx, ev, parsed)
	}

	lock, err := l.deps.Store.GetIssueLock(ctx, ev.IssueID)
	if err != nil {
		l.log.Error("failed to check issue lock",
			"issue_id", ev.IssueID, "error", err)
		return "error"
	}
	if lock != nil {
		rec, err := l.deps.Store.GetSession(ctx, lock.SessionID)
		if err != nil {
			l.log.Error("failed to load locked session",
				"issue_id", ev.IssueID, "session_id", lock.SessionID, "error", err)
			return "error"
		}
		if rec != nil && (rec.Status == models.SessionStatusClaimed || rec.Status == models.SessionStatusRunning) {
			if _, err := l.deps.Prompts.Append(ctx, lock.SessionID, services.AppendInput{
				Prompt: ev.CommentBody,
				User:   ev.UserName,
			}); err != nil {
				l.log.Error("failed to queue prompt",
					"issue_id", ev.IssueID, "session_id", lock.SessionID, "error", err)
				return "error"
			}
			return "prompted"
		}
	}
	return l.evaluate(ctx, ev, ev.CommentBody)
}

func (l *Loop) handleDirective(ctx context.Context, ev *models.Event, parsed *override.Parsed) string {
	l.log.Info("directive received",
		"issue_id", ev.IssueID,
		"directive", parsed.Directive,
		"comment_id", parsed.CommentID)

	switch parsed.Directive {
	case models.DirectiveResume:
		// The hold is already cleared; give the issue a fresh chance now
		// instead of waiting for the next poll sweep.
		return l.evaluate(ctx, ev, "")
	case models.DirectiveDecompose:
		return l.evaluate(ctx, ev, "decompose")
	case models.DirectiveReassign:
		return l.reassign(ctx, ev)
	default:
		// hold, skip-qa and priority are state; Apply persisted them.
		return "recorded"
	}
}

// reassign severs the active session's worker binding so another worker
// picks it up. Without an active session there is nothing to do.
func (l *Loop) reassign(ctx context.Context, ev *models.Event) string {
	lock, err := l.deps.Store.GetIssueLock(ctx, ev.IssueID)
	if err != nil {
		l.log.Error("failed to check issue lock",
			"issue_id", ev.IssueID, "error", err)
		return "error"
	}
	if lock == nil {
		l.log.Info("reassign directive with no active session", "issue_id", ev.IssueID)
		return "dropped"
	}
	rec, err := l.deps.Sessions.Requeue(ctx, lock.SessionID, "operator reassign")
	if err != nil {
		l.log.Error("failed to requeue session for reassign",
			"issue_id", ev.IssueID, "session_id", lock.SessionID, "error", err)
		return "error"
	}
	if rec.Status != models.SessionStatusPending {
		return "dropped"
	}
	return "requeued"
}
