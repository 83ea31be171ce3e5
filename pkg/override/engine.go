package override

import (
	"context"

	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/store"
)

// Engine persists directives against their issue. Each issue has a single
// override slot: hold and skip-qa compete for the directive field, while a
// priority level rides alongside whichever directive holds the slot. Resume
// clears the slot entirely, priority level included.
type Engine struct {
	store store.Store
}

func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// Apply parses a comment and records its effect on the issue's override
// slot. It returns the parsed directive so callers can react to the ones
// that trigger actions rather than state (decompose, reassign), or nil when
// the comment carried no directive.
func (e *Engine) Apply(ctx context.Context, issueID string, c models.Comment) (*Parsed, error) {
	parsed := ParseComment(c)
	if parsed == nil {
		return nil, nil
	}

	switch parsed.Directive {
	case models.DirectiveResume:
		if err := e.store.ClearOverride(ctx, issueID); err != nil {
			return nil, err
		}

	case models.DirectiveHold, models.DirectiveSkipQA:
		existing, err := e.store.GetOverride(ctx, issueID)
		if err != nil {
			return nil, err
		}
		rec := &models.OverrideRecord{
			IssueID:   issueID,
			Directive: parsed.Directive,
			CommentID: c.ID,
			UserID:    c.UserID,
			Timestamp: c.CreatedAt,
			Reason:    parsed.Reason,
		}
		if existing != nil {
			rec.Priority = existing.Priority
		}
		if err := e.store.SaveOverride(ctx, rec); err != nil {
			return nil, err
		}

	case models.DirectivePriority:
		existing, err := e.store.GetOverride(ctx, issueID)
		if err != nil {
			return nil, err
		}
		rec := &models.OverrideRecord{
			IssueID:   issueID,
			Directive: models.DirectivePriority,
			CommentID: c.ID,
			UserID:    c.UserID,
			Timestamp: c.CreatedAt,
			Priority:  parsed.Priority,
		}
		if existing != nil && existing.Directive != models.DirectivePriority {
			rec.Directive = existing.Directive
			rec.Reason = existing.Reason
		}
		if err := e.store.SaveOverride(ctx, rec); err != nil {
			return nil, err
		}
	}
	return parsed, nil
}

// Held reports whether the issue is held, and the hold reason if so.
func (e *Engine) Held(ctx context.Context, issueID string) (bool, string, error) {
	rec, err := e.store.GetOverride(ctx, issueID)
	if err != nil {
		return false, "", err
	}
	if rec == nil || rec.Directive != models.DirectiveHold {
		return false, "", nil
	}
	return true, rec.Reason, nil
}

// QASkipped reports whether QA dispatch is suppressed for the issue.
func (e *Engine) QASkipped(ctx context.Context, issueID string) (bool, error) {
	rec, err := e.store.GetOverride(ctx, issueID)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.Directive == models.DirectiveSkipQA, nil
}

// PriorityFor returns the operator-assigned priority level for the issue.
// The second return is false when no level has been set.
func (e *Engine) PriorityFor(ctx context.Context, issueID string) (models.PriorityLevel, bool, error) {
	rec, err := e.store.GetOverride(ctx, issueID)
	if err != nil {
		return "", false, err
	}
	if rec == nil || rec.Priority == "" {
		return "", false, nil
	}
	return rec.Priority, true, nil
}

// Clear drops the issue's override slot.
func (e *Engine) Clear(ctx context.Context, issueID string) error {
	return e.store.ClearOverride(ctx, issueID)
}
