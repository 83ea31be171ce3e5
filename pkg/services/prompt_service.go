package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/store"
)

// PromptService manages the per-session prompt FIFO. Prompts are injected
// into a live session by its worker; they are never turned into new queued
// work, which would lose the provider session.
type PromptService struct {
	store    store.Store
	notifier Notifier
	logger   *slog.Logger
}

// NewPromptService creates a new PromptService. A nil notifier disables
// stream publishing.
func NewPromptService(st store.Store, notifier Notifier, logger *slog.Logger) *PromptService {
	if st == nil {
		panic("store is required")
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &PromptService{
		store:    st,
		notifier: notifier,
		logger:   logger.With("component", "prompts"),
	}
}

// AppendInput carries a prompt addressed to a session.
type AppendInput struct {
	Prompt string `json:"prompt"`
	User   string `json:"user,omitempty"`
}

// Append queues a prompt for the session. Terminal sessions refuse new
// prompts with ErrSessionTerminal; pending sessions accept them and deliver
// once a worker claims.
func (s *PromptService) Append(ctx context.Context, sessionID string, input AppendInput) (*models.PendingPrompt, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if input.Prompt == "" {
		return nil, NewValidationError("prompt", "required")
	}
	rec, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	if rec.Status.IsTerminal() {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, rec.Status, ErrSessionTerminal)
	}

	p := &models.PendingPrompt{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		IssueID:   rec.IssueID,
		Prompt:    input.Prompt,
		User:      input.User,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := s.store.AppendPrompt(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to append prompt: %w", err)
	}

	s.logger.Info("prompt queued",
		"session_id", sessionID,
		"prompt_id", p.ID,
		"user", input.User)
	s.notifier.Notify(ctx, models.StreamEvent{
		Type:      models.StreamPromptQueued,
		SessionID: sessionID,
		IssueID:   rec.IssueID,
		Timestamp: p.CreatedAt,
	})
	return p, nil
}

// List returns the session's pending prompts in FIFO order.
func (s *PromptService) List(ctx context.Context, sessionID string) ([]*models.PendingPrompt, error) {
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
	prompts, err := s.store.ListPrompts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	return prompts, nil
}

// Pop removes and returns the oldest pending prompt, or (nil, nil) when the
// FIFO is empty.
func (s *PromptService) Pop(ctx context.Context, sessionID string) (*models.PendingPrompt, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	p, err := s.store.PopPrompt(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to pop prompt: %w", err)
	}
	return p, nil
}

// Claim removes the prompt with the given id. Exactly one of two racing
// claimers wins; the loser gets ErrNotFound.
func (s *PromptService) Claim(ctx context.Context, sessionID, promptID string) (*models.PendingPrompt, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if promptID == "" {
		return nil, NewValidationError("prompt_id", "required")
	}
	p, err := s.store.TakePrompt(ctx, sessionID, promptID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim prompt: %w", err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}
