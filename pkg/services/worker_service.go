package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/store"
	"github.com/codeready-toolchain/governor/pkg/telemetry"
)

// DefaultPollLimit bounds how many queue entries a single poll returns.
const DefaultPollLimit = 50

// WorkerService manages the worker registry and the poll surface workers use
// to discover claimable work.
type WorkerService struct {
	store  store.Store
	logger *slog.Logger
}

// NewWorkerService creates a new WorkerService
func NewWorkerService(st store.Store, logger *slog.Logger) *WorkerService {
	if st == nil {
		panic("store is required")
	}
	return &WorkerService{
		store:  st,
		logger: logger.With("component", "workers"),
	}
}

// RegisterInput describes a worker announcing itself.
type RegisterInput struct {
	Hostname string   `json:"hostname"`
	Capacity int      `json:"capacity"`
	Version  string   `json:"version,omitempty"`
	Projects []string `json:"projects,omitempty"`
}

// Register creates a registration with a fresh worker id. Registrations
// expire unless refreshed by heartbeats.
func (s *WorkerService) Register(ctx context.Context, input RegisterInput) (*models.WorkerRecord, error) {
	if input.Hostname == "" {
		return nil, NewValidationError("hostname", "required")
	}
	if input.Capacity < 1 {
		return nil, NewValidationError("capacity", "must be at least 1")
	}

	now := time.Now().UnixMilli()
	rec := &models.WorkerRecord{
		ID:           uuid.New().String(),
		Hostname:     input.Hostname,
		Capacity:     input.Capacity,
		Version:      input.Version,
		Projects:     input.Projects,
		RegisteredAt: now,
		LastSeenAt:   now,
	}
	if err := s.store.SaveWorker(ctx, rec, store.WorkerTTL); err != nil {
		return nil, fmt.Errorf("failed to save worker: %w", err)
	}

	s.refreshWorkerGauge(ctx)
	s.logger.Info("worker registered",
		"worker_id", rec.ID,
		"hostname", rec.Hostname,
		"capacity", rec.Capacity,
		"projects", rec.Projects)
	return rec, nil
}

// HeartbeatInput carries a worker's periodic liveness report.
type HeartbeatInput struct {
	ActiveCount int     `json:"active_count"`
	Load        float64 `json:"load,omitempty"`
}

// Heartbeat refreshes the registration TTL and records current load. Returns
// the global queue depth so idle workers know whether polling is worthwhile.
func (s *WorkerService) Heartbeat(ctx context.Context, workerID string, input HeartbeatInput) (int64, error) {
	if workerID == "" {
		return 0, NewValidationError("worker_id", "required")
	}
	rec, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return 0, fmt.Errorf("failed to load worker: %w", err)
	}
	if rec == nil {
		return 0, fmt.Errorf("worker %s: %w", workerID, ErrNotFound)
	}

	rec.LastSeenAt = time.Now().UnixMilli()
	rec.ActiveCount = input.ActiveCount
	rec.Load = input.Load
	if err := s.store.SaveWorker(ctx, rec, store.WorkerTTL); err != nil {
		return 0, fmt.Errorf("failed to refresh worker: %w", err)
	}

	depth, err := s.store.QueueDepth(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	telemetry.QueueDepth.Set(float64(depth))
	return depth, nil
}

// PollResult is what a polling worker receives: claimable queued work
// filtered to its projects, plus pending prompts for the sessions it owns.
type PollResult struct {
	Work           []*models.QueuedWork               `json:"work"`
	PendingPrompts map[string][]*models.PendingPrompt `json:"pending_prompts,omitempty"`
}

// Poll returns queued work the worker may claim, in dispatch order. Entries
// are not reserved; the worker races for them through Claim. limit <= 0 uses
// DefaultPollLimit.
func (s *WorkerService) Poll(ctx context.Context, workerID string, limit int64) (*PollResult, error) {
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
	if limit <= 0 {
		limit = DefaultPollLimit
	}

	ids, err := s.store.PeekQueue(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to peek queue: %w", err)
	}
	result := &PollResult{Work: []*models.QueuedWork{}}
	if len(ids) > 0 {
		recs, err := s.store.GetSessions(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load queued sessions: %w", err)
		}
		for _, rec := range recs {
			// Entries linger briefly between a status flip and queue
			// removal; skip anything no longer pending.
			if rec.Status != models.SessionStatusPending {
				continue
			}
			if !worker.ServesProject(rec.ProjectName) {
				continue
			}
			result.Work = append(result.Work, models.WorkFromSession(rec))
		}
	}

	owned, err := s.store.ListWorkerSessions(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list worker sessions: %w", err)
	}
	for _, sid := range owned {
		prompts, err := s.store.ListPrompts(ctx, sid)
		if err != nil {
			return nil, fmt.Errorf("failed to list prompts: %w", err)
		}
		if len(prompts) == 0 {
			continue
		}
		if result.PendingPrompts == nil {
			result.PendingPrompts = make(map[string][]*models.PendingPrompt)
		}
		result.PendingPrompts[sid] = prompts
	}
	return result, nil
}

// Get returns the worker registration, or ErrNotFound when unknown/expired.
func (s *WorkerService) Get(ctx context.Context, workerID string) (*models.WorkerRecord, error) {
	if workerID == "" {
		return nil, NewValidationError("worker_id", "required")
	}
	rec, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load worker: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// List returns every live worker registration.
func (s *WorkerService) List(ctx context.Context) ([]*models.WorkerRecord, error) {
	recs, err := s.store.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	return recs, nil
}

func (s *WorkerService) refreshWorkerGauge(ctx context.Context) {
	recs, err := s.store.ListWorkers(ctx)
	if err != nil {
		return
	}
	telemetry.ActiveWorkers.Set(float64(len(recs)))
}
