package services

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/store"
	"github.com/codeready-toolchain/governor/pkg/telemetry"
	"github.com/codeready-toolchain/governor/pkg/upstream"
)

// StatsService assembles the sanitized views served without authentication.
// Nothing here exposes prompt text, worker identities, errors or cost.
type StatsService struct {
	store store.Store
	guard *upstream.Guard
}

// NewStatsService creates a new StatsService. guard may be nil; breaker state
// and the call count are then omitted.
func NewStatsService(st store.Store, guard *upstream.Guard) *StatsService {
	if st == nil {
		panic("store is required")
	}
	return &StatsService{store: st, guard: guard}
}

// PublicStats is the anonymous operational summary.
type PublicStats struct {
	QueueDepth       int64                        `json:"queue_depth"`
	ParkedDepth      int64                        `json:"parked_depth"`
	SessionsByStatus map[models.SessionStatus]int `json:"sessions_by_status"`
	ActiveWorkers    int                          `json:"active_workers"`
	BreakerState     string                       `json:"breaker_state,omitempty"`
	APICallCount     int64                        `json:"api_call_count"`
	GeneratedAt      int64                        `json:"generated_at"`
}

// Stats computes the current public summary and refreshes the depth gauges
// as a side effect.
func (s *StatsService) Stats(ctx context.Context) (*PublicStats, error) {
	depth, err := s.store.QueueDepth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue depth: %w", err)
	}
	parked, err := s.store.ParkedDepth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read parked depth: %w", err)
	}
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	workers, err := s.store.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}

	byStatus := make(map[models.SessionStatus]int)
	for _, rec := range sessions {
		byStatus[rec.Status]++
	}

	stats := &PublicStats{
		QueueDepth:       depth,
		ParkedDepth:      parked,
		SessionsByStatus: byStatus,
		ActiveWorkers:    len(workers),
		GeneratedAt:      time.Now().UnixMilli(),
	}
	if s.guard != nil {
		stats.BreakerState = string(s.guard.Breaker().State())
		stats.APICallCount = s.guard.CallCount()
	}

	telemetry.QueueDepth.Set(float64(depth))
	telemetry.ActiveWorkers.Set(float64(len(workers)))
	return stats, nil
}

// PublicSession is the sanitized view of one session. The public id is the
// session id itself; synthetic ids are unguessable and carry no tracker data.
type PublicSession struct {
	PublicID        string               `json:"public_id"`
	IssueIdentifier string               `json:"issue_identifier"`
	WorkType        models.WorkType      `json:"work_type"`
	Status          models.SessionStatus `json:"status"`
	ProjectName     string               `json:"project_name,omitempty"`
	CreatedAt       int64                `json:"created_at"`
	UpdatedAt       int64                `json:"updated_at"`
}

func sanitizeSession(rec *models.SessionRecord) PublicSession {
	return PublicSession{
		PublicID:        rec.SessionID,
		IssueIdentifier: rec.IssueIdentifier,
		WorkType:        rec.WorkType,
		Status:          rec.Status,
		ProjectName:     rec.ProjectName,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

// Sessions returns the sanitized view of every live session.
func (s *StatsService) Sessions(ctx context.Context) ([]PublicSession, error) {
	recs, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]PublicSession, 0, len(recs))
	for _, rec := range recs {
		out = append(out, sanitizeSession(rec))
	}
	return out, nil
}

// Session returns the sanitized view of one session, or ErrNotFound.
func (s *StatsService) Session(ctx context.Context, publicID string) (*PublicSession, error) {
	if publicID == "" {
		return nil, NewValidationError("public_id", "required")
	}
	rec, err := s.store.GetSession(ctx, publicID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	view := sanitizeSession(rec)
	return &view, nil
}
