// Package reaper recovers work stranded by failures elsewhere in the system:
// workers that stopped heartbeating, claim leases that expired with the
// session still marked claimed, and issue locks whose owning session is gone.
// Every governor instance runs the sweep independently; all recovery actions
// are idempotent, so overlapping sweeps are safe.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/governor/pkg/config"
	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/services"
	"github.com/codeready-toolchain/governor/pkg/store"
	"github.com/codeready-toolchain/governor/pkg/telemetry"
)

type Reaper struct {
	store    store.Store
	cfg      *config.ReaperConfig
	sessions *services.SessionService
	dispatch *services.DispatchService
	logger   *slog.Logger
}

func New(st store.Store, cfg *config.ReaperConfig, sessions *services.SessionService, dispatch *services.DispatchService, logger *slog.Logger) *Reaper {
	if st == nil {
		panic("store is required")
	}
	if cfg == nil {
		panic("reaper config is required")
	}
	if sessions == nil {
		panic("session service is required")
	}
	if dispatch == nil {
		panic("dispatch service is required")
	}
	return &Reaper{
		store:    st,
		cfg:      cfg,
		sessions: sessions,
		dispatch: dispatch,
		logger:   logger.With("component", "reaper"),
	}
}

// Run sweeps on the configured interval until the context ends. With startup
// recovery enabled, one sweep runs before the first tick so sessions stranded
// by a previous crash are back in the queue before the loop starts consuming.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("reaper started",
		"interval", r.cfg.Interval,
		"worker_timeout", r.cfg.WorkerTimeout,
		"claim_stale", r.cfg.ClaimStale)

	if r.cfg.RecoverOnStartupEnabled() {
		r.Sweep(ctx)
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs the three recovery passes once. A failing pass is logged and
// does not stop the others.
func (r *Reaper) Sweep(ctx context.Context) {
	if err := r.reapDeadWorkers(ctx); err != nil {
		r.logger.Error("dead worker sweep failed", "error", err)
	}
	if err := r.reapStuckSessions(ctx); err != nil {
		r.logger.Error("stuck session sweep failed", "error", err)
	}
	if err := r.reapOrphanedLocks(ctx); err != nil {
		r.logger.Error("orphaned lock sweep failed", "error", err)
	}
}

// reapDeadWorkers evicts workers whose last heartbeat is older than
// WorkerTimeout and returns their sessions to the queue. The registry TTL
// would eventually drop the record anyway; the sweep exists so the sessions
// do not wait that long.
func (r *Reaper) reapDeadWorkers(ctx context.Context) error {
	workers, err := r.store.ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list workers: %w", err)
	}

	cutoff := time.Now().Add(-r.cfg.WorkerTimeout).UnixMilli()
	live := 0
	for _, w := range workers {
		if w.LastSeenAt >= cutoff {
			live++
			continue
		}
		r.evictWorker(ctx, w)
	}

	telemetry.ActiveWorkers.Set(float64(live))
	return nil
}

func (r *Reaper) evictWorker(ctx context.Context, w *models.WorkerRecord) {
	log := r.logger.With("worker_id", w.ID, "hostname", w.Hostname)

	sessionIDs, err := r.store.ListWorkerSessions(ctx, w.ID)
	if err != nil {
		log.Error("failed to list dead worker sessions", "error", err)
		return
	}

	requeued := 0
	for _, sessionID := range sessionIDs {
		if _, err := r.sessions.Requeue(ctx, sessionID, "worker missed heartbeats"); err != nil {
			// Leave the index entry in place so the next sweep retries.
			log.Error("failed to requeue session from dead worker",
				"session_id", sessionID, "error", err)
			continue
		}
		requeued++
	}

	if err := r.store.DeleteWorker(ctx, w.ID); err != nil {
		log.Error("failed to delete dead worker", "error", err)
		return
	}

	telemetry.ReaperActions.WithLabelValues("dead_worker").Inc()
	log.Warn("dead worker evicted",
		"sessions_requeued", requeued,
		"last_seen_at", w.LastSeenAt)
}

// reapStuckSessions requeues sessions that sat in claimed past ClaimStale
// with no live claim lease. The lease expiring without a refresh means the
// claiming worker never started the session and never will.
func (r *Reaper) reapStuckSessions(ctx context.Context) error {
	records, err := r.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	cutoff := time.Now().Add(-r.cfg.ClaimStale).UnixMilli()
	for _, rec := range records {
		if rec.Status != models.SessionStatusClaimed || rec.ClaimedAt == 0 || rec.ClaimedAt >= cutoff {
			continue
		}

		owner, err := r.store.GetClaimOwner(ctx, rec.SessionID)
		if err != nil {
			r.logger.Error("failed to check claim lease",
				"session_id", rec.SessionID, "error", err)
			continue
		}
		if owner != "" {
			// Lease is live: the worker is slow, not gone.
			continue
		}

		if _, err := r.sessions.Requeue(ctx, rec.SessionID, "claim lease expired"); err != nil {
			r.logger.Error("failed to requeue stuck session",
				"session_id", rec.SessionID, "error", err)
			continue
		}

		telemetry.ReaperActions.WithLabelValues("stuck_session").Inc()
		r.logger.Warn("stuck claimed session requeued",
			"session_id", rec.SessionID,
			"worker_id", rec.WorkerID,
			"claimed_at", rec.ClaimedAt)
	}

	return nil
}

// reapOrphanedLocks releases issue locks whose owning session is terminal or
// gone, then promotes parked work for the freed issue. This is the safety net
// under the terminal cleanup chain: if cleanup crashed between finalizing the
// session and releasing the lock, the issue would otherwise stay blocked
// until the lock TTL ran out.
func (r *Reaper) reapOrphanedLocks(ctx context.Context) error {
	locks, err := r.store.ListIssueLocks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list issue locks: %w", err)
	}

	for _, lock := range locks {
		rec, err := r.store.GetSession(ctx, lock.SessionID)
		if err != nil {
			r.logger.Error("failed to load lock holder",
				"issue_id", lock.IssueID, "session_id", lock.SessionID, "error", err)
			continue
		}
		if rec != nil && !rec.Status.IsTerminal() {
			continue
		}

		released, err := r.store.ReleaseIssueLock(ctx, lock.IssueID, lock.SessionID)
		if err != nil {
			r.logger.Error("failed to release orphaned lock",
				"issue_id", lock.IssueID, "session_id", lock.SessionID, "error", err)
			continue
		}
		if !released {
			// Another session took the lock between the scan and now.
			continue
		}

		telemetry.ReaperActions.WithLabelValues("orphaned_lock").Inc()
		r.logger.Warn("orphaned issue lock released",
			"issue_id", lock.IssueID,
			"session_id", lock.SessionID)

		if _, err := r.dispatch.PromoteNext(ctx, lock.IssueID); err != nil {
			r.logger.Error("failed to promote parked work after lock release",
				"issue_id", lock.IssueID, "error", err)
		}
	}

	return nil
}
