package governor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/governor/pkg/bus"
	"github.com/codeready-toolchain/governor/pkg/config"
	"github.com/codeready-toolchain/governor/pkg/dedup"
	"github.com/codeready-toolchain/governor/pkg/funnel"
	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/override"
	"github.com/codeready-toolchain/governor/pkg/services"
	"github.com/codeready-toolchain/governor/pkg/store"
)

type harness struct {
	store     store.Store
	cfg       *config.GovernorConfig
	overrides *override.Engine
	dispatch  *services.DispatchService
	sessions  *services.SessionService
	workers   *services.WorkerService
	prompts   *services.PromptService
	eval      *Evaluator
	bus       *bus.Bus
	loop      *Loop
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.DefaultGovernorConfig()
	cfg.Projects = []string{"alpha"}
	cfg.Cooldown = time.Minute
	tof := config.DefaultTopOfFunnelConfig()

	logger := slog.Default()
	overrides := override.NewEngine(st)
	dispatch := services.NewDispatchService(st, cfg, nil, logger)
	sessions := services.NewSessionService(st, cfg, dispatch, nil, nil, logger)
	workers := services.NewWorkerService(st, logger)
	prompts := services.NewPromptService(st, nil, logger)
	eval := NewEvaluator(st, cfg, funnel.NewPolicy(tof), overrides, dispatch, logger)

	b := bus.New()
	t.Cleanup(b.Close)
	loop := NewLoop(LoopDeps{
		Bus:       b,
		Dedup:     dedup.New(st, cfg.DedupWindow),
		Evaluator: eval,
		Overrides: overrides,
		Sessions:  sessions,
		Prompts:   prompts,
		Store:     st,
		Config:    cfg,
		Logger:    logger,
	})
	return &harness{
		store:     st,
		cfg:       cfg,
		overrides: overrides,
		dispatch:  dispatch,
		sessions:  sessions,
		workers:   workers,
		prompts:   prompts,
		eval:      eval,
		bus:       b,
		loop:      loop,
	}
}

// startLoop runs the loop until the test ends.
func (h *harness) startLoop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// settle waits until every published event has been handled and acked.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.bus.Depth() == 0 && h.bus.PendingCount() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) publishStatus(t *testing.T, issue *models.Issue) {
	t.Helper()
	_, err := h.bus.Publish(models.Event{
		Type:      models.EventIssueStatusChanged,
		IssueID:   issue.ID,
		Issue:     *issue,
		NewStatus: issue.Status,
		Timestamp: time.Now().UnixMilli(),
		Source:    models.SourceWebhook,
	})
	require.NoError(t, err)
}

func (h *harness) publishComment(t *testing.T, issue *models.Issue, commentID, body, user string) {
	t.Helper()
	_, err := h.bus.Publish(models.Event{
		Type:        models.EventCommentAdded,
		IssueID:     issue.ID,
		Issue:       *issue,
		CommentID:   commentID,
		CommentBody: body,
		UserName:    user,
		Timestamp:   time.Now().UnixMilli(),
		Source:      models.SourceWebhook,
	})
	require.NoError(t, err)
}

func makeIssue(id string, status models.IssueStatus) *models.Issue {
	return &models.Issue{
		ID:          "issue-" + id,
		Identifier:  "ENG-" + id,
		Title:       "Issue " + id,
		Status:      status,
		ProjectName: "alpha",
		CreatedAt:   time.Now().UnixMilli(),
	}
}

func (h *harness) registerWorker(t *testing.T) *models.WorkerRecord {
	t.Helper()
	rec, err := h.workers.Register(context.Background(), services.RegisterInput{
		Hostname: "worker.test",
		Capacity: 2,
		Projects: []string{"alpha"},
	})
	require.NoError(t, err)
	return rec
}

func (h *harness) claim(t *testing.T, sessionID, workerID string) {
	t.Helper()
	res, err := h.sessions.Claim(context.Background(), sessionID, workerID)
	require.NoError(t, err)
	require.True(t, res.Claimed)
}
