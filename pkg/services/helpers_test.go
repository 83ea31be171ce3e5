package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/governor/pkg/config"
	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/store"
)

type transitionCall struct {
	issueID string
	to      models.IssueStatus
}

// fakeTransitioner records completion-driven issue transitions.
type fakeTransitioner struct {
	mu    sync.Mutex
	calls []transitionCall
	err   error
}

func (f *fakeTransitioner) TransitionIssue(_ context.Context, issueID string, to models.IssueStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, transitionCall{issueID: issueID, to: to})
	return nil
}

func (f *fakeTransitioner) transitions() []transitionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transitionCall(nil), f.calls...)
}

// fakeNotifier records published stream events.
type fakeNotifier struct {
	mu     sync.Mutex
	events []models.StreamEvent
}

func (f *fakeNotifier) Notify(_ context.Context, ev models.StreamEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeNotifier) byType(t models.StreamEventType) []models.StreamEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.StreamEvent
	for _, ev := range f.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type testEnv struct {
	store    store.Store
	cfg      *config.GovernorConfig
	trans    *fakeTransitioner
	notifier *fakeNotifier
	dispatch *DispatchService
	sessions *SessionService
	workers  *WorkerService
	prompts  *PromptService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.DefaultGovernorConfig()
	cfg.Projects = []string{"alpha"}
	cfg.Cooldown = time.Minute

	logger := slog.Default()
	trans := &fakeTransitioner{}
	notifier := &fakeNotifier{}
	dispatch := NewDispatchService(st, cfg, notifier, logger)
	return &testEnv{
		store:    st,
		cfg:      cfg,
		trans:    trans,
		notifier: notifier,
		dispatch: dispatch,
		sessions: NewSessionService(st, cfg, dispatch, trans, notifier, logger),
		workers:  NewWorkerService(st, logger),
		prompts:  NewPromptService(st, notifier, logger),
	}
}

func testIssue(id string, status models.IssueStatus) *models.Issue {
	return &models.Issue{
		ID:         "issue-" + id,
		Identifier: "ENG-" + id,
		Title:      "Issue " + id,
		Status:     status,
		CreatedAt:  time.Now().UnixMilli(),
	}
}

// registerWorker registers a worker with default capacity.
func (e *testEnv) registerWorker(t *testing.T, projects ...string) *models.WorkerRecord {
	t.Helper()
	rec, err := e.workers.Register(context.Background(), RegisterInput{
		Hostname: "worker.test",
		Capacity: 2,
		Projects: projects,
	})
	require.NoError(t, err)
	return rec
}

// dispatchWork dispatches work for the issue and returns the session id.
func (e *testEnv) dispatchWork(t *testing.T, issue *models.Issue, w models.WorkType) string {
	t.Helper()
	res, err := e.dispatch.Dispatch(context.Background(), DispatchInput{
		Issue:    issue,
		WorkType: w,
		Prompt:   "work on " + issue.Identifier,
		Priority: e.cfg.PriorityFor(w),
	})
	require.NoError(t, err)
	require.True(t, res.Dispatched)
	return res.SessionID
}

// claimSession claims the session for the worker and requires success.
func (e *testEnv) claimSession(t *testing.T, sessionID, workerID string) *models.ClaimResult {
	t.Helper()
	res, err := e.sessions.Claim(context.Background(), sessionID, workerID)
	require.NoError(t, err)
	require.True(t, res.Claimed)
	return res
}

// advanceTo walks the session through worker-reported statuses in order.
func (e *testEnv) advanceTo(t *testing.T, sessionID, workerID string, statuses ...models.SessionStatus) *models.SessionRecord {
	t.Helper()
	var rec *models.SessionRecord
	var err error
	for _, st := range statuses {
		rec, err = e.sessions.UpdateStatus(context.Background(), sessionID, models.SessionStatusUpdate{
			WorkerID: workerID,
			Status:   st,
		})
		require.NoError(t, err)
	}
	return rec
}
