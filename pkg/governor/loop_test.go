package governor

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/telemetry"
)

func TestLoopDispatchesFromStatusEvent(t *testing.T) {
	h := newHarness(t)
	h.startLoop(t)
	ctx := context.Background()

	issue := makeIssue("50", models.StatusBacklog)
	h.publishStatus(t, issue)
	h.settle(t)

	queued, err := h.store.PeekQueue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)

	rec, err := h.store.GetSession(ctx, queued[0])
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, issue.ID, rec.IssueID)
	assert.Equal(t, models.WorkTypeDevelopment, rec.WorkType)
	assert.Equal(t, models.SessionStatusPending, rec.Status)
}

func TestLoopSuppressesDuplicateEvents(t *testing.T) {
	h := newHarness(t)
	h.startLoop(t)
	ctx := context.Background()

	issue := makeIssue("51", models.StatusBacklog)
	h.publishStatus(t, issue)
	h.settle(t)
	before := testutil.ToFloat64(telemetry.EventsDeduplicated)

	// The same change arriving again inside the window is dropped before
	// evaluation.
	h.publishStatus(t, issue)
	h.settle(t)

	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.EventsDeduplicated))
	sessions, err := h.store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestLoopHoldThenResume(t *testing.T) {
	h := newHarness(t)
	h.startLoop(t)
	ctx := context.Background()

	issue := makeIssue("52", models.StatusBacklog)
	h.publishComment(t, issue, "c1", "HOLD - fixing this by hand", "maintainer")
	h.settle(t)

	held, reason, err := h.overrides.Held(ctx, issue.ID)
	require.NoError(t, err)
	require.True(t, held)
	assert.Equal(t, "fixing this by hand", reason)

	h.publishStatus(t, issue)
	h.settle(t)
	sessions, err := h.store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	// Resume clears the hold and re-evaluates without waiting for the next
	// status event or poll sweep.
	h.publishComment(t, issue, "c2", "RESUME", "maintainer")
	h.settle(t)

	sessions, err = h.store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, models.WorkTypeDevelopment, sessions[0].WorkType)
}

func TestLoopRoutesCommentToClaimedSession(t *testing.T) {
	h := newHarness(t)
	h.startLoop(t)
	ctx := context.Background()

	issue := makeIssue("53", models.StatusBacklog)
	h.publishStatus(t, issue)
	h.settle(t)

	queued, err := h.store.PeekQueue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	worker := h.registerWorker(t)
	h.claim(t, queued[0], worker.ID)

	h.publishComment(t, issue, "c1", "The reproduction steps are on the wiki page.", "maintainer")
	h.settle(t)

	prompts, err := h.prompts.List(ctx, queued[0])
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, "The reproduction steps are on the wiki page.", prompts[0].Prompt)
	assert.Equal(t, "maintainer", prompts[0].User)

	// The comment becomes a prompt, never a second session.
	sessions, err := h.store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestLoopReassignRequeuesClaimedSession(t *testing.T) {
	h := newHarness(t)
	h.startLoop(t)
	ctx := context.Background()

	issue := makeIssue("54", models.StatusBacklog)
	h.publishStatus(t, issue)
	h.settle(t)

	queued, err := h.store.PeekQueue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	sessionID := queued[0]
	worker := h.registerWorker(t)
	h.claim(t, sessionID, worker.ID)

	h.publishComment(t, issue, "c1", "REASSIGN", "maintainer")
	h.settle(t)

	rec, err := h.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusPending, rec.Status)
	assert.Empty(t, rec.WorkerID)

	owner, err := h.store.GetClaimOwner(ctx, sessionID)
	require.NoError(t, err)
	assert.Empty(t, owner)

	queued, err = h.store.PeekQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{sessionID}, queued)
}

func TestLoopCommentHintEvaluatesWhenNoSessionActive(t *testing.T) {
	h := newHarness(t)
	h.startLoop(t)
	ctx := context.Background()

	issue := makeIssue("55", models.StatusIcebox)
	issue.Description = "importer is slow"
	issue.CreatedAt = time.Now().Add(-2 * time.Hour).UnixMilli()

	h.publishComment(t, issue, "c1", "Could you split this into smaller pieces?", "maintainer")
	h.settle(t)

	sessions, err := h.store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, models.WorkTypeBacklogCreation, sessions[0].WorkType)
}

func TestLoopIgnoresEventWithoutIssueSnapshot(t *testing.T) {
	h := newHarness(t)
	h.startLoop(t)

	_, err := h.bus.Publish(models.Event{
		Type:      models.EventSessionCompleted,
		IssueID:   "issue-56",
		SessionID: "governor-xyz",
		Outcome:   models.OutcomeSuccess,
		Timestamp: time.Now().UnixMilli(),
		Source:    models.SourceManual,
	})
	require.NoError(t, err)
	h.settle(t)

	sessions, err := h.store.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
