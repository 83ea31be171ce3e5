package e2e

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/governor/pkg/api"
	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/services"
)

// ────────────────────────────────────────────────────────────
// Worker lifecycle: register, poll, claim, report, cleanup
// ────────────────────────────────────────────────────────────

func TestE2E_WorkerClaimReportLifecycle(t *testing.T) {
	app := NewTestApp(t)
	ctx := context.Background()

	issue := testIssue("20", models.StatusBacklog)
	app.PostWebhook(t, IssueStatusWebhook(issue), "")
	rec := app.WaitForSessionWithWorkType(t, issue.ID, models.WorkTypeDevelopment)

	worker := app.RegisterWorker(t, "host-a", "alpha")
	assert.NotEmpty(t, worker.ID)
	assert.Equal(t, "host-a", worker.Hostname)
	rival := app.RegisterWorker(t, "host-b", "alpha")

	// Heartbeat refreshes the registration and reports claimable depth.
	hb := workerJSON[*api.HeartbeatResponse](t, app, http.MethodPost,
		"/workers/"+worker.ID+"/heartbeat", services.HeartbeatInput{ActiveCount: 0}, http.StatusOK)
	assert.EqualValues(t, 1, hb.PendingWorkCount)

	poll := app.PollWork(t, worker.ID)
	require.Len(t, poll.Work, 1)
	work := poll.Work[0]
	assert.Equal(t, rec.SessionID, work.SessionID)
	assert.Equal(t, issue.ID, work.IssueID)
	assert.Equal(t, models.WorkTypeDevelopment, work.WorkType)
	assert.Equal(t, rec.PromptContext, work.Prompt)

	claim := app.ClaimSession(t, rec.SessionID, worker.ID)
	require.True(t, claim.Claimed)
	assert.Equal(t, models.SessionStatusClaimed, claim.Session.Status)
	assert.Equal(t, worker.ID, claim.Session.WorkerID)

	// The losing worker reads a refusal, not an error: the queue entry is
	// already gone.
	lost := app.ClaimSession(t, rec.SessionID, rival.ID)
	assert.False(t, lost.Claimed)
	assert.Equal(t, models.ClaimReasonExpired, lost.Reason)

	// Claimed work no longer shows up in polls.
	assert.Empty(t, app.PollWork(t, worker.ID).Work)

	running := app.ReportStatus(t, rec.SessionID, models.SessionStatusUpdate{
		WorkerID: worker.ID, Status: models.SessionStatusRunning,
	})
	assert.Equal(t, models.SessionStatusRunning, running.Status)

	// A stale report is absorbed; the stored record comes back unchanged.
	stale := app.ReportStatus(t, rec.SessionID, models.SessionStatusUpdate{
		WorkerID: worker.ID, Status: models.SessionStatusClaimed,
	})
	assert.Equal(t, models.SessionStatusRunning, stale.Status)

	// Only the owner may report.
	resp := app.workerRequest(t, http.MethodPost, "/sessions/"+rec.SessionID+"/status",
		models.SessionStatusUpdate{WorkerID: rival.ID, Status: models.SessionStatusFinalizing})
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	done := app.ReportStatus(t, rec.SessionID, models.SessionStatusUpdate{
		WorkerID:     worker.ID,
		Status:       models.SessionStatusCompleted,
		TotalCostUSD: 1.25,
		OutputTokens: 4200,
	})
	assert.Equal(t, models.SessionStatusCompleted, done.Status)
	assert.Empty(t, done.WorkerID)
	assert.InDelta(t, 1.25, done.TotalCostUSD, 0.001)
	assert.EqualValues(t, 4200, done.OutputTokens)

	// Completion pushes the issue forward upstream, frees the lock and
	// starts the cooldown.
	app.WaitForTransition(t, issue.ID, models.StatusFinished)
	lock, err := app.Store.GetIssueLock(ctx, issue.ID)
	require.NoError(t, err)
	assert.Nil(t, lock)
	cooling, err := app.Store.InCooldown(ctx, issue.ID)
	require.NoError(t, err)
	assert.True(t, cooling)

	app.WaitForBusDrained(t)
	assert.Len(t, app.SessionsForIssue(t, issue.ID), 1)
}

// ────────────────────────────────────────────────────────────
// Parked work: second dispatch behind the lock, promoted on completion
// ────────────────────────────────────────────────────────────

func TestE2E_ParkedWorkPromotedAfterCompletion(t *testing.T) {
	app := NewTestApp(t)
	ctx := context.Background()

	issue := testIssue("21", models.StatusBacklog)
	app.PostWebhook(t, IssueStatusWebhook(issue), "")
	first := app.WaitForSessionWithWorkType(t, issue.ID, models.WorkTypeDevelopment)

	worker := app.RegisterWorker(t, "host-a", "alpha")
	claim := app.ClaimSession(t, first.SessionID, worker.ID)
	require.True(t, claim.Claimed)

	// A dispatch for the locked issue parks instead of queueing.
	res, err := app.Dispatch.Dispatch(ctx, services.DispatchInput{
		Issue:    issue,
		WorkType: models.WorkTypeDevelopment,
		Prompt:   "Second pass over the same issue.",
		Priority: 5,
	})
	require.NoError(t, err)
	assert.True(t, res.Parked)
	assert.False(t, res.Dispatched)
	parkedID := res.SessionID

	// No session exists for parked work until it is promoted.
	parked, err := app.Store.GetSession(ctx, parkedID)
	require.NoError(t, err)
	assert.Nil(t, parked)

	// Completing the lock holder promotes the parked entry into the queue.
	app.RunSessionToCompletion(t, first.SessionID, worker.ID)
	app.WaitForSessionStatus(t, parkedID, models.SessionStatusPending)
	app.WaitForQueueDepth(t, 1)

	lock, err := app.Store.GetIssueLock(ctx, issue.ID)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, parkedID, lock.SessionID)
}

// ────────────────────────────────────────────────────────────
// Prompt relay: comment on a locked issue reaches the live session
// ────────────────────────────────────────────────────────────

func TestE2E_CommentBecomesPromptForLiveSession(t *testing.T) {
	app := NewTestApp(t)

	issue := testIssue("22", models.StatusBacklog)
	app.PostWebhook(t, IssueStatusWebhook(issue), "")
	rec := app.WaitForSessionWithWorkType(t, issue.ID, models.WorkTypeDevelopment)

	worker := app.RegisterWorker(t, "host-a", "alpha")
	claim := app.ClaimSession(t, rec.SessionID, worker.ID)
	require.True(t, claim.Claimed)
	app.ReportStatus(t, rec.SessionID, models.SessionStatusUpdate{
		WorkerID: worker.ID, Status: models.SessionStatusRunning,
	})

	// A plain comment on an issue with a live session becomes a prompt for
	// that session, never a second dispatch.
	app.PostWebhook(t, CommentWebhook(issue, "c-note", "Please also update the changelog."), "")
	app.WaitForBusDrained(t)
	assert.Len(t, app.SessionsForIssue(t, issue.ID), 1)

	poll := app.PollWork(t, worker.ID)
	require.Len(t, poll.PendingPrompts[rec.SessionID], 1)
	prompt := poll.PendingPrompts[rec.SessionID][0]
	assert.Equal(t, "Please also update the changelog.", prompt.Prompt)
	assert.Equal(t, "Dana", prompt.User)
	assert.Equal(t, issue.ID, prompt.IssueID)

	// Claiming consumes the prompt exactly once.
	claimed := workerJSON[*models.PendingPrompt](t, app, http.MethodPost,
		"/sessions/"+rec.SessionID+"/prompts", api.ClaimPromptRequest{PromptID: prompt.ID}, http.StatusOK)
	assert.Equal(t, prompt.ID, claimed.ID)
	assert.Empty(t, app.PollWork(t, worker.ID).PendingPrompts)

	resp := app.workerRequest(t, http.MethodPost, "/sessions/"+rec.SessionID+"/prompts",
		api.ClaimPromptRequest{PromptID: prompt.ID})
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
