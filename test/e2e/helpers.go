package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/services"
	"github.com/codeready-toolchain/governor/pkg/tracker"
)

// ────────────────────────────────────────────────────────────
// Scripted Tracker Adapter
// ────────────────────────────────────────────────────────────

// ScriptedAdapter is the tracker platform stand-in: canned scan results per
// project, recorded transitions, injectable failures. It embeds Normalizer
// the way a real platform client would, so webhook ingress through it is the
// production code path.
type ScriptedAdapter struct {
	tracker.Normalizer

	mu            sync.Mutex
	results       map[string]*tracker.ScanResult
	failing       map[string]error
	transitionErr error
	transitions   []string
}

func NewScriptedAdapter() *ScriptedAdapter {
	return &ScriptedAdapter{
		results: map[string]*tracker.ScanResult{},
		failing: map[string]error{},
	}
}

// SetProjectIssues scripts the scan result for one project. parentIDs may be
// nil when no issue in the snapshot has children.
func (a *ScriptedAdapter) SetProjectIssues(project string, parentIDs map[string]bool, issues ...*models.Issue) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if parentIDs == nil {
		parentIDs = map[string]bool{}
	}
	a.results[project] = &tracker.ScanResult{Issues: issues, ParentIDs: parentIDs}
}

// FailProject makes every scan of the project fail with err.
func (a *ScriptedAdapter) FailProject(project string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failing[project] = err
}

// FailTransitions makes every TransitionIssue call fail with err. Pass nil
// to restore success.
func (a *ScriptedAdapter) FailTransitions(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transitionErr = err
}

// Transitions returns the recorded upstream transitions as "issueID:status"
// strings, in call order.
func (a *ScriptedAdapter) Transitions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.transitions))
	copy(out, a.transitions)
	return out
}

func (a *ScriptedAdapter) ScanProjectIssues(ctx context.Context, project string) ([]*models.Issue, error) {
	res, err := a.ScanProjectIssuesWithParents(ctx, project)
	if err != nil {
		return nil, err
	}
	return res.Issues, nil
}

func (a *ScriptedAdapter) ScanProjectIssuesWithParents(_ context.Context, project string) (*tracker.ScanResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failing[project]; err != nil {
		return nil, err
	}
	if res, ok := a.results[project]; ok {
		return res, nil
	}
	return &tracker.ScanResult{ParentIDs: map[string]bool{}}, nil
}

func (a *ScriptedAdapter) TransitionIssue(_ context.Context, issueID string, to models.IssueStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.transitionErr != nil {
		return a.transitionErr
	}
	a.transitions = append(a.transitions, issueID+":"+string(to))
	return nil
}

// ────────────────────────────────────────────────────────────
// Webhook Payload Builders
// ────────────────────────────────────────────────────────────

// issueWire maps an issue snapshot into the wire shape tracker deliveries
// carry in their data block.
func issueWire(issue *models.Issue) map[string]any {
	labels := make([]map[string]any, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, map[string]any{"name": l})
	}
	data := map[string]any{
		"id":          issue.ID,
		"identifier":  issue.Identifier,
		"title":       issue.Title,
		"description": issue.Description,
		"state":       map[string]any{"name": string(issue.Status)},
		"labels":      labels,
		"createdAt":   time.UnixMilli(issue.CreatedAt).UTC().Format(time.RFC3339),
	}
	if issue.ParentID != "" {
		data["parent"] = map[string]any{"id": issue.ParentID}
	}
	if issue.ProjectName != "" {
		data["project"] = map[string]any{"name": issue.ProjectName}
	}
	return data
}

// IssueStatusWebhook builds the tracker delivery for an issue moved between
// workflow states. The issue's Status field is the new state.
func IssueStatusWebhook(issue *models.Issue) map[string]any {
	return map[string]any{
		"action":      "update",
		"type":        "Issue",
		"data":        issueWire(issue),
		"updatedFrom": map[string]any{"stateId": "state-previous"},
		"createdAt":   time.Now().UTC().Format(time.RFC3339),
	}
}

// CommentWebhook builds the tracker delivery for a human comment on an
// issue.
func CommentWebhook(issue *models.Issue, commentID, body string) map[string]any {
	return map[string]any{
		"action": "create",
		"type":   "Comment",
		"data": map[string]any{
			"id":      commentID,
			"body":    body,
			"issueId": issue.ID,
			"issue":   issueWire(issue),
			"user":    map[string]any{"id": "user-1", "name": "Dana", "isBot": false},
		},
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
}

// ────────────────────────────────────────────────────────────
// HTTP Client Helpers
// ────────────────────────────────────────────────────────────

// PostWebhook delivers a tracker payload. idempotencyKey may be empty, in
// which case the server derives one from the payload. Returns the parsed
// response body (status "accepted", "duplicate" or "ignored").
func (app *TestApp) PostWebhook(t *testing.T, payload map[string]any, idempotencyKey string) map[string]any {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+"/webhook", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode, "POST /webhook: unexpected status")
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// getJSON performs an unauthenticated GET and decodes the body into a map.
func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int) map[string]any {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: unexpected status", path)
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// workerRequest performs one request against the worker API with the bearer
// token attached and returns the raw response. The caller owns the body.
func (app *TestApp) workerRequest(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+workerToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// workerJSON performs a worker API request and decodes the response body.
func workerJSON[T any](t *testing.T, app *TestApp, method, path string, body any, expectedStatus int) T {
	t.Helper()
	resp := app.workerRequest(t, method, path, body)
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, expectedStatus, resp.StatusCode, "%s %s: body %s", method, path, raw)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	return out
}

// ────────────────────────────────────────────────────────────
// Worker Flow Helpers
// ────────────────────────────────────────────────────────────

// RegisterWorker registers a worker over HTTP and returns its record.
func (app *TestApp) RegisterWorker(t *testing.T, hostname string, projects ...string) *models.WorkerRecord {
	t.Helper()
	return workerJSON[*models.WorkerRecord](t, app, http.MethodPost, "/workers/register", services.RegisterInput{
		Hostname: hostname,
		Capacity: 4,
		Projects: projects,
	}, http.StatusCreated)
}

// PollWork polls the queue as the worker.
func (app *TestApp) PollWork(t *testing.T, workerID string) *services.PollResult {
	t.Helper()
	return workerJSON[*services.PollResult](t, app, http.MethodGet, "/workers/"+workerID+"/poll", nil, http.StatusOK)
}

// ClaimSession attempts a claim as the worker. Refusals come back in the
// result, not as an error.
func (app *TestApp) ClaimSession(t *testing.T, sessionID, workerID string) *models.ClaimResult {
	t.Helper()
	return workerJSON[*models.ClaimResult](t, app, http.MethodPost, "/sessions/"+sessionID+"/claim",
		map[string]string{"worker_id": workerID}, http.StatusOK)
}

// ReportStatus posts a session status update as the worker and returns the
// record as stored, which may differ from the report when the service
// absorbed an out-of-order transition.
func (app *TestApp) ReportStatus(t *testing.T, sessionID string, update models.SessionStatusUpdate) *models.SessionRecord {
	t.Helper()
	return workerJSON[*models.SessionRecord](t, app, http.MethodPost, "/sessions/"+sessionID+"/status", update, http.StatusOK)
}

// RunSessionToCompletion walks one claimed session through running to
// completed as the worker.
func (app *TestApp) RunSessionToCompletion(t *testing.T, sessionID, workerID string) *models.SessionRecord {
	t.Helper()
	app.ReportStatus(t, sessionID, models.SessionStatusUpdate{WorkerID: workerID, Status: models.SessionStatusRunning})
	return app.ReportStatus(t, sessionID, models.SessionStatusUpdate{WorkerID: workerID, Status: models.SessionStatusCompleted})
}

// ────────────────────────────────────────────────────────────
// Polling Helpers
// ────────────────────────────────────────────────────────────

// WaitForSessionWithWorkType waits until a session of the given work type
// exists for the issue and returns it.
func (app *TestApp) WaitForSessionWithWorkType(t *testing.T, issueID string, workType models.WorkType) *models.SessionRecord {
	t.Helper()
	var found *models.SessionRecord
	require.Eventually(t, func() bool {
		recs, err := app.Store.ListSessions(context.Background())
		if err != nil {
			return false
		}
		for _, rec := range recs {
			if rec.IssueID == issueID && rec.WorkType == workType {
				found = rec
				return true
			}
		}
		return false
	}, 10*time.Second, 25*time.Millisecond,
		"no %s session appeared for issue %s", workType, issueID)
	return found
}

// WaitForSessionStatus waits until the session reaches one of the expected
// statuses and returns the status it landed on.
func (app *TestApp) WaitForSessionStatus(t *testing.T, sessionID string, expected ...models.SessionStatus) models.SessionStatus {
	t.Helper()
	var actual models.SessionStatus
	require.Eventually(t, func() bool {
		rec, err := app.Store.GetSession(context.Background(), sessionID)
		if err != nil || rec == nil {
			return false
		}
		actual = rec.Status
		for _, exp := range expected {
			if actual == exp {
				return true
			}
		}
		return false
	}, 10*time.Second, 25*time.Millisecond,
		"session %s did not reach status %v (last: %s)", sessionID, expected, actual)
	return actual
}

// WaitForQueueDepth waits until the global queue holds exactly depth entries.
func (app *TestApp) WaitForQueueDepth(t *testing.T, depth int64) {
	t.Helper()
	var last int64
	require.Eventually(t, func() bool {
		d, err := app.Store.QueueDepth(context.Background())
		if err != nil {
			return false
		}
		last = d
		return d == depth
	}, 10*time.Second, 25*time.Millisecond,
		"queue depth never reached %d (last: %d)", depth, last)
}

// WaitForBusDrained waits until every published event has been delivered and
// acked. Draining proves the governor finished reacting to everything posted
// so far; asserting absence of a dispatch is only sound after this.
func (app *TestApp) WaitForBusDrained(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return app.Bus.Depth() == 0 && app.Bus.PendingCount() == 0
	}, 10*time.Second, 25*time.Millisecond,
		"event bus never drained (depth %d, pending %d)", app.Bus.Depth(), app.Bus.PendingCount())
}

// WaitForTransition waits until the scripted adapter has recorded the given
// upstream transition.
func (app *TestApp) WaitForTransition(t *testing.T, issueID string, to models.IssueStatus) {
	t.Helper()
	want := issueID + ":" + string(to)
	require.Eventually(t, func() bool {
		for _, tr := range app.Adapter.Transitions() {
			if tr == want {
				return true
			}
		}
		return false
	}, 10*time.Second, 25*time.Millisecond,
		"transition %s was never pushed upstream (recorded: %v)", want, app.Adapter.Transitions())
}

// SessionsForIssue returns every session record for the issue.
func (app *TestApp) SessionsForIssue(t *testing.T, issueID string) []*models.SessionRecord {
	t.Helper()
	recs, err := app.Store.ListSessions(context.Background())
	require.NoError(t, err)
	var out []*models.SessionRecord
	for _, rec := range recs {
		if rec.IssueID == issueID {
			out = append(out, rec)
		}
	}
	return out
}

// testIssue builds an issue snapshot in the given status for the default
// test project.
func testIssue(num string, status models.IssueStatus) *models.Issue {
	return &models.Issue{
		ID:          "issue-" + num,
		Identifier:  "ENG-" + num,
		Title:       "Issue " + num,
		Description: longDescription(),
		Status:      status,
		ProjectName: "alpha",
		CreatedAt:   time.Now().Add(-2 * time.Hour).UnixMilli(),
	}
}

// longDescription returns an issue description that passes the researched
// heuristic, so funnel tests opt into thin descriptions explicitly.
func longDescription() string {
	return "## Summary\nThe widget service drops updates under load because the " +
		"queue consumer acks before the write lands. Reproduced on three nodes " +
		"with the standard soak suite.\n\n## Acceptance Criteria\nMove the ack " +
		"after the write, add a retry with jitter, and show that updates survive " +
		"a consumer restart mid-batch."
}
