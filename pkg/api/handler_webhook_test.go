package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/governor/pkg/models"
)

const issueMovedPayload = `{
  "action": "update",
  "type": "Issue",
  "createdAt": "2025-06-07T10:00:00.000Z",
  "updatedFrom": {"stateId": "state-icebox"},
  "data": {
    "id": "issue-900",
    "identifier": "ENG-900",
    "title": "Add retry budget to dispatcher",
    "state": {"name": "Backlog"},
    "project": {"name": "alpha"},
    "createdAt": "2025-06-01T09:00:00.000Z"
  }
}`

const commentAddedPayload = `{
  "action": "create",
  "type": "Comment",
  "createdAt": "2025-06-07T10:05:00.000Z",
  "data": {
    "id": "comment-31",
    "body": "please also cover the retry path",
    "issueId": "issue-900",
    "user": {"id": "user-9", "name": "Maria", "isBot": false}
  }
}`

// postWebhook delivers a payload without authentication, as the tracker does.
func (ts *testServer) postWebhook(t *testing.T, payload, idempotencyKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAcceptsAndPublishes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.postWebhook(t, issueMovedPayload, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[WebhookResponse](t, rec)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, 1, resp.Events)

	env := ts.drainEvent(t)
	assert.Equal(t, models.EventIssueStatusChanged, env.Event.Type)
	assert.Equal(t, "issue-900", env.Event.IssueID)
	assert.Equal(t, models.StatusBacklog, env.Event.NewStatus)
	assert.Equal(t, models.SourceWebhook, env.Event.Source)
	assert.Equal(t, "alpha", env.Event.Issue.ProjectName)
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	ts := newTestServer(t)

	first := ts.postWebhook(t, issueMovedPayload, "")
	require.Equal(t, http.StatusOK, first.Code)

	second := ts.postWebhook(t, issueMovedPayload, "")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "duplicate", decode[WebhookResponse](t, second).Status)

	// Only the first delivery reached the bus.
	assert.Equal(t, 1, ts.eventBus.Depth())
}

func TestWebhookExplicitIdempotencyKey(t *testing.T) {
	ts := newTestServer(t)

	first := ts.postWebhook(t, issueMovedPayload, "delivery-7")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "accepted", decode[WebhookResponse](t, first).Status)

	// A different body under the same key is still a duplicate.
	second := ts.postWebhook(t, commentAddedPayload, "delivery-7")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "duplicate", decode[WebhookResponse](t, second).Status)
}

func TestWebhookUnparseablePayloadIsIgnored(t *testing.T) {
	ts := newTestServer(t)

	// A 4xx here would make the tracker redeliver garbage forever.
	rec := ts.postWebhook(t, "not json at all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode[WebhookResponse](t, rec).Status)
	assert.Zero(t, ts.eventBus.Depth())
}

func TestWebhookUneventfulPayloadIsAccepted(t *testing.T) {
	ts := newTestServer(t)

	// An issue edit that did not move between states normalizes to nothing.
	payload := `{
	  "action": "update",
	  "type": "Issue",
	  "createdAt": "2025-06-07T11:00:00.000Z",
	  "data": {"id": "issue-901", "identifier": "ENG-901", "title": "Typo", "state": {"name": "Backlog"}}
	}`
	rec := ts.postWebhook(t, payload, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[WebhookResponse](t, rec)
	assert.Equal(t, "accepted", resp.Status)
	assert.Zero(t, resp.Events)
	assert.Zero(t, ts.eventBus.Depth())
}

func TestWebhookEmptyBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.postWebhook(t, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookIdempotencyKeyDerivation(t *testing.T) {
	t.Run("explicit header wins", func(t *testing.T) {
		assert.Equal(t, "delivery-9", webhookIdempotencyKey("delivery-9", []byte(issueMovedPayload)))
	})

	t.Run("identifying fields collapse formatting differences", func(t *testing.T) {
		compact := `{"action":"update","type":"Issue","createdAt":"2025-06-07T10:00:00.000Z","data":{"id":"issue-900"}}`
		spaced := `{
		  "action": "update",
		  "type": "Issue",
		  "createdAt": "2025-06-07T10:00:00.000Z",
		  "data": {"id": "issue-900"}
		}`
		assert.Equal(t, webhookIdempotencyKey("", []byte(compact)), webhookIdempotencyKey("", []byte(spaced)))
	})

	t.Run("distinct changes to the same issue stay apart", func(t *testing.T) {
		later := strings.Replace(issueMovedPayload, "10:00:00", "10:30:00", 1)
		assert.NotEqual(t, webhookIdempotencyKey("", []byte(issueMovedPayload)), webhookIdempotencyKey("", []byte(later)))
	})

	t.Run("bodies without identifying fields hash whole", func(t *testing.T) {
		assert.NotEqual(t, webhookIdempotencyKey("", []byte("garbage-a")), webhookIdempotencyKey("", []byte("garbage-b")))
	})
}
