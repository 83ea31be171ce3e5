package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/governor/pkg/models"
)

func TestNormalizeStatusChange(t *testing.T) {
	payload := []byte(`{
		"action": "update",
		"type": "Issue",
		"createdAt": "2026-08-24T10:00:00.000Z",
		"updatedFrom": {"stateId": "state-old"},
		"data": {
			"id": "issue-1",
			"identifier": "ENG-42",
			"title": "Fix the flaky login test",
			"description": "It fails every third run.",
			"state": {"name": "Started"},
			"labels": [{"name": "bug"}, {"name": "flaky"}],
			"createdAt": "2026-08-20T09:30:00Z",
			"parent": {"id": "issue-epic"},
			"project": {"name": "alpha"}
		}
	}`)

	events, err := Normalizer{}.NormalizeWebhookEvent(payload)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, models.EventIssueStatusChanged, ev.Type)
	assert.Equal(t, "issue-1", ev.IssueID)
	assert.Equal(t, models.StatusStarted, ev.NewStatus)
	assert.Empty(t, ev.PreviousStatus, "the payload carries only the old state id, not its name")
	assert.Equal(t, models.SourceWebhook, ev.Source)
	assert.Equal(t, time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC).UnixMilli(), ev.Timestamp)

	assert.Equal(t, "ENG-42", ev.Issue.Identifier)
	assert.Equal(t, "Fix the flaky login test", ev.Issue.Title)
	assert.Equal(t, models.StatusStarted, ev.Issue.Status)
	assert.Equal(t, []string{"bug", "flaky"}, ev.Issue.Labels)
	assert.Equal(t, "issue-epic", ev.Issue.ParentID)
	assert.Equal(t, "alpha", ev.Issue.ProjectName)
	assert.Equal(t, time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC).UnixMilli(), ev.Issue.CreatedAt)
	assert.False(t, ev.Issue.IsParent, "child detection is the poll sweep's job")
}

func TestNormalizeIgnoresNonStatusIssueChanges(t *testing.T) {
	cases := map[string][]byte{
		"edit without state change": []byte(`{
			"action": "update", "type": "Issue", "createdAt": "2026-08-24T10:00:00Z",
			"data": {"id": "issue-1", "state": {"name": "Backlog"}}
		}`),
		"empty state id": []byte(`{
			"action": "update", "type": "Issue", "createdAt": "2026-08-24T10:00:00Z",
			"updatedFrom": {"stateId": ""},
			"data": {"id": "issue-1", "state": {"name": "Backlog"}}
		}`),
		"creation": []byte(`{
			"action": "create", "type": "Issue", "createdAt": "2026-08-24T10:00:00Z",
			"data": {"id": "issue-1", "state": {"name": "Icebox"}}
		}`),
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			events, err := Normalizer{}.NormalizeWebhookEvent(payload)
			require.NoError(t, err)
			assert.Nil(t, events)
		})
	}
}

func TestNormalizeComment(t *testing.T) {
	payload := []byte(`{
		"action": "create",
		"type": "Comment",
		"createdAt": "2026-08-24T11:00:00Z",
		"data": {
			"id": "comment-7",
			"body": "Please hold off on this one.",
			"issueId": "issue-1",
			"issue": {
				"id": "issue-1",
				"identifier": "ENG-42",
				"title": "Fix the flaky login test",
				"state": {"name": "Backlog"},
				"createdAt": "2026-08-20T09:30:00Z"
			},
			"user": {"id": "user-9", "name": "casey", "isBot": false}
		}
	}`)

	events, err := Normalizer{}.NormalizeWebhookEvent(payload)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, models.EventCommentAdded, ev.Type)
	assert.Equal(t, "issue-1", ev.IssueID)
	assert.Equal(t, "comment-7", ev.CommentID)
	assert.Equal(t, "Please hold off on this one.", ev.CommentBody)
	assert.Equal(t, "user-9", ev.UserID)
	assert.Equal(t, "casey", ev.UserName)
	assert.Equal(t, models.StatusBacklog, ev.Issue.Status)
	assert.Equal(t, "ENG-42", ev.Issue.Identifier)
}

func TestNormalizeDropsBotComments(t *testing.T) {
	payload := []byte(`{
		"action": "create",
		"type": "Comment",
		"createdAt": "2026-08-24T11:00:00Z",
		"data": {
			"id": "comment-8",
			"body": "Session dispatched for ENG-42.",
			"issueId": "issue-1",
			"user": {"id": "app-1", "name": "governor", "isBot": true}
		}
	}`)

	events, err := Normalizer{}.NormalizeWebhookEvent(payload)
	require.NoError(t, err)
	assert.Nil(t, events, "our own status comments must not feed back into the loop")
}

func TestNormalizeUnrecognizedShape(t *testing.T) {
	events, err := Normalizer{}.NormalizeWebhookEvent([]byte(`{
		"action": "update", "type": "Project", "createdAt": "2026-08-24T11:00:00Z",
		"data": {"id": "project-1"}
	}`))
	require.NoError(t, err)
	assert.Nil(t, events)

	events, err = Normalizer{}.NormalizeWebhookEvent([]byte(`{
		"action": "remove", "type": "Comment", "createdAt": "2026-08-24T11:00:00Z",
		"data": {"id": "comment-9"}
	}`))
	require.NoError(t, err)
	assert.Nil(t, events)
}

func TestNormalizeMalformedPayload(t *testing.T) {
	_, err := Normalizer{}.NormalizeWebhookEvent([]byte(`{"action": "update",`))
	require.Error(t, err)

	_, err = Normalizer{}.NormalizeWebhookEvent([]byte(`{
		"action": "update", "type": "Issue", "createdAt": "2026-08-24T10:00:00Z",
		"updatedFrom": {"stateId": "state-old"},
		"data": "not an object"
	}`))
	require.Error(t, err)
}
