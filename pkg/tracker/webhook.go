package tracker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeready-toolchain/governor/pkg/models"
)

// webhookPayload is the envelope every tracker webhook delivery shares.
// Data is decoded a second time once Type identifies its shape.
type webhookPayload struct {
	Action      string          `json:"action"`
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data"`
	UpdatedFrom *updatedFrom    `json:"updatedFrom,omitempty"`
	CreatedAt   string          `json:"createdAt"`
}

// updatedFrom carries the pre-update values of changed fields. Only the
// state id matters here: its presence is how a status move is detected. The
// id itself is opaque, which is why normalized status events leave
// PreviousStatus empty.
type updatedFrom struct {
	StateID string `json:"stateId"`
}

type issueData struct {
	ID          string `json:"id"`
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Description string `json:"description"`
	State       struct {
		Name string `json:"name"`
	} `json:"state"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	CreatedAt string `json:"createdAt"`
	Parent    *struct {
		ID string `json:"id"`
	} `json:"parent"`
	Project *struct {
		Name string `json:"name"`
	} `json:"project"`
}

type commentData struct {
	ID      string     `json:"id"`
	Body    string     `json:"body"`
	IssueID string     `json:"issueId"`
	Issue   *issueData `json:"issue"`
	User    struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		IsBot bool   `json:"isBot"`
	} `json:"user"`
}

// Normalizer maps raw tracker webhook payloads into governor events. It is a
// pure translation layer with no upstream calls, so platform adapters embed
// it and add only the RPC methods.
//
// Two payload shapes produce events: an issue update whose updatedFrom block
// includes a state id becomes issue-status-changed, and a comment creation by
// a human becomes comment-added. Everything else recognized is dropped
// silently. Payloads that do not parse at all return an error so the caller
// can log them.
type Normalizer struct{}

// NormalizeWebhookEvent implements the Adapter normalization contract.
func (Normalizer) NormalizeWebhookEvent(payload []byte) ([]models.Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	switch p.Type {
	case "Issue":
		return normalizeIssue(&p)
	case "Comment":
		return normalizeComment(&p)
	default:
		return nil, nil
	}
}

func normalizeIssue(p *webhookPayload) ([]models.Event, error) {
	if p.Action != "update" {
		// Creations and removals reach the governor through the poll sweep.
		return nil, nil
	}
	if p.UpdatedFrom == nil || p.UpdatedFrom.StateID == "" {
		// An edit that did not move the issue between states.
		return nil, nil
	}

	var d issueData
	if err := json.Unmarshal(p.Data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse issue payload: %w", err)
	}

	issue := toGovernorIssue(&d)
	return []models.Event{{
		Type:      models.EventIssueStatusChanged,
		IssueID:   issue.ID,
		Issue:     *issue,
		Timestamp: parseTimestamp(p.CreatedAt),
		Source:    models.SourceWebhook,
		NewStatus: issue.Status,
	}}, nil
}

func normalizeComment(p *webhookPayload) ([]models.Event, error) {
	if p.Action != "create" {
		return nil, nil
	}

	var d commentData
	if err := json.Unmarshal(p.Data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse comment payload: %w", err)
	}
	if d.User.IsBot {
		// The governor's own status comments come back through this hook.
		return nil, nil
	}

	ev := models.Event{
		Type:        models.EventCommentAdded,
		IssueID:     d.IssueID,
		Timestamp:   parseTimestamp(p.CreatedAt),
		Source:      models.SourceWebhook,
		CommentID:   d.ID,
		CommentBody: d.Body,
		UserID:      d.User.ID,
		UserName:    d.User.Name,
	}
	if d.Issue != nil {
		ev.Issue = *toGovernorIssue(d.Issue)
		if ev.IssueID == "" {
			ev.IssueID = ev.Issue.ID
		}
	}
	return []models.Event{ev}, nil
}

// toGovernorIssue converts the wire representation into the canonical issue
// snapshot. IsParent is always false here: webhook payloads carry no child
// information, so parent detection belongs to the poll sweep.
func toGovernorIssue(d *issueData) *models.Issue {
	issue := &models.Issue{
		ID:          d.ID,
		Identifier:  d.Identifier,
		Title:       d.Title,
		Description: d.Description,
		Status:      models.IssueStatus(d.State.Name),
		CreatedAt:   parseTimestamp(d.CreatedAt),
	}
	for _, l := range d.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	if d.Parent != nil {
		issue.ParentID = d.Parent.ID
	}
	if d.Project != nil {
		issue.ProjectName = d.Project.Name
	}
	return issue
}

func parseTimestamp(s string) int64 {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}
