package models

// IssueStatus is the tracker workflow state of an issue. The set of values is
// owned by the upstream tracker; the governor only distinguishes the groups
// below and otherwise treats the status as opaque text.
type IssueStatus string

const (
	// StatusIcebox is a new-born issue awaiting research or decomposition.
	StatusIcebox IssueStatus = "Icebox"
	// StatusBacklog is refined work ready for development.
	StatusBacklog IssueStatus = "Backlog"
	// StatusStarted has an agent session in flight.
	StatusStarted IssueStatus = "Started"
	// StatusFinished is development-complete, awaiting QA.
	StatusFinished IssueStatus = "Finished"
	// StatusDelivered passed QA, awaiting acceptance.
	StatusDelivered IssueStatus = "Delivered"
	// StatusAccepted is done. Terminal.
	StatusAccepted IssueStatus = "Accepted"
	// StatusRejected failed QA or acceptance and needs refinement.
	StatusRejected IssueStatus = "Rejected"
	// StatusCanceled was abandoned. Terminal.
	StatusCanceled IssueStatus = "Canceled"
	// StatusDuplicate was closed as a duplicate. Terminal.
	StatusDuplicate IssueStatus = "Duplicate"
)

// IsTerminal reports whether no further work will ever be dispatched for an
// issue in this status.
func (s IssueStatus) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusCanceled, StatusDuplicate:
		return true
	default:
		return false
	}
}

// Issue is the governor's view of a tracker issue. It is a snapshot: events
// carry one, and the poll sweep rebuilds them each tick. Never cached across
// event boundaries.
type Issue struct {
	ID          string      `json:"id"`
	Identifier  string      `json:"identifier"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Status      IssueStatus `json:"status"`
	Labels      []string    `json:"labels,omitempty"`
	CreatedAt   int64       `json:"created_at"`
	ParentID    string      `json:"parent_id,omitempty"`
	ProjectName string      `json:"project_name,omitempty"`
	IsParent    bool        `json:"is_parent,omitempty"`
}

// HasLabel reports whether the issue carries the given label (exact match).
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}
