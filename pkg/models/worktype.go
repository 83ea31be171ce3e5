package models

import "strings"

// WorkType is the semantic role of an agent run on an issue, distinct from the
// issue's status. Coordination variants apply to parent issues, whose own work
// is limited to shepherding their children.
type WorkType string

const (
	// WorkTypeResearch investigates an under-specified Icebox issue.
	WorkTypeResearch WorkType = "research"
	// WorkTypeBacklogCreation decomposes a researched Icebox issue into backlog items.
	WorkTypeBacklogCreation WorkType = "backlog-creation"
	// WorkTypeDevelopment implements a Backlog issue.
	WorkTypeDevelopment WorkType = "development"
	// WorkTypeInflight resumes or monitors an already-Started issue.
	WorkTypeInflight WorkType = "inflight"
	// WorkTypeQA verifies a Finished issue.
	WorkTypeQA WorkType = "qa"
	// WorkTypeAcceptance evaluates a Delivered issue against its acceptance criteria.
	WorkTypeAcceptance WorkType = "acceptance"
	// WorkTypeRefinement reworks a Rejected issue back into the backlog.
	WorkTypeRefinement WorkType = "refinement"
	// WorkTypeCoordination shepherds a parent issue's children through development.
	WorkTypeCoordination WorkType = "coordination"
	// WorkTypeQACoordination verifies a parent issue via its children.
	WorkTypeQACoordination WorkType = "qa-coordination"
	// WorkTypeAcceptanceCoordination accepts a parent issue via its children.
	WorkTypeAcceptanceCoordination WorkType = "acceptance-coordination"
)

// IsValid reports whether the work type is one of the closed set.
func (w WorkType) IsValid() bool {
	switch w {
	case WorkTypeResearch, WorkTypeBacklogCreation, WorkTypeDevelopment,
		WorkTypeInflight, WorkTypeQA, WorkTypeAcceptance, WorkTypeRefinement,
		WorkTypeCoordination, WorkTypeQACoordination, WorkTypeAcceptanceCoordination:
		return true
	default:
		return false
	}
}

// IsCoordination reports whether the work type operates on a parent issue.
func (w WorkType) IsCoordination() bool {
	switch w {
	case WorkTypeCoordination, WorkTypeQACoordination, WorkTypeAcceptanceCoordination:
		return true
	default:
		return false
	}
}

// statusValidWorkTypes is the authoritative allowed-set per status. A derived
// or keyword-refined work type outside this set is never dispatched.
var statusValidWorkTypes = map[IssueStatus][]WorkType{
	StatusIcebox:    {WorkTypeResearch, WorkTypeBacklogCreation},
	StatusBacklog:   {WorkTypeDevelopment, WorkTypeCoordination},
	StatusStarted:   {WorkTypeInflight},
	StatusFinished:  {WorkTypeQA, WorkTypeQACoordination},
	StatusDelivered: {WorkTypeAcceptance, WorkTypeAcceptanceCoordination},
	StatusRejected:  {WorkTypeRefinement},
}

// soloOnlyWorkTypes are disabled on parent issues: a coordinated issue is
// worked through its children, never directly.
var soloOnlyWorkTypes = map[WorkType]bool{
	WorkTypeResearch:        true,
	WorkTypeBacklogCreation: true,
	WorkTypeDevelopment:     true,
	WorkTypeQA:              true,
	WorkTypeAcceptance:      true,
}

// ValidWorkTypesFor returns the work types allowed for an issue in the given
// status. For parent issues the solo variants are removed.
func ValidWorkTypesFor(status IssueStatus, isParent bool) []WorkType {
	base := statusValidWorkTypes[status]
	if !isParent {
		return base
	}
	valid := make([]WorkType, 0, len(base))
	for _, w := range base {
		if !soloOnlyWorkTypes[w] {
			valid = append(valid, w)
		}
	}
	return valid
}

// IsValidWorkTypeFor reports whether w may be dispatched for an issue in the
// given status.
func IsValidWorkTypeFor(w WorkType, status IssueStatus, isParent bool) bool {
	for _, v := range ValidWorkTypesFor(status, isParent) {
		if v == w {
			return true
		}
	}
	return false
}

// DeriveWorkType maps an issue status to the base work type dispatched for it.
// Icebox and terminal statuses have no mapping (ok=false): Icebox routing is
// the top-of-funnel policy's call, terminal issues get nothing.
func DeriveWorkType(status IssueStatus, isParent bool) (WorkType, bool) {
	switch status {
	case StatusBacklog:
		if isParent {
			return WorkTypeCoordination, true
		}
		return WorkTypeDevelopment, true
	case StatusStarted:
		return WorkTypeInflight, true
	case StatusFinished:
		if isParent {
			return WorkTypeQACoordination, true
		}
		return WorkTypeQA, true
	case StatusDelivered:
		if isParent {
			return WorkTypeAcceptanceCoordination, true
		}
		return WorkTypeAcceptance, true
	case StatusRejected:
		return WorkTypeRefinement, true
	default:
		return "", false
	}
}

// DispatchStatus returns the issue status whose allowed set produces the
// given work type. The mapping is unique per type; it reconstructs where an
// issue stood when only the session worked against it is at hand.
func DispatchStatus(w WorkType) (IssueStatus, bool) {
	switch w {
	case WorkTypeResearch, WorkTypeBacklogCreation:
		return StatusIcebox, true
	case WorkTypeDevelopment, WorkTypeCoordination:
		return StatusBacklog, true
	case WorkTypeInflight:
		return StatusStarted, true
	case WorkTypeQA, WorkTypeQACoordination:
		return StatusFinished, true
	case WorkTypeAcceptance, WorkTypeAcceptanceCoordination:
		return StatusDelivered, true
	case WorkTypeRefinement:
		return StatusRejected, true
	default:
		return "", false
	}
}

// keywordWorkTypes maps prompt-hint keywords to the work type they suggest.
// Multi-word keywords are matched as substrings of the lowercased hint.
var keywordWorkTypes = []struct {
	keyword string
	w       WorkType
}{
	{"break down", WorkTypeBacklogCreation},
	{"decompose", WorkTypeBacklogCreation},
	{"split", WorkTypeBacklogCreation},
	{"investigate", WorkTypeResearch},
	{"research", WorkTypeResearch},
	{"refine", WorkTypeRefinement},
	{"verify", WorkTypeQA},
	{"test", WorkTypeQA},
	{"qa", WorkTypeQA},
}

// RefineWorkType applies keyword hints to a derived work type. A hint whose
// work type falls outside the allowed set for the status (and parent-ness) is
// ignored; the base type is returned unchanged.
func RefineWorkType(base WorkType, status IssueStatus, isParent bool, hint string) WorkType {
	if hint == "" {
		return base
	}
	lower := strings.ToLower(hint)
	for _, k := range keywordWorkTypes {
		if !strings.Contains(lower, k.keyword) {
			continue
		}
		if IsValidWorkTypeFor(k.w, status, isParent) {
			return k.w
		}
	}
	return base
}

// SessionOutcome is the reported result of a completed agent session.
type SessionOutcome string

const (
	// OutcomeSuccess means the session achieved its work type's goal.
	OutcomeSuccess SessionOutcome = "success"
	// OutcomeFailure means it did not.
	OutcomeFailure SessionOutcome = "failure"
)

// CompletionStatus returns the issue status a successful (or failed) session
// of the given work type moves the issue to. ok=false means the outcome causes
// no status transition (research and backlog-creation record a processing
// phase instead; failures outside the verification types leave status alone).
func CompletionStatus(w WorkType, outcome SessionOutcome) (IssueStatus, bool) {
	if outcome == OutcomeFailure {
		switch w {
		case WorkTypeQA, WorkTypeAcceptance, WorkTypeQACoordination, WorkTypeAcceptanceCoordination:
			return StatusRejected, true
		default:
			return "", false
		}
	}
	switch w {
	case WorkTypeDevelopment, WorkTypeInflight, WorkTypeCoordination:
		return StatusFinished, true
	case WorkTypeQA, WorkTypeQACoordination:
		return StatusDelivered, true
	case WorkTypeAcceptance, WorkTypeAcceptanceCoordination:
		return StatusAccepted, true
	case WorkTypeRefinement:
		return StatusBacklog, true
	default:
		return "", false
	}
}

// ProcessingPhase is a top-of-funnel stage recorded as completed per issue so
// it is not re-triggered.
type ProcessingPhase string

const (
	// PhaseResearch marks automated research as done for an issue.
	PhaseResearch ProcessingPhase = "research"
	// PhaseBacklogCreation marks automated decomposition as done for an issue.
	PhaseBacklogCreation ProcessingPhase = "backlog-creation"
)

// PhaseForWorkType returns the processing phase a completed session of the
// given work type marks, if any.
func PhaseForWorkType(w WorkType) (ProcessingPhase, bool) {
	switch w {
	case WorkTypeResearch:
		return PhaseResearch, true
	case WorkTypeBacklogCreation:
		return PhaseBacklogCreation, true
	default:
		return "", false
	}
}

// ProcessingPhaseRecord marks a top-of-funnel phase as completed for an issue.
type ProcessingPhaseRecord struct {
	IssueID     string          `json:"issue_id"`
	Phase       ProcessingPhase `json:"phase"`
	CompletedAt int64           `json:"completed_at"`
	SessionID   string          `json:"session_id,omitempty"`
}
