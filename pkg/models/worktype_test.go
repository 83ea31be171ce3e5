package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveWorkType(t *testing.T) {
	tests := []struct {
		name     string
		status   IssueStatus
		isParent bool
		want     WorkType
		wantOK   bool
	}{
		{name: "backlog solo", status: StatusBacklog, want: WorkTypeDevelopment, wantOK: true},
		{name: "backlog parent", status: StatusBacklog, isParent: true, want: WorkTypeCoordination, wantOK: true},
		{name: "started solo", status: StatusStarted, want: WorkTypeInflight, wantOK: true},
		{name: "started parent stays inflight", status: StatusStarted, isParent: true, want: WorkTypeInflight, wantOK: true},
		{name: "finished solo", status: StatusFinished, want: WorkTypeQA, wantOK: true},
		{name: "finished parent", status: StatusFinished, isParent: true, want: WorkTypeQACoordination, wantOK: true},
		{name: "delivered solo", status: StatusDelivered, want: WorkTypeAcceptance, wantOK: true},
		{name: "delivered parent", status: StatusDelivered, isParent: true, want: WorkTypeAcceptanceCoordination, wantOK: true},
		{name: "rejected solo", status: StatusRejected, want: WorkTypeRefinement, wantOK: true},
		{name: "rejected parent stays refinement", status: StatusRejected, isParent: true, want: WorkTypeRefinement, wantOK: true},
		{name: "icebox has no derivation", status: StatusIcebox, wantOK: false},
		{name: "accepted has no derivation", status: StatusAccepted, wantOK: false},
		{name: "canceled has no derivation", status: StatusCanceled, wantOK: false},
		{name: "duplicate has no derivation", status: StatusDuplicate, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DeriveWorkType(tt.status, tt.isParent)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestValidWorkTypesFor(t *testing.T) {
	t.Run("parent issues lose solo work types", func(t *testing.T) {
		assert.ElementsMatch(t, []WorkType{WorkTypeQA, WorkTypeQACoordination},
			ValidWorkTypesFor(StatusFinished, false))
		assert.ElementsMatch(t, []WorkType{WorkTypeQACoordination},
			ValidWorkTypesFor(StatusFinished, true))
	})

	t.Run("icebox parents have nothing valid", func(t *testing.T) {
		assert.Empty(t, ValidWorkTypesFor(StatusIcebox, true))
	})

	t.Run("terminal statuses allow nothing", func(t *testing.T) {
		assert.Empty(t, ValidWorkTypesFor(StatusAccepted, false))
		assert.Empty(t, ValidWorkTypesFor(StatusDuplicate, false))
	})

	t.Run("inflight survives parent filtering", func(t *testing.T) {
		assert.ElementsMatch(t, []WorkType{WorkTypeInflight},
			ValidWorkTypesFor(StatusStarted, true))
	})
}

func TestRefineWorkType(t *testing.T) {
	tests := []struct {
		name     string
		base     WorkType
		status   IssueStatus
		isParent bool
		hint     string
		want     WorkType
	}{
		{
			name:   "empty hint keeps base",
			base:   WorkTypeDevelopment,
			status: StatusBacklog,
			want:   WorkTypeDevelopment,
		},
		{
			name:   "qa hint outside backlog set is ignored",
			base:   WorkTypeDevelopment,
			status: StatusBacklog,
			hint:   "please run QA on this",
			want:   WorkTypeDevelopment,
		},
		{
			name:   "verify hint refines within finished set",
			base:   WorkTypeQA,
			status: StatusFinished,
			hint:   "verify the edge cases",
			want:   WorkTypeQA,
		},
		{
			name:   "research hint refines icebox",
			base:   WorkTypeBacklogCreation,
			status: StatusIcebox,
			hint:   "investigate the flaky timeouts first",
			want:   WorkTypeResearch,
		},
		{
			name:   "decompose hint refines icebox",
			base:   WorkTypeResearch,
			status: StatusIcebox,
			hint:   "break down into smaller pieces",
			want:   WorkTypeBacklogCreation,
		},
		{
			name:     "solo qa hint on parent finished is ignored",
			base:     WorkTypeQACoordination,
			status:   StatusFinished,
			isParent: true,
			hint:     "qa this",
			want:     WorkTypeQACoordination,
		},
		{
			name:   "case insensitive",
			base:   WorkTypeBacklogCreation,
			status: StatusIcebox,
			hint:   "RESEARCH the options",
			want:   WorkTypeResearch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RefineWorkType(tt.base, tt.status, tt.isParent, tt.hint)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompletionStatus(t *testing.T) {
	tests := []struct {
		name     string
		workType WorkType
		outcome  SessionOutcome
		want     IssueStatus
		wantOK   bool
	}{
		{name: "development success", workType: WorkTypeDevelopment, outcome: OutcomeSuccess, want: StatusFinished, wantOK: true},
		{name: "inflight success", workType: WorkTypeInflight, outcome: OutcomeSuccess, want: StatusFinished, wantOK: true},
		{name: "qa success", workType: WorkTypeQA, outcome: OutcomeSuccess, want: StatusDelivered, wantOK: true},
		{name: "acceptance success", workType: WorkTypeAcceptance, outcome: OutcomeSuccess, want: StatusAccepted, wantOK: true},
		{name: "refinement success", workType: WorkTypeRefinement, outcome: OutcomeSuccess, want: StatusBacklog, wantOK: true},
		{name: "coordination success", workType: WorkTypeCoordination, outcome: OutcomeSuccess, want: StatusFinished, wantOK: true},
		{name: "qa-coordination success", workType: WorkTypeQACoordination, outcome: OutcomeSuccess, want: StatusDelivered, wantOK: true},
		{name: "acceptance-coordination success", workType: WorkTypeAcceptanceCoordination, outcome: OutcomeSuccess, want: StatusAccepted, wantOK: true},
		{name: "research success has no transition", workType: WorkTypeResearch, outcome: OutcomeSuccess, wantOK: false},
		{name: "backlog-creation success has no transition", workType: WorkTypeBacklogCreation, outcome: OutcomeSuccess, wantOK: false},
		{name: "qa failure rejects", workType: WorkTypeQA, outcome: OutcomeFailure, want: StatusRejected, wantOK: true},
		{name: "acceptance failure rejects", workType: WorkTypeAcceptance, outcome: OutcomeFailure, want: StatusRejected, wantOK: true},
		{name: "qa-coordination failure rejects", workType: WorkTypeQACoordination, outcome: OutcomeFailure, want: StatusRejected, wantOK: true},
		{name: "acceptance-coordination failure rejects", workType: WorkTypeAcceptanceCoordination, outcome: OutcomeFailure, want: StatusRejected, wantOK: true},
		{name: "development failure has no transition", workType: WorkTypeDevelopment, outcome: OutcomeFailure, wantOK: false},
		{name: "refinement failure has no transition", workType: WorkTypeRefinement, outcome: OutcomeFailure, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CompletionStatus(tt.workType, tt.outcome)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDispatchStatusInvertsAllowedSets(t *testing.T) {
	// Every work type allowed for a status must map back to that status.
	for _, status := range []IssueStatus{StatusIcebox, StatusBacklog, StatusStarted, StatusFinished, StatusDelivered, StatusRejected} {
		for _, isParent := range []bool{false, true} {
			for _, w := range ValidWorkTypesFor(status, isParent) {
				got, ok := DispatchStatus(w)
				require.True(t, ok, "work type %s has no dispatch status", w)
				assert.Equal(t, status, got, "work type %s", w)
			}
		}
	}

	_, ok := DispatchStatus(WorkType("bogus"))
	assert.False(t, ok)
}

func TestPhaseForWorkType(t *testing.T) {
	phase, ok := PhaseForWorkType(WorkTypeResearch)
	require.True(t, ok)
	assert.Equal(t, PhaseResearch, phase)

	phase, ok = PhaseForWorkType(WorkTypeBacklogCreation)
	require.True(t, ok)
	assert.Equal(t, PhaseBacklogCreation, phase)

	_, ok = PhaseForWorkType(WorkTypeDevelopment)
	assert.False(t, ok)
}
