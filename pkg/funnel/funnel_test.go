package funnel

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/governor/pkg/config"
	"github.com/codeready-toolchain/governor/pkg/models"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// researched builds a description that clears both the length floor and the
// header requirement.
func researched() string {
	return "## Summary\n" + strings.Repeat("All the relevant detail. ", 10)
}

func iceboxIssue(description string, age time.Duration) *models.Issue {
	return &models.Issue{
		ID:          "issue-1",
		Identifier:  "GOV-1",
		Title:       "Fix the thing",
		Description: description,
		Status:      models.StatusIcebox,
		CreatedAt:   testNow.Add(-age).UnixMilli(),
	}
}

func TestIsWellResearched(t *testing.T) {
	policy := NewPolicy(config.DefaultTopOfFunnelConfig())

	tests := []struct {
		name        string
		description string
		want        bool
	}{
		{name: "thin description", description: "Fix the thing.", want: false},
		{name: "long but unstructured", description: strings.Repeat("words ", 50), want: false},
		{name: "header but too short", description: "## Summary\nok", want: false},
		{name: "long with acceptance criteria", description: "## Acceptance Criteria\n" + strings.Repeat("detail ", 40), want: true},
		{name: "long with summary header", description: researched(), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.IsWellResearched(tt.description))
		})
	}
}

func TestNeedsResearch(t *testing.T) {
	policy := NewPolicy(config.DefaultTopOfFunnelConfig())

	t.Run("thin and aged", func(t *testing.T) {
		assert.True(t, policy.NeedsResearch(iceboxIssue("Fix the thing.", 2*time.Hour), testNow))
	})

	t.Run("thin but younger than the delay", func(t *testing.T) {
		assert.False(t, policy.NeedsResearch(iceboxIssue("Fix the thing.", 30*time.Minute), testNow))
	})

	t.Run("well-researched needs none", func(t *testing.T) {
		assert.False(t, policy.NeedsResearch(iceboxIssue(researched(), 2*time.Hour), testNow))
	})

	t.Run("label forces research despite good description", func(t *testing.T) {
		issue := iceboxIssue(researched(), 2*time.Hour)
		issue.Labels = []string{"Needs Research"}
		assert.True(t, policy.NeedsResearch(issue, testNow))
	})

	t.Run("parents are skipped", func(t *testing.T) {
		issue := iceboxIssue("Fix the thing.", 2*time.Hour)
		issue.IsParent = true
		assert.False(t, policy.NeedsResearch(issue, testNow))
	})

	t.Run("only icebox qualifies", func(t *testing.T) {
		issue := iceboxIssue("Fix the thing.", 2*time.Hour)
		issue.Status = models.StatusBacklog
		assert.False(t, policy.NeedsResearch(issue, testNow))
	})
}

func TestIsReadyForBacklogCreation(t *testing.T) {
	policy := NewPolicy(config.DefaultTopOfFunnelConfig())

	assert.True(t, policy.IsReadyForBacklogCreation(iceboxIssue(researched(), time.Minute)))
	assert.False(t, policy.IsReadyForBacklogCreation(iceboxIssue("Fix the thing.", time.Minute)))

	parent := iceboxIssue(researched(), time.Minute)
	parent.IsParent = true
	assert.False(t, policy.IsReadyForBacklogCreation(parent))

	started := iceboxIssue(researched(), time.Minute)
	started.Status = models.StatusStarted
	assert.False(t, policy.IsReadyForBacklogCreation(started))
}

func TestDetermineAction(t *testing.T) {
	boolPtr := func(b bool) *bool { return &b }

	tests := []struct {
		name       string
		issue      func() *models.Issue
		state      IssueState
		config     func(*config.TopOfFunnelConfig)
		wantType   models.ActionType
		wantReason string
	}{
		{
			name:       "thin aged issue triggers research",
			issue:      func() *models.Issue { return iceboxIssue("Fix the thing.", 2*time.Hour) },
			wantType:   models.ActionTriggerResearch,
			wantReason: "lacks sufficient detail",
		},
		{
			name: "label triggers research on a good description",
			issue: func() *models.Issue {
				issue := iceboxIssue(researched(), 2*time.Hour)
				issue.Labels = []string{"Needs Research"}
				return issue
			},
			wantType:   models.ActionTriggerResearch,
			wantReason: `label "Needs Research"`,
		},
		{
			name:       "well-researched issue triggers backlog creation",
			issue:      func() *models.Issue { return iceboxIssue(researched(), 2*time.Hour) },
			wantType:   models.ActionTriggerBacklogCreation,
			wantReason: "ready to decompose",
		},
		{
			name: "non-icebox issue is left alone",
			issue: func() *models.Issue {
				issue := iceboxIssue(researched(), 2*time.Hour)
				issue.Status = models.StatusBacklog
				return issue
			},
			wantType:   models.ActionNone,
			wantReason: "not Icebox",
		},
		{
			name:       "active session blocks any action",
			issue:      func() *models.Issue { return iceboxIssue("Fix the thing.", 2*time.Hour) },
			state:      IssueState{HasActiveSession: true},
			wantType:   models.ActionNone,
			wantReason: "active session",
		},
		{
			name:       "held issue is left alone",
			issue:      func() *models.Issue { return iceboxIssue("Fix the thing.", 2*time.Hour) },
			state:      IssueState{Held: true},
			wantType:   models.ActionNone,
			wantReason: "held",
		},
		{
			name: "parent issue is left alone",
			issue: func() *models.Issue {
				issue := iceboxIssue("Fix the thing.", 2*time.Hour)
				issue.IsParent = true
				return issue
			},
			wantType:   models.ActionNone,
			wantReason: "parent",
		},
		{
			name:       "research disabled",
			issue:      func() *models.Issue { return iceboxIssue("Fix the thing.", 2*time.Hour) },
			config:     func(c *config.TopOfFunnelConfig) { c.EnableAutoResearch = boolPtr(false) },
			wantType:   models.ActionNone,
			wantReason: "auto-research is disabled",
		},
		{
			name:       "research already completed",
			issue:      func() *models.Issue { return iceboxIssue("Fix the thing.", 2*time.Hour) },
			state:      IssueState{ResearchCompleted: true},
			wantType:   models.ActionNone,
			wantReason: "research phase already completed",
		},
		{
			name:       "backlog creation disabled",
			issue:      func() *models.Issue { return iceboxIssue(researched(), 2*time.Hour) },
			config:     func(c *config.TopOfFunnelConfig) { c.EnableAutoBacklogCreation = boolPtr(false) },
			wantType:   models.ActionNone,
			wantReason: "auto-backlog-creation is disabled",
		},
		{
			name:       "backlog creation already completed",
			issue:      func() *models.Issue { return iceboxIssue(researched(), 2*time.Hour) },
			state:      IssueState{BacklogCreationCompleted: true},
			wantType:   models.ActionNone,
			wantReason: "backlog creation phase already completed",
		},
		{
			name:       "thin issue younger than the delay waits",
			issue:      func() *models.Issue { return iceboxIssue("Fix the thing.", 30*time.Minute) },
			wantType:   models.ActionNone,
			wantReason: "research delay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultTopOfFunnelConfig()
			if tt.config != nil {
				tt.config(cfg)
			}
			policy := NewPolicy(cfg)

			action := policy.DetermineAction(tt.issue(), tt.state, testNow)
			assert.Equal(t, tt.wantType, action.Type)
			assert.Contains(t, action.Reason, tt.wantReason)
		})
	}
}

// Research completion only suppresses research; a researched description can
// still move on to backlog creation during the same Icebox visit.
func TestResearchCompletionHandsOffToBacklogCreation(t *testing.T) {
	policy := NewPolicy(config.DefaultTopOfFunnelConfig())

	issue := iceboxIssue(researched(), 2*time.Hour)
	action := policy.DetermineAction(issue, IssueState{ResearchCompleted: true}, testNow)
	assert.Equal(t, models.ActionTriggerBacklogCreation, action.Type)
}
