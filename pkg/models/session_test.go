package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from SessionStatus
		to   SessionStatus
		want bool
	}{
		{name: "pending to claimed", from: SessionStatusPending, to: SessionStatusClaimed, want: true},
		{name: "claimed to running", from: SessionStatusClaimed, to: SessionStatusRunning, want: true},
		{name: "running to finalizing", from: SessionStatusRunning, to: SessionStatusFinalizing, want: true},
		{name: "finalizing to completed", from: SessionStatusFinalizing, to: SessionStatusCompleted, want: true},
		{name: "running straight to failed", from: SessionStatusRunning, to: SessionStatusFailed, want: true},
		{name: "claimed straight to failed", from: SessionStatusClaimed, to: SessionStatusFailed, want: true},
		{name: "pending straight to stopped", from: SessionStatusPending, to: SessionStatusStopped, want: true},
		{name: "no going back to pending", from: SessionStatusClaimed, to: SessionStatusPending, want: false},
		{name: "no going back to claimed", from: SessionStatusRunning, to: SessionStatusClaimed, want: false},
		{name: "completed is absorbing", from: SessionStatusCompleted, to: SessionStatusRunning, want: false},
		{name: "failed is absorbing", from: SessionStatusFailed, to: SessionStatusStopped, want: false},
		{name: "stopped is absorbing", from: SessionStatusStopped, to: SessionStatusCompleted, want: false},
		{name: "same status is not a transition", from: SessionStatusRunning, to: SessionStatusRunning, want: false},
		{name: "unknown target rejected", from: SessionStatusPending, to: SessionStatus("paused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestSessionStatusRequiresWorker(t *testing.T) {
	assert.False(t, SessionStatusPending.RequiresWorker())
	assert.True(t, SessionStatusClaimed.RequiresWorker())
	assert.True(t, SessionStatusRunning.RequiresWorker())
	assert.True(t, SessionStatusFinalizing.RequiresWorker())
	assert.False(t, SessionStatusCompleted.RequiresWorker())
	assert.False(t, SessionStatusFailed.RequiresWorker())
	assert.False(t, SessionStatusStopped.RequiresWorker())
}

func TestSyntheticSessionIDs(t *testing.T) {
	id := NewSyntheticSessionID()
	assert.True(t, IsSyntheticSessionID(id))
	assert.NotEqual(t, id, NewSyntheticSessionID())

	assert.False(t, IsSyntheticSessionID("sc-12345"))
	assert.False(t, IsSyntheticSessionID(""))
}

func TestIssueStatusIsTerminal(t *testing.T) {
	for _, s := range []IssueStatus{StatusAccepted, StatusCanceled, StatusDuplicate} {
		assert.True(t, s.IsTerminal(), "status %s", s)
	}
	for _, s := range []IssueStatus{StatusIcebox, StatusBacklog, StatusStarted, StatusFinished, StatusDelivered, StatusRejected} {
		assert.False(t, s.IsTerminal(), "status %s", s)
	}
}
