package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultTopOfFunnelConfig(t *testing.T) {
	cfg := DefaultTopOfFunnelConfig()

	assert.True(t, cfg.AutoResearchEnabled())
	assert.True(t, cfg.AutoBacklogCreationEnabled())
	assert.Equal(t, time.Hour, cfg.IceboxResearchDelay)
	assert.Equal(t, 200, cfg.MinResearchedDescriptionLength)
	assert.Contains(t, cfg.ResearchedHeaders, "## Acceptance Criteria")
	assert.Contains(t, cfg.ResearchedHeaders, "## Technical Approach")
	assert.Contains(t, cfg.ResearchedHeaders, "## Summary")
	assert.Equal(t, []string{"Needs Research"}, cfg.ResearchRequestLabels)
}

func TestTopOfFunnelToggles(t *testing.T) {
	disabled := false
	cfg := DefaultTopOfFunnelConfig()
	cfg.EnableAutoResearch = &disabled

	assert.False(t, cfg.AutoResearchEnabled())
	assert.True(t, cfg.AutoBacklogCreationEnabled())

	// Nil pointers resolve to enabled.
	cfg.EnableAutoResearch = nil
	assert.True(t, cfg.AutoResearchEnabled())
}

func TestTopOfFunnelConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TopOfFunnelConfig)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*TopOfFunnelConfig) {},
		},
		{
			name:    "negative delay",
			mutate:  func(c *TopOfFunnelConfig) { c.IceboxResearchDelay = -time.Minute },
			wantErr: "icebox_research_delay must not be negative",
		},
		{
			name:    "zero min length",
			mutate:  func(c *TopOfFunnelConfig) { c.MinResearchedDescriptionLength = 0 },
			wantErr: "min_researched_description_length must be at least 1",
		},
		{
			name:    "no headers",
			mutate:  func(c *TopOfFunnelConfig) { c.ResearchedHeaders = nil },
			wantErr: "at least one researched header is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTopOfFunnelConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
