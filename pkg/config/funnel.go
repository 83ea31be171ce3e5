package config

import (
	"fmt"
	"time"
)

// TopOfFunnelConfig controls the Icebox pre-processing policy: when an issue
// is researched automatically and when it is decomposed into backlog items.
type TopOfFunnelConfig struct {
	// EnableAutoResearch dispatches research sessions for thin Icebox issues.
	EnableAutoResearch *bool `yaml:"enable_auto_research"`

	// EnableAutoBacklogCreation dispatches decomposition sessions for
	// well-researched Icebox issues.
	EnableAutoBacklogCreation *bool `yaml:"enable_auto_backlog_creation"`

	// IceboxResearchDelay is the minimum issue age before auto-research
	// triggers, leaving authors time to finish writing the description.
	IceboxResearchDelay time.Duration `yaml:"icebox_research_delay"`

	// MinResearchedDescriptionLength is the description length below which an
	// issue is never considered well-researched.
	MinResearchedDescriptionLength int `yaml:"min_researched_description_length"`

	// ResearchedHeaders are markdown headers whose presence marks a
	// description as structured enough to skip research.
	ResearchedHeaders []string `yaml:"researched_headers"`

	// ResearchRequestLabels force research regardless of description quality.
	ResearchRequestLabels []string `yaml:"research_request_labels"`
}

// DefaultTopOfFunnelConfig returns the funnel policy defaults.
func DefaultTopOfFunnelConfig() *TopOfFunnelConfig {
	enabled := true
	return &TopOfFunnelConfig{
		EnableAutoResearch:             &enabled,
		EnableAutoBacklogCreation:      &enabled,
		IceboxResearchDelay:            time.Hour,
		MinResearchedDescriptionLength: 200,
		ResearchedHeaders: []string{
			"## Acceptance Criteria",
			"## Technical Approach",
			"## Summary",
			"## Implementation Plan",
			"## Requirements",
		},
		ResearchRequestLabels: []string{"Needs Research"},
	}
}

// AutoResearchEnabled resolves the pointer with its default.
func (c *TopOfFunnelConfig) AutoResearchEnabled() bool {
	return c.EnableAutoResearch == nil || *c.EnableAutoResearch
}

// AutoBacklogCreationEnabled resolves the pointer with its default.
func (c *TopOfFunnelConfig) AutoBacklogCreationEnabled() bool {
	return c.EnableAutoBacklogCreation == nil || *c.EnableAutoBacklogCreation
}

// Validate checks funnel settings for consistency.
func (c *TopOfFunnelConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("top_of_funnel configuration is nil")
	}
	if c.IceboxResearchDelay < 0 {
		return fmt.Errorf("icebox_research_delay must not be negative, got %v", c.IceboxResearchDelay)
	}
	if c.MinResearchedDescriptionLength < 1 {
		return fmt.Errorf("min_researched_description_length must be at least 1, got %d", c.MinResearchedDescriptionLength)
	}
	if len(c.ResearchedHeaders) == 0 {
		return fmt.Errorf("at least one researched header is required")
	}
	return nil
}
