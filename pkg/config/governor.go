package config

import (
	"fmt"
	"time"

	"github.com/codeready-toolchain/governor/pkg/models"
)

// GovernorConfig controls the event loop, polling, and dispatch policy.
type GovernorConfig struct {
	// Projects the governor owns. Every poll sweep enumerates each of them.
	Projects []string `yaml:"projects"`

	// Platform names the tracker integration to open at startup. The named
	// platform must be linked into the build. Empty runs webhook-only: the
	// neutral payload normalizer handles ingress and there is no poll sweep
	// or upstream transition.
	Platform string `yaml:"platform"`

	// PollInterval is the period of the project poll sweep.
	PollInterval time.Duration `yaml:"poll_interval"`

	// EnablePolling turns the poll sweep on. Off by default so tests and
	// webhook-only deployments do not scan.
	EnablePolling bool `yaml:"enable_polling"`

	// DedupWindow is how long an event key suppresses duplicates.
	DedupWindow time.Duration `yaml:"dedup_window"`

	// Cooldown is how long after a terminal session an issue stays
	// ineligible for re-dispatch.
	Cooldown time.Duration `yaml:"cooldown"`

	// WorkTypePriority maps each work type to its queue priority
	// (lower = earlier). Missing entries fall back to the default table.
	WorkTypePriority map[models.WorkType]int `yaml:"work_type_priority"`

	// WorkerAuthTokenEnv names the environment variable holding the bearer
	// token workers authenticate with. The token itself never appears in YAML.
	WorkerAuthTokenEnv string `yaml:"worker_auth_token_env"`

	// MaxInflightEvaluations bounds concurrent event evaluations spawned by
	// the governor loop.
	MaxInflightEvaluations int `yaml:"max_inflight_evaluations"`
}

// DefaultGovernorConfig returns governor settings with production defaults.
func DefaultGovernorConfig() *GovernorConfig {
	return &GovernorConfig{
		PollInterval:           5 * time.Minute,
		EnablePolling:          false,
		DedupWindow:            10 * time.Second,
		Cooldown:               5 * time.Minute,
		WorkTypePriority:       DefaultWorkTypePriority(),
		WorkerAuthTokenEnv:     "GOVERNOR_WORKER_TOKEN",
		MaxInflightEvaluations: 4,
	}
}

// DefaultWorkTypePriority is the base priority table: in-flight work first,
// then verification, then new development, with top-of-funnel work last.
func DefaultWorkTypePriority() map[models.WorkType]int {
	return map[models.WorkType]int{
		models.WorkTypeInflight:               1,
		models.WorkTypeAcceptance:             2,
		models.WorkTypeAcceptanceCoordination: 2,
		models.WorkTypeQA:                     3,
		models.WorkTypeQACoordination:         3,
		models.WorkTypeRefinement:             4,
		models.WorkTypeDevelopment:            5,
		models.WorkTypeCoordination:           5,
		models.WorkTypeBacklogCreation:        6,
		models.WorkTypeResearch:               7,
	}
}

// PriorityFor returns the queue priority for a work type, falling back to the
// default table for unset entries.
func (c *GovernorConfig) PriorityFor(w models.WorkType) int {
	if p, ok := c.WorkTypePriority[w]; ok {
		return p
	}
	if p, ok := DefaultWorkTypePriority()[w]; ok {
		return p
	}
	return 5
}

// Validate checks governor settings for consistency.
func (c *GovernorConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("governor configuration is nil")
	}
	if len(c.Projects) == 0 {
		return fmt.Errorf("at least one project is required")
	}
	if c.EnablePolling && c.PollInterval < time.Second {
		return fmt.Errorf("poll_interval must be at least 1s when polling is enabled, got %v", c.PollInterval)
	}
	if c.DedupWindow <= 0 {
		return fmt.Errorf("dedup_window must be positive, got %v", c.DedupWindow)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative, got %v", c.Cooldown)
	}
	if c.MaxInflightEvaluations < 1 || c.MaxInflightEvaluations > 64 {
		return fmt.Errorf("max_inflight_evaluations must be between 1 and 64, got %d", c.MaxInflightEvaluations)
	}
	for w, p := range c.WorkTypePriority {
		if !w.IsValid() {
			return fmt.Errorf("work_type_priority contains unknown work type %q", w)
		}
		if p < 0 {
			return fmt.Errorf("work_type_priority for %q must not be negative, got %d", w, p)
		}
	}
	return nil
}
