// Package config loads and validates the governor's configuration.
//
// Configuration comes from one YAML file (governor.yaml) merged over built-in
// defaults, with environment variables expanded using {{.VAR}} template
// syntax. Secrets never live in YAML: the file names the environment
// variables that hold them.
package config

import "os"

// Config is the umbrella configuration object returned by Initialize() and
// used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Governor    *GovernorConfig
	TopOfFunnel *TopOfFunnelConfig
	RateLimit   *RateLimitConfig
	Breaker     *BreakerConfig
	Server      *ServerConfig
	Redis       *RedisConfig
	Reaper      *ReaperConfig
}

// Initialize is defined in loader.go

// Stats contains statistics about loaded configuration
type Stats struct {
	Projects       int
	PollingEnabled bool
	PriorityRules  int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.Governor != nil {
		s.Projects = len(c.Governor.Projects)
		s.PollingEnabled = c.Governor.EnablePolling
		s.PriorityRules = len(c.Governor.WorkTypePriority)
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// WorkerAuthToken resolves the worker bearer token from the environment
// variable named by the governor config. Empty means worker auth is
// unconfigured; the server refuses to start in that case.
func (c *Config) WorkerAuthToken() string {
	if c.Governor == nil || c.Governor.WorkerAuthTokenEnv == "" {
		return ""
	}
	return os.Getenv(c.Governor.WorkerAuthTokenEnv)
}

// RedisPassword resolves the Redis password from the environment variable
// named by the redis config. Empty means no auth.
func (c *Config) RedisPassword() string {
	if c.Redis == nil || c.Redis.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.Redis.PasswordEnv)
}
