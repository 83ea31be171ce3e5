package config

import (
	"fmt"
	"time"
)

// RateLimitConfig shapes the shared token bucket in front of the upstream
// tracker API.
type RateLimitConfig struct {
	// Capacity is the bucket size (maximum burst).
	Capacity int `yaml:"capacity"`

	// RefillPerSecond is the steady-state request rate.
	RefillPerSecond float64 `yaml:"refill_per_second"`
}

// DefaultRateLimitConfig returns bucket settings matching the upstream's
// published request budget.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Capacity:        10,
		RefillPerSecond: 2,
	}
}

// Validate checks rate-limit settings.
func (c *RateLimitConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("rate_limit configuration is nil")
	}
	if c.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", c.Capacity)
	}
	if c.RefillPerSecond <= 0 {
		return fmt.Errorf("refill_per_second must be positive, got %v", c.RefillPerSecond)
	}
	return nil
}

// BreakerConfig controls the auth-failure circuit breaker in front of the
// upstream tracker API.
type BreakerConfig struct {
	// FailureThreshold is the consecutive auth-failure count that opens the
	// circuit.
	FailureThreshold int `yaml:"failure_threshold"`

	// ResetTimeout is the base open-state duration before a half-open probe.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// MaxResetTimeout caps the exponential growth of the open-state duration.
	MaxResetTimeout time.Duration `yaml:"max_reset_timeout"`

	// BackoffMultiplier scales the open-state duration after each failed probe.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// AuthErrorCodes are the HTTP statuses treated as auth failures. 429 never
	// belongs here: it feeds the rate limiter instead.
	AuthErrorCodes []int `yaml:"auth_error_codes"`
}

// DefaultBreakerConfig returns breaker settings with production defaults.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold:  2,
		ResetTimeout:      60 * time.Second,
		MaxResetTimeout:   5 * time.Minute,
		BackoffMultiplier: 2,
		AuthErrorCodes:    []int{400, 401, 403},
	}
}

// Validate checks breaker settings.
func (c *BreakerConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("breaker configuration is nil")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.ResetTimeout < time.Second {
		return fmt.Errorf("reset_timeout must be at least 1s, got %v", c.ResetTimeout)
	}
	if c.MaxResetTimeout < c.ResetTimeout {
		return fmt.Errorf("max_reset_timeout must be at least reset_timeout, got %v < %v", c.MaxResetTimeout, c.ResetTimeout)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1, got %v", c.BackoffMultiplier)
	}
	for _, code := range c.AuthErrorCodes {
		if code == 429 {
			return fmt.Errorf("auth_error_codes must not contain 429; rate-limit responses feed the limiter")
		}
		if code < 400 || code > 599 {
			return fmt.Errorf("auth_error_codes entries must be HTTP error statuses, got %d", code)
		}
	}
	return nil
}
