package config

import (
	"fmt"
	"time"
)

// ServerConfig controls the HTTP API surface.
type ServerConfig struct {
	// ListenAddr is the bind address for the API server.
	ListenAddr string `yaml:"listen_addr"`

	// AllowedWSOrigins are additional origins accepted for WebSocket
	// upgrades beyond same-origin.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`

	// WSWriteTimeout bounds a single WebSocket send.
	WSWriteTimeout time.Duration `yaml:"ws_write_timeout"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultServerConfig returns API server settings with production defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:      ":8090",
		WSWriteTimeout:  10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks server settings.
func (c *ServerConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("server configuration is nil")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.WSWriteTimeout <= 0 {
		return fmt.Errorf("ws_write_timeout must be positive, got %v", c.WSWriteTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %v", c.ShutdownTimeout)
	}
	return nil
}

// RedisConfig locates the shared state substrate.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr"`

	// PasswordEnv names the environment variable holding the password.
	// Empty means no auth.
	PasswordEnv string `yaml:"password_env"`

	// DB is the logical database index.
	DB int `yaml:"db"`

	// PoolSize bounds concurrent connections. Zero uses the client default.
	PoolSize int `yaml:"pool_size"`
}

// DefaultRedisConfig returns Redis settings for a local instance.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr: "localhost:6379",
	}
}

// Validate checks Redis settings.
func (c *RedisConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("redis configuration is nil")
	}
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("db must not be negative, got %d", c.DB)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("pool_size must not be negative, got %d", c.PoolSize)
	}
	return nil
}

// ReaperConfig controls the stale-claim and dead-worker recovery sweeps.
type ReaperConfig struct {
	// Interval is the sweep period.
	Interval time.Duration `yaml:"interval"`

	// WorkerTimeout is the heartbeat age past which a worker counts as dead.
	WorkerTimeout time.Duration `yaml:"worker_timeout"`

	// ClaimStale is how long a session may sit in claimed with no live claim
	// key before its work is re-queued.
	ClaimStale time.Duration `yaml:"claim_stale"`

	// RecoverOnStartup runs one sweep before the governor starts consuming,
	// recovering sessions stranded by a previous crash.
	RecoverOnStartup *bool `yaml:"recover_on_startup"`
}

// DefaultReaperConfig returns reaper settings with production defaults.
func DefaultReaperConfig() *ReaperConfig {
	enabled := true
	return &ReaperConfig{
		Interval:         30 * time.Second,
		WorkerTimeout:    2 * time.Minute,
		ClaimStale:       10 * time.Minute,
		RecoverOnStartup: &enabled,
	}
}

// RecoverOnStartupEnabled resolves the pointer with its default.
func (c *ReaperConfig) RecoverOnStartupEnabled() bool {
	return c.RecoverOnStartup == nil || *c.RecoverOnStartup
}

// Validate checks reaper settings.
func (c *ReaperConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("reaper configuration is nil")
	}
	if c.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %v", c.Interval)
	}
	if c.WorkerTimeout < 10*time.Second {
		return fmt.Errorf("worker_timeout must be at least 10s, got %v", c.WorkerTimeout)
	}
	if c.ClaimStale < time.Minute {
		return fmt.Errorf("claim_stale must be at least 1m, got %v", c.ClaimStale)
	}
	return nil
}
