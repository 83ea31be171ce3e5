package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// GovernorYAMLConfig represents the complete governor.yaml file structure.
// Every section is optional; omitted sections take built-in defaults.
type GovernorYAMLConfig struct {
	Governor    *GovernorConfig    `yaml:"governor"`
	TopOfFunnel *TopOfFunnelConfig `yaml:"top_of_funnel"`
	RateLimit   *RateLimitConfig   `yaml:"rate_limit"`
	Breaker     *BreakerConfig     `yaml:"breaker"`
	Server      *ServerConfig      `yaml:"server"`
	Redis       *RedisConfig       `yaml:"redis"`
	Reaper      *ReaperConfig      `yaml:"reaper"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load governor.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user values over built-in defaults
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"projects", stats.Projects,
		"polling_enabled", stats.PollingEnabled,
		"priority_rules", stats.PriorityRules)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	yamlCfg, err := loader.loadGovernorYAML()
	if err != nil {
		return nil, NewLoadError("governor.yaml", err)
	}

	// Merge each user section into its defaults so unset fields keep their
	// default values.
	governor := DefaultGovernorConfig()
	if err := mergeSection(governor, yamlCfg.Governor); err != nil {
		return nil, fmt.Errorf("failed to merge governor config: %w", err)
	}
	funnel := DefaultTopOfFunnelConfig()
	if err := mergeSection(funnel, yamlCfg.TopOfFunnel); err != nil {
		return nil, fmt.Errorf("failed to merge top_of_funnel config: %w", err)
	}
	rateLimit := DefaultRateLimitConfig()
	if err := mergeSection(rateLimit, yamlCfg.RateLimit); err != nil {
		return nil, fmt.Errorf("failed to merge rate_limit config: %w", err)
	}
	breaker := DefaultBreakerConfig()
	if err := mergeSection(breaker, yamlCfg.Breaker); err != nil {
		return nil, fmt.Errorf("failed to merge breaker config: %w", err)
	}
	server := DefaultServerConfig()
	if err := mergeSection(server, yamlCfg.Server); err != nil {
		return nil, fmt.Errorf("failed to merge server config: %w", err)
	}
	redis := DefaultRedisConfig()
	if err := mergeSection(redis, yamlCfg.Redis); err != nil {
		return nil, fmt.Errorf("failed to merge redis config: %w", err)
	}
	reaper := DefaultReaperConfig()
	if err := mergeSection(reaper, yamlCfg.Reaper); err != nil {
		return nil, fmt.Errorf("failed to merge reaper config: %w", err)
	}

	return &Config{
		configDir:   configDir,
		Governor:    governor,
		TopOfFunnel: funnel,
		RateLimit:   rateLimit,
		Breaker:     breaker,
		Server:      server,
		Redis:       redis,
		Reaper:      reaper,
	}, nil
}

// mergeSection merges non-zero user values over defaults in place.
func mergeSection[T any](defaults *T, user *T) error {
	if user == nil {
		return nil
	}
	return mergo.Merge(defaults, user, mergo.WithOverride)
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	sections := []struct {
		name     string
		validate func() error
	}{
		{"governor", cfg.Governor.Validate},
		{"top_of_funnel", cfg.TopOfFunnel.Validate},
		{"rate_limit", cfg.RateLimit.Validate},
		{"breaker", cfg.Breaker.Validate},
		{"server", cfg.Server.Validate},
		{"redis", cfg.Redis.Validate},
		{"reaper", cfg.Reaper.Validate},
	}
	for _, s := range sections {
		if err := s.validate(); err != nil {
			return NewValidationError(s.name, "", "", err)
		}
	}
	return nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadGovernorYAML() (*GovernorYAMLConfig, error) {
	var config GovernorYAMLConfig
	if err := l.loadYAML("governor.yaml", &config); err != nil {
		return nil, err
	}
	return &config, nil
}
