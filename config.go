package flowgrid

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the tunable engine settings. Zero values fall back to the
// defaults at validation.
type Config struct {
	// MaxConcurrentFlows bounds simultaneously executing flow instances.
	MaxConcurrentFlows int `yaml:"maxConcurrentFlows"`

	// AutoResumeInterval is the sweep period for condition and timeout
	// resume triggers.
	AutoResumeInterval time.Duration `yaml:"autoResumeInterval"`

	// RecoveryInterval is the sweep period for orphaned-flow recovery.
	RecoveryInterval time.Duration `yaml:"recoveryInterval"`

	// HeartbeatStaleAfter is how long a running flow may go without a
	// heartbeat before recovery considers its executor dead.
	HeartbeatStaleAfter time.Duration `yaml:"heartbeatStaleAfter"`

	// LogLevel selects the logger verbosity: debug, info, warn or error.
	LogLevel string `yaml:"logLevel"`
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentFlows:  32,
		AutoResumeInterval:  5 * time.Second,
		RecoveryInterval:    30 * time.Second,
		HeartbeatStaleAfter: 2 * time.Minute,
		LogLevel:            "info",
	}
}

// Validate fills defaults and rejects unusable settings.
func (c *Config) Validate() error {
	defaults := DefaultConfig()
	if c.MaxConcurrentFlows == 0 {
		c.MaxConcurrentFlows = defaults.MaxConcurrentFlows
	}
	if c.MaxConcurrentFlows < 0 {
		return fmt.Errorf("config: maxConcurrentFlows must be positive, got %d", c.MaxConcurrentFlows)
	}
	if c.AutoResumeInterval <= 0 {
		c.AutoResumeInterval = defaults.AutoResumeInterval
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = defaults.RecoveryInterval
	}
	if c.HeartbeatStaleAfter <= 0 {
		c.HeartbeatStaleAfter = defaults.HeartbeatStaleAfter
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
