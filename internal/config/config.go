package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DreyConfig represents the top-level drey.yml configuration
type DreyConfig struct {
	Version    string            `yaml:"version"`
	Workflow   WorkflowConfig    `yaml:"workflow"`
	Pipeline   *PipelineConfig   `yaml:"pipeline,omitempty"`
	Integrator *IntegratorConfig `yaml:"integrator,omitempty"`
}

// WorkflowConfig declares which events feed readiness conditions and which
// condition set must be satisfied before a candidate is READY to merge.
// The required set is configuration, not code: different workflows demand
// different preconditions.
type WorkflowConfig struct {
	RequiredConditions []string  `yaml:"required_conditions"`
	Triggers           []Trigger `yaml:"triggers"`
}

// Trigger maps an event type to the readiness condition it satisfies.
type Trigger struct {
	EventType string `yaml:"event_type"`
	Condition string `yaml:"condition"`
}

// PipelineConfig tunes the cartridge-chain runtime.
type PipelineConfig struct {
	MaxAttempts   int `yaml:"max_attempts,omitempty"`    // Cartridge retries before dead-lettering (default 5)
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty"` // First retry delay, doubled per attempt (default 100)
	PollMs        int `yaml:"poll_ms,omitempty"`         // Log poll interval (default 200)
	SnapshotEvery int `yaml:"snapshot_every,omitempty"`  // Events between projection snapshots (default 50)
}

// IntegratorConfig tunes the singleton merge actor.
type IntegratorConfig struct {
	LeaseTTLSeconds int    `yaml:"lease_ttl_seconds,omitempty"` // Lease TTL; crash recovery window (default 30)
	Remote          string `yaml:"remote,omitempty"`            // Git remote holding canonical main (default origin)
	MainBranch      string `yaml:"main_branch,omitempty"`       // Canonical integration branch (default main)
	Image           string `yaml:"image,omitempty"`             // Container image for spawned integrator sessions
}

// Defaults, applied by Load after parsing.
const (
	DefaultMaxAttempts     = 5
	DefaultBaseBackoffMs   = 100
	DefaultPollMs          = 200
	DefaultSnapshotEvery   = 50
	DefaultLeaseTTLSeconds = 30
	DefaultRemote          = "origin"
	DefaultMainBranch      = "main"
)

// Validate performs strict validation on the configuration
func (c *DreyConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	// Required: at least one readiness condition
	if len(c.Workflow.RequiredConditions) == 0 {
		return fmt.Errorf("workflow.required_conditions cannot be empty")
	}

	seen := make(map[string]bool, len(c.Workflow.RequiredConditions))
	for _, condition := range c.Workflow.RequiredConditions {
		if condition == "" {
			return fmt.Errorf("workflow.required_conditions contains an empty name")
		}
		if seen[condition] {
			return fmt.Errorf("duplicate required condition: %s", condition)
		}
		seen[condition] = true
	}

	// Every required condition must have a trigger feeding it
	fed := make(map[string]bool)
	triggerTypes := make(map[string]bool)
	for i, trigger := range c.Workflow.Triggers {
		if trigger.EventType == "" {
			return fmt.Errorf("workflow.triggers[%d]: event_type cannot be empty", i)
		}
		if trigger.Condition == "" {
			return fmt.Errorf("workflow.triggers[%d]: condition cannot be empty", i)
		}
		if triggerTypes[trigger.EventType] {
			return fmt.Errorf("duplicate trigger for event type: %s", trigger.EventType)
		}
		triggerTypes[trigger.EventType] = true
		fed[trigger.Condition] = true
	}
	for _, condition := range c.Workflow.RequiredConditions {
		if !fed[condition] {
			return fmt.Errorf("required condition %q has no trigger event", condition)
		}
	}

	if c.Pipeline != nil {
		if c.Pipeline.MaxAttempts < 0 || c.Pipeline.BaseBackoffMs < 0 ||
			c.Pipeline.PollMs < 0 || c.Pipeline.SnapshotEvery < 0 {
			return fmt.Errorf("pipeline settings cannot be negative")
		}
	}

	if c.Integrator != nil {
		if c.Integrator.LeaseTTLSeconds < 0 {
			return fmt.Errorf("integrator.lease_ttl_seconds cannot be negative")
		}
	}

	return nil
}

// applyDefaults fills zero-valued settings with their defaults.
func (c *DreyConfig) applyDefaults() {
	if c.Pipeline == nil {
		c.Pipeline = &PipelineConfig{}
	}
	if c.Pipeline.MaxAttempts == 0 {
		c.Pipeline.MaxAttempts = DefaultMaxAttempts
	}
	if c.Pipeline.BaseBackoffMs == 0 {
		c.Pipeline.BaseBackoffMs = DefaultBaseBackoffMs
	}
	if c.Pipeline.PollMs == 0 {
		c.Pipeline.PollMs = DefaultPollMs
	}
	if c.Pipeline.SnapshotEvery == 0 {
		c.Pipeline.SnapshotEvery = DefaultSnapshotEvery
	}

	if c.Integrator == nil {
		c.Integrator = &IntegratorConfig{}
	}
	if c.Integrator.LeaseTTLSeconds == 0 {
		c.Integrator.LeaseTTLSeconds = DefaultLeaseTTLSeconds
	}
	if c.Integrator.Remote == "" {
		c.Integrator.Remote = DefaultRemote
	}
	if c.Integrator.MainBranch == "" {
		c.Integrator.MainBranch = DefaultMainBranch
	}
}

// LeaseTTL returns the configured lease TTL as a duration.
func (c *DreyConfig) LeaseTTL() time.Duration {
	return time.Duration(c.Integrator.LeaseTTLSeconds) * time.Second
}

// PollInterval returns the configured log poll interval as a duration.
func (c *DreyConfig) PollInterval() time.Duration {
	return time.Duration(c.Pipeline.PollMs) * time.Millisecond
}

// BaseBackoff returns the configured first-retry delay as a duration.
func (c *DreyConfig) BaseBackoff() time.Duration {
	return time.Duration(c.Pipeline.BaseBackoffMs) * time.Millisecond
}

// Load reads and validates a drey.yml file, applying defaults.
func Load(path string) (*DreyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg DreyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration scaffolded by `drey init`: a two-condition
// software-delivery workflow wired to the built-in event catalog.
func Default() *DreyConfig {
	cfg := &DreyConfig{
		Version: "1.0",
		Workflow: WorkflowConfig{
			RequiredConditions: []string{"review_approved", "deployment_started"},
			Triggers: []Trigger{
				{EventType: "domain.software-development.review.approved", Condition: "review_approved"},
				{EventType: "domain.software-development.deployment.started", Condition: "deployment_started"},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}
