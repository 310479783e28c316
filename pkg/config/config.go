// Package config defines the configuration model for the Sage engine.
//
// Configuration is loaded from YAML with environment variable expansion
// (${VAR}, ${VAR:-default}) applied before parsing. Every section exposes
// SetDefaults and Validate; Load applies both.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the engine.
type Config struct {
	Server        ServerConfig           `yaml:"server"`
	Orchestrator  OrchestratorConfig     `yaml:"orchestrator"`
	Reasoning     ReasoningConfig        `yaml:"reasoning"`
	Retriever     RetrieverConfig        `yaml:"retriever"`
	StateStore    StateStoreConfig       `yaml:"state_store"`
	Auth          AuthConfig             `yaml:"auth"`
	Tools         map[string]*ToolConfig `yaml:"tools,omitempty"`
	Observability ObservabilityConfig    `yaml:"observability"`
}

// OrchestratorConfig bounds the reasoning loop and the overall turn.
type OrchestratorConfig struct {
	// MaxIterations bounds the Reason <-> Tool cycle. Exceeding it forces
	// synthesis with whatever evidence has been gathered.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// TurnDeadline is the soft deadline for a whole turn. Exceeding it
	// forces early synthesis rather than an unbounded wait.
	TurnDeadline string `yaml:"turn_deadline,omitempty"`
}

// SetDefaults applies default values to the orchestrator config.
func (c *OrchestratorConfig) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 6
	}
	if c.TurnDeadline == "" {
		c.TurnDeadline = "2m"
	}
}

// Validate checks the orchestrator configuration.
func (c *OrchestratorConfig) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1")
	}
	if _, err := time.ParseDuration(c.TurnDeadline); err != nil {
		return fmt.Errorf("invalid turn_deadline: %w", err)
	}
	return nil
}

// TurnDeadlineDuration returns the parsed turn deadline.
func (c *OrchestratorConfig) TurnDeadlineDuration() time.Duration {
	d, err := time.ParseDuration(c.TurnDeadline)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// ReasoningConfig configures the reasoning oracle client.
type ReasoningConfig struct {
	// Endpoint is the oracle's HTTP endpoint.
	Endpoint string `yaml:"endpoint"`

	// APIKey for bearer authentication against the oracle.
	APIKey string `yaml:"api_key,omitempty"`

	// Timeout per oracle call.
	Timeout string `yaml:"timeout,omitempty"`

	// MaxRetries before the orchestrator degrades the turn.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// BaseDelay seeds the exponential backoff between retries.
	BaseDelay string `yaml:"base_delay,omitempty"`
}

// SetDefaults applies default values to the reasoning config.
func (c *ReasoningConfig) SetDefaults() {
	if c.Timeout == "" {
		c.Timeout = "30s"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay == "" {
		c.BaseDelay = "500ms"
	}
}

// Validate checks the reasoning configuration.
func (c *ReasoningConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.BaseDelay); err != nil {
		return fmt.Errorf("invalid base_delay: %w", err)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	return nil
}

// TimeoutDuration returns the parsed per-call timeout.
func (c *ReasoningConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// BaseDelayDuration returns the parsed backoff base delay.
func (c *ReasoningConfig) BaseDelayDuration() time.Duration {
	d, err := time.ParseDuration(c.BaseDelay)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// AuthConfig configures short-lived credential acquisition for tool calls.
type AuthConfig struct {
	// TokenURL is the credential issuer's token endpoint.
	TokenURL string `yaml:"token_url,omitempty"`

	// ClientID identifies this service to the issuer.
	ClientID string `yaml:"client_id,omitempty"`

	// ClientSecret authenticates this service to the issuer.
	ClientSecret string `yaml:"client_secret,omitempty"`

	// RefreshSkew refreshes tokens this long before expiry.
	RefreshSkew string `yaml:"refresh_skew,omitempty"`
}

// SetDefaults applies default values to the auth config.
func (c *AuthConfig) SetDefaults() {
	if c.RefreshSkew == "" {
		c.RefreshSkew = "30s"
	}
}

// Validate checks the auth configuration.
func (c *AuthConfig) Validate() error {
	if _, err := time.ParseDuration(c.RefreshSkew); err != nil {
		return fmt.Errorf("invalid refresh_skew: %w", err)
	}
	return nil
}

// RefreshSkewDuration returns the parsed refresh skew.
func (c *AuthConfig) RefreshSkewDuration() time.Duration {
	d, err := time.ParseDuration(c.RefreshSkew)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ObservabilityConfig enables metrics collection.
type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

// Load parses configuration from a YAML file with env expansion applied,
// then sets defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Reasoning.SetDefaults()
	c.Retriever.SetDefaults()
	c.StateStore.SetDefaults()
	c.Auth.SetDefaults()
	for _, tool := range c.Tools {
		if tool != nil {
			tool.SetDefaults()
		}
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if err := c.Reasoning.Validate(); err != nil {
		return fmt.Errorf("reasoning: %w", err)
	}
	if err := c.Retriever.Validate(); err != nil {
		return fmt.Errorf("retriever: %w", err)
	}
	if err := c.StateStore.Validate(); err != nil {
		return fmt.Errorf("state_store: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	for name, tool := range c.Tools {
		if tool == nil {
			return fmt.Errorf("tools: %s: configuration is empty", name)
		}
		if err := tool.Validate(); err != nil {
			return fmt.Errorf("tools: %s: %w", name, err)
		}
	}
	return nil
}
