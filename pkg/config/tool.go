package config

import (
	"fmt"
	"time"
)

// ToolConfig declares an external tool endpoint.
//
// Example YAML:
//
//	tools:
//	  sales_lookup:
//	    description: Look up sales figures by region and quarter
//	    endpoint: https://tools.internal/sales
//	    timeout: 30s
//	    principal: sage-tools
type ToolConfig struct {
	// Description shown to the reasoning oracle.
	Description string `yaml:"description"`

	// Endpoint is the tool's HTTP endpoint.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds a single invocation.
	Timeout string `yaml:"timeout,omitempty"`

	// MaxRetries for transient failures.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Principal is the authorization principal the credential is scoped to.
	Principal string `yaml:"principal,omitempty"`

	// Parameters describes the tool's parameter schema.
	Parameters []ToolParameterConfig `yaml:"parameters,omitempty"`
}

// ToolParameterConfig describes one declared tool parameter.
type ToolParameterConfig struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Description string   `yaml:"description,omitempty"`
	Required    bool     `yaml:"required,omitempty"`
	Enum        []string `yaml:"enum,omitempty"`
}

// SetDefaults applies default values to the tool config.
func (c *ToolConfig) SetDefaults() {
	if c.Timeout == "" {
		c.Timeout = "30s"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
}

// Validate checks the tool configuration.
func (c *ToolConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	validTypes := map[string]bool{
		"string": true, "number": true, "integer": true,
		"boolean": true, "array": true, "object": true,
	}
	for _, p := range c.Parameters {
		if p.Name == "" {
			return fmt.Errorf("parameter name is required")
		}
		if !validTypes[p.Type] {
			return fmt.Errorf("parameter %s: invalid type %q", p.Name, p.Type)
		}
	}
	return nil
}

// TimeoutDuration returns the parsed invocation timeout.
func (c *ToolConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
