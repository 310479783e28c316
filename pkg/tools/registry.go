package tools

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/registry"
)

// Registry holds the registered tool specs.
type Registry struct {
	*registry.BaseRegistry[*Spec]
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[*Spec]()}
}

// NewRegistryFromConfig builds a registry from configuration. Each tool's
// parameter declarations become its JSON schema.
func NewRegistryFromConfig(cfgs map[string]*config.ToolConfig) (*Registry, error) {
	r := NewRegistry()
	for name, cfg := range cfgs {
		if cfg == nil {
			return nil, fmt.Errorf("tool %q has no configuration", name)
		}
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}

		spec := &Spec{
			Name:        name,
			Description: cfg.Description,
			Parameters:  schemaFromConfig(cfg.Parameters),
			Endpoint:    cfg.Endpoint,
			Timeout:     cfg.TimeoutDuration(),
			MaxRetries:  cfg.MaxRetries,
			Principal:   cfg.Principal,
		}
		if err := r.RegisterSpec(spec); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RegisterSpec validates and registers a tool spec.
func (r *Registry) RegisterSpec(spec *Spec) error {
	if spec == nil {
		return fmt.Errorf("spec is required")
	}
	if spec.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if spec.Endpoint == "" {
		return fmt.Errorf("tool %q: endpoint is required", spec.Name)
	}
	if err := r.Register(spec.Name, spec); err != nil {
		return err
	}
	slog.Debug("Registered tool", "tool", spec.Name, "endpoint", spec.Endpoint)
	return nil
}

// Specs returns all registered specs sorted by name, for presentation to the
// reasoning oracle.
func (r *Registry) Specs() []*Spec {
	specs := r.List()
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Name < specs[j].Name
	})
	return specs
}
