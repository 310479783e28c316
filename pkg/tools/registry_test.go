package tools

import (
	"testing"
	"time"

	"github.com/kadirpekel/sage/pkg/config"
)

func TestNewRegistryFromConfig(t *testing.T) {
	cfgs := map[string]*config.ToolConfig{
		"sales_lookup": {
			Description: "Look up sales figures",
			Endpoint:    "https://tools.internal/sales",
			Parameters: []config.ToolParameterConfig{
				{Name: "region", Type: "string", Required: true, Enum: []string{"AMER", "EMEA"}},
				{Name: "limit", Type: "integer"},
			},
		},
		"weather": {
			Description: "Current weather",
			Endpoint:    "https://tools.internal/weather",
			Timeout:     "5s",
			Principal:   "weather-scope",
		},
	}

	r, err := NewRegistryFromConfig(cfgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spec, ok := r.Get("sales_lookup")
	if !ok {
		t.Fatal("expected sales_lookup registered")
	}
	if spec.Timeout != 30*time.Second {
		t.Errorf("expected default 30s timeout, got %v", spec.Timeout)
	}
	if spec.MaxRetries != 2 {
		t.Errorf("expected default 2 retries, got %d", spec.MaxRetries)
	}

	props, _ := spec.Parameters["properties"].(map[string]any)
	if _, ok := props["region"]; !ok {
		t.Error("expected region in the schema properties")
	}
	required, _ := spec.Parameters["required"].([]string)
	if len(required) != 1 || required[0] != "region" {
		t.Errorf("expected region required, got %v", required)
	}

	weather, _ := r.Get("weather")
	if weather.Timeout != 5*time.Second {
		t.Errorf("expected configured 5s timeout, got %v", weather.Timeout)
	}
	if weather.Principal != "weather-scope" {
		t.Errorf("expected principal carried over, got %q", weather.Principal)
	}
}

func TestNewRegistryFromConfig_Invalid(t *testing.T) {
	_, err := NewRegistryFromConfig(map[string]*config.ToolConfig{
		"broken": {Description: "no endpoint"},
	})
	if err == nil {
		t.Fatal("expected an error for a tool without an endpoint")
	}
}

func TestRegistry_SpecsSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.RegisterSpec(&Spec{Name: name, Endpoint: "https://x/" + name}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	specs := r.Specs()
	if len(specs) != 3 {
		t.Fatalf("expected 3 specs, got %d", len(specs))
	}
	if specs[0].Name != "alpha" || specs[1].Name != "mid" || specs[2].Name != "zeta" {
		t.Errorf("expected sorted specs, got %s, %s, %s",
			specs[0].Name, specs[1].Name, specs[2].Name)
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	spec := &Spec{Name: "tool", Endpoint: "https://x"}
	if err := r.RegisterSpec(spec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.RegisterSpec(spec); err == nil {
		t.Fatal("expected an error for a duplicate registration")
	}
}

func TestSchemaFor(t *testing.T) {
	type args struct {
		Query string `json:"query" jsonschema:"required,description=Search query"`
		Limit int    `json:"limit,omitempty"`
	}

	schema, err := SchemaFor[args]()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("expected an object schema, got %v", schema["type"])
	}
	props, _ := schema["properties"].(map[string]any)
	if _, ok := props["query"]; !ok {
		t.Error("expected query property")
	}
	if _, ok := props["limit"]; !ok {
		t.Error("expected limit property")
	}
}
