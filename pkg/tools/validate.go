package tools

import (
	"fmt"
	"math"
)

// validateParams structurally checks params against the spec's schema:
// required parameters present, no unknown parameters, values matching the
// declared type, enum membership. It returns a validation ToolError on the
// first violation; a valid call returns nil.
func validateParams(spec *Spec, params map[string]any) *ToolError {
	schema := spec.Parameters
	if schema == nil {
		return nil
	}

	properties, _ := schema["properties"].(map[string]any)

	if required, ok := schema["required"]; ok {
		for _, name := range toStringSlice(required) {
			if _, present := params[name]; !present {
				return newToolError(spec.Name, ErrorValidation,
					fmt.Sprintf("missing required parameter %q", name), nil)
			}
		}
	}

	for name, value := range params {
		propAny, known := properties[name]
		if !known {
			return newToolError(spec.Name, ErrorValidation,
				fmt.Sprintf("unknown parameter %q", name), nil)
		}
		prop, _ := propAny.(map[string]any)

		if typ, ok := prop["type"].(string); ok {
			if err := checkType(name, typ, value); err != "" {
				return newToolError(spec.Name, ErrorValidation, err, nil)
			}
		}

		if enumAny, ok := prop["enum"]; ok {
			if !enumContains(enumAny, value) {
				return newToolError(spec.Name, ErrorValidation,
					fmt.Sprintf("parameter %q: value %v not in allowed set", name, value), nil)
			}
		}
	}

	return nil
}

func checkType(name, typ string, value any) string {
	switch typ {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("parameter %q: expected string, got %T", name, value)
		}
	case "number":
		if !isNumber(value) {
			return fmt.Sprintf("parameter %q: expected number, got %T", name, value)
		}
	case "integer":
		if !isInteger(value) {
			return fmt.Sprintf("parameter %q: expected integer, got %T", name, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("parameter %q: expected boolean, got %T", name, value)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Sprintf("parameter %q: expected array, got %T", name, value)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Sprintf("parameter %q: expected object, got %T", name, value)
		}
	}
	return ""
}

func isNumber(value any) bool {
	switch value.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int32, int64:
		return true
	case float64:
		// JSON decoding yields float64 for all numbers.
		return v == math.Trunc(v)
	}
	return false
}

func enumContains(enumAny, value any) bool {
	enum, ok := enumAny.([]any)
	if !ok {
		// Config-declared enums are string slices before schema assembly.
		for _, v := range toStringSlice(enumAny) {
			if v == fmt.Sprint(value) {
				return true
			}
		}
		return false
	}
	for _, allowed := range enum {
		if allowed == value || fmt.Sprint(allowed) == fmt.Sprint(value) {
			return true
		}
	}
	return false
}

func toStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
