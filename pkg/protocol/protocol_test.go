package protocol

import (
	"strings"
	"testing"
)

func TestCacheKey_Deterministic(t *testing.T) {
	params := map[string]any{"region": "EMEA", "quarter": "Q3", "limit": 10}

	key1, err := CacheKey("sales_lookup", params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key2, err := CacheKey("sales_lookup", params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if key1 != key2 {
		t.Errorf("expected identical keys, got %q and %q", key1, key2)
	}
	if !strings.HasPrefix(key1, "sales_lookup:") {
		t.Errorf("expected key to start with tool name, got %q", key1)
	}
}

func TestCacheKey_IndependentOfInsertionOrder(t *testing.T) {
	a := map[string]any{"region": "EMEA", "quarter": "Q3"}
	b := map[string]any{"quarter": "Q3", "region": "EMEA"}

	keyA, err := CacheKey("sales_lookup", a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	keyB, err := CacheKey("sales_lookup", b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if keyA != keyB {
		t.Errorf("expected order-independent keys, got %q and %q", keyA, keyB)
	}
}

func TestCacheKey_DistinguishesToolAndParams(t *testing.T) {
	params := map[string]any{"region": "EMEA"}

	base, _ := CacheKey("sales_lookup", params)
	otherTool, _ := CacheKey("inventory_lookup", params)
	otherParams, _ := CacheKey("sales_lookup", map[string]any{"region": "APAC"})

	if base == otherTool {
		t.Error("expected different tools to produce different keys")
	}
	if base == otherParams {
		t.Error("expected different parameters to produce different keys")
	}
}

func TestCanonicalParams_Empty(t *testing.T) {
	got, err := CanonicalParams(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "{}" {
		t.Errorf("expected {}, got %q", got)
	}
}

func TestCanonicalParams_Nested(t *testing.T) {
	a, err := CanonicalParams(map[string]any{
		"filter": map[string]any{"b": 2, "a": 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := CanonicalParams(map[string]any{
		"filter": map[string]any{"a": 1, "b": 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Errorf("expected canonical form for nested maps, got %q and %q", a, b)
	}
}

func TestAction_Validate(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{"think", Action{Type: ActionThink, Thought: "considering"}, false},
		{"think without thought", Action{Type: ActionThink}, false},
		{"use_tool", Action{Type: ActionUseTool, ToolCall: &ToolCall{Name: "search"}}, false},
		{"use_tool missing call", Action{Type: ActionUseTool}, true},
		{"use_tool unnamed", Action{Type: ActionUseTool, ToolCall: &ToolCall{}}, true},
		{"respond", Action{Type: ActionRespond, Text: "done"}, false},
		{"respond without text", Action{Type: ActionRespond}, true},
		{"unknown type", Action{Type: "shrug"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
