// Package protocol defines the shared wire-level types exchanged between
// the orchestrator, the reasoning oracle, and tools.
package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Citation is a stable reference to the evidence backing an answer or a
// tool result.
type Citation struct {
	ID      string `json:"id"`
	Source  string `json:"source,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// ActionType discriminates the reasoning oracle's decision.
type ActionType string

const (
	ActionThink   ActionType = "think"
	ActionUseTool ActionType = "use_tool"
	ActionRespond ActionType = "respond"
)

// ToolCall is the oracle's request to invoke a named tool.
type ToolCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Action is the tagged variant returned by the reasoning oracle.
// Exactly one of Thought, ToolCall, or Text is meaningful, selected by Type.
type Action struct {
	Type     ActionType `json:"type"`
	Thought  string     `json:"thought,omitempty"`
	ToolCall *ToolCall  `json:"tool_call,omitempty"`
	Text     string     `json:"text,omitempty"`

	// Citations lists citation ids referenced by a Respond action.
	Citations []string `json:"citations,omitempty"`
}

// Validate checks that the action's payload matches its type.
func (a *Action) Validate() error {
	switch a.Type {
	case ActionThink:
		return nil
	case ActionUseTool:
		if a.ToolCall == nil || a.ToolCall.Name == "" {
			return fmt.Errorf("use_tool action requires a tool call with a name")
		}
		return nil
	case ActionRespond:
		if a.Text == "" {
			return fmt.Errorf("respond action requires text")
		}
		return nil
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

// CanonicalParams renders tool parameters as deterministic JSON.
// encoding/json sorts map keys at every nesting level, so identical
// parameter sets always produce identical bytes.
func CanonicalParams(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize parameters: %w", err)
	}
	return string(data), nil
}

// CacheKey derives the session tool-result cache key for a call.
// It is a pure function of (tool name, parameters).
func CacheKey(toolName string, params map[string]any) (string, error) {
	canonical, err := CanonicalParams(params)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(toolName + "\x00" + canonical))
	return toolName + ":" + hex.EncodeToString(sum[:8]), nil
}
