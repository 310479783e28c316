// Package reasoning adapts the external reasoning oracle: it sends the
// conversation, assembled evidence, and available tool specs, and decodes
// the oracle's next action. Transient failures are retried with exponential
// backoff; callers decide what to do when retries are exhausted.
package reasoning

import (
	"context"

	"github.com/kadirpekel/sage/pkg/protocol"
)

// ToolDescriptor is the oracle-facing view of a registered tool.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request carries everything the oracle needs to decide the next step of a
// turn.
type Request struct {
	SessionID string `json:"session_id"`

	// Messages is the conversation so far, including observations from
	// tool calls made earlier in this turn.
	Messages []protocol.Message `json:"messages"`

	// Summary is the rolling summary of evicted history, when present.
	Summary string `json:"summary,omitempty"`

	// Evidence is the rendered retrieval context.
	Evidence string `json:"evidence,omitempty"`

	Tools []ToolDescriptor `json:"tools,omitempty"`

	// Step is the current iteration within the turn's loop bound.
	Step int `json:"step"`

	// Synthesize forces a final respond action with whatever evidence is
	// at hand; set when the loop bound or turn deadline is reached.
	Synthesize bool `json:"synthesize,omitempty"`
}

// Client is the oracle surface the orchestrator depends on.
type Client interface {
	// Decide returns the oracle's next action for the turn.
	Decide(ctx context.Context, req *Request) (*protocol.Action, error)

	// Complete generates free-form text, used by the reranking stage.
	Complete(ctx context.Context, system, prompt string) (string, error)
}
