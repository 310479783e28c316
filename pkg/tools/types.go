// Package tools provides the tool registry and invoker: immutable tool
// specifications with JSON schemas, structural parameter validation, and
// authenticated HTTP dispatch with per-tool timeout and bounded retries.
package tools

import (
	"time"

	"github.com/kadirpekel/sage/pkg/protocol"
)

// Spec describes a registered tool. Specs are immutable after registration;
// changing a tool means registering a new spec.
type Spec struct {
	Name        string
	Description string

	// Parameters is a JSON schema object: type, properties, required.
	Parameters map[string]any

	Endpoint   string
	Timeout    time.Duration
	MaxRetries int

	// Principal identifies the credential scope for this tool.
	Principal string
}

// Result is the structured outcome of one tool invocation. Failures are
// data: OK false plus an error kind and message, never a Go error that
// aborts the caller's loop.
type Result struct {
	Tool      string
	OK        bool
	Data      map[string]any
	Citations []protocol.Citation

	ErrorKind    ErrorKind
	ErrorMessage string

	// Cached reports a session-cache hit: no network call happened.
	Cached   bool
	Duration time.Duration
}

func errorResult(tool string, te *ToolError) Result {
	return Result{
		Tool:         tool,
		ErrorKind:    te.Kind,
		ErrorMessage: te.Message,
	}
}
