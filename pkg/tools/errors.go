package tools

import "fmt"

// ErrorKind classifies a tool failure. The orchestrator treats every kind as
// an observation; the kind decides only what the invoker does before
// reporting (dispatch or not, retry or not).
type ErrorKind string

const (
	// ErrorValidation: parameters violate the tool's schema. Never
	// dispatched.
	ErrorValidation ErrorKind = "validation"

	// ErrorUnauthorized: credential acquisition failed or the endpoint
	// rejected the credential. Never retried.
	ErrorUnauthorized ErrorKind = "unauthorized"

	// ErrorTimeout: the call exceeded the tool's timeout.
	ErrorTimeout ErrorKind = "timeout"

	// ErrorUnavailable: transient endpoint failure, retries exhausted.
	ErrorUnavailable ErrorKind = "unavailable"

	// ErrorInternal: anything else (malformed response, unexpected status).
	ErrorInternal ErrorKind = "internal"
)

// ToolError is a classified tool failure.
type ToolError struct {
	Tool    string
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[Tool:%s] %s: %s: %v", e.Tool, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[Tool:%s] %s: %s", e.Tool, e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func newToolError(tool string, kind ErrorKind, message string, err error) *ToolError {
	return &ToolError{Tool: tool, Kind: kind, Message: message, Err: err}
}
