package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kadirpekel/sage/pkg/auth"
	"github.com/kadirpekel/sage/pkg/httpclient"
	"github.com/kadirpekel/sage/pkg/protocol"
	"github.com/kadirpekel/sage/pkg/statestore"
)

// Invoker executes tool calls: session-cache lookup, schema validation,
// credential acquisition, HTTP dispatch with per-tool timeout and bounded
// retries, and classification of the outcome into a structured Result.
//
// Invoke returns a non-nil error only when the caller's context is done;
// every tool-side failure is reported inside the Result.
type Invoker struct {
	registry *Registry
	tokens   auth.TokenSource

	httpClient *http.Client
	baseDelay  time.Duration
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithInvokerHTTPClient overrides the transport, mainly for tests.
func WithInvokerHTTPClient(client *http.Client) InvokerOption {
	return func(inv *Invoker) {
		inv.httpClient = client
	}
}

// WithInvokerBaseDelay overrides the retry backoff base delay.
func WithInvokerBaseDelay(delay time.Duration) InvokerOption {
	return func(inv *Invoker) {
		inv.baseDelay = delay
	}
}

// NewInvoker creates an invoker over the registry and credential source.
func NewInvoker(registry *Registry, tokens auth.TokenSource, opts ...InvokerOption) (*Invoker, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}

	inv := &Invoker{
		registry:   registry,
		tokens:     tokens,
		httpClient: &http.Client{},
		baseDelay:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv, nil
}

// toolRequest is the wire format sent to a tool endpoint.
type toolRequest struct {
	Parameters map[string]any `json:"parameters"`
}

// toolResponse is the wire format a tool endpoint returns: a result or an
// error, never both.
type toolResponse struct {
	Result    map[string]any      `json:"result,omitempty"`
	Citations []protocol.Citation `json:"citations,omitempty"`
	Error     *toolResponseError  `json:"error,omitempty"`
}

type toolResponseError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Invoke executes one tool call against the given in-turn session copy.
// Successful results are cached in the session before returning, so an
// identical call later in the session is served without a network round
// trip. The caller is responsible for committing the session.
func (inv *Invoker) Invoke(ctx context.Context, sess *statestore.Session, call protocol.ToolCall) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	start := time.Now()

	spec, ok := inv.registry.Get(call.Name)
	if !ok {
		return errorResult(call.Name, newToolError(call.Name, ErrorValidation,
			fmt.Sprintf("unknown tool %q", call.Name), nil)), nil
	}

	cacheKey, err := protocol.CacheKey(call.Name, call.Parameters)
	if err != nil {
		return errorResult(call.Name, newToolError(call.Name, ErrorValidation,
			"parameters are not serializable", err)), nil
	}

	if cached, hit := sess.CachedResult(cacheKey); hit {
		slog.Debug("Tool cache hit", "tool", call.Name, "session_id", sess.ID)
		return resultFromCache(call.Name, cached), nil
	}

	if verr := validateParams(spec, call.Parameters); verr != nil {
		slog.Debug("Tool call rejected by schema", "tool", call.Name, "error", verr.Message)
		return errorResult(call.Name, verr), nil
	}

	credential, err := inv.tokens.Token(ctx, spec.Principal)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return errorResult(call.Name, newToolError(call.Name, ErrorUnauthorized,
			"failed to acquire credential", err)), nil
	}

	result, err := inv.dispatch(ctx, spec, credential, call.Parameters)
	if err != nil {
		return Result{}, err
	}
	result.Duration = time.Since(start)

	if result.OK {
		sess.SetCachedResult(cacheKey, statestore.CachedToolResult{
			OK:        true,
			Result:    result.Data,
			Citations: result.Citations,
			CachedAt:  time.Now(),
		})
	}

	slog.Debug("Tool invocation complete",
		"tool", call.Name,
		"ok", result.OK,
		"error_kind", string(result.ErrorKind),
		"duration", result.Duration)

	return result, nil
}

// dispatch performs the HTTP exchange. The tool's timeout bounds the whole
// exchange including retries and backoff waits.
func (inv *Invoker) dispatch(ctx context.Context, spec *Spec, credential *auth.Credential, params map[string]any) (Result, error) {
	body, err := json.Marshal(toolRequest{Parameters: params})
	if err != nil {
		return errorResult(spec.Name, newToolError(spec.Name, ErrorInternal,
			"failed to encode request", err)), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, spec.Endpoint, bytes.NewReader(body))
	if err != nil {
		return errorResult(spec.Name, newToolError(spec.Name, ErrorInternal,
			"failed to create request", err)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential.Token)

	client := httpclient.New(
		httpclient.WithHTTPClient(inv.httpClient),
		httpclient.WithMaxRetries(spec.MaxRetries),
		httpclient.WithBaseDelay(inv.baseDelay),
	)

	resp, doErr := client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}

	if doErr != nil {
		return inv.classifyFailure(ctx, callCtx, spec, resp, doErr)
	}

	var parsed toolResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return errorResult(spec.Name, newToolError(spec.Name, ErrorInternal,
			"malformed response from endpoint", err)), nil
	}

	if parsed.Error != nil {
		return errorResult(spec.Name, newToolError(spec.Name,
			kindFromWire(parsed.Error.Kind), parsed.Error.Message, nil)), nil
	}

	return Result{
		Tool:      spec.Name,
		OK:        true,
		Data:      parsed.Result,
		Citations: parsed.Citations,
	}, nil
}

// classifyFailure maps a transport failure onto the error taxonomy. Caller
// cancellation is the one case that escapes as a Go error.
func (inv *Invoker) classifyFailure(ctx, callCtx context.Context, spec *Spec, resp *http.Response, doErr error) (Result, error) {
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if callCtx.Err() == context.DeadlineExceeded || errors.Is(doErr, context.DeadlineExceeded) {
		return errorResult(spec.Name, newToolError(spec.Name, ErrorTimeout,
			fmt.Sprintf("call exceeded %s timeout", spec.Timeout), doErr)), nil
	}

	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errorResult(spec.Name, newToolError(spec.Name, ErrorUnauthorized,
				fmt.Sprintf("endpoint rejected credential (HTTP %d)", resp.StatusCode), nil)), nil
		case http.StatusBadRequest:
			return errorResult(spec.Name, newToolError(spec.Name, ErrorValidation,
				"endpoint rejected parameters (HTTP 400)", nil)), nil
		}
	}

	var retryable *httpclient.RetryableError
	if errors.As(doErr, &retryable) {
		return errorResult(spec.Name, newToolError(spec.Name, ErrorUnavailable,
			"endpoint unavailable after retries", doErr)), nil
	}

	return errorResult(spec.Name, newToolError(spec.Name, ErrorUnavailable,
		"endpoint unreachable", doErr)), nil
}

func resultFromCache(tool string, cached statestore.CachedToolResult) Result {
	return Result{
		Tool:         tool,
		OK:           cached.OK,
		Data:         cached.Result,
		Citations:    cached.Citations,
		ErrorKind:    ErrorKind(cached.ErrorKind),
		ErrorMessage: cached.ErrorMessage,
		Cached:       true,
	}
}

func kindFromWire(kind string) ErrorKind {
	switch ErrorKind(kind) {
	case ErrorValidation, ErrorUnauthorized, ErrorTimeout, ErrorUnavailable, ErrorInternal:
		return ErrorKind(kind)
	default:
		return ErrorInternal
	}
}
