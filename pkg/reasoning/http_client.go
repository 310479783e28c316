package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/httpclient"
	"github.com/kadirpekel/sage/pkg/protocol"
)

// HTTPClient talks to the reasoning oracle over HTTP. Decide posts to
// <endpoint>/decide, Complete to <endpoint>/complete. Each exchange carries
// an idempotency key that stays constant across retries, so the oracle can
// deduplicate replayed requests.
type HTTPClient struct {
	client   *httpclient.Client
	endpoint string
	apiKey   string
	timeout  time.Duration
}

// HTTPClientOption configures an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithTransport overrides the underlying HTTP transport, mainly for tests.
func WithTransport(client *http.Client) HTTPClientOption {
	return func(c *HTTPClient) {
		c.client = httpclient.New(httpclient.WithHTTPClient(client))
	}
}

// NewHTTPClient creates an oracle client from configuration.
func NewHTTPClient(cfg *config.ReasoningConfig, opts ...HTTPClientOption) (*HTTPClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("reasoning configuration is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reasoning configuration: %w", err)
	}

	c := &HTTPClient{
		client: httpclient.New(
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(cfg.BaseDelayDuration()),
		),
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		timeout:  cfg.TimeoutDuration(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type decideResponse struct {
	Action *protocol.Action `json:"action"`
}

// Decide asks the oracle for the next action of a turn.
func (c *HTTPClient) Decide(ctx context.Context, req *Request) (*protocol.Action, error) {
	var parsed decideResponse
	if err := c.post(ctx, "/decide", req, &parsed); err != nil {
		return nil, err
	}

	if parsed.Action == nil {
		return nil, &OracleError{Operation: "Decide", Message: "response contained no action"}
	}
	if err := parsed.Action.Validate(); err != nil {
		return nil, &OracleError{Operation: "Decide", Message: "invalid action", Err: err}
	}

	slog.Debug("Oracle decided",
		"session_id", req.SessionID,
		"step", req.Step,
		"action", string(parsed.Action.Type))

	return parsed.Action, nil
}

type completeRequest struct {
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
}

type completeResponse struct {
	Text string `json:"text"`
}

// Complete generates free-form text from the oracle.
func (c *HTTPClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	var parsed completeResponse
	err := c.post(ctx, "/complete", completeRequest{System: system, Prompt: prompt}, &parsed)
	if err != nil {
		return "", err
	}
	return parsed.Text, nil
}

// post runs one oracle exchange: encode, dispatch with retries under the
// per-call timeout, decode.
func (c *HTTPClient) post(ctx context.Context, path string, payload, out any) error {
	operation := strings.TrimPrefix(path, "/")

	body, err := json.Marshal(payload)
	if err != nil {
		return &OracleError{Operation: operation, Message: "failed to encode request", Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return &OracleError{Operation: operation, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &OracleError{Operation: operation, Message: "oracle unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &OracleError{
			Operation: operation,
			Message:   fmt.Sprintf("oracle returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &OracleError{Operation: operation, Message: "malformed oracle response", Err: err}
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
