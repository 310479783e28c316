// Package orchestrator runs the bounded reasoning loop for a turn:
//
//	LoadState -> Reason -> (SelectTool -> ExecuteTool -> Observe -> Reason)* -> Synthesize -> SaveState -> Done
//
// Each external call is a blocking suspend point with its own timeout; the
// loop bound and the turn deadline force synthesis with partial evidence
// rather than an unbounded wait. Tool failures are observations fed back to
// the oracle, never control flow. The single fatal condition is an
// unreachable state store.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/observability"
	"github.com/kadirpekel/sage/pkg/protocol"
	"github.com/kadirpekel/sage/pkg/reasoning"
	"github.com/kadirpekel/sage/pkg/retriever"
	"github.com/kadirpekel/sage/pkg/statestore"
	"github.com/kadirpekel/sage/pkg/tools"
)

// State names one node of the turn state machine.
type State string

const (
	StateLoad        State = "load_state"
	StateReason      State = "reason"
	StateSelectTool  State = "select_tool"
	StateExecuteTool State = "execute_tool"
	StateObserve     State = "observe"
	StateSynthesize  State = "synthesize"
	StateSave        State = "save_state"
	StateDone        State = "done"
)

// commitAttempts bounds retries of the end-of-turn commit on conflicts.
const commitAttempts = 3

// History compaction: when the working history grows past the threshold,
// the oldest messages are folded into the rolling summary.
const (
	historyCompactThreshold = 40
	historyKeepRecent       = 20
)

// TurnRequest is one user query against a session.
type TurnRequest struct {
	SessionID string
	UserID    string
	Query     string

	// Rerank opts in to the re-ranking stage of retrieval.
	Rerank bool
}

// TurnResult is the completed turn.
type TurnResult struct {
	SessionID string
	Answer    string
	Citations []protocol.Citation

	// Degraded reports that the answer was produced with partial evidence
	// or without the oracle; Reasons says why.
	Degraded bool
	Reasons  []string

	Steps    int
	Duration time.Duration
}

// Orchestrator coordinates the oracle, retriever, tools, and state store.
// Instances share no mutable state; concurrent turns interact only through
// the store's per-session commit.
type Orchestrator struct {
	config   *config.OrchestratorConfig
	store    statestore.Store
	oracle   reasoning.Client
	searcher *retriever.Retriever
	registry *tools.Registry
	invoker  *tools.Invoker
	metrics  observability.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRetriever wires the hybrid retriever for evidence assembly.
func WithRetriever(r *retriever.Retriever) Option {
	return func(o *Orchestrator) {
		o.searcher = r
	}
}

// WithTools wires the tool registry and invoker.
func WithTools(registry *tools.Registry, invoker *tools.Invoker) Option {
	return func(o *Orchestrator) {
		o.registry = registry
		o.invoker = invoker
	}
}

// WithMetrics overrides the process-wide metrics recorder.
func WithMetrics(m observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New creates an orchestrator.
func New(cfg *config.OrchestratorConfig, store statestore.Store, oracle reasoning.Client, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if oracle == nil {
		return nil, fmt.Errorf("reasoning client is required")
	}
	if cfg == nil {
		cfg = &config.OrchestratorConfig{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator configuration: %w", err)
	}

	o := &Orchestrator{
		config:  cfg,
		store:   store,
		oracle:  oracle,
		metrics: observability.GetGlobalMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// turn is the working state of one RunTurn call.
type turn struct {
	o   *Orchestrator
	req TurnRequest

	sess         *statestore.Session
	baseMessages int
	compacted    bool

	evidence *retriever.Context
	pending  *protocol.Action
	lastCall tools.Result

	step            int
	deadline        time.Time
	oracleDown      bool
	degradedReasons []string

	answer    string
	citations []protocol.Citation
}

// RunTurn executes one turn of the session. It returns an error only for
// caller cancellation or an unavailable state store; every other failure
// degrades the answer instead.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	start := time.Now()
	t := &turn{
		o:        o,
		req:      req,
		deadline: start.Add(o.config.TurnDeadlineDuration()),
	}

	state := StateLoad
	var err error
	for state != StateDone {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			break
		}

		slog.Debug("Turn transition", "session_id", req.SessionID, "state", string(state), "step", t.step)

		switch state {
		case StateLoad:
			state, err = t.loadState(ctx)
		case StateReason:
			state, err = t.reason(ctx)
		case StateSelectTool:
			state, err = t.selectTool(ctx)
		case StateExecuteTool:
			state, err = t.executeTool(ctx)
		case StateObserve:
			state, err = t.observe(ctx)
		case StateSynthesize:
			state, err = t.synthesize(ctx)
		case StateSave:
			state, err = t.saveState(ctx)
		default:
			err = fmt.Errorf("unknown state %q", state)
		}
		if err != nil {
			break
		}
	}

	duration := time.Since(start)
	degraded := len(t.degradedReasons) > 0
	o.metrics.RecordTurn(ctx, duration, degraded, err)

	if err != nil {
		return nil, err
	}

	return &TurnResult{
		SessionID: req.SessionID,
		Answer:    t.answer,
		Citations: t.citations,
		Degraded:  degraded,
		Reasons:   t.degradedReasons,
		Steps:     t.step,
		Duration:  duration,
	}, nil
}

// loadState fetches the session (a fresh default for an unknown id),
// records the user message, and assembles the retrieval evidence.
func (t *turn) loadState(ctx context.Context) (State, error) {
	sess, err := t.o.store.Get(ctx, t.req.SessionID)
	if err != nil {
		return StateDone, &SessionUnavailableError{SessionID: t.req.SessionID, Err: err}
	}
	if sess.UserID == "" {
		sess.UserID = t.req.UserID
	}

	t.sess = sess
	t.baseMessages = len(sess.Messages)
	sess.AppendMessage(protocol.RoleUser, t.req.Query)

	if t.o.searcher != nil {
		started := time.Now()
		evidence, err := t.o.searcher.Retrieve(ctx, t.req.Query, t.req.Rerank)
		if err != nil {
			return StateDone, err
		}
		t.o.metrics.RecordRetrievalBranch(ctx, "hybrid", time.Since(started), nil)

		t.evidence = evidence
		if evidence.SemanticFailed {
			t.degrade("semantic retrieval branch failed")
		}
		if evidence.LexicalFailed {
			t.degrade("lexical retrieval branch failed")
		}
		if evidence.RerankFailed {
			t.degrade("re-ranking failed, fused order kept")
		}
	}

	return StateReason, nil
}

// reason asks the oracle for the next action. The loop bound and the turn
// deadline divert to synthesis; an oracle outage diverts to the degraded
// fallback.
func (t *turn) reason(ctx context.Context) (State, error) {
	if t.step >= t.o.config.MaxIterations {
		slog.Info("Loop bound reached, forcing synthesis",
			"session_id", t.req.SessionID, "steps", t.step)
		t.degrade("iteration bound reached before a final answer")
		return StateSynthesize, nil
	}
	if time.Now().After(t.deadline) {
		slog.Info("Turn deadline exceeded, forcing synthesis",
			"session_id", t.req.SessionID, "steps", t.step)
		t.degrade("turn deadline exceeded")
		return StateSynthesize, nil
	}
	t.step++

	action, err := t.decide(ctx, false)
	if err != nil {
		if ctx.Err() != nil {
			return StateDone, ctx.Err()
		}
		slog.Warn("Oracle unavailable, degrading turn",
			"session_id", t.req.SessionID, "error", err)
		t.oracleDown = true
		t.degrade("reasoning oracle unavailable")
		return StateSynthesize, nil
	}

	switch action.Type {
	case protocol.ActionThink:
		t.sess.AppendMessage(protocol.RoleAssistant, action.Thought)
		return StateReason, nil
	case protocol.ActionUseTool:
		t.pending = action
		return StateSelectTool, nil
	case protocol.ActionRespond:
		t.accept(action)
		return StateSave, nil
	default:
		// Validate() makes this unreachable; treat it like an outage.
		t.oracleDown = true
		t.degrade("reasoning oracle returned an unusable action")
		return StateSynthesize, nil
	}
}

// selectTool routes the pending tool call. A missing invoker is reported to
// the oracle as a validation observation, not an error.
func (t *turn) selectTool(ctx context.Context) (State, error) {
	if t.o.invoker == nil {
		t.lastCall = tools.Result{
			Tool:         t.pending.ToolCall.Name,
			ErrorKind:    tools.ErrorValidation,
			ErrorMessage: "no tools are configured",
		}
		return StateObserve, nil
	}
	return StateExecuteTool, nil
}

// executeTool invokes the pending tool call. The invoker returns failures
// as data; only caller cancellation comes back as an error.
func (t *turn) executeTool(ctx context.Context) (State, error) {
	call := *t.pending.ToolCall
	result, err := t.o.invoker.Invoke(ctx, t.sess, call)
	if err != nil {
		return StateDone, err
	}

	t.o.metrics.RecordToolExecution(ctx, call.Name, result.Duration, string(result.ErrorKind))
	t.lastCall = result
	return StateObserve, nil
}

// observation is the JSON fed back to the oracle after a tool call.
type observation struct {
	Tool      string              `json:"tool"`
	OK        bool                `json:"ok"`
	Result    map[string]any      `json:"result,omitempty"`
	Citations []protocol.Citation `json:"citations,omitempty"`
	ErrorKind string              `json:"error_kind,omitempty"`
	Error     string              `json:"error,omitempty"`
	Cached    bool                `json:"cached,omitempty"`
}

// observe appends the tool outcome to the history and returns to Reason.
func (t *turn) observe(ctx context.Context) (State, error) {
	obs := observation{
		Tool:      t.lastCall.Tool,
		OK:        t.lastCall.OK,
		Result:    t.lastCall.Data,
		Citations: t.lastCall.Citations,
		ErrorKind: string(t.lastCall.ErrorKind),
		Error:     t.lastCall.ErrorMessage,
		Cached:    t.lastCall.Cached,
	}
	content, err := json.Marshal(obs)
	if err != nil {
		content = []byte(fmt.Sprintf(`{"tool":%q,"ok":false,"error":"observation not serializable"}`, t.lastCall.Tool))
	}

	t.sess.AppendMessage(protocol.RoleTool, string(content))
	t.pending = nil
	return StateReason, nil
}

// synthesize produces the final answer when the loop could not end with a
// respond action: one forced oracle call, or a local fallback from the
// last-known-good evidence when the oracle is down.
func (t *turn) synthesize(ctx context.Context) (State, error) {
	if !t.oracleDown {
		action, err := t.decide(ctx, true)
		if err != nil {
			if ctx.Err() != nil {
				return StateDone, ctx.Err()
			}
			t.degrade("reasoning oracle unavailable during synthesis")
		} else if action.Type == protocol.ActionRespond {
			t.accept(action)
			return StateSave, nil
		} else {
			t.degrade("reasoning oracle did not produce a final answer")
		}
	}

	t.answer = t.fallbackAnswer()
	t.citations = t.evidenceCitations()
	t.sess.AppendMessage(protocol.RoleAssistant, t.answer)
	return StateSave, nil
}

// saveState commits the turn atomically: either every message and cache
// entry of the turn lands, or none do. Conflicts reload and re-apply the
// mutation; an unreachable store is fatal.
func (t *turn) saveState(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return StateDone, err
	}

	t.compact(ctx)

	newMessages := t.sess.Messages[t.baseMessages:]
	var commitErr error
	for attempt := 0; attempt < commitAttempts; attempt++ {
		commitErr = t.o.store.Commit(ctx, t.req.SessionID, func(target *statestore.Session) error {
			if target.UserID == "" {
				target.UserID = t.sess.UserID
			}
			if t.compacted {
				// Compaction rewrote the history; replace it wholesale.
				target.Messages = append([]protocol.Message(nil), t.sess.Messages...)
			} else {
				target.Messages = append(target.Messages, newMessages...)
			}
			target.Summary = t.sess.Summary
			for key, cached := range t.sess.ToolCache {
				target.SetCachedResult(key, cached)
			}
			return nil
		})
		if commitErr == nil || !errors.Is(commitErr, statestore.ErrConflict) {
			break
		}
		slog.Debug("Commit conflict, retrying", "session_id", t.req.SessionID, "attempt", attempt+1)
	}
	if commitErr != nil {
		return StateDone, &SessionUnavailableError{SessionID: t.req.SessionID, Err: commitErr}
	}

	return StateDone, nil
}

// decide runs one oracle exchange with the current working state.
func (t *turn) decide(ctx context.Context, synthesize bool) (*protocol.Action, error) {
	req := &reasoning.Request{
		SessionID:  t.req.SessionID,
		Messages:   t.sess.Messages,
		Summary:    t.sess.Summary,
		Step:       t.step,
		Synthesize: synthesize,
	}
	if t.evidence != nil {
		req.Evidence = t.evidence.Render()
	}
	if t.o.registry != nil {
		for _, spec := range t.o.registry.Specs() {
			req.Tools = append(req.Tools, reasoning.ToolDescriptor{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			})
		}
	}

	started := time.Now()
	action, err := t.o.oracle.Decide(ctx, req)
	t.o.metrics.RecordOracleCall(ctx, "decide", time.Since(started), err)
	return action, err
}

// accept records a respond action as the turn's answer.
func (t *turn) accept(action *protocol.Action) {
	t.answer = action.Text
	t.citations = t.resolveCitations(action.Citations)
	t.sess.AppendMessage(protocol.RoleAssistant, action.Text)
}

// resolveCitations maps the oracle's citation ids onto the evidence.
// Unknown ids are dropped.
func (t *turn) resolveCitations(ids []string) []protocol.Citation {
	if t.evidence == nil || len(ids) == 0 {
		return nil
	}
	byID := make(map[string]protocol.Citation, len(t.evidence.Citations))
	for _, c := range t.evidence.Citations {
		byID[c.ID] = c
	}

	var resolved []protocol.Citation
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			resolved = append(resolved, c)
		}
	}
	return resolved
}

func (t *turn) evidenceCitations() []protocol.Citation {
	if t.evidence == nil {
		return nil
	}
	return t.evidence.Citations
}

// fallbackAnswer is the degraded synthesis path: no oracle, just the
// retrieved evidence presented as-is.
func (t *turn) fallbackAnswer() string {
	var sb strings.Builder
	sb.WriteString("I could not fully process this request right now.")
	if t.evidence != nil && len(t.evidence.Candidates) > 0 {
		sb.WriteString(" The most relevant material found:\n\n")
		sb.WriteString(t.evidence.Render())
	}
	return sb.String()
}

// compact folds the oldest history into the rolling summary, best effort:
// a failed summarization leaves the history untouched.
func (t *turn) compact(ctx context.Context) {
	if t.oracleDown || len(t.sess.Messages) <= historyCompactThreshold {
		return
	}

	cut := len(t.sess.Messages) - historyKeepRecent
	var sb strings.Builder
	if t.sess.Summary != "" {
		sb.WriteString("Previous summary:\n" + t.sess.Summary + "\n\n")
	}
	for _, msg := range t.sess.Messages[:cut] {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
	}

	summary, err := t.o.oracle.Complete(ctx,
		"Summarize the conversation below, preserving facts, decisions, and open questions. Be concise.",
		sb.String())
	if err != nil {
		slog.Warn("History compaction skipped", "session_id", t.req.SessionID, "error", err)
		return
	}

	t.sess.Summary = summary
	t.sess.Messages = append([]protocol.Message(nil), t.sess.Messages[cut:]...)
	t.baseMessages = 0
	t.compacted = true
}

func (t *turn) degrade(reason string) {
	t.degradedReasons = append(t.degradedReasons, reason)
}
