package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/orchestrator"
	"github.com/kadirpekel/sage/pkg/protocol"
	"github.com/kadirpekel/sage/pkg/reasoning"
	"github.com/kadirpekel/sage/pkg/statestore"
)

type scriptedOracle struct {
	action *protocol.Action
	err    error
}

func (s *scriptedOracle) Decide(ctx context.Context, req *reasoning.Request) (*protocol.Action, error) {
	return s.action, s.err
}

func (s *scriptedOracle) Complete(ctx context.Context, system, prompt string) (string, error) {
	return "", nil
}

type failingStore struct{}

func (failingStore) Get(ctx context.Context, sessionID string) (*statestore.Session, error) {
	return nil, statestore.ErrUnavailable
}

func (failingStore) Commit(ctx context.Context, sessionID string, mutate statestore.Mutation) error {
	return statestore.ErrUnavailable
}

func (failingStore) Close() error { return nil }

func newTestServer(t *testing.T, store statestore.Store, oracle reasoning.Client) *httptest.Server {
	t.Helper()

	engine, err := orchestrator.New(&config.OrchestratorConfig{}, store, oracle)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	srv, err := New(&config.ServerConfig{}, engine)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func postAsk(t *testing.T, ts *httptest.Server, body any) *http.Response {
	t.Helper()
	payload, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+"/v1/ask", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestHandleAsk(t *testing.T) {
	store := statestore.NewMemoryStore(0)
	defer store.Close()
	oracle := &scriptedOracle{action: &protocol.Action{Type: protocol.ActionRespond, Text: "the answer"}}
	ts := newTestServer(t, store, oracle)

	resp := postAsk(t, ts, map[string]any{"session_id": "s1", "query": "question"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body askResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("malformed response: %v", err)
	}
	if body.SessionID != "s1" {
		t.Errorf("expected session s1, got %q", body.SessionID)
	}
	if body.Answer != "the answer" {
		t.Errorf("unexpected answer: %q", body.Answer)
	}
}

func TestHandleAsk_GeneratesSessionID(t *testing.T) {
	store := statestore.NewMemoryStore(0)
	defer store.Close()
	oracle := &scriptedOracle{action: &protocol.Action{Type: protocol.ActionRespond, Text: "ok"}}
	ts := newTestServer(t, store, oracle)

	resp := postAsk(t, ts, map[string]any{"query": "question"})
	defer resp.Body.Close()

	var body askResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.SessionID == "" {
		t.Error("expected a generated session id")
	}
}

func TestHandleAsk_BadRequests(t *testing.T) {
	store := statestore.NewMemoryStore(0)
	defer store.Close()
	oracle := &scriptedOracle{action: &protocol.Action{Type: protocol.ActionRespond, Text: "ok"}}
	ts := newTestServer(t, store, oracle)

	resp := postAsk(t, ts, map[string]any{"session_id": "s1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a missing query, got %d", resp.StatusCode)
	}

	resp2, err := http.Post(ts.URL+"/v1/ask", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", resp2.StatusCode)
	}
}

func TestHandleAsk_StoreUnavailable(t *testing.T) {
	oracle := &scriptedOracle{action: &protocol.Action{Type: protocol.ActionRespond, Text: "ok"}}
	ts := newTestServer(t, failingStore{}, oracle)

	resp := postAsk(t, ts, map[string]any{"session_id": "s1", "query": "question"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for an unavailable store, got %d", resp.StatusCode)
	}
}

func TestHandleHealth(t *testing.T) {
	store := statestore.NewMemoryStore(0)
	defer store.Close()
	oracle := &scriptedOracle{action: &protocol.Action{Type: protocol.ActionRespond, Text: "ok"}}
	ts := newTestServer(t, store, oracle)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	store := statestore.NewMemoryStore(0)
	defer store.Close()
	oracle := &scriptedOracle{action: &protocol.Action{Type: protocol.ActionRespond, Text: "ok"}}
	ts := newTestServer(t, store, oracle)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from the metrics endpoint, got %d", resp.StatusCode)
	}
}
