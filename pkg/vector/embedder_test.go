package vector

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestNewHTTPEmbedder_Validation(t *testing.T) {
	if _, err := NewHTTPEmbedder(EmbedderConfig{}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
	if _, err := NewHTTPEmbedder(EmbedderConfig{Endpoint: "http://x", Timeout: "soon"}); err == nil {
		t.Fatal("expected error for invalid timeout")
	}
}

func TestHTTPEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer embed-key" {
			t.Errorf("unexpected auth header: %q", got)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Model != "text-embedding-3-small" {
			t.Errorf("unexpected model: %q", req.Model)
		}
		if len(req.Input) != 1 || req.Input[0] != "AMER revenue" {
			t.Errorf("unexpected input: %v", req.Input)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2, 0.3}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	embedder, err := NewHTTPEmbedder(EmbedderConfig{Endpoint: srv.URL, APIKey: "embed-key"})
	if err != nil {
		t.Fatalf("NewHTTPEmbedder: %v", err)
	}

	vector, err := embedder.Embed(t.Context(), "AMER revenue")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vector) != 3 || vector[0] != 0.1 || vector[2] != 0.3 {
		t.Fatalf("unexpected vector: %v", vector)
	}
}

func TestHTTPEmbedder_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{1, 0}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	embedder, err := NewHTTPEmbedder(EmbedderConfig{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPEmbedder: %v", err)
	}

	vector, err := embedder.Embed(t.Context(), "text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vector) != 2 {
		t.Fatalf("unexpected vector: %v", vector)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestHTTPEmbedder_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	embedder, err := NewHTTPEmbedder(EmbedderConfig{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPEmbedder: %v", err)
	}

	if _, err := embedder.Embed(t.Context(), "text"); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestHTTPEmbedder_EmptyResponseRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	}))
	defer srv.Close()

	embedder, err := NewHTTPEmbedder(EmbedderConfig{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPEmbedder: %v", err)
	}

	if _, err := embedder.Embed(t.Context(), "text"); err == nil {
		t.Fatal("expected error for empty embeddings")
	}
}
