package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/kadirpekel/sage/pkg/retriever"
)

// mockEmbedder maps each known text to a fixed direction so similarity
// is predictable without a model.
type mockEmbedder struct {
	embedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.embedFunc(ctx, text)
}

func directionEmbedder(vectors map[string][]float32) *mockEmbedder {
	return &mockEmbedder{
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			v, ok := vectors[text]
			if !ok {
				return nil, errors.New("no vector for text: " + text)
			}
			return v, nil
		},
	}
}

func TestNewChromemIndex_RequiresEmbedder(t *testing.T) {
	if _, err := NewChromemIndex(ChromemConfig{}, nil); err == nil {
		t.Fatal("expected error for nil embedder")
	}
}

func TestChromemIndex_AddAndSearch(t *testing.T) {
	embedder := directionEmbedder(map[string][]float32{
		"AMER revenue grew in Q3": {1, 0, 0},
		"EMEA headcount flat":     {0, 1, 0},
		"APAC pipeline uncertain": {0, 0, 1},
		"how did AMER sales do":   {0.95, 0.2, 0},
	})

	idx, err := NewChromemIndex(ChromemConfig{}, embedder)
	if err != nil {
		t.Fatalf("NewChromemIndex: %v", err)
	}

	ctx := context.Background()
	chunks := []retriever.Chunk{
		{DocumentID: "amer.md", ChunkIndex: 0, Content: "AMER revenue grew in Q3", Source: "reports/amer.md"},
		{DocumentID: "emea.md", ChunkIndex: 0, Content: "EMEA headcount flat", Source: "reports/emea.md"},
		{DocumentID: "apac.md", ChunkIndex: 0, Content: "APAC pipeline uncertain", Source: "reports/apac.md"},
	}
	for _, c := range chunks {
		if err := idx.Add(ctx, c); err != nil {
			t.Fatalf("Add(%s): %v", c.Key(), err)
		}
	}

	hits, err := idx.Search(ctx, "how did AMER sales do", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Chunk.DocumentID != "amer.md" {
		t.Errorf("expected amer.md first, got %s", hits[0].Chunk.DocumentID)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("expected descending scores, got %f then %f", hits[0].Score, hits[1].Score)
	}
	if hits[0].Chunk.Source != "reports/amer.md" {
		t.Errorf("source not round-tripped: %q", hits[0].Chunk.Source)
	}
	if hits[0].Chunk.Content != "AMER revenue grew in Q3" {
		t.Errorf("content not round-tripped: %q", hits[0].Chunk.Content)
	}
}

func TestChromemIndex_SearchClampsTopN(t *testing.T) {
	embedder := directionEmbedder(map[string][]float32{
		"only chunk": {1, 0, 0},
		"query":      {1, 0.1, 0},
	})

	idx, err := NewChromemIndex(ChromemConfig{Collection: "clamp"}, embedder)
	if err != nil {
		t.Fatalf("NewChromemIndex: %v", err)
	}

	ctx := context.Background()
	if err := idx.Add(ctx, retriever.Chunk{DocumentID: "d", ChunkIndex: 0, Content: "only chunk"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	hits, err := idx.Search(ctx, "query", 20)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
}

func TestChromemIndex_SearchEmptyIndex(t *testing.T) {
	embedder := directionEmbedder(map[string][]float32{"query": {1, 0, 0}})

	idx, err := NewChromemIndex(ChromemConfig{Collection: "empty"}, embedder)
	if err != nil {
		t.Fatalf("NewChromemIndex: %v", err)
	}

	hits, err := idx.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
}

func TestChromemIndex_EmbedderFailurePropagates(t *testing.T) {
	boom := errors.New("embedder down")
	embedder := &mockEmbedder{
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, boom
		},
	}

	idx, err := NewChromemIndex(ChromemConfig{Collection: "failing"}, embedder)
	if err != nil {
		t.Fatalf("NewChromemIndex: %v", err)
	}

	ctx := context.Background()
	if err := idx.Add(ctx, retriever.Chunk{DocumentID: "d", Content: "text"}); !errors.Is(err, boom) {
		t.Fatalf("expected embedder error from Add, got %v", err)
	}
	if _, err := idx.Search(ctx, "query", 5); !errors.Is(err, boom) {
		t.Fatalf("expected embedder error from Search, got %v", err)
	}
}

func TestChromemIndex_ReAddReplaces(t *testing.T) {
	embedder := directionEmbedder(map[string][]float32{
		"old content": {1, 0, 0},
		"new content": {0, 1, 0},
		"query":       {0, 1, 0.1},
	})

	idx, err := NewChromemIndex(ChromemConfig{Collection: "replace"}, embedder)
	if err != nil {
		t.Fatalf("NewChromemIndex: %v", err)
	}

	ctx := context.Background()
	chunk := retriever.Chunk{DocumentID: "doc.md", ChunkIndex: 2, Content: "old content"}
	if err := idx.Add(ctx, chunk); err != nil {
		t.Fatalf("Add: %v", err)
	}
	chunk.Content = "new content"
	if err := idx.Add(ctx, chunk); err != nil {
		t.Fatalf("re-Add: %v", err)
	}

	hits, err := idx.Search(ctx, "query", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit after replace, got %d", len(hits))
	}
	if hits[0].Chunk.Content != "new content" {
		t.Errorf("expected replaced content, got %q", hits[0].Chunk.Content)
	}
	if hits[0].Chunk.ChunkIndex != 2 {
		t.Errorf("chunk index not round-tripped: %d", hits[0].Chunk.ChunkIndex)
	}
}
