package lexical

import (
	"context"
	"testing"

	"github.com/kadirpekel/sage/pkg/retriever"
)

func chunk(doc string, idx int, content string) retriever.Chunk {
	return retriever.Chunk{DocumentID: doc, ChunkIndex: idx, Content: content}
}

func TestIndex_SearchRanksByRelevance(t *testing.T) {
	idx := NewIndex()
	idx.Add(chunk("sales", 0, "AMER Q3 software sales figures grew strongly"))
	idx.Add(chunk("notes", 0, "meeting notes about hiring"))
	idx.Add(chunk("pricing", 0, "software pricing tiers"))

	hits, err := idx.Search(context.Background(), "Q3 software sales", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].DocumentID != "sales" {
		t.Errorf("expected sales ranked first, got %s", hits[0].DocumentID)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("expected descending scores, got %f then %f", hits[0].Score, hits[1].Score)
	}
}

func TestIndex_AddIsIdempotent(t *testing.T) {
	idx := NewIndex()
	idx.Add(chunk("doc", 0, "original content about widgets"))
	idx.Add(chunk("doc", 0, "replacement content about gadgets"))

	if idx.Count() != 1 {
		t.Fatalf("re-adding the same chunk must replace it, count = %d", idx.Count())
	}

	hits, _ := idx.Search(context.Background(), "widgets", 10)
	if len(hits) != 0 {
		t.Error("terms of the replaced content must no longer match")
	}

	hits, _ = idx.Search(context.Background(), "gadgets", 10)
	if len(hits) != 1 {
		t.Error("replacement content must be searchable")
	}
}

func TestIndex_Remove(t *testing.T) {
	idx := NewIndex()
	idx.Add(chunk("doc", 0, "content to remove"))
	idx.Add(chunk("doc", 1, "content to keep"))

	idx.Remove("doc", 0)

	if idx.Count() != 1 {
		t.Errorf("expected 1 chunk after removal, got %d", idx.Count())
	}
	hits, _ := idx.Search(context.Background(), "remove", 10)
	if len(hits) != 0 {
		t.Error("removed chunk must not match")
	}
	// Removing an absent chunk is a no-op.
	idx.Remove("doc", 99)
	if idx.Count() != 1 {
		t.Error("removing an unknown chunk must not change the index")
	}
}

func TestIndex_TopNCap(t *testing.T) {
	idx := NewIndex()
	for i := 0; i < 10; i++ {
		idx.Add(chunk("doc", i, "shared keyword everywhere"))
	}

	hits, err := idx.Search(context.Background(), "keyword", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("expected topN=3 hits, got %d", len(hits))
	}
}

func TestIndex_DeterministicTieOrder(t *testing.T) {
	idx := NewIndex()
	idx.Add(chunk("beta", 0, "identical text"))
	idx.Add(chunk("alpha", 0, "identical text"))

	for i := 0; i < 5; i++ {
		hits, err := idx.Search(context.Background(), "identical text", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if hits[0].DocumentID != "alpha" || hits[1].DocumentID != "beta" {
			t.Fatalf("tie order must be stable by key, got %s then %s",
				hits[0].DocumentID, hits[1].DocumentID)
		}
	}
}

func TestIndex_EmptyQuery(t *testing.T) {
	idx := NewIndex()
	idx.Add(chunk("doc", 0, "some content"))

	hits, err := idx.Search(context.Background(), "  ", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits for an empty query, got %d", len(hits))
	}
}

func TestIndex_CaseAndPunctuationInsensitive(t *testing.T) {
	idx := NewIndex()
	idx.Add(chunk("doc", 0, "Revenue: $1M (AMER, Q3)."))

	hits, err := idx.Search(context.Background(), "amer revenue", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected punctuation-trimmed, lowercased match, got %d hits", len(hits))
	}
}

func TestIndex_RarerTermsScoreHigher(t *testing.T) {
	idx := NewIndex()
	idx.Add(chunk("common1", 0, "report report report"))
	idx.Add(chunk("common2", 0, "report summary"))
	idx.Add(chunk("rare", 0, "report forecast"))

	hits, err := idx.Search(context.Background(), "forecast", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].DocumentID != "rare" {
		t.Errorf("expected only the chunk with the rare term, got %+v", hits)
	}
}
