// Package lexical provides an in-memory inverted index for keyword search.
// It is the default lexical branch when no external search backend is
// configured. Scoring is term-frequency weighted by inverse document
// frequency, which is fast but not semantic.
package lexical

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/kadirpekel/sage/pkg/retriever"
)

// Index is a thread-safe inverted index over chunks.
type Index struct {
	mu       sync.RWMutex
	chunks   map[string]retriever.Chunk     // key -> chunk
	terms    map[string]map[string]int      // term -> key -> occurrences
	docTerms map[string]map[string]struct{} // key -> terms, for replacement
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		chunks:   make(map[string]retriever.Chunk),
		terms:    make(map[string]map[string]int),
		docTerms: make(map[string]map[string]struct{}),
	}
}

// Add indexes a chunk. Re-adding the same (document, chunk index) pair
// replaces the previous entry, so indexing is idempotent.
func (idx *Index) Add(chunk retriever.Chunk) {
	key := chunk.Key()
	counts := termCounts(chunk.Content)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(key)

	idx.chunks[key] = chunk
	terms := make(map[string]struct{}, len(counts))
	for term, n := range counts {
		if idx.terms[term] == nil {
			idx.terms[term] = make(map[string]int)
		}
		idx.terms[term][key] = n
		terms[term] = struct{}{}
	}
	idx.docTerms[key] = terms
}

// Remove deletes a chunk from the index.
func (idx *Index) Remove(documentID string, chunkIndex int) {
	chunk := retriever.Chunk{DocumentID: documentID, ChunkIndex: chunkIndex}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(chunk.Key())
}

func (idx *Index) removeLocked(key string) {
	terms, ok := idx.docTerms[key]
	if !ok {
		return
	}
	for term := range terms {
		delete(idx.terms[term], key)
		if len(idx.terms[term]) == 0 {
			delete(idx.terms, term)
		}
	}
	delete(idx.docTerms, key)
	delete(idx.chunks, key)
}

// Count returns the number of indexed chunks.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

// Search scores indexed chunks against the query terms and returns the top
// N hits sorted by score descending, ties broken by chunk key for
// deterministic ordering.
func (idx *Index) Search(ctx context.Context, query string, topN int) ([]retriever.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTerms := termCounts(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	total := len(idx.chunks)
	scores := make(map[string]float64)
	for term := range queryTerms {
		postings, ok := idx.terms[term]
		if !ok {
			continue
		}
		// Inverse document frequency dampens terms that appear everywhere.
		idf := math.Log(1 + float64(total)/float64(len(postings)))
		for key, tf := range postings {
			scores[key] += float64(tf) * idf
		}
	}

	hits := make([]retriever.Hit, 0, len(scores))
	for key, score := range scores {
		hits = append(hits, retriever.Hit{Chunk: idx.chunks[key], Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Key() < hits[j].Key()
	})

	if topN > 0 && len(hits) > topN {
		hits = hits[:topN]
	}

	slog.Debug("Lexical search", "query", query, "hits", len(hits))
	return hits, nil
}

// termCounts splits text into lowercase terms and counts occurrences.
func termCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if len(word) <= 1 {
			continue
		}
		counts[word]++
	}
	return counts
}

var _ retriever.LexicalIndex = (*Index)(nil)
