package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Completer is the minimal text-generation surface the reranker needs.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// LLMReranker scores fused candidates by relevance with a language model.
// Candidates are identified to the model by citation id; the model returns
// the ids sorted most relevant first.
type LLMReranker struct {
	completer Completer
}

// NewLLMReranker creates a reranker over the given completer.
func NewLLMReranker(completer Completer) *LLMReranker {
	return &LLMReranker{completer: completer}
}

const rerankSystemPrompt = "You are a search result reranking system. " +
	"Score the results by relevance to the query and return a JSON array " +
	"of result ids sorted most relevant first."

// Rerank implements the Reranker interface. On any failure the caller keeps
// the fused order, so errors are returned rather than papered over.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) <= 1 {
		return candidates, nil
	}

	response, err := r.completer.Complete(ctx, rerankSystemPrompt, buildRerankPrompt(query, candidates))
	if err != nil {
		return nil, fmt.Errorf("rerank call failed: %w", err)
	}

	ids, err := parseRerankResponse(response)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.CitationID()] = c
	}

	reranked := make([]Candidate, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		reranked = append(reranked, c)
		seen[id] = true
	}

	// Candidates the model omitted keep their fused order at the tail.
	for _, c := range candidates {
		if !seen[c.CitationID()] {
			reranked = append(reranked, c)
		}
	}

	slog.Debug("Reranked candidates",
		"query", query,
		"candidates", len(candidates),
		"model_returned", len(ids))

	return reranked, nil
}

func buildRerankPrompt(query string, candidates []Candidate) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nSearch Results:\n\n", query)

	for i, c := range candidates {
		fmt.Fprintf(&sb, "Result %d (id: %s):\n%s\n\n", i+1, c.CitationID(), snippet(c.Content, 500))
	}

	sb.WriteString("Return a JSON array of result ids sorted by relevance to the query, most relevant first.\n")
	sb.WriteString("Format: [\"id1\", \"id2\", ...]\n")

	return sb.String()
}

// parseRerankResponse extracts the id array, tolerating surrounding prose
// and markdown fences.
func parseRerankResponse(response string) ([]string, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || start >= end {
		return nil, fmt.Errorf("no JSON array in rerank response")
	}

	var ids []string
	if err := json.Unmarshal([]byte(response[start:end+1]), &ids); err != nil {
		return nil, fmt.Errorf("failed to parse rerank response: %w", err)
	}
	return ids, nil
}
