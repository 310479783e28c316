package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/protocol"
)

// Retriever runs the hybrid search pipeline: concurrent semantic and lexical
// branches, RRF fusion, optional re-ranking, token-budgeted packing.
type Retriever struct {
	config   *config.RetrieverConfig
	semantic SemanticIndex
	lexical  LexicalIndex
	reranker Reranker
	counter  *TokenCounter
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithReranker enables the optional re-ranking stage. Callers still opt in
// per query; without a reranker the opt-in is a no-op.
func WithReranker(r Reranker) Option {
	return func(rt *Retriever) {
		rt.reranker = r
	}
}

// New creates a Retriever over the given indices.
func New(cfg *config.RetrieverConfig, semantic SemanticIndex, lexical LexicalIndex, opts ...Option) (*Retriever, error) {
	if cfg == nil {
		cfg = &config.RetrieverConfig{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retriever configuration: %w", err)
	}
	if semantic == nil && lexical == nil {
		return nil, fmt.Errorf("at least one index is required")
	}

	counter, err := NewTokenCounter(cfg.TokenModel)
	if err != nil {
		return nil, err
	}

	r := &Retriever{
		config:   cfg,
		semantic: semantic,
		lexical:  lexical,
		counter:  counter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve executes the pipeline for one query. Branch failures degrade the
// result instead of failing it: fusion proceeds with whatever completed, and
// a Context with both failure flags set is still a valid (empty) result.
// Set rerank to spend a model call reordering the fused top-M; skip it for
// latency-sensitive paths.
func (r *Retriever) Retrieve(ctx context.Context, query string, rerank bool) (*Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query = r.normalize(query)
	result := &Context{}

	var semanticHits, lexicalHits []Hit
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if r.semantic == nil {
			return nil
		}
		branchCtx, cancel := context.WithTimeout(gctx, r.config.BranchTimeoutDuration())
		defer cancel()

		hits, err := r.semantic.Search(branchCtx, query, r.config.TopN)
		if err != nil {
			slog.Warn("Semantic branch failed", "query", query, "error", err)
			result.SemanticFailed = true
			return nil
		}
		semanticHits = hits
		return nil
	})

	g.Go(func() error {
		if r.lexical == nil {
			return nil
		}
		branchCtx, cancel := context.WithTimeout(gctx, r.config.BranchTimeoutDuration())
		defer cancel()

		hits, err := r.lexical.Search(branchCtx, query, r.config.TopN)
		if err != nil {
			slog.Warn("Lexical branch failed", "query", query, "error", err)
			result.LexicalFailed = true
			return nil
		}
		lexicalHits = hits
		return nil
	})

	// Branch goroutines never return errors; this waits for both.
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fused := fuse(semanticHits, lexicalHits, r.config.RRFK)
	if len(fused) > r.config.RerankTopM {
		fused = fused[:r.config.RerankTopM]
	}

	if rerank && r.reranker != nil && len(fused) > 1 {
		reranked, err := r.reranker.Rerank(ctx, query, fused)
		if err != nil {
			slog.Warn("Reranking failed, keeping fused order", "error", err)
			result.RerankFailed = true
		} else {
			fused = reranked
		}
	}

	if len(fused) > r.config.TopK {
		fused = fused[:r.config.TopK]
	}

	r.pack(result, fused)

	slog.Debug("Retrieval complete",
		"query", query,
		"semantic_hits", len(semanticHits),
		"lexical_hits", len(lexicalHits),
		"packed", len(result.Candidates),
		"tokens", result.TokenCount,
		"degraded", result.Degraded())

	return result, nil
}

// pack fills the context in fused order under the token budget. A candidate
// that would overflow the budget is dropped whole, never truncated.
func (r *Retriever) pack(result *Context, candidates []Candidate) {
	for _, c := range candidates {
		tokens := r.counter.Count(c.Content)
		if result.TokenCount+tokens > r.config.TokenBudget {
			continue
		}
		result.TokenCount += tokens
		result.Candidates = append(result.Candidates, c)
		result.Citations = append(result.Citations, protocol.Citation{
			ID:      c.CitationID(),
			Source:  c.Source,
			Snippet: snippet(c.Content, 200),
		})
	}
}

func (r *Retriever) normalize(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if r.config.PreserveCase != nil && *r.config.PreserveCase {
		return query
	}
	return strings.ToLower(query)
}

// Render formats the packed evidence for a reasoning or synthesis call.
func (c *Context) Render() string {
	if len(c.Candidates) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, cand := range c.Candidates {
		fmt.Fprintf(&sb, "[%s]", cand.CitationID())
		if cand.Source != "" {
			fmt.Fprintf(&sb, " (%s)", cand.Source)
		}
		sb.WriteString("\n")
		sb.WriteString(cand.Content)
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// snippet truncates text to at most max bytes on a rune boundary.
func snippet(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
