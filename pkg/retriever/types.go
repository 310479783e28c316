// Package retriever implements hybrid retrieval: a semantic and a lexical
// search branch executed concurrently, merged with reciprocal rank fusion,
// optionally re-ranked, and packed into a token-bounded context with stable
// citation identifiers.
package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/kadirpekel/sage/pkg/protocol"
)

// Chunk is a unit of retrievable text: one slice of a source document.
type Chunk struct {
	DocumentID string         `json:"document_id"`
	ChunkIndex int            `json:"chunk_index"`
	Content    string         `json:"content"`
	Source     string         `json:"source,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Key identifies the chunk across indices and queries.
func (c Chunk) Key() string {
	return fmt.Sprintf("%s#%d", c.DocumentID, c.ChunkIndex)
}

// CitationID returns the chunk's stable citation identifier. It depends only
// on the document id and chunk index, so repeated retrieval of the same chunk
// always yields the same id.
func (c Chunk) CitationID() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d", c.DocumentID, c.ChunkIndex)))
	return hex.EncodeToString(sum[:8])
}

// Hit is a chunk with its branch-native relevance score.
type Hit struct {
	Chunk
	Score float64
}

// Candidate is a fused result: per-branch ranks (0 when absent from that
// branch) and the combined RRF score.
type Candidate struct {
	Chunk
	SemanticRank int
	LexicalRank  int
	FusedScore   float64
}

// Context is the evidence assembled for one reasoning or synthesis call.
// It is consumed within the turn and never persisted.
type Context struct {
	Candidates []Candidate
	Citations  []protocol.Citation
	TokenCount int

	// Degradation flags for partial results.
	SemanticFailed bool
	LexicalFailed  bool
	RerankFailed   bool
}

// Degraded reports whether any branch of the retrieval failed.
func (c *Context) Degraded() bool {
	return c.SemanticFailed || c.LexicalFailed || c.RerankFailed
}

// SemanticIndex answers nearest-neighbor queries over embedded chunks.
type SemanticIndex interface {
	Search(ctx context.Context, query string, topN int) ([]Hit, error)
}

// LexicalIndex answers keyword queries over tokenized chunks.
type LexicalIndex interface {
	Search(ctx context.Context, query string, topN int) ([]Hit, error)
}

// Embedder turns text into a vector for semantic indexing.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reranker reorders fused candidates by pairwise relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error)
}
