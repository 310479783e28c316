// Package vector provides semantic index adapters: an embedded chromem-go
// store for zero-config deployments and a Qdrant client for external
// deployments.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/kadirpekel/sage/pkg/retriever"
)

// ChromemIndex implements retriever.SemanticIndex over an embedded
// chromem-go database. Vectors live in process memory with optional file
// persistence, so it suits single-process deployments; use Qdrant at scale.
type ChromemIndex struct {
	db          *chromem.DB
	embedder    retriever.Embedder
	persistPath string
	compress    bool

	mu         sync.Mutex
	collection *chromem.Collection
}

// ChromemConfig configures the embedded store.
type ChromemConfig struct {
	// Collection name; "chunks" when empty.
	Collection string `yaml:"collection,omitempty"`

	// PersistPath enables file persistence. Empty keeps vectors in
	// memory only.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Compress gzips the persisted file.
	Compress bool `yaml:"compress,omitempty"`
}

// NewChromemIndex creates the embedded semantic index.
func NewChromemIndex(cfg ChromemConfig, embedder retriever.Embedder) (*ChromemIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "chunks"
	}

	var db *chromem.DB
	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		dbPath := cfg.PersistPath + "/vectors.gob"
		if cfg.Compress {
			dbPath += ".gz"
		}
		if _, err := os.Stat(dbPath); err == nil {
			loaded, err := chromem.NewPersistentDB(dbPath, cfg.Compress)
			if err != nil {
				slog.Warn("Failed to load existing vector database, creating new",
					"path", dbPath, "error", err)
				db = chromem.NewDB()
			} else {
				slog.Info("Loaded vector database from file", "path", dbPath)
				db = loaded
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	idx := &ChromemIndex{
		db:          db,
		embedder:    embedder,
		persistPath: cfg.PersistPath,
		compress:    cfg.Compress,
	}

	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	col, err := db.GetOrCreateCollection(cfg.Collection, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %q: %w", cfg.Collection, err)
	}
	idx.collection = col

	return idx, nil
}

// Add embeds and stores a chunk. Re-adding the same chunk replaces it.
func (x *ChromemIndex) Add(ctx context.Context, chunk retriever.Chunk) error {
	vector, err := x.embedder.Embed(ctx, chunk.Content)
	if err != nil {
		return fmt.Errorf("failed to embed chunk %s: %w", chunk.Key(), err)
	}

	doc := chromem.Document{
		ID:        chunk.Key(),
		Content:   chunk.Content,
		Embedding: vector,
		Metadata: map[string]string{
			"document_id": chunk.DocumentID,
			"chunk_index": strconv.Itoa(chunk.ChunkIndex),
			"source":      chunk.Source,
		},
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.collection.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add chunk: %w", err)
	}

	if err := x.persist(); err != nil {
		slog.Warn("Failed to persist vector database", "error", err)
	}
	return nil
}

// Search embeds the query and returns the nearest chunks by cosine
// similarity.
func (x *ChromemIndex) Search(ctx context.Context, query string, topN int) ([]retriever.Hit, error) {
	vector, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	x.mu.Lock()
	count := x.collection.Count()
	x.mu.Unlock()

	if count == 0 {
		return nil, nil
	}
	if topN > count {
		topN = count
	}

	results, err := x.collection.QueryEmbedding(ctx, vector, topN, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}

	hits := make([]retriever.Hit, 0, len(results))
	for _, r := range results {
		chunkIndex, _ := strconv.Atoi(r.Metadata["chunk_index"])
		hits = append(hits, retriever.Hit{
			Chunk: retriever.Chunk{
				DocumentID: r.Metadata["document_id"],
				ChunkIndex: chunkIndex,
				Content:    r.Content,
				Source:     r.Metadata["source"],
			},
			Score: float64(r.Similarity),
		})
	}
	return hits, nil
}

// Close persists the database if persistence is enabled.
func (x *ChromemIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.persist()
}

func (x *ChromemIndex) persist() error {
	if x.persistPath == "" {
		return nil
	}
	dbPath := x.persistPath + "/vectors.gob"
	if x.compress {
		dbPath += ".gz"
	}
	//nolint:staticcheck // Export is deprecated but ExportToWriter needs more plumbing
	if err := x.db.Export(dbPath, x.compress, ""); err != nil {
		return fmt.Errorf("failed to persist database: %w", err)
	}
	return nil
}

var _ retriever.SemanticIndex = (*ChromemIndex)(nil)
