package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kadirpekel/sage/pkg/retriever"
)

// QdrantIndex implements retriever.SemanticIndex over an external Qdrant
// deployment.
type QdrantIndex struct {
	client     *qdrant.Client
	embedder   retriever.Embedder
	collection string
}

// QdrantConfig configures the Qdrant connection.
type QdrantConfig struct {
	Host       string `yaml:"host,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	APIKey     string `yaml:"api_key,omitempty"`
	UseTLS     bool   `yaml:"use_tls,omitempty"`
	Collection string `yaml:"collection,omitempty"`
}

// NewQdrantIndex connects to Qdrant and returns a semantic index.
func NewQdrantIndex(cfg QdrantConfig, embedder retriever.Embedder) (*QdrantIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "chunks"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantIndex{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
	}, nil
}

// pointID derives a stable UUID for a chunk; Qdrant point ids must be UUIDs
// or integers.
func pointID(chunk retriever.Chunk) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunk.Key())).String()
}

// Add embeds and upserts a chunk, creating the collection on first use.
func (x *QdrantIndex) Add(ctx context.Context, chunk retriever.Chunk) error {
	vector, err := x.embedder.Embed(ctx, chunk.Content)
	if err != nil {
		return fmt.Errorf("failed to embed chunk %s: %w", chunk.Key(), err)
	}

	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: x.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(len(vector)),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(pointID(chunk)),
		Vectors: qdrant.NewVectors(vector...),
		Payload: qdrant.NewValueMap(map[string]any{
			"document_id": chunk.DocumentID,
			"chunk_index": int64(chunk.ChunkIndex),
			"content":     chunk.Content,
			"source":      chunk.Source,
		}),
	}

	_, err = x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

// Search embeds the query and returns the nearest chunks.
func (x *QdrantIndex) Search(ctx context.Context, query string, topN int) ([]retriever.Hit, error) {
	vector, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	limit := uint64(topN)
	points, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}

	hits := make([]retriever.Hit, 0, len(points))
	for _, point := range points {
		payload := point.Payload
		hits = append(hits, retriever.Hit{
			Chunk: retriever.Chunk{
				DocumentID: payload["document_id"].GetStringValue(),
				ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
				Content:    payload["content"].GetStringValue(),
				Source:     payload["source"].GetStringValue(),
			},
			Score: float64(point.Score),
		})
	}
	return hits, nil
}

// Close releases the client connection.
func (x *QdrantIndex) Close() error {
	return x.client.Close()
}

var _ retriever.SemanticIndex = (*QdrantIndex)(nil)
