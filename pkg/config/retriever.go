package config

import (
	"fmt"
	"time"
)

// RetrieverConfig tunes hybrid search, fusion, and context assembly.
//
// Example YAML:
//
//	retriever:
//	  top_n: 20
//	  rerank_top_m: 40
//	  top_k: 5
//	  rrf_k: 60
//	  token_budget: 4096
//	  branch_timeout: 10s
type RetrieverConfig struct {
	// TopN candidates fetched from each index branch.
	TopN int `yaml:"top_n,omitempty"`

	// RerankTopM fused candidates handed to the reranker when enabled.
	RerankTopM int `yaml:"rerank_top_m,omitempty"`

	// TopK final candidates after fusion (and optional reranking).
	TopK int `yaml:"top_k,omitempty"`

	// RRFK is the damping constant k in 1/(k+rank).
	RRFK int `yaml:"rrf_k,omitempty"`

	// TokenBudget bounds the assembled context.
	TokenBudget int `yaml:"token_budget,omitempty"`

	// TokenModel selects the tiktoken encoding used for budget accounting.
	TokenModel string `yaml:"token_model,omitempty"`

	// BranchTimeout bounds each index branch. A branch that times out
	// contributes no candidates; fusion proceeds with the other branch.
	BranchTimeout string `yaml:"branch_timeout,omitempty"`

	// PreserveCase disables query lowercasing when true. Preserving case
	// matters for identifiers and codes.
	PreserveCase *bool `yaml:"preserve_case,omitempty"`

	// Semantic configures the semantic branch. Nil leaves retrieval
	// lexical-only.
	Semantic *SemanticConfig `yaml:"semantic,omitempty"`
}

// SemanticConfig selects and configures the semantic index backend.
type SemanticConfig struct {
	// Backend is "chromem" (embedded, default) or "qdrant".
	Backend string `yaml:"backend,omitempty"`

	Collection string `yaml:"collection,omitempty"`

	// Embedder is the embeddings endpoint used for index and query vectors.
	Embedder SemanticEmbedderConfig `yaml:"embedder"`

	// Chromem settings.
	PersistPath string `yaml:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress,omitempty"`

	// Qdrant settings.
	Host   string `yaml:"host,omitempty"`
	Port   int    `yaml:"port,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty"`
}

// SemanticEmbedderConfig configures the embeddings endpoint.
type SemanticEmbedderConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key,omitempty"`
	Model    string `yaml:"model,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`
}

// SetDefaults applies default values to the semantic config.
func (c *SemanticConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "chromem"
	}
	if c.Collection == "" {
		c.Collection = "chunks"
	}
}

// Validate checks the semantic configuration.
func (c *SemanticConfig) Validate() error {
	switch c.Backend {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unsupported semantic backend: %s (supported: chromem, qdrant)", c.Backend)
	}
	if c.Embedder.Endpoint == "" {
		return fmt.Errorf("semantic embedder endpoint is required")
	}
	if c.Embedder.Timeout != "" {
		if _, err := time.ParseDuration(c.Embedder.Timeout); err != nil {
			return fmt.Errorf("invalid embedder timeout: %w", err)
		}
	}
	return nil
}

// SetDefaults applies default values to the retriever config.
func (c *RetrieverConfig) SetDefaults() {
	if c.TopN == 0 {
		c.TopN = 20
	}
	if c.RerankTopM == 0 {
		c.RerankTopM = 40
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.RRFK == 0 {
		c.RRFK = 60
	}
	if c.TokenBudget == 0 {
		c.TokenBudget = 4096
	}
	if c.TokenModel == "" {
		c.TokenModel = "gpt-4o-mini"
	}
	if c.BranchTimeout == "" {
		c.BranchTimeout = "10s"
	}
	if c.Semantic != nil {
		c.Semantic.SetDefaults()
	}
}

// Validate checks the retriever configuration.
func (c *RetrieverConfig) Validate() error {
	if c.TopN < 1 {
		return fmt.Errorf("top_n must be at least 1")
	}
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1")
	}
	if c.RerankTopM < c.TopK {
		return fmt.Errorf("rerank_top_m must be >= top_k")
	}
	if c.RRFK < 1 {
		return fmt.Errorf("rrf_k must be at least 1")
	}
	if c.TokenBudget < 1 {
		return fmt.Errorf("token_budget must be at least 1")
	}
	if _, err := time.ParseDuration(c.BranchTimeout); err != nil {
		return fmt.Errorf("invalid branch_timeout: %w", err)
	}
	if c.Semantic != nil {
		if err := c.Semantic.Validate(); err != nil {
			return fmt.Errorf("semantic: %w", err)
		}
	}
	return nil
}

// BranchTimeoutDuration returns the parsed per-branch timeout.
func (c *RetrieverConfig) BranchTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.BranchTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}
