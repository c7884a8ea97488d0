package models

import "time"

// ProviderConfig names the external capabilities a profile pins.
type ProviderConfig struct {
	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model"`
	EmbeddingDim      int    `json:"embedding_dim"`
	GenerationModel   string `json:"generation_model"`
}

type ChunkingConfig struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

type RetrievalConfig struct {
	VectorWeight       float64 `json:"vector_weight"`
	LexicalWeight      float64 `json:"lexical_weight"`
	RelevanceThreshold float64 `json:"relevance_threshold"`
	TopK               int     `json:"top_k"`
}

type GenerationConfig struct {
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type SystemConfig struct {
	TimeoutSec  int `json:"timeout_sec"`
	MaxRetries  int `json:"max_retries"`
	CacheTTLSec int `json:"cache_ttl_sec"`
}

// Profile is an immutable, versioned configuration snapshot. ParentID links
// the lineage of profiles derived from one another.
type Profile struct {
	ID         string
	Name       string
	Version    string
	ParentID   string
	Provider   ProviderConfig
	Chunking   ChunkingConfig
	Retrieval  RetrievalConfig
	Generation GenerationConfig
	System     SystemConfig
	Active     bool
	CreatedBy  string
	CreatedAt  time.Time
}

// ProfileChange records one parameter delta between a profile and its
// successor.
type ProfileChange struct {
	ID            int
	ProfileID     string
	ParameterPath string
	OldValue      string
	NewValue      string
	Reason        string
	CreatedAt     time.Time
}

type ChunkMetadata struct {
	SourceURL    string `json:"source_url,omitempty"`
	SourceType   string `json:"source_type,omitempty"`
	Title        string `json:"title,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// Chunk is one unit of ingested text with its vector and lexical
// representations and running quality stats.
type Chunk struct {
	ID               string
	Text             string
	Fingerprint      string
	Embedding        []float32
	Terms            map[string]int
	Metadata         ChunkMetadata
	ProfileID        string
	AvgFeedbackScore float64
	NumFeedback      int
	RetrievalCount   int
	ClickCount       int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// QueryRecord is one append-only ledger entry. ProfileSnapshot carries the
// retrieval config in effect at evaluation time, so later profile edits do
// not change how this query reads historically.
type QueryRecord struct {
	ID              string
	QueryText       string
	ProfileID       string
	ProfileSnapshot RetrievalConfig
	Response        string
	Allowed         bool
	UserID          string
	SessionID       string
	CreatedAt       time.Time
}

// QueryChunk is one retrieved-chunk reference for a query, in rank order.
type QueryChunk struct {
	ID        int
	QueryID   string
	ChunkID   string
	Rank      int
	Score     float64
	SourceURL string
}

// QueryMetrics is written once per query and never mutated.
type QueryMetrics struct {
	QueryID            string
	EmbeddingLatencyMS int
	RetrievalLatencyMS int
	GenerationLatencyMS int
	TotalLatencyMS     int
	EmbeddingCostUSD   float64
	GenerationCostUSD  float64
	ChunksRetrieved    int
	ChunksUsed         int
	AvgChunkScore      float64
	TokensUsed         int
	CreatedAt          time.Time
}

type Feedback struct {
	ID        int
	QueryID   string
	Score     int
	Comment   string
	UserID    string
	CreatedAt time.Time
}

// ProfileRollup is the materialized per-profile analytics aggregate. It is
// recomputed from the ledger and never written by the transactional path.
type ProfileRollup struct {
	ProfileID        string
	QueryCount       int
	AllowedCount     int
	AvgLatencyMS     float64
	AvgChunkScore    float64
	AvgFeedbackScore float64
	FeedbackCount    int
	TotalCostUSD     float64
	ComputedAt       time.Time
}
