package retriever

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/corpus"
	"github.com/kbsearch/backend/internal/embedding"
	"github.com/kbsearch/backend/internal/metrics"
	"github.com/kbsearch/backend/internal/profile"
	"github.com/kbsearch/backend/internal/storage/models"
	"github.com/kbsearch/backend/internal/storage/sqlite"
	"github.com/kbsearch/backend/pkg/logger"
)

const ReasonNoRelevantContent = "no_relevant_content"

// Embedder supplies query vectors together with the token usage the call
// consumed, so each ledger row carries its own embedding cost.
type Embedder interface {
	EmbedWithUsage(ctx context.Context, text string) ([]float32, embedding.Usage, error)
}

// Engine orchestrates one knowledge base search: embed the query, run the
// hybrid corpus search under the active profile, assemble citations, and
// write the ledger row. Every search leaves a Query + Metrics record, so
// "nothing found" events stay auditable.
type Engine struct {
	db          *sqlite.Client
	corpus      *corpus.Corpus
	embedder    Embedder
	profiles    *profile.Store
	profileName string
}

type SearchRequest struct {
	Query     string
	Filters   map[string]string
	UserID    string
	SessionID string
}

type Document struct {
	ChunkID   string  `json:"chunk_id"`
	Text      string  `json:"text"`
	SourceURL string  `json:"source_url,omitempty"`
	Title     string  `json:"title,omitempty"`
	Score     float64 `json:"score"`
}

type Citation struct {
	ChunkID   string `json:"chunk_id"`
	SourceURL string `json:"source_url,omitempty"`
	Rank      int    `json:"rank"`
}

type Result struct {
	AllowedToAnswer bool       `json:"allowedToAnswer"`
	Reason          string     `json:"reason,omitempty"`
	Documents       []Document `json:"documents,omitempty"`
	Citations       []Citation `json:"citations,omitempty"`
	QueryID         string     `json:"queryId"`
}

// Allowed reports whether the search produced grounded context the caller
// may answer from.
func (r *Result) Allowed() bool {
	return r.AllowedToAnswer
}

func NewEngine(db *sqlite.Client, cps *corpus.Corpus, embedder Embedder, profiles *profile.Store, profileName string) *Engine {
	return &Engine{
		db:          db,
		corpus:      cps,
		embedder:    embedder,
		profiles:    profiles,
		profileName: profileName,
	}
}

func (e *Engine) Search(ctx context.Context, req SearchRequest) (*Result, error) {
	startTime := time.Now()
	queryID := uuid.New().String()

	logger.Info("Processing search",
		zap.String("query_id", queryID),
		zap.String("query", req.Query),
	)

	prof, err := e.profiles.GetActive(e.profileName)
	if err != nil {
		return nil, err
	}

	embedStart := time.Now()
	queryVector, usage, err := e.embedder.EmbedWithUsage(ctx, req.Query)
	embedLatency := int(time.Since(embedStart).Milliseconds())
	if err != nil {
		// The audit row outlives the failed call.
		e.writeLedger(queryID, req, prof, nil, usage, embedLatency, 0, int(time.Since(startTime).Milliseconds()))
		return nil, err
	}

	metrics.EmbeddingTokensUsed.Add(float64(usage.Tokens))
	metrics.EmbeddingCost.Add(usage.CostUSD)

	retrievalStart := time.Now()
	scored, err := e.corpus.Search(ctx, queryVector, req.Query, req.Filters, prof.ID, prof.Retrieval)
	retrievalLatency := int(time.Since(retrievalStart).Milliseconds())
	if err != nil {
		e.writeLedger(queryID, req, prof, nil, usage, embedLatency, retrievalLatency, int(time.Since(startTime).Milliseconds()))
		return nil, err
	}

	totalLatency := int(time.Since(startTime).Milliseconds())
	e.writeLedger(queryID, req, prof, scored, usage, embedLatency, retrievalLatency, totalLatency)

	if len(scored) == 0 {
		metrics.RetrievalDenied.Inc()
		logger.Info("No relevant content",
			zap.String("query_id", queryID),
			zap.Float64("threshold", prof.Retrieval.RelevanceThreshold),
		)
		return &Result{
			AllowedToAnswer: false,
			Reason:          ReasonNoRelevantContent,
			QueryID:         queryID,
		}, nil
	}

	documents := make([]Document, 0, len(scored))
	citations := make([]Citation, 0, len(scored))
	chunkIDs := make([]string, 0, len(scored))

	for i, sc := range scored {
		documents = append(documents, Document{
			ChunkID:   sc.Chunk.ID,
			Text:      sc.Chunk.Text,
			SourceURL: sc.Chunk.Metadata.SourceURL,
			Title:     sc.Chunk.Metadata.Title,
			Score:     sc.Score,
		})
		citations = append(citations, Citation{
			ChunkID:   sc.Chunk.ID,
			SourceURL: sc.Chunk.Metadata.SourceURL,
			Rank:      i + 1,
		})
		chunkIDs = append(chunkIDs, sc.Chunk.ID)
	}

	if err := e.corpus.MarkRetrieved(chunkIDs); err != nil {
		logger.Warn("Failed to bump retrieval counts", zap.Error(err))
	}

	metrics.RetrievalResultCount.Observe(float64(len(documents)))

	logger.Info("Search completed",
		zap.String("query_id", queryID),
		zap.Int("results", len(documents)),
		zap.Int("latency_ms", totalLatency),
	)

	return &Result{
		AllowedToAnswer: true,
		Documents:       documents,
		Citations:       citations,
		QueryID:         queryID,
	}, nil
}

func (e *Engine) writeLedger(queryID string, req SearchRequest, prof *models.Profile, scored []corpus.ScoredChunk, usage embedding.Usage, embedMS, retrievalMS, totalMS int) {
	allowed := len(scored) > 0

	var avgScore float64
	refs := make([]models.QueryChunk, 0, len(scored))
	for i, sc := range scored {
		avgScore += sc.Score
		refs = append(refs, models.QueryChunk{
			QueryID:   queryID,
			ChunkID:   sc.Chunk.ID,
			Rank:      i + 1,
			Score:     sc.Score,
			SourceURL: sc.Chunk.Metadata.SourceURL,
		})
	}
	if len(scored) > 0 {
		avgScore /= float64(len(scored))
	}

	response := ""
	if allowed {
		docs := make([]string, 0, len(scored))
		for _, sc := range scored {
			docs = append(docs, sc.Chunk.ID)
		}
		payload, _ := json.Marshal(docs)
		response = string(payload)
	}

	record := &models.QueryRecord{
		ID:              queryID,
		QueryText:       req.Query,
		ProfileID:       prof.ID,
		ProfileSnapshot: prof.Retrieval,
		Response:        response,
		Allowed:         allowed,
		UserID:          req.UserID,
		SessionID:       req.SessionID,
		CreatedAt:       time.Now(),
	}

	if err := e.db.InsertQueryRecord(record); err != nil {
		logger.Error("Failed to write query record", zap.Error(err))
		return
	}

	if err := e.db.InsertQueryChunks(queryID, refs); err != nil {
		logger.Error("Failed to write query chunks", zap.Error(err))
	}

	if err := e.db.InsertQueryMetrics(&models.QueryMetrics{
		QueryID:            queryID,
		EmbeddingLatencyMS: embedMS,
		RetrievalLatencyMS: retrievalMS,
		TotalLatencyMS:     totalMS,
		EmbeddingCostUSD:   usage.CostUSD,
		ChunksRetrieved:    len(scored),
		ChunksUsed:         len(scored),
		AvgChunkScore:      avgScore,
		TokensUsed:         usage.Tokens,
		CreatedAt:          time.Now(),
	}); err != nil {
		logger.Error("Failed to write query metrics", zap.Error(err))
	}
}
