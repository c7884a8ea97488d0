package corpus

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/storage/models"
	"github.com/kbsearch/backend/internal/storage/sqlite"
	"github.com/kbsearch/backend/internal/toolerr"
	"github.com/kbsearch/backend/pkg/logger"
	"github.com/kbsearch/backend/pkg/utils"
)

// Embedder is the external embedding capability.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is the bulk form of Embedder. When the configured embedder
// supports it, UpsertBatch embeds all unseen texts in one round trip instead
// of one call per chunk.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CandidateIndex narrows the search to approximate nearest neighbours before
// exact hybrid scoring. Optional; without one the corpus scans every chunk.
type CandidateIndex interface {
	Candidates(ctx context.Context, vector []float32, limit int) ([]string, error)
	Add(ctx context.Context, chunk *models.Chunk) error
}

// Corpus is the content-addressed chunk store. Ingestion is idempotent on
// (fingerprint, profile); identical text never re-embeds.
type Corpus struct {
	db       *sqlite.Client
	embedder Embedder
	index    CandidateIndex
}

type ScoredChunk struct {
	Chunk        *models.Chunk
	Score        float64
	VectorScore  float64
	LexicalScore float64
}

func New(db *sqlite.Client, embedder Embedder, index CandidateIndex) *Corpus {
	return &Corpus{db: db, embedder: embedder, index: index}
}

// Upsert ingests a text under a profile. A chunk with the same fingerprint
// and profile is returned unchanged without re-embedding; the second return
// reports whether a new row was created.
func (c *Corpus) Upsert(ctx context.Context, text string, metadata models.ChunkMetadata, profileID string) (*models.Chunk, bool, error) {
	if strings.TrimSpace(text) == "" {
		return nil, false, toolerr.NewValidation("text", "chunk text is required")
	}

	fingerprint := utils.Fingerprint(text)

	if existing, err := c.db.GetChunkByFingerprint(fingerprint, profileID); err == nil {
		logger.Debug("Chunk already ingested",
			zap.String("chunk_id", existing.ID),
			zap.String("fingerprint", fingerprint),
		)
		return existing, false, nil
	}

	embedding, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, false, toolerr.NewBackendUnavailable("embedding service", err)
	}

	now := time.Now()
	chunk := &models.Chunk{
		ID:          uuid.New().String(),
		Text:        text,
		Fingerprint: fingerprint,
		Embedding:   embedding,
		Terms:       ExtractTerms(text),
		Metadata:    metadata,
		ProfileID:   profileID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	stored, inserted, err := c.db.UpsertChunk(chunk)
	if err != nil {
		return nil, false, err
	}

	if inserted {
		logger.Info("Chunk ingested",
			zap.String("chunk_id", stored.ID),
			zap.String("profile_id", profileID),
			zap.String("source_url", metadata.SourceURL),
		)
		if c.index != nil {
			if err := c.index.Add(ctx, stored); err != nil {
				logger.Warn("Failed to mirror chunk to vector index", zap.Error(err))
			}
		}
	}

	return stored, inserted, nil
}

// UpsertBatch ingests several texts under one profile. Already-seen texts
// are returned from storage without re-embedding; the rest are embedded in a
// single round trip when the embedder supports batching. Returns one chunk
// per input and the number of rows created.
func (c *Corpus) UpsertBatch(ctx context.Context, texts []string, metadata models.ChunkMetadata, profileID string) ([]*models.Chunk, int, error) {
	chunks := make([]*models.Chunk, len(texts))
	var missing []int

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, 0, toolerr.NewValidation("text", "chunk text is required")
		}
		if existing, err := c.db.GetChunkByFingerprint(utils.Fingerprint(text), profileID); err == nil {
			chunks[i] = existing
			continue
		}
		missing = append(missing, i)
	}

	vectors, err := c.embedMany(ctx, texts, missing)
	if err != nil {
		return nil, 0, err
	}

	inserted := 0
	now := time.Now()
	for n, i := range missing {
		chunk := &models.Chunk{
			ID:          uuid.New().String(),
			Text:        texts[i],
			Fingerprint: utils.Fingerprint(texts[i]),
			Embedding:   vectors[n],
			Terms:       ExtractTerms(texts[i]),
			Metadata:    metadata,
			ProfileID:   profileID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		stored, fresh, err := c.db.UpsertChunk(chunk)
		if err != nil {
			return nil, inserted, err
		}
		chunks[i] = stored

		if fresh {
			inserted++
			if c.index != nil {
				if err := c.index.Add(ctx, stored); err != nil {
					logger.Warn("Failed to mirror chunk to vector index", zap.Error(err))
				}
			}
		}
	}

	logger.Info("Batch ingested",
		zap.Int("chunks", len(texts)),
		zap.Int("new", inserted),
		zap.String("profile_id", profileID),
	)

	return chunks, inserted, nil
}

func (c *Corpus) embedMany(ctx context.Context, texts []string, missing []int) ([][]float32, error) {
	if len(missing) == 0 {
		return nil, nil
	}

	if be, ok := c.embedder.(BatchEmbedder); ok {
		batch := make([]string, len(missing))
		for n, i := range missing {
			batch[n] = texts[i]
		}
		vectors, err := be.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, toolerr.NewBackendUnavailable("embedding service", err)
		}
		if len(vectors) != len(batch) {
			return nil, toolerr.NewBackendUnavailable("embedding service",
				fmt.Errorf("expected %d embeddings, got %d", len(batch), len(vectors)))
		}
		return vectors, nil
	}

	vectors := make([][]float32, 0, len(missing))
	for _, i := range missing {
		v, err := c.embedder.Embed(ctx, texts[i])
		if err != nil {
			return nil, toolerr.NewBackendUnavailable("embedding service", err)
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}

// Search ranks chunks by the hybrid score
// vectorWeight*cosine + lexicalWeight*lexical, drops candidates below the
// relevance threshold, and returns at most TopK results. For a fixed corpus
// the ranking is a pure function of (queryVector, queryText, filters).
func (c *Corpus) Search(ctx context.Context, queryVector []float32, queryText string, filters map[string]string, profileID string, cfg models.RetrievalConfig) ([]ScoredChunk, error) {
	candidates, err := c.candidates(ctx, queryVector, profileID, cfg)
	if err != nil {
		return nil, err
	}

	queryTerms := ExtractTerms(queryText)

	scored := make([]ScoredChunk, 0, len(candidates))
	for _, chunk := range candidates {
		if !matchesFilters(chunk.Metadata, filters) {
			continue
		}

		vs := cosineSimilarity(queryVector, chunk.Embedding)
		ls := lexicalScore(queryTerms, chunk.Terms)
		score := cfg.VectorWeight*vs + cfg.LexicalWeight*ls

		if score < cfg.RelevanceThreshold {
			continue
		}

		scored = append(scored, ScoredChunk{
			Chunk:        chunk,
			Score:        score,
			VectorScore:  vs,
			LexicalScore: ls,
		})
	}

	// Quality stats only break ties; they never override the primary score.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Chunk.AvgFeedbackScore != scored[j].Chunk.AvgFeedbackScore {
			return scored[i].Chunk.AvgFeedbackScore > scored[j].Chunk.AvgFeedbackScore
		}
		if scored[i].Chunk.RetrievalCount != scored[j].Chunk.RetrievalCount {
			return scored[i].Chunk.RetrievalCount < scored[j].Chunk.RetrievalCount
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})

	if cfg.TopK > 0 && len(scored) > cfg.TopK {
		scored = scored[:cfg.TopK]
	}

	logger.Debug("Corpus search completed",
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(scored)),
	)

	return scored, nil
}

// MarkRetrieved bumps retrieval counts for chunks a query actually used.
// Kept out of Search so that Search stays read-only.
func (c *Corpus) MarkRetrieved(chunkIDs []string) error {
	return c.db.IncrementRetrievalCounts(chunkIDs)
}

func (c *Corpus) Count(profileID string) (int, error) {
	return c.db.CountChunks(profileID)
}

func (c *Corpus) candidates(ctx context.Context, queryVector []float32, profileID string, cfg models.RetrievalConfig) ([]*models.Chunk, error) {
	all, err := c.db.ListChunks(profileID)
	if err != nil {
		return nil, err
	}

	if c.index == nil || len(all) == 0 {
		return all, nil
	}

	limit := cfg.TopK * 10
	if limit <= 0 {
		limit = 100
	}

	ids, err := c.index.Candidates(ctx, queryVector, limit)
	if err != nil {
		// The ANN index is an accelerator, not a source of truth.
		logger.Warn("Candidate index unavailable, falling back to full scan", zap.Error(err))
		return all, nil
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	narrowed := make([]*models.Chunk, 0, len(ids))
	for _, chunk := range all {
		if wanted[chunk.ID] {
			narrowed = append(narrowed, chunk)
		}
	}

	return narrowed, nil
}

// matchesFilters applies conjunctive metadata filters. A value ending in '*'
// is a prefix match, anything else is exact.
func matchesFilters(meta models.ChunkMetadata, filters map[string]string) bool {
	for key, want := range filters {
		var have string
		switch key {
		case "source_url":
			have = meta.SourceURL
		case "source_type":
			have = meta.SourceType
		case "title":
			have = meta.Title
		default:
			return false
		}

		if strings.HasSuffix(want, "*") {
			if !strings.HasPrefix(have, strings.TrimSuffix(want, "*")) {
				return false
			}
		} else if have != want {
			return false
		}
	}
	return true
}
