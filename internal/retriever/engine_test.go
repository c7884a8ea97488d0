package retriever

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbsearch/backend/internal/corpus"
	"github.com/kbsearch/backend/internal/embedding"
	"github.com/kbsearch/backend/internal/profile"
	"github.com/kbsearch/backend/internal/storage/models"
	"github.com/kbsearch/backend/internal/storage/sqlite"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedding backend down")
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) EmbedWithUsage(ctx context.Context, text string) ([]float32, embedding.Usage, error) {
	v, err := f.Embed(ctx, text)
	if err != nil {
		return nil, embedding.Usage{}, err
	}
	return v, embedding.Usage{Tokens: 12, CostUSD: 0.0000016}, nil
}

func newTestEngine(t *testing.T, embedder *fakeEmbedder) (*Engine, *sqlite.Client) {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())

	profiles := profile.NewStore(db)
	_, err = profiles.Create(profile.CreateRequest{
		Name:    "default",
		Version: "1",
		Provider: models.ProviderConfig{
			EmbeddingModel: "test-model", EmbeddingDim: 3,
		},
		Chunking: models.ChunkingConfig{ChunkSize: 500},
		Retrieval: models.RetrievalConfig{
			VectorWeight: 0.7, LexicalWeight: 0.3, RelevanceThreshold: 0.4, TopK: 5,
		},
		System:   models.SystemConfig{TimeoutSec: 10},
		Activate: true,
	})
	require.NoError(t, err)

	cps := corpus.New(db, embedder, nil)
	return NewEngine(db, cps, embedder, profiles, "default"), db
}

func TestSearchReturnsRankedDocumentsWithCitations(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"how do I scale an AKS cluster":                  {1, 0, 0},
		"AKS clusters scale through node pool settings": {1, 0, 0},
	}}
	engine, db := newTestEngine(t, embedder)
	ctx := context.Background()

	cps := corpus.New(db, embedder, nil)
	chunk, _, err := cps.Upsert(ctx, "AKS clusters scale through node pool settings", models.ChunkMetadata{
		SourceURL: "https://wiki.internal/aks-scaling",
		Title:     "AKS scaling",
	}, "")
	require.NoError(t, err)

	result, err := engine.Search(ctx, SearchRequest{
		Query:  "how do I scale an AKS cluster",
		UserID: "alice",
	})
	require.NoError(t, err)

	assert.True(t, result.AllowedToAnswer)
	assert.NotEmpty(t, result.QueryID)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, chunk.ID, result.Documents[0].ChunkID)
	require.Len(t, result.Citations, 1)
	assert.Equal(t, 1, result.Citations[0].Rank)
	assert.Equal(t, "https://wiki.internal/aks-scaling", result.Citations[0].SourceURL)

	// The ledger recorded the query and its chunk references.
	exists, err := db.QueryExists(result.QueryID)
	require.NoError(t, err)
	assert.True(t, exists)

	chunkIDs, err := db.GetQueryChunkIDs(result.QueryID)
	require.NoError(t, err)
	assert.Equal(t, []string{chunk.ID}, chunkIDs)

	// Retrieval count bumped.
	stored, err := db.GetChunk(chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RetrievalCount)
}

func TestSearchRecordsEmbeddingUsage(t *testing.T) {
	embedder := &fakeEmbedder{}
	engine, db := newTestEngine(t, embedder)
	ctx := context.Background()

	cps := corpus.New(db, embedder, nil)
	_, _, err := cps.Upsert(ctx, "stored fact", models.ChunkMetadata{}, "")
	require.NoError(t, err)

	result, err := engine.Search(ctx, SearchRequest{Query: "stored fact", UserID: "alice"})
	require.NoError(t, err)

	m, err := db.GetQueryMetrics(result.QueryID)
	require.NoError(t, err)
	assert.Equal(t, 12, m.TokensUsed)
	assert.InDelta(t, 0.0000016, m.EmbeddingCostUSD, 1e-9)
}

func TestSearchDeniesWhenNothingRelevant(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"completely unrelated question": {1, 0, 0},
		"some stored fact":              {0, 1, 0},
	}}
	engine, db := newTestEngine(t, embedder)
	ctx := context.Background()

	cps := corpus.New(db, embedder, nil)
	_, _, err := cps.Upsert(ctx, "some stored fact", models.ChunkMetadata{}, "")
	require.NoError(t, err)

	result, err := engine.Search(ctx, SearchRequest{Query: "completely unrelated question", UserID: "bob"})
	require.NoError(t, err)

	assert.False(t, result.AllowedToAnswer)
	assert.Equal(t, ReasonNoRelevantContent, result.Reason)
	assert.Empty(t, result.Documents)

	// Denied searches still leave an audit row.
	exists, err := db.QueryExists(result.QueryID)
	require.NoError(t, err)
	assert.True(t, exists)

	history, err := db.GetQueryHistory("bob", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Allowed)
}

func TestSearchEmptyCorpusDenies(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeEmbedder{})

	result, err := engine.Search(context.Background(), SearchRequest{Query: "anything"})
	require.NoError(t, err)
	assert.False(t, result.AllowedToAnswer)
	assert.Equal(t, ReasonNoRelevantContent, result.Reason)
}

func TestSearchEmbedderFailureStillWritesLedger(t *testing.T) {
	engine, db := newTestEngine(t, &fakeEmbedder{fail: true})

	_, err := engine.Search(context.Background(), SearchRequest{Query: "doomed query", UserID: "carol"})
	require.Error(t, err)

	history, err := db.GetQueryHistory("carol", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Allowed)
	assert.Equal(t, "doomed query", history[0].QueryText)
}
