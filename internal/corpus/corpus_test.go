package corpus

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbsearch/backend/internal/storage/models"
	"github.com/kbsearch/backend/internal/storage/sqlite"
	"github.com/kbsearch/backend/internal/toolerr"
)

// fakeEmbedder returns fixed vectors for known texts and a default
// otherwise, so ranking tests control similarity exactly.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func newTestCorpus(t *testing.T, vectors map[string][]float32) (*Corpus, *sqlite.Client, *fakeEmbedder) {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())

	embedder := &fakeEmbedder{vectors: vectors}
	return New(db, embedder, nil), db, embedder
}

func defaultConfig() models.RetrievalConfig {
	return models.RetrievalConfig{
		VectorWeight:       1.0,
		LexicalWeight:      0.0,
		RelevanceThreshold: 0.1,
		TopK:               10,
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	corpus, db, embedder := newTestCorpus(t, nil)
	ctx := context.Background()

	first, inserted, err := corpus.Upsert(ctx, "Kubernetes cluster autoscaling", models.ChunkMetadata{}, "p1")
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same content, different whitespace and case.
	second, inserted, err := corpus.Upsert(ctx, "  kubernetes   CLUSTER\nautoscaling ", models.ChunkMetadata{}, "p1")
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, second.ID)

	count, err := db.CountChunks("p1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The short-circuit means the second call never re-embedded.
	assert.Equal(t, 1, embedder.calls)
}

func TestUpsertSameTextDifferentProfiles(t *testing.T) {
	corpus, _, _ := newTestCorpus(t, nil)
	ctx := context.Background()

	a, inserted, err := corpus.Upsert(ctx, "shared content", models.ChunkMetadata{}, "p1")
	require.NoError(t, err)
	assert.True(t, inserted)

	b, inserted, err := corpus.Upsert(ctx, "shared content", models.ChunkMetadata{}, "p2")
	require.NoError(t, err)
	assert.True(t, inserted)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
}

func TestUpsertRejectsEmptyText(t *testing.T) {
	corpus, _, _ := newTestCorpus(t, nil)

	_, _, err := corpus.Upsert(context.Background(), "   \n ", models.ChunkMetadata{}, "p1")
	assert.True(t, toolerr.IsValidation(err))
}

func TestConcurrentUpsertsProduceOneRow(t *testing.T) {
	corpus, db, _ := newTestCorpus(t, nil)
	ctx := context.Background()

	const workers = 8
	ids := make([]string, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chunk, _, err := corpus.Upsert(ctx, "racing chunk content", models.ChunkMetadata{}, "p1")
			require.NoError(t, err)
			ids[i] = chunk.ID
		}(i)
	}
	wg.Wait()

	count, err := db.CountChunks("p1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
}

func TestSearchRanksByHybridScore(t *testing.T) {
	vectors := map[string][]float32{
		"exact match text":   {1, 0, 0},
		"close match text":   {0.8, 0.6, 0},
		"distant match text": {0, 0, 1},
	}
	corpus, _, _ := newTestCorpus(t, vectors)
	ctx := context.Background()

	for text := range vectors {
		_, _, err := corpus.Upsert(ctx, text, models.ChunkMetadata{}, "p1")
		require.NoError(t, err)
	}

	scored, err := corpus.Search(ctx, []float32{1, 0, 0}, "unrelated query words", nil, "p1", defaultConfig())
	require.NoError(t, err)

	// The distant chunk falls below the threshold.
	require.Len(t, scored, 2)
	assert.Equal(t, "exact match text", scored[0].Chunk.Text)
	assert.Equal(t, "close match text", scored[1].Chunk.Text)
	assert.Greater(t, scored[0].Score, scored[1].Score)
}

func TestSearchIsPureFunctionOfQuery(t *testing.T) {
	vectors := map[string][]float32{
		"alpha document": {0.9, 0.1, 0},
		"beta document":  {0.7, 0.7, 0},
		"gamma document": {0.5, 0.5, 0.5},
	}
	corpus, _, _ := newTestCorpus(t, vectors)
	ctx := context.Background()

	for text := range vectors {
		_, _, err := corpus.Upsert(ctx, text, models.ChunkMetadata{}, "p1")
		require.NoError(t, err)
	}

	query := []float32{1, 0, 0}
	first, err := corpus.Search(ctx, query, "alpha beta gamma", nil, "p1", defaultConfig())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := corpus.Search(ctx, query, "alpha beta gamma", nil, "p1", defaultConfig())
		require.NoError(t, err)
		require.Len(t, again, len(first))
		for j := range first {
			assert.Equal(t, first[j].Chunk.ID, again[j].Chunk.ID)
			assert.Equal(t, first[j].Score, again[j].Score)
		}
	}
}

func TestSearchLexicalComponent(t *testing.T) {
	// Identical vectors; only lexical overlap separates the chunks.
	vectors := map[string][]float32{
		"database index tuning guide": {1, 0, 0},
		"frontend styling cookbook":   {1, 0, 0},
	}
	corpus, _, _ := newTestCorpus(t, vectors)
	ctx := context.Background()

	for text := range vectors {
		_, _, err := corpus.Upsert(ctx, text, models.ChunkMetadata{}, "p1")
		require.NoError(t, err)
	}

	cfg := models.RetrievalConfig{
		VectorWeight:       0.5,
		LexicalWeight:      0.5,
		RelevanceThreshold: 0.1,
		TopK:               10,
	}

	scored, err := corpus.Search(ctx, []float32{1, 0, 0}, "database index tuning", nil, "p1", cfg)
	require.NoError(t, err)

	require.Len(t, scored, 2)
	assert.Equal(t, "database index tuning guide", scored[0].Chunk.Text)
	assert.InDelta(t, 1.0, scored[0].LexicalScore, 1e-9)
	assert.InDelta(t, 0.0, scored[1].LexicalScore, 1e-9)
}

func TestSearchThresholdDropsEverything(t *testing.T) {
	corpus, _, _ := newTestCorpus(t, map[string][]float32{
		"weak match": {0.1, 0.9, 0},
	})
	ctx := context.Background()

	_, _, err := corpus.Upsert(ctx, "weak match", models.ChunkMetadata{}, "p1")
	require.NoError(t, err)

	cfg := defaultConfig()
	cfg.RelevanceThreshold = 0.95

	scored, err := corpus.Search(ctx, []float32{1, 0, 0}, "weak", nil, "p1", cfg)
	require.NoError(t, err)
	assert.Empty(t, scored)
}

func TestSearchFilters(t *testing.T) {
	corpus, _, _ := newTestCorpus(t, nil)
	ctx := context.Background()

	_, _, err := corpus.Upsert(ctx, "wiki page one", models.ChunkMetadata{
		SourceURL: "https://wiki.internal/page1", SourceType: "wiki",
	}, "p1")
	require.NoError(t, err)

	_, _, err = corpus.Upsert(ctx, "runbook page two", models.ChunkMetadata{
		SourceURL: "https://runbooks.internal/db", SourceType: "runbook",
	}, "p1")
	require.NoError(t, err)

	cfg := defaultConfig()
	query := []float32{1, 0, 0}

	scored, err := corpus.Search(ctx, query, "page", map[string]string{"source_type": "wiki"}, "p1", cfg)
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "wiki page one", scored[0].Chunk.Text)

	// Prefix filter.
	scored, err = corpus.Search(ctx, query, "page", map[string]string{"source_url": "https://runbooks.internal/*"}, "p1", cfg)
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "runbook page two", scored[0].Chunk.Text)

	// Unknown filter key matches nothing.
	scored, err = corpus.Search(ctx, query, "page", map[string]string{"author": "alice"}, "p1", cfg)
	require.NoError(t, err)
	assert.Empty(t, scored)
}

func TestSearchTieBreaks(t *testing.T) {
	// Same vector and no lexical overlap: scores tie exactly.
	vectors := map[string][]float32{
		"tied chunk one": {1, 0, 0},
		"tied chunk two": {1, 0, 0},
	}
	corpus, db, _ := newTestCorpus(t, vectors)
	ctx := context.Background()

	one, _, err := corpus.Upsert(ctx, "tied chunk one", models.ChunkMetadata{}, "p1")
	require.NoError(t, err)
	two, _, err := corpus.Upsert(ctx, "tied chunk two", models.ChunkMetadata{}, "p1")
	require.NoError(t, err)

	// Give the second chunk better feedback through the real ledger path.
	require.NoError(t, db.InsertQueryRecord(&models.QueryRecord{ID: "q1", QueryText: "x", ProfileID: "p1", Allowed: true}))
	require.NoError(t, db.InsertQueryChunks("q1", []models.QueryChunk{{QueryID: "q1", ChunkID: two.ID, Rank: 1, Score: 1}}))
	require.NoError(t, db.InsertFeedback(&models.Feedback{QueryID: "q1", Score: 9}))
	require.NoError(t, db.RecomputeChunkFeedback(two.ID))

	scored, err := corpus.Search(ctx, []float32{1, 0, 0}, "zzz", nil, "p1", defaultConfig())
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, two.ID, scored[0].Chunk.ID, "higher feedback wins the tie")

	// With feedback also tied, fewer retrievals ranks first.
	require.NoError(t, db.IncrementRetrievalCounts([]string{two.ID}))
	require.NoError(t, db.InsertQueryRecord(&models.QueryRecord{ID: "q2", QueryText: "x", ProfileID: "p1", Allowed: true}))
	require.NoError(t, db.InsertQueryChunks("q2", []models.QueryChunk{{QueryID: "q2", ChunkID: one.ID, Rank: 1, Score: 1}}))
	require.NoError(t, db.InsertFeedback(&models.Feedback{QueryID: "q2", Score: 9}))
	require.NoError(t, db.RecomputeChunkFeedback(one.ID))

	scored, err = corpus.Search(ctx, []float32{1, 0, 0}, "zzz", nil, "p1", defaultConfig())
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, one.ID, scored[0].Chunk.ID, "fewer retrievals wins when feedback ties")
}

func TestSearchTopK(t *testing.T) {
	vectors := map[string][]float32{
		"doc a": {1, 0, 0},
		"doc b": {0.9, 0.1, 0},
		"doc c": {0.8, 0.2, 0},
	}
	corpus, _, _ := newTestCorpus(t, vectors)
	ctx := context.Background()

	for text := range vectors {
		_, _, err := corpus.Upsert(ctx, text, models.ChunkMetadata{}, "p1")
		require.NoError(t, err)
	}

	cfg := defaultConfig()
	cfg.TopK = 2

	scored, err := corpus.Search(ctx, []float32{1, 0, 0}, "doc", nil, "p1", cfg)
	require.NoError(t, err)
	assert.Len(t, scored, 2)
}

func TestLexicalScore(t *testing.T) {
	queryTerms := ExtractTerms("database index tuning")
	assert.InDelta(t, 1.0, lexicalScore(queryTerms, ExtractTerms("a database index tuning guide")), 1e-9)
	assert.InDelta(t, 0.0, lexicalScore(queryTerms, ExtractTerms("completely unrelated words")), 1e-9)
	assert.InDelta(t, 0.0, lexicalScore(nil, ExtractTerms("anything")), 1e-9)

	partial := lexicalScore(queryTerms, ExtractTerms("database only"))
	assert.Greater(t, partial, 0.0)
	assert.Less(t, partial, 1.0)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}

// fakeBatchEmbedder also supports the bulk call, counting round trips.
type fakeBatchEmbedder struct {
	fakeEmbedder
	batchCalls int
}

func (f *fakeBatchEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := f.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = []float32{1, 0, 0}
		}
	}
	return out, nil
}

func TestUpsertBatchEmbedsMissesInOneRoundTrip(t *testing.T) {
	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())

	embedder := &fakeBatchEmbedder{}
	corpus := New(db, embedder, nil)
	ctx := context.Background()

	// One text is already in the corpus.
	_, inserted, err := corpus.Upsert(ctx, "already ingested", models.ChunkMetadata{}, "p1")
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, 1, embedder.calls)

	texts := []string{"already ingested", "first new text", "second new text"}
	chunks, newCount, err := corpus.UpsertBatch(ctx, texts, models.ChunkMetadata{}, "p1")
	require.NoError(t, err)

	assert.Equal(t, 2, newCount)
	require.Len(t, chunks, 3)
	for _, chunk := range chunks {
		require.NotNil(t, chunk)
	}

	// The two misses went out as one batch; no per-text calls were made.
	assert.Equal(t, 1, embedder.batchCalls)
	assert.Equal(t, 1, embedder.calls)

	// Re-running the same batch touches neither embedder path.
	_, newCount, err = corpus.UpsertBatch(ctx, texts, models.ChunkMetadata{}, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, newCount)
	assert.Equal(t, 1, embedder.batchCalls)
}

func TestUpsertBatchFallsBackToPerTextEmbeds(t *testing.T) {
	corpus, db, embedder := newTestCorpus(t, nil)
	ctx := context.Background()

	_, newCount, err := corpus.UpsertBatch(ctx, []string{"alpha text", "beta text"}, models.ChunkMetadata{}, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, newCount)
	assert.Equal(t, 2, embedder.calls)

	count, err := db.CountChunks("p1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpsertBatchRejectsEmptyText(t *testing.T) {
	corpus, _, _ := newTestCorpus(t, nil)

	_, _, err := corpus.UpsertBatch(context.Background(), []string{"fine", "  "}, models.ChunkMetadata{}, "p1")
	assert.True(t, toolerr.IsValidation(err))
}
