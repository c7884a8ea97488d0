package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbsearch_query_duration_seconds",
			Help:    "Tool call processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"tool"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbsearch_query_total",
			Help: "Total number of tool calls processed",
		},
		[]string{"tool", "status"},
	)

	RetrievalResultCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kbsearch_retrieval_results",
			Help:    "Number of chunks returned per knowledge base search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	RetrievalDenied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kbsearch_retrieval_denied_total",
			Help: "Searches with no chunk above the relevance threshold",
		},
	)

	EmbeddingTokensUsed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kbsearch_embedding_tokens_used",
			Help: "Total embedding tokens consumed",
		},
	)

	EmbeddingCost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kbsearch_embedding_cost_usd",
			Help: "Estimated embedding API cost in USD",
		},
	)

	FeedbackScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kbsearch_feedback_score",
			Help:    "Submitted feedback scores",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)

	PatternCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbsearch_pattern_cache_hits_total",
			Help: "Pattern cache hits",
		},
		[]string{"store"},
	)

	PatternCacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbsearch_pattern_cache_misses_total",
			Help: "Pattern cache misses",
		},
		[]string{"store"},
	)

	ChunksIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kbsearch_chunks_ingested_total",
			Help: "Total chunks ingested into the corpus",
		},
	)

	RollupRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kbsearch_rollup_runs_total",
			Help: "Analytics rollup recomputations",
		},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(RetrievalResultCount)
	prometheus.MustRegister(RetrievalDenied)
	prometheus.MustRegister(EmbeddingTokensUsed)
	prometheus.MustRegister(EmbeddingCost)
	prometheus.MustRegister(FeedbackScore)
	prometheus.MustRegister(PatternCacheHits)
	prometheus.MustRegister(PatternCacheMisses)
	prometheus.MustRegister(ChunksIngested)
	prometheus.MustRegister(RollupRuns)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
