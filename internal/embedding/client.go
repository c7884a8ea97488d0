package embedding

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/cache/redis"
	"github.com/kbsearch/backend/internal/toolerr"
	"github.com/kbsearch/backend/pkg/circuitbreaker"
	"github.com/kbsearch/backend/pkg/logger"
	"github.com/kbsearch/backend/pkg/retry"
	"github.com/kbsearch/backend/pkg/utils"
)

// Rough per-token pricing used for cost metrics, not billing.
const costPerThousandTokens = 0.00013

// Client is the embedding capability. Calls are circuit-broken, retried
// with backoff, and bounded by a per-call timeout; identical texts are
// served from the Redis cache when one is configured.
type Client struct {
	client      *openai.Client
	model       string
	dim         int
	timeout     time.Duration
	cache       *redis.Client
	cacheTTL    time.Duration
	cb          *circuitbreaker.Breaker
	retryPolicy retry.Policy
}

type Usage struct {
	Tokens  int
	CostUSD float64
}

func NewClient(apiKey, model string, dim, timeoutSec, maxRetries int, cache *redis.Client, cacheTTL time.Duration) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.New(circuitbreaker.Settings{
		Name:             "embedding",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CoolOff:          30 * time.Second,
		MaxProbes:        5,
		Logger:           logger.GetLogger(),
	})

	retryPolicy := retry.Policy{
		Attempts:  maxRetries,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  5 * time.Second,
		Jitter:    0.1,
		Logger:    logger.GetLogger(),
	}

	logger.Info("Embedding client initialized",
		zap.String("model", model),
		zap.Int("dim", dim),
	)

	return &Client{
		client:      client,
		model:       model,
		dim:         dim,
		timeout:     time.Duration(timeoutSec) * time.Second,
		cache:       cache,
		cacheTTL:    cacheTTL,
		cb:          cb,
		retryPolicy: retryPolicy,
	}
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	embedding, _, err := c.EmbedWithUsage(ctx, text)
	return embedding, err
}

func (c *Client) EmbedWithUsage(ctx context.Context, text string) ([]float32, Usage, error) {
	textHash := utils.Fingerprint(text)

	if c.cache != nil {
		cached, hit, err := c.cache.GetEmbedding(ctx, textHash)
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		} else if hit {
			return cached, Usage{}, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var embedding []float32
	var usage Usage

	err := c.cb.Do(func() error {
		return retry.Do(ctx, c.retryPolicy, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.model),
				},
			)

			if err != nil {
				return err
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)

			usage.Tokens = resp.Usage.TotalTokens
			usage.CostUSD = float64(resp.Usage.TotalTokens) / 1000 * costPerThousandTokens

			return nil
		})
	})

	if err != nil {
		return nil, Usage{}, toolerr.NewBackendUnavailable("embedding service", err)
	}

	if c.cache != nil {
		if err := c.cache.SetEmbedding(ctx, textHash, embedding, c.cacheTTL); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}

	return embedding, usage, nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var embeddings [][]float32

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[i:end]

		err := c.cb.Do(func() error {
			return retry.Do(ctx, c.retryPolicy, func() error {
				resp, err := c.client.CreateEmbeddings(
					ctx,
					openai.EmbeddingRequest{
						Input: batch,
						Model: openai.EmbeddingModel(c.model),
					},
				)

				if err != nil {
					return err
				}

				for _, data := range resp.Data {
					embedding := make([]float32, len(data.Embedding))
					copy(embedding, data.Embedding)
					embeddings = append(embeddings, embedding)
				}

				return nil
			})
		})

		if err != nil {
			return nil, toolerr.NewBackendUnavailable("embedding service", err)
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

func (c *Client) Dim() int {
	return c.dim
}
