package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/metrics"
	"github.com/kbchat/backend/pkg/logger"
	"github.com/kbchat/backend/pkg/utils"
)

// EmbeddingCache stores vectors by key. It is satisfied by the redis client.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder serves repeated texts from an EmbeddingCache. Cache errors
// are logged and the call falls through to the wrapped embedder.
type CachedEmbedder struct {
	next  Embedder
	cache EmbeddingCache
	ttl   time.Duration
}

func NewCachedEmbedder(next Embedder, cache EmbeddingCache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, ttl: ttl}
}

func (c *CachedEmbedder) Model() string {
	return c.next.Model()
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missing []string
	var missingIdx []int

	for i, text := range texts {
		keys[i] = c.key(text)

		vec, ok, err := c.cache.GetEmbedding(ctx, keys[i])
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		}
		if ok && err == nil {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			result[i] = vec
			continue
		}

		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return result, nil
	}

	fresh, err := c.next.EmbedDocuments(ctx, missing)
	if err != nil {
		return nil, err
	}

	for j, vec := range fresh {
		i := missingIdx[j]
		result[i] = vec
		if err := c.cache.SetEmbedding(ctx, keys[i], vec, c.ttl); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}

	return result, nil
}

func (c *CachedEmbedder) key(text string) string {
	return c.next.Model() + ":" + utils.HashString(text)
}
