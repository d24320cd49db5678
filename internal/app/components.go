package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/bundle"
	"github.com/kbchat/backend/internal/cache/redis"
	"github.com/kbchat/backend/internal/llm"
	"github.com/kbchat/backend/internal/query"
	"github.com/kbchat/backend/internal/storage/objectstore"
	"github.com/kbchat/backend/internal/storage/sqlite"
	"github.com/kbchat/backend/internal/vector/index"
	"github.com/kbchat/backend/internal/vector/zilliz"
	"github.com/kbchat/backend/pkg/config"
	"github.com/kbchat/backend/pkg/logger"
)

// models bundles the embedder and generator built from config. The
// embedder is wrapped with the redis cache when caching is enabled.
type models struct {
	embedder  llm.Embedder
	generator llm.Generator
}

func newModels(ctx context.Context, cfg *config.Config, s *Server) (*models, error) {
	provider, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}

	m := &models{embedder: provider, generator: provider}
	if !cfg.Cache.Enabled {
		return m, nil
	}

	cache, err := redis.NewClient(ctx, cfg.Cache.Host, cfg.Cache.Port, cfg.Cache.Password, cfg.Cache.DB)
	if err != nil {
		logger.Warn("Embedding cache unavailable, continuing without it", zap.Error(err))
		return m, nil
	}
	s.OnClose(cache.Close)

	ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
	m.embedder = llm.NewCachedEmbedder(provider, cache, ttl)
	return m, nil
}

func openAuditLog(cfg *config.Config, s *Server) (*sqlite.Client, error) {
	client, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	if err := client.InitSchema(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	s.OnClose(client.Close)
	return client, nil
}

// indexBackend is what both servers need from the configured index
// storage: the admin side publishes, the chat side fetches.
type indexBackend interface {
	Publish(ctx context.Context, requestID string, idx *index.Index) (string, error)
	query.IndexSource
}

func newIndexBackend(ctx context.Context, cfg *config.Config, model string, s *Server) (indexBackend, error) {
	switch cfg.Index.Backend {
	case "milvus":
		client, err := zilliz.NewClient(ctx, cfg.Milvus.Endpoint, cfg.Milvus.APIKey, cfg.Milvus.CollectionName, model)
		if err != nil {
			return nil, err
		}
		s.OnClose(client.Close)
		return client, nil

	case "bundle":
		store, err := objectstore.New(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		return &bundleBackend{
			Publisher: bundle.NewPublisher(store, cfg.Storage.Prefix, cfg.Index.ScratchDir),
			Fetcher:   bundle.NewFetcher(store, cfg.Storage.Prefix, cfg.Index.ScratchDir, model),
		}, nil

	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

type bundleBackend struct {
	*bundle.Publisher
	*bundle.Fetcher
}
