// Package zilliz publishes and serves indexes from Milvus or Zilliz Cloud.
// Each corpus gets its own collection; an alias named after the base
// collection points at the current one.
package zilliz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/bundle"
	"github.com/kbchat/backend/internal/document"
	"github.com/kbchat/backend/internal/vector"
	"github.com/kbchat/backend/internal/vector/index"
	"github.com/kbchat/backend/pkg/logger"
)

const (
	insertBatchSize = 500
	nlist           = 128
	nprobe          = 16
)

var outputFields = []string{"chunk_id", "text", "source", "page", "sheet", "chunk_index"}

// description is stored as the collection description so a reader can
// check the embedding model before searching.
type description struct {
	CorpusID       string    `json:"corpus_id"`
	RequestID      string    `json:"request_id"`
	EmbeddingModel string    `json:"embedding_model"`
	CreatedAt      time.Time `json:"created_at"`
}

type Client struct {
	api   milvusAPI
	alias string
	model string
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName, model string) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return newClient(&sdkAdapter{c: c}, collectionName, model), nil
}

func newClient(api milvusAPI, alias, model string) *Client {
	return &Client{api: api, alias: alias, model: model}
}

func (z *Client) Close() error {
	return z.api.Close()
}

func (z *Client) collectionFor(corpusID string) string {
	if len(corpusID) > 16 {
		corpusID = corpusID[:16]
	}
	return fmt.Sprintf("%s_%s", z.alias, corpusID)
}

// Publish writes idx into a fresh collection and then points the alias
// at it. Readers keep the previous corpus until the alias moves.
func (z *Client) Publish(ctx context.Context, requestID string, idx *index.Index) (string, error) {
	if idx.Len() == 0 {
		return "", errors.New("refusing to publish an empty index")
	}

	corpusID, err := idx.Digest()
	if err != nil {
		return "", fmt.Errorf("failed to digest index: %w", err)
	}
	name := z.collectionFor(corpusID)

	has, err := z.api.HasCollection(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", name))
	} else {
		desc, err := json.Marshal(description{
			CorpusID:       corpusID,
			RequestID:      requestID,
			EmbeddingModel: idx.Model(),
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			return "", fmt.Errorf("failed to encode description: %w", err)
		}

		if err := z.createCollection(ctx, name, string(desc), idx.Dim()); err != nil {
			return "", err
		}
		if err := z.insert(ctx, name, idx.Chunks(), idx.Vectors(), idx.Dim()); err != nil {
			return "", err
		}
		if err := z.api.CreateIndex(ctx, name, "embedding", nlist); err != nil {
			return "", fmt.Errorf("failed to create index: %w", err)
		}
		if err := z.api.LoadCollection(ctx, name); err != nil {
			return "", fmt.Errorf("failed to load collection: %w", err)
		}
	}

	if err := z.api.AlterAlias(ctx, name, z.alias); err != nil {
		if err := z.api.CreateAlias(ctx, name, z.alias); err != nil {
			return "", fmt.Errorf("failed to point alias %s at %s: %w", z.alias, name, err)
		}
	}

	logger.Info("Index published to Milvus",
		zap.String("collection", name),
		zap.String("corpus_id", corpusID),
		zap.Int("chunks", idx.Len()),
	)

	return corpusID, nil
}

func (z *Client) createCollection(ctx context.Context, name, desc string, dim int) error {
	schema := &entity.Schema{
		CollectionName: name,
		Description:    desc,
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", dim),
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "8192",
				},
			},
			{
				Name:     "source",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "page",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "sheet",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "256",
				},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := z.api.CreateCollection(ctx, schema); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (z *Client) insert(ctx context.Context, name string, chunks []document.Chunk, vectors [][]float32, dim int) error {
	for start := 0; start < len(chunks); start += insertBatchSize {
		end := min(start+insertBatchSize, len(chunks))
		batch := chunks[start:end]

		ids := make([]string, len(batch))
		texts := make([]string, len(batch))
		sources := make([]string, len(batch))
		pages := make([]int64, len(batch))
		sheets := make([]string, len(batch))
		positions := make([]int64, len(batch))

		for i, chunk := range batch {
			ids[i] = chunk.ID
			texts[i] = chunk.Text
			sources[i] = chunk.Source
			pages[i] = int64(chunk.Page)
			sheets[i] = chunk.Sheet
			positions[i] = int64(chunk.Index)
		}

		err := z.api.Insert(ctx, name,
			entity.NewColumnVarChar("chunk_id", ids),
			entity.NewColumnFloatVector("embedding", dim, vectors[start:end]),
			entity.NewColumnVarChar("text", texts),
			entity.NewColumnVarChar("source", sources),
			entity.NewColumnInt64("page", pages),
			entity.NewColumnVarChar("sheet", sheets),
			entity.NewColumnInt64("chunk_index", positions),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
	}

	if err := z.api.Flush(ctx, name); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector DB", zap.Int("count", len(chunks)))
	return nil
}

// Fetch resolves the alias and returns a searcher over the current corpus.
func (z *Client) Fetch(ctx context.Context) (vector.Searcher, string, error) {
	coll, err := z.api.DescribeCollection(ctx, z.alias)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", bundle.ErrNoIndex, err)
	}
	if coll == nil || coll.Schema == nil {
		return nil, "", fmt.Errorf("%w: collection %s has no schema", bundle.ErrInvalidBundle, z.alias)
	}

	var desc description
	if err := json.Unmarshal([]byte(coll.Schema.Description), &desc); err != nil {
		return nil, "", fmt.Errorf("%w: unreadable collection description: %w", bundle.ErrInvalidBundle, err)
	}
	if desc.EmbeddingModel != z.model {
		return nil, "", fmt.Errorf("%w: index built with %q, configured %q", bundle.ErrModelMismatch, desc.EmbeddingModel, z.model)
	}

	dim := 0
	for _, f := range coll.Schema.Fields {
		if f.Name == "embedding" {
			dim, _ = strconv.Atoi(f.TypeParams["dim"])
		}
	}

	logger.Info("Milvus index activated",
		zap.String("alias", z.alias),
		zap.String("corpus_id", desc.CorpusID),
	)

	return &searcher{api: z.api, collection: z.alias, dim: dim}, desc.CorpusID, nil
}

type searcher struct {
	api        milvusAPI
	collection string
	dim        int
}

func (s *searcher) Search(ctx context.Context, vec []float32, k int) ([]vector.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if s.dim > 0 && len(vec) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d", vector.ErrDimensionMismatch, len(vec), s.dim)
	}

	results, err := s.api.Search(ctx, s.collection, outputFields, entity.FloatVector(vec), "embedding", k, nprobe)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]vector.Hit, 0, k)
	for _, sr := range results {
		for i := 0; i < sr.ResultCount; i++ {
			chunk, err := chunkAt(sr, i)
			if err != nil {
				return nil, err
			}
			hits = append(hits, vector.Hit{Chunk: chunk, Distance: sr.Scores[i]})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", k),
		zap.Int("results", len(hits)),
	)

	return hits, nil
}

func chunkAt(sr client.SearchResult, i int) (document.Chunk, error) {
	var chunk document.Chunk
	var page, position int64

	fields := []struct {
		name string
		dst  interface{}
	}{
		{"chunk_id", &chunk.ID},
		{"text", &chunk.Text},
		{"source", &chunk.Source},
		{"page", &page},
		{"sheet", &chunk.Sheet},
		{"chunk_index", &position},
	}

	for _, f := range fields {
		col := sr.Fields.GetColumn(f.name)
		if col == nil {
			return chunk, fmt.Errorf("search result missing field %s", f.name)
		}
		v, err := col.Get(i)
		if err != nil {
			return chunk, fmt.Errorf("failed to read field %s: %w", f.name, err)
		}

		switch dst := f.dst.(type) {
		case *string:
			s, ok := v.(string)
			if !ok {
				return chunk, fmt.Errorf("field %s has type %T", f.name, v)
			}
			*dst = s
		case *int64:
			n, ok := v.(int64)
			if !ok {
				return chunk, fmt.Errorf("field %s has type %T", f.name, v)
			}
			*dst = n
		}
	}

	chunk.Page = int(page)
	chunk.Index = int(position)
	return chunk, nil
}
