package zilliz

import (
	"context"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// milvusAPI is the slice of the Milvus SDK the index backend uses.
type milvusAPI interface {
	HasCollection(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, schema *entity.Schema) error
	Insert(ctx context.Context, name string, columns ...entity.Column) error
	Flush(ctx context.Context, name string) error
	CreateIndex(ctx context.Context, name, field string, nlist int) error
	LoadCollection(ctx context.Context, name string) error
	AlterAlias(ctx context.Context, name, alias string) error
	CreateAlias(ctx context.Context, name, alias string) error
	DescribeCollection(ctx context.Context, name string) (*entity.Collection, error)
	Search(ctx context.Context, name string, fields []string, vec entity.Vector, field string, topK, nprobe int) ([]client.SearchResult, error)
	Close() error
}

type sdkAdapter struct {
	c client.Client
}

func (a *sdkAdapter) HasCollection(ctx context.Context, name string) (bool, error) {
	return a.c.HasCollection(ctx, name)
}

func (a *sdkAdapter) CreateCollection(ctx context.Context, schema *entity.Schema) error {
	return a.c.CreateCollection(ctx, schema, entity.DefaultShardNumber)
}

func (a *sdkAdapter) Insert(ctx context.Context, name string, columns ...entity.Column) error {
	_, err := a.c.Insert(ctx, name, "", columns...)
	return err
}

func (a *sdkAdapter) Flush(ctx context.Context, name string) error {
	return a.c.Flush(ctx, name, false)
}

func (a *sdkAdapter) CreateIndex(ctx context.Context, name, field string, nlist int) error {
	idx, err := entity.NewIndexIvfFlat(entity.L2, nlist)
	if err != nil {
		return err
	}
	return a.c.CreateIndex(ctx, name, field, idx, false)
}

func (a *sdkAdapter) LoadCollection(ctx context.Context, name string) error {
	return a.c.LoadCollection(ctx, name, false)
}

func (a *sdkAdapter) AlterAlias(ctx context.Context, name, alias string) error {
	return a.c.AlterAlias(ctx, name, alias)
}

func (a *sdkAdapter) CreateAlias(ctx context.Context, name, alias string) error {
	return a.c.CreateAlias(ctx, name, alias)
}

func (a *sdkAdapter) DescribeCollection(ctx context.Context, name string) (*entity.Collection, error) {
	return a.c.DescribeCollection(ctx, name)
}

func (a *sdkAdapter) Search(ctx context.Context, name string, fields []string, vec entity.Vector, field string, topK, nprobe int) ([]client.SearchResult, error) {
	sp, err := entity.NewIndexIvfFlatSearchParam(nprobe)
	if err != nil {
		return nil, err
	}
	return a.c.Search(ctx, name, []string{}, "", fields, []entity.Vector{vec}, field, entity.L2, topK, sp)
}

func (a *sdkAdapter) Close() error {
	return a.c.Close()
}
