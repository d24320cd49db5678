package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

type memCache struct {
	data    map[string][]float32
	readErr error
}

func (m *memCache) GetEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	if m.readErr != nil {
		return nil, false, m.readErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error {
	m.data[key] = embedding
	return nil
}

type countingEmbedder struct {
	seen []string
}

func (c *countingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	c.seen = append(c.seen, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := c.EmbedDocuments(ctx, []string{text})
	return v[0], err
}

func (c *countingEmbedder) Model() string { return "counting" }

func TestCachedEmbedderServesRepeats(t *testing.T) {
	inner := &countingEmbedder{}
	cache := &memCache{data: map[string][]float32{}}
	e := NewCachedEmbedder(inner, cache, time.Hour)

	if _, err := e.EmbedDocuments(context.Background(), []string{"a", "bb"}); err != nil {
		t.Fatal(err)
	}
	vectors, err := e.EmbedDocuments(context.Background(), []string{"bb", "ccc", "a"})
	if err != nil {
		t.Fatal(err)
	}

	if len(inner.seen) != 3 {
		t.Errorf("expected 3 texts embedded upstream, got %v", inner.seen)
	}
	want := []float32{2, 3, 1}
	for i, v := range vectors {
		if v[0] != want[i] {
			t.Errorf("vector %d = %v, want %v", i, v, want[i])
		}
	}
	if e.Model() != "counting" {
		t.Errorf("model identity must pass through, got %q", e.Model())
	}
}

func TestCachedEmbedderBypassesBrokenCache(t *testing.T) {
	inner := &countingEmbedder{}
	cache := &memCache{data: map[string][]float32{}, readErr: errors.New("redis down")}
	e := NewCachedEmbedder(inner, cache, time.Hour)

	vec, err := e.EmbedQuery(context.Background(), "abcd")
	if err != nil {
		t.Fatalf("cache failure must not be fatal: %v", err)
	}
	if vec[0] != 4 {
		t.Errorf("unexpected vector %v", vec)
	}
}
