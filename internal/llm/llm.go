package llm

import (
	"context"
	"errors"
)

// ErrEmbeddingCount is returned when the model service answers with a
// different number of vectors than texts were sent.
var ErrEmbeddingCount = errors.New("embedding count mismatch")

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Model identifies the embedding model; indexes built with one model
	// cannot be queried with another.
	Model() string
}

type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Provider is a hosted model service offering both capabilities.
type Provider interface {
	Embedder
	Generator
}
