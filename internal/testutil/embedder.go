package testutil

import (
	"context"
	"strings"
	"sync"
	"unicode"
)

// Embedder produces letter-frequency vectors so that texts sharing words
// land close together. It counts calls and can be made to fail.
type Embedder struct {
	ModelName string
	Err       error

	mu    sync.Mutex
	calls int
	texts int
}

func NewEmbedder() *Embedder {
	return &Embedder{ModelName: "test-embed"}
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.texts += len(texts)
	e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = LetterVector(t)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) Model() string { return e.ModelName }

// Calls returns how many embedding requests were made.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// LetterVector is the normalised a-z frequency of text plus a digit bucket.
func LetterVector(text string) []float32 {
	vec := make([]float32, 27)
	var total float32
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z':
			vec[r-'a']++
		case unicode.IsDigit(r):
			vec[26]++
		default:
			continue
		}
		total++
	}
	if total > 0 {
		for i := range vec {
			vec[i] /= total
		}
	}
	return vec
}
