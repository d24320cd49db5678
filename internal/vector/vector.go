// Package vector defines the retrieval contract shared by the in-memory
// index and the Milvus backend.
package vector

import (
	"context"
	"errors"

	"github.com/kbchat/backend/internal/document"
)

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

type Hit struct {
	Chunk    document.Chunk `json:"chunk"`
	Distance float32        `json:"distance"`
}

// Searcher returns up to k chunks nearest to vec, closest first.
type Searcher interface {
	Search(ctx context.Context, vec []float32, k int) ([]Hit, error)
}

func Chunks(hits []Hit) []document.Chunk {
	chunks := make([]document.Chunk, len(hits))
	for i, h := range hits {
		chunks[i] = h.Chunk
	}
	return chunks
}
