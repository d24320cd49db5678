// Package bundle publishes an index as a single content-addressed object and
// moves a pointer object to it, so readers see either the previous corpus or
// the new one.
package bundle

import (
	"errors"
	"path"
	"time"
)

const (
	PointerKey   = "LATEST.json"
	ManifestName = "manifest.json"
	IndexBase    = "index"

	corporaDir = "corpora"
)

var (
	ErrNoIndex       = errors.New("no index has been published")
	ErrInvalidBundle = errors.New("invalid index bundle")
	ErrModelMismatch = errors.New("index was built with a different embedding model")
)

type Manifest struct {
	CorpusID       string    `json:"corpus_id"`
	RequestID      string    `json:"request_id"`
	EmbeddingModel string    `json:"embedding_model"`
	Dim            int       `json:"dim"`
	Chunks         int       `json:"chunks"`
	CreatedAt      time.Time `json:"created_at"`
	Files          []string  `json:"files"`
}

type Pointer struct {
	CorpusID       string    `json:"corpus_id"`
	Key            string    `json:"key"`
	EmbeddingModel string    `json:"embedding_model"`
	PublishedAt    time.Time `json:"published_at"`
}

func bundleKey(prefix, corpusID string) string {
	return prefix + path.Join(corporaDir, corpusID+".tar.gz")
}

func pointerKey(prefix string) string {
	return prefix + PointerKey
}
