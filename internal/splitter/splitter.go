// Package splitter cuts page text into fixed-size overlapping windows.
package splitter

import (
	"fmt"
	"strings"

	"github.com/kbchat/backend/internal/document"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Splitter is a deterministic character window: every chunk holds at most
// size runes and consecutive chunks share exactly overlap runes.
type Splitter struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= s.size {
		return []string{text}
	}

	stride := s.size - s.overlap
	var chunks []string
	for start := 0; ; start += stride {
		end := start + s.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// SplitPages splits every page on its own, so no chunk spans two pages, and
// numbers the resulting chunks across the whole corpus.
func (s *Splitter) SplitPages(pages []document.Page) []document.Chunk {
	var chunks []document.Chunk
	for _, page := range pages {
		for n, text := range s.Split(page.Text) {
			chunks = append(chunks, document.Chunk{
				ID:     document.ChunkID(page.Source, page.Page, n),
				Text:   text,
				Source: page.Source,
				Page:   page.Page,
				Sheet:  page.Sheet,
				Index:  len(chunks),
			})
		}
	}
	return chunks
}
