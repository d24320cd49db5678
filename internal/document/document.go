// Package document holds the text units that flow from loaders through the
// splitter into the similarity index.
package document

import "fmt"

// Page is one page-level text document extracted from an upload.
type Page struct {
	Text   string
	Source string
	// Page is 1-based within Source.
	Page  int
	Sheet string
}

// Chunk is a bounded span of page text; the unit that is embedded and retrieved.
type Chunk struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source"`
	Page   int    `json:"page"`
	Sheet  string `json:"sheet,omitempty"`
	Index  int    `json:"index"`
}

func ChunkID(source string, page, n int) string {
	return fmt.Sprintf("%s#p%d#%d", source, page, n)
}
