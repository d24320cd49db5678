package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kbchat/backend/internal/document"
)

// CSVLoader emits the whole file as a single page. The first record is the
// header; each following record becomes one "header: value" line.
type CSVLoader struct{}

func NewCSVLoader() *CSVLoader {
	return &CSVLoader{}
}

func (l *CSVLoader) Extensions() []string {
	return []string{"csv"}
}

func (l *CSVLoader) Load(ctx context.Context, path, source string) ([]document.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var header []string
	var b strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse csv: %w", err)
		}

		if header == nil {
			header = record
			continue
		}
		b.WriteString(renderRecord(header, record))
		b.WriteByte('\n')
	}

	if header == nil {
		return nil, fmt.Errorf("failed to parse csv: %s is empty", source)
	}

	text := strings.TrimRight(b.String(), "\n")
	if text == "" {
		text = strings.Join(header, "\t")
	}

	return []document.Page{{Text: text, Source: source, Page: 1}}, nil
}

func renderRecord(header, record []string) string {
	parts := make([]string, 0, len(record))
	for i, value := range record {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		name := fmt.Sprintf("column%d", i+1)
		if i < len(header) && strings.TrimSpace(header[i]) != "" {
			name = strings.TrimSpace(header[i])
		}
		parts = append(parts, name+": "+value)
	}
	return strings.Join(parts, "; ")
}
