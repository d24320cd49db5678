package loader

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"go.uber.org/zap"
	"rsc.io/pdf"

	"github.com/kbchat/backend/internal/document"
	"github.com/kbchat/backend/pkg/logger"
)

type PDFLoader struct{}

func NewPDFLoader() *PDFLoader {
	return &PDFLoader{}
}

func (l *PDFLoader) Extensions() []string {
	return []string{"pdf"}
}

func (l *PDFLoader) Load(ctx context.Context, path, source string) (pages []document.Page, err error) {
	defer recoverParse(path, &err)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat pdf: %w", err)
	}

	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}

	numPages := reader.NumPage()
	pages = make([]document.Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		text := ""
		if !page.V.IsNull() {
			text = pageText(page.Content().Text)
		}

		pages = append(pages, document.Page{
			Text:   text,
			Source: source,
			Page:   i,
		})
	}

	logger.Debug("PDF loaded", zap.String("source", source), zap.Int("pages", len(pages)))

	return pages, nil
}

// wordGap is the fraction of the font size by which a glyph must start
// past the previous glyph's end to count as a word break. rsc.io/pdf
// reports no glyphs for spaces, so this is the only place they survive.
const wordGap = 0.1

// pageText joins glyphs in content-stream order. A baseline change starts
// a new line; a horizontal gap between glyphs becomes a space.
func pageText(runs []pdf.Text) string {
	var b strings.Builder
	lastY := math.NaN()
	var lastEnd float64
	for _, t := range runs {
		switch {
		case math.IsNaN(lastY):
		case math.Abs(t.Y-lastY) > 0.5:
			b.WriteByte('\n')
		case t.X-lastEnd > wordGap*t.FontSize:
			b.WriteByte(' ')
		}
		b.WriteString(t.S)
		lastY = t.Y
		lastEnd = t.X + t.W
	}
	return strings.TrimSpace(b.String())
}
