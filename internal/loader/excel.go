package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/document"
	"github.com/kbchat/backend/pkg/logger"
)

// ExcelLoader emits one page per worksheet, rows as tab-separated lines.
type ExcelLoader struct{}

func NewExcelLoader() *ExcelLoader {
	return &ExcelLoader{}
}

func (l *ExcelLoader) Extensions() []string {
	return []string{"xlsx", "xls"}
}

func (l *ExcelLoader) Load(ctx context.Context, path, source string) ([]document.Page, error) {
	var (
		pages []document.Page
		err   error
	)
	if ExtOf(path) == "xls" {
		pages, err = loadXLS(ctx, path, source)
	} else {
		pages, err = loadXLSX(ctx, path, source)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("Spreadsheet loaded", zap.String("source", source), zap.Int("sheets", len(pages)))
	return pages, nil
}

func loadXLSX(ctx context.Context, path, source string) ([]document.Page, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	var pages []document.Page
	for i, name := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
		}

		pages = append(pages, document.Page{
			Text:   renderRows(rows),
			Source: source,
			Page:   i + 1,
			Sheet:  name,
		})
	}
	return pages, nil
}

func loadXLS(ctx context.Context, path, source string) (pages []document.Page, err error) {
	defer recoverParse(path, &err)

	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, fmt.Errorf("failed to open xls: %w", err)
	}

	for i := 0; i < wb.NumSheets(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sheet := wb.GetSheet(i)
		if sheet == nil {
			continue
		}

		var rows [][]string
		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := xlsRow(sheet, r)
			if row == nil {
				continue
			}
			// Start at column 0 so leading blanks keep cells aligned, as
			// excelize does for xlsx.
			cells := make([]string, row.LastCol())
			for c := range cells {
				cells[c] = row.Col(c)
			}
			rows = append(rows, cells)
		}

		pages = append(pages, document.Page{
			Text:   renderRows(rows),
			Source: source,
			Page:   i + 1,
			Sheet:  sheet.Name,
		})
	}
	return pages, nil
}

// xlsRow returns nil for rows the sheet does not contain; the library
// dereferences the missing row instead.
func xlsRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}

func renderRows(rows [][]string) string {
	var b strings.Builder
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
