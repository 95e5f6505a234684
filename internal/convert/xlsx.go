package convert

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSX converts Excel workbooks into one section per sheet, cells tab-separated.
type XLSX struct{}

func (XLSX) Name() string { return "xlsx" }

func (XLSX) Convert(ctx context.Context, content []byte, _ Hint) (*StructuredDocument, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	doc := &StructuredDocument{}
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			if line := strings.TrimRight(strings.Join(row, "\t"), "\t"); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			doc.Sections = append(doc.Sections, Section{Heading: sheet, Text: joinLines(lines)})
		}
	}
	return doc, nil
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
