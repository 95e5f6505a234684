package convert

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDF converts PDF files into one section per page with text.
type PDF struct{}

func (PDF) Name() string { return "pdf" }

func (PDF) Convert(ctx context.Context, content []byte, _ Hint) (*StructuredDocument, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	doc := &StructuredDocument{}
	if title := r.Trailer().Key("Info").Key("Title").Text(); title != "" {
		doc.Title = title
	}
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			doc.Sections = append(doc.Sections, Section{Heading: fmt.Sprintf("Page %d", i), Text: text})
		}
	}
	return doc, nil
}
