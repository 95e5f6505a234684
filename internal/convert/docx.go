package convert

import (
	"archive/zip"
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
)

const (
	docxDocumentXMLPath = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// Attributes on <w:p> and <w:t> vary between producers, so both tolerate any.
	docxParagraph = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	docxText      = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	docxStyle     = regexp.MustCompile(`<w:pStyle w:val="([^"]+)"`)
	partNameRe    = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	partNameRe2   = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

// DOCX converts Word documents. Paragraphs styled as headings or titles start new sections.
type DOCX struct{}

func (DOCX) Name() string { return "docx" }

func (DOCX) Convert(ctx context.Context, content []byte, _ Hint) (*StructuredDocument, error) {
	zr, err := openZip(content, "docx")
	if err != nil {
		return nil, err
	}
	docPath := docxMainPart(zr)
	body, err := readZipEntry(zr, docPath)
	if err != nil {
		return nil, fmt.Errorf("docx: %w", err)
	}
	if body == nil {
		return nil, fmt.Errorf("docx: %s not found", docPath)
	}

	doc := &StructuredDocument{}
	cur := Section{}
	var paras []string
	flush := func() {
		cur.Text = strings.Join(paras, "\n")
		if cur.Text != "" || cur.Heading != "" {
			doc.Sections = append(doc.Sections, cur)
		}
		paras = nil
	}
	for _, p := range docxParagraph.FindAllString(string(body), -1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := runText(p)
		if text == "" {
			continue
		}
		style := ""
		if m := docxStyle.FindStringSubmatch(p); len(m) > 1 {
			style = strings.ToLower(m[1])
		}
		switch {
		case style == "title":
			if doc.Title == "" {
				doc.Title = text
			}
		case strings.HasPrefix(style, "heading"):
			flush()
			cur = Section{Heading: text}
		default:
			paras = append(paras, text)
		}
	}
	flush()
	return doc, nil
}

// runText concatenates the runs of one paragraph; whitespace inside runs is significant.
func runText(p string) string {
	var b strings.Builder
	for _, m := range docxText.FindAllStringSubmatch(p, -1) {
		b.WriteString(html.UnescapeString(m[1]))
	}
	return strings.TrimSpace(b.String())
}

// docxMainPart finds the main document part from [Content_Types].xml, defaulting to word/document.xml.
func docxMainPart(zr *zip.Reader) string {
	ct, err := readZipEntry(zr, contentTypesPath)
	if err != nil || ct == nil {
		return docxDocumentXMLPath
	}
	for _, re := range []*regexp.Regexp{partNameRe, partNameRe2} {
		if m := re.FindSubmatch(ct); len(m) > 1 {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return docxDocumentXMLPath
}
