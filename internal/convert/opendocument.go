package convert

import (
	"context"
	"fmt"
	"regexp"

	"github.com/lu4p/cat"
)

const odfContentPath = "content.xml"

var (
	odsTable   = regexp.MustCompile(`(?s)<table:table\s[^>]*table:name="([^"]*)"[^>]*>(.*?)</table:table>`)
	odpPage    = regexp.MustCompile(`(?s)<draw:page(\s[^>]*)?>(.*?)</draw:page>`)
	odpName    = regexp.MustCompile(`draw:name="([^"]*)"`)
	odfRow     = regexp.MustCompile(`(?s)<table:table-row[^>]*>(.*?)</table:table-row>`)
	odfTextEls = regexp.MustCompile(`<text:(?:p|h|span)[^>]*>([^<]*)</text:(?:p|h|span)>`)
)

// ODS converts OpenDocument spreadsheets into one section per table.
type ODS struct{}

func (ODS) Name() string { return "ods" }

func (ODS) Convert(ctx context.Context, content []byte, _ Hint) (*StructuredDocument, error) {
	body, err := odfContent(content, "ods")
	if err != nil {
		return nil, err
	}
	doc := &StructuredDocument{}
	for _, t := range odsTable.FindAllStringSubmatch(body, -1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rows []string
		for _, r := range odfRow.FindAllStringSubmatch(t[2], -1) {
			if line := joinMatches(odfTextEls, r[1], "\t"); line != "" {
				rows = append(rows, line)
			}
		}
		if len(rows) > 0 {
			doc.Sections = append(doc.Sections, Section{Heading: t[1], Text: joinLines(rows)})
		}
	}
	return doc, nil
}

// ODP converts OpenDocument presentations into one section per page.
type ODP struct{}

func (ODP) Name() string { return "odp" }

func (ODP) Convert(ctx context.Context, content []byte, _ Hint) (*StructuredDocument, error) {
	body, err := odfContent(content, "odp")
	if err != nil {
		return nil, err
	}
	doc := &StructuredDocument{}
	for i, p := range odpPage.FindAllStringSubmatch(body, -1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		heading := ""
		if m := odpName.FindStringSubmatch(p[1]); m != nil {
			heading = m[1]
		}
		if heading == "" {
			heading = fmt.Sprintf("Page %d", i+1)
		}
		if text := joinMatches(odfTextEls, p[2], " "); text != "" {
			doc.Sections = append(doc.Sections, Section{Heading: heading, Text: text})
		}
	}
	return doc, nil
}

func odfContent(content []byte, format string) (string, error) {
	zr, err := openZip(content, format)
	if err != nil {
		return "", err
	}
	b, err := readZipEntry(zr, odfContentPath)
	if err != nil {
		return "", fmt.Errorf("%s: %w", format, err)
	}
	if b == nil {
		return "", fmt.Errorf("%s: %s not found", format, odfContentPath)
	}
	return string(b), nil
}

// Cat converts OpenDocument text and RTF through github.com/lu4p/cat as a single section.
type Cat struct{}

func (Cat) Name() string { return "cat" }

func (Cat) Convert(_ context.Context, content []byte, _ Hint) (*StructuredDocument, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return nil, fmt.Errorf("cat: %w", err)
	}
	return &StructuredDocument{Sections: []Section{{Text: toText([]byte(text))}}}, nil
}
