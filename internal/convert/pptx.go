package convert

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

var (
	pptxSlidePath = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	pptxText      = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)
)

// PPTX converts PowerPoint decks into one section per slide, in slide order.
type PPTX struct{}

func (PPTX) Name() string { return "pptx" }

func (PPTX) Convert(ctx context.Context, content []byte, _ Hint) (*StructuredDocument, error) {
	zr, err := openZip(content, "pptx")
	if err != nil {
		return nil, err
	}
	type slide struct {
		n    int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		if m := pptxSlidePath.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n: n, name: f.Name})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	doc := &StructuredDocument{}
	for _, s := range slides {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := readZipEntry(zr, s.name)
		if err != nil {
			return nil, fmt.Errorf("pptx: %w", err)
		}
		if text := joinMatches(pptxText, string(b), " "); text != "" {
			doc.Sections = append(doc.Sections, Section{Heading: fmt.Sprintf("Slide %d", s.n), Text: text})
		}
	}
	return doc, nil
}
