package pipeline

import (
	"strings"

	"github.com/hyperjump/wembed/internal/convert"
)

// Chunker splits documents into overlapping word windows. Windows never cross a
// section boundary, and each chunk starts with its section heading for context.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 200
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Chunk returns chunk texts in document order.
func (c *Chunker) Chunk(doc *convert.StructuredDocument) []string {
	var out []string
	for _, s := range doc.Sections {
		out = append(out, c.chunkSection(s)...)
	}
	return out
}

func (c *Chunker) chunkSection(s convert.Section) []string {
	words := strings.Fields(s.Text)
	if len(words) == 0 {
		return nil
	}
	prefix := ""
	// A heading-only section already carries its heading as text.
	if h := strings.TrimSpace(s.Heading); h != "" && h != strings.TrimSpace(s.Text) {
		prefix = h + "\n\n"
	}
	step := c.chunkSize - c.chunkOverlap
	var chunks []string
	for i := 0; i < len(words); i += step {
		end := min(i+c.chunkSize, len(words))
		chunks = append(chunks, prefix+strings.Join(words[i:end], " "))
		if end >= len(words) {
			break
		}
	}
	return chunks
}
