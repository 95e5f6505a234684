// Package convert turns raw file content into a structured document of titled sections.
package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/wembed/internal/models"
)

var (
	// ErrUnsupported is returned when no converter handles the content type.
	ErrUnsupported = errors.New("unsupported content type")
	// ErrEmpty is returned when conversion produced no text.
	ErrEmpty = errors.New("document has no text")
)

// Hint describes the content being converted.
type Hint struct {
	Name     string
	Suffix   string
	MimeType string
	Kind     models.FileKind
}

// Section is a contiguous part of a document under one heading.
type Section struct {
	Heading string `json:"heading,omitempty"`
	Text    string `json:"text"`
}

// StructuredDocument is the output of a conversion.
type StructuredDocument struct {
	Title     string    `json:"title"`
	Converter string    `json:"converter"`
	Sections  []Section `json:"sections"`
}

// Text joins all sections, headings included.
func (d *StructuredDocument) Text() string {
	var b strings.Builder
	for _, s := range d.Sections {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if s.Heading != "" {
			b.WriteString(s.Heading)
			b.WriteString("\n")
		}
		b.WriteString(s.Text)
	}
	return b.String()
}

// Empty reports whether no section carries text.
func (d *StructuredDocument) Empty() bool {
	for _, s := range d.Sections {
		if strings.TrimSpace(s.Text) != "" {
			return false
		}
	}
	return true
}

// Converter converts one content type.
type Converter interface {
	Name() string
	Convert(ctx context.Context, content []byte, hint Hint) (*StructuredDocument, error)
}

// Registry dispatches by file suffix, then by file kind.
type Registry struct {
	bySuffix map[string]Converter
	byKind   map[models.FileKind]Converter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bySuffix: make(map[string]Converter),
		byKind:   make(map[models.FileKind]Converter),
	}
}

// Default returns a registry with every built-in converter.
func Default() *Registry {
	r := NewRegistry()
	md := Markdown{}
	plain := Plain{}
	r.Register(md, ".md", ".markdown", ".mdx")
	r.Register(PDF{}, ".pdf")
	r.Register(DOCX{}, ".docx")
	r.Register(XLSX{}, ".xlsx", ".xlsm")
	r.Register(PPTX{}, ".pptx")
	r.Register(ODS{}, ".ods")
	r.Register(ODP{}, ".odp")
	r.Register(Cat{}, ".odt", ".rtf")
	r.RegisterKind(models.KindMarkdown, md)
	r.RegisterKind(models.KindText, plain)
	r.RegisterKind(models.KindCode, plain)
	return r
}

// Register maps suffixes (with leading dot, any case) to c.
func (r *Registry) Register(c Converter, suffixes ...string) {
	for _, s := range suffixes {
		r.bySuffix[strings.ToLower(s)] = c
	}
}

// RegisterKind maps a file kind to c, used when the suffix is unknown.
func (r *Registry) RegisterKind(kind models.FileKind, c Converter) {
	r.byKind[kind] = c
}

// Lookup returns the converter for hint.
func (r *Registry) Lookup(hint Hint) (Converter, bool) {
	if c, ok := r.bySuffix[strings.ToLower(hint.Suffix)]; ok {
		return c, true
	}
	c, ok := r.byKind[hint.Kind]
	return c, ok
}

// Name identifies the registry when it is used as a Converter.
func (r *Registry) Name() string { return "registry" }

// Convert runs the matching converter. The document's Converter field names the one used,
// and Title falls back to the file name.
func (r *Registry) Convert(ctx context.Context, content []byte, hint Hint) (*StructuredDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := r.Lookup(hint)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupported, hint.Suffix, hint.Kind)
	}
	doc, err := c.Convert(ctx, content, hint)
	if err != nil {
		return nil, fmt.Errorf("%s converter: %w", c.Name(), err)
	}
	if doc == nil || doc.Empty() {
		return nil, fmt.Errorf("%s converter: %w", c.Name(), ErrEmpty)
	}
	doc.Converter = c.Name()
	if doc.Title == "" {
		doc.Title = hint.Name
	}
	return doc, nil
}

var _ Converter = (*Registry)(nil)
