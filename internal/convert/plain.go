package convert

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Plain converts text and source code into a single section.
type Plain struct{}

func (Plain) Name() string { return "plain" }

// Convert replaces invalid UTF-8 sequences with the replacement character.
func (Plain) Convert(_ context.Context, content []byte, _ Hint) (*StructuredDocument, error) {
	return &StructuredDocument{Sections: []Section{{Text: toText(content)}}}, nil
}

func toText(content []byte) string {
	s := string(content)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}
