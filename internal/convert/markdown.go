package convert

import (
	"context"
	"strings"

	"gopkg.in/yaml.v3"
)

// Markdown splits a document at ATX headings. YAML front matter is removed and its
// title, when present, becomes the document title.
type Markdown struct{}

func (Markdown) Name() string { return "markdown" }

func (Markdown) Convert(_ context.Context, content []byte, _ Hint) (*StructuredDocument, error) {
	body, meta := splitFrontMatter(toText(content))
	doc := &StructuredDocument{}
	if t, ok := meta["title"].(string); ok {
		doc.Title = strings.TrimSpace(t)
	}

	var cur Section
	var buf []string
	inFence := false
	flush := func() {
		cur.Text = strings.TrimSpace(strings.Join(buf, "\n"))
		if cur.Text != "" || cur.Heading != "" {
			doc.Sections = append(doc.Sections, cur)
		}
		buf = buf[:0]
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence {
			if level, heading := atxHeading(trimmed); level > 0 {
				flush()
				cur = Section{Heading: heading}
				if level == 1 && doc.Title == "" {
					doc.Title = heading
				}
				continue
			}
		}
		buf = append(buf, line)
	}
	flush()

	// Heading-only sections carry their heading as text so they are not lost.
	for i := range doc.Sections {
		if doc.Sections[i].Text == "" {
			doc.Sections[i].Text = doc.Sections[i].Heading
		}
	}
	return doc, nil
}

func atxHeading(line string) (int, string) {
	level := 0
	for level < len(line) && level < 7 && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, ""
	}
	rest := line[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, ""
	}
	return level, strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest), "#"))
}

// splitFrontMatter returns the body after a leading "---" block and the parsed block.
// Malformed front matter is left in the body.
func splitFrontMatter(s string) (string, map[string]any) {
	lines := strings.Split(s, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != "---" {
		return s, nil
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != "---" {
			continue
		}
		var meta map[string]any
		if err := yaml.Unmarshal([]byte(strings.Join(lines[1:i], "\n")), &meta); err != nil {
			return s, nil
		}
		return strings.Join(lines[i+1:], "\n"), meta
	}
	return s, nil
}
