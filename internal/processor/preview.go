package processor

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/wembed/internal/models"
	"github.com/hyperjump/wembed/pkg/utils"
)

const binaryPlaceholder = "<Binary or non-text content>"

type frontMatter struct {
	ID          string    `yaml:"id"`
	Host        string    `yaml:"host"`
	User        string    `yaml:"user"`
	SHA256      string    `yaml:"sha256"`
	URI         string    `yaml:"uri"`
	SourceKind  string    `yaml:"source_kind"`
	SourceName  string    `yaml:"source_name"`
	GeneratedAt time.Time `yaml:"generated_at"`
	Version     int       `yaml:"version"`
}

// renderPreview builds the markdown rendition of rec. body is the text shown in the
// content fence; it is ignored for document kinds.
func renderPreview(rec *models.FileRecord, body string, previewBytes int, now time.Time) string {
	if rec.Kind == models.KindBinary {
		return ""
	}
	var b strings.Builder

	fm, err := yaml.Marshal(frontMatter{
		ID:          rec.ID,
		Host:        rec.Host,
		User:        rec.User,
		SHA256:      rec.Fingerprint,
		URI:         rec.URI(),
		SourceKind:  string(rec.SourceKind),
		SourceName:  rec.SourceName,
		GeneratedAt: now.UTC().Truncate(time.Second),
		Version:     rec.Generation,
	})
	if err == nil {
		b.WriteString("---\n")
		b.Write(fm)
		b.WriteString("---\n\n")
	}

	fmt.Fprintf(&b, "# %s *(Version %d)*\n\n", rec.Name, rec.Generation)
	b.WriteString("## File Information\n\n")
	fmt.Fprintf(&b, "**URI:** `%s`\n\n", rec.URI())
	b.WriteString("| Property | Value |\n|---|---|\n")
	for _, row := range [][2]string{
		{"Host", rec.Host},
		{"User", rec.User},
		{"Source Kind", string(rec.SourceKind)},
		{"Source Name", rec.SourceName},
		{"File Hash (sha256)", rec.Fingerprint},
		{"ID", rec.ID},
		{"Full Path", rec.Path},
		{"Relative Path", rec.RelativePath},
		{"File Name", rec.Name},
		{"File Mode", fmt.Sprintf("%o", rec.Mode)},
		{"File Suffix", rec.Suffix},
		{"Size (bytes)", fmt.Sprint(rec.Size)},
		{"Line Count", fmt.Sprint(rec.LineCount)},
		{"MIME Type", rec.MimeType},
		{"Kind", string(rec.Kind)},
		{"Modified At", rec.ModTime.UTC().Format(time.RFC3339)},
		{"Indexed At", now.Format(time.RFC3339)},
	} {
		fmt.Fprintf(&b, "| **%s** | `%s` |\n", row[0], strings.ReplaceAll(row[1], "|", `\|`))
	}

	if !rec.Kind.TextLike() {
		return b.String()
	}

	b.WriteString("\n---\n\n## File Content\n\n")
	if body == "" {
		body = binaryPlaceholder
	}
	body = utils.Truncate(body, previewBytes)
	fence := codeFence(body)
	fmt.Fprintf(&b, "%s%s\n%s\n%s\n", fence, rec.Language, strings.TrimRight(body, "\n"), fence)
	return b.String()
}

// codeFence returns a backtick fence longer than any backtick run in body.
func codeFence(body string) string {
	longest, run := 0, 0
	for _, r := range body {
		if r == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return strings.Repeat("`", max(3, longest+1))
}

// lineCount counts lines the way editors do: a trailing newline does not start a new line.
func lineCount(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := strings.Count(string(content), "\n")
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}

// validPrefix trims a trailing partial rune left by reading a fixed-size prefix.
func validPrefix(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if utf8.Valid(b) {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}
