package convert

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

func openZip(content []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%s: not a zip: %w", format, err)
	}
	return zr, nil
}

// readZipEntry returns the bytes of the named member, or nil when it is absent.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return b, nil
	}
	return nil, nil
}

// joinMatches concatenates the first capture group of every match, unescaping XML entities.
func joinMatches(re *regexp.Regexp, s, sep string) string {
	var b strings.Builder
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		t := strings.TrimSpace(html.UnescapeString(m[1]))
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(t)
	}
	return b.String()
}
