package scanner

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

type ignoreRule struct {
	patterns []string
	dirOnly  bool
	negated  bool
}

func (r ignoreRule) match(rel string) bool {
	for _, p := range r.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// IgnoreMatcher evaluates .gitignore rules against slash-separated paths relative to the root.
// Later rules win, so a negated rule re-includes what an earlier one excluded.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher returns an empty matcher.
func NewIgnoreMatcher() *IgnoreMatcher {
	return &IgnoreMatcher{}
}

// LoadIgnoreFile reads a .gitignore file. A missing file yields an empty matcher.
func LoadIgnoreFile(path string) (*IgnoreMatcher, error) {
	m := NewIgnoreMatcher()
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := m.Parse(content); err != nil {
		return nil, err
	}
	return m, nil
}

// Parse adds every rule in a .gitignore body.
func (m *IgnoreMatcher) Parse(content []byte) error {
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		m.AddPattern(sc.Text())
	}
	return sc.Err()
}

// AddPattern adds one gitignore line. Blank lines and comments are ignored.
func (m *IgnoreMatcher) AddPattern(line string) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	var rule ignoreRule
	if strings.HasPrefix(line, "!") {
		rule.negated = true
		line = line[1:]
	}
	line = strings.TrimPrefix(line, `\`)
	if strings.HasSuffix(line, "/") {
		rule.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if line == "" {
		return
	}
	// A slash anywhere but the end anchors the pattern to the root.
	anchored := strings.Contains(line, "/")
	line = strings.TrimPrefix(line, "/")
	if anchored {
		rule.patterns = []string{line}
	} else {
		rule.patterns = []string{line, "**/" + line}
	}
	m.rules = append(m.rules, rule)
}

// Match reports whether rel is ignored. Paths below an ignored directory are ignored too.
func (m *IgnoreMatcher) Match(rel string, isDir bool) bool {
	if m == nil || len(m.rules) == 0 {
		return false
	}
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		if m.matchOne(strings.Join(parts[:i], "/"), true) {
			return true
		}
	}
	return m.matchOne(rel, isDir)
}

func (m *IgnoreMatcher) matchOne(rel string, isDir bool) bool {
	ignored := false
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.match(rel) {
			ignored = !r.negated
		}
	}
	return ignored
}

// Len returns the number of rules.
func (m *IgnoreMatcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}
