package scanner

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// RepositoryMarker is the directory that marks a repository root during discovery.
const RepositoryMarker = ".git"

// VCSDirs are version control metadata directories, never descended into.
var VCSDirs = []string{".git", ".hg", ".svn", ".bzr", "_darcs", ".jj"}

// Filter decides which paths below a root are candidates. Paths are relative and slash-separated.
type Filter struct {
	include    []string
	exclude    []string
	skipDirs   map[string]struct{}
	extensions map[string]struct{}
	gitignore  *IgnoreMatcher
}

// NewFilter validates the glob patterns and builds a filter. Empty include means everything;
// empty extensions means any extension.
func NewFilter(include, exclude, skipDirs, extensions []string, gitignore *IgnoreMatcher) (*Filter, error) {
	for _, p := range append(append([]string(nil), include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	f := &Filter{
		include:    include,
		exclude:    exclude,
		skipDirs:   make(map[string]struct{}),
		extensions: make(map[string]struct{}),
		gitignore:  gitignore,
	}
	for _, d := range VCSDirs {
		f.skipDirs[d] = struct{}{}
	}
	for _, d := range skipDirs {
		f.skipDirs[strings.TrimSuffix(d, "/")] = struct{}{}
	}
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.extensions[ext] = struct{}{}
	}
	return f, nil
}

// SkipDir reports whether the walk should not descend into directory rel.
func (f *Filter) SkipDir(rel string) bool {
	if _, ok := f.skipDirs[filepath.Base(rel)]; ok {
		return true
	}
	if f.excluded(rel) {
		return true
	}
	return f.gitignore.Match(rel, true)
}

// Allow reports whether file rel is a candidate.
func (f *Filter) Allow(rel string) bool {
	rel = filepath.ToSlash(rel)
	if f.excluded(rel) || f.gitignore.Match(rel, false) {
		return false
	}
	if len(f.extensions) > 0 {
		if _, ok := f.extensions[strings.ToLower(filepath.Ext(rel))]; !ok {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, p := range f.include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

// excluded matches exclude globs against the relative path and the base name.
func (f *Filter) excluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)
	for _, p := range f.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}
