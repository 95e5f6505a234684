package scanner

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIgnoreMatcher(t *testing.T) {
	m := NewIgnoreMatcher()
	if err := m.Parse([]byte(`
# comment
*.log
!keep.log
/dist
build/
docs/*.tmp
`)); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 5 {
		t.Fatalf("rules = %d, want 5", m.Len())
	}

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"app.log", false, true},
		{"sub/app.log", false, true},
		{"keep.log", false, false},
		{"dist", true, true},
		{"dist/bundle.js", false, true},
		{"src/dist", true, false},
		{"build", true, true},
		{"src/build", true, true},
		{"build", false, false},
		{"build/out.o", false, true},
		{"docs/a.tmp", false, true},
		{"other/docs/a.tmp", false, false},
		{"main.go", false, false},
	}
	for _, tt := range tests {
		if got := m.Match(tt.path, tt.isDir); got != tt.want {
			t.Errorf("Match(%q, dir=%v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
		}
	}
}

func TestLoadIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadIgnoreFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		t.Fatal(err)
	}
	if m.Len() != 0 {
		t.Error("missing file should give an empty matcher")
	}
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("vendor/\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err = LoadIgnoreFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		t.Fatal(err)
	}
	if !m.Match("vendor/lib.go", false) {
		t.Error("vendor/ should ignore its contents")
	}
}

func TestFilter(t *testing.T) {
	if _, err := NewFilter([]string{"[bad"}, nil, nil, nil, nil); err == nil {
		t.Error("invalid pattern should be rejected")
	}
	f, err := NewFilter(nil, []string{"*.min.js"}, []string{"node_modules"}, []string{"js", ".TS"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{".git", "a/.hg", "node_modules", "x/node_modules"} {
		if !f.SkipDir(dir) {
			t.Errorf("SkipDir(%q) = false", dir)
		}
	}
	if f.SkipDir("src") {
		t.Error("src should be walked")
	}
	tests := map[string]bool{
		"app.js":       true,
		"lib/app.ts":   true,
		"app.min.js":   false,
		"README.md":    false,
		"lib/x.min.js": false,
	}
	for path, want := range tests {
		if got := f.Allow(path); got != want {
			t.Errorf("Allow(%q) = %v, want %v", path, got, want)
		}
	}
}
