package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f1.txt")
	sub := filepath.Join(dir, "sub")
	if err := os.WriteFile(file, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(sub, "nested"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a"), []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "nested", "b"), []byte("c"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"single file", []string{file}, 5},
		{"directory tree", []string{sub}, 3},
		{"file and directory", []string{file, sub}, 8},
		{"missing path skipped", []string{file, filepath.Join(dir, "nonexistent"), sub}, 8},
		{"empty path skipped", []string{"", file}, 5},
		{"nothing", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %d bytes, want %d", got, tt.want)
			}
		})
	}
}

func TestLocalFootprint(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "wembed.db")
	if err := os.WriteFile(db, make([]byte, 10), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(db+"-wal", make([]byte, 4), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := LocalFootprint(db)
	if err != nil {
		t.Fatal(err)
	}
	if got != 14 {
		t.Errorf("got %d bytes, want 14", got)
	}
}
