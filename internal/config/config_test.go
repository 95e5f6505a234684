package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets the DSN variables for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvRemoteDSN, EnvPGURL} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  local_path: "./data/wembed.db"
  probe_timeout: 5s
documents:
  chunk_size: 120
  chunk_overlap: 20
  reuse_by_fingerprint: false
embedding:
  provider: ollama
  dimensions: 384
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if want := filepath.Join(dir, "data", "wembed.db"); cfg.Storage.LocalPath != want {
		t.Errorf("local_path = %s, want %s", cfg.Storage.LocalPath, want)
	}
	if cfg.Storage.ProbeTimeout != 5*time.Second {
		t.Errorf("probe_timeout = %v", cfg.Storage.ProbeTimeout)
	}
	if cfg.Documents.ReuseEnabled() {
		t.Error("reuse_by_fingerprint: false should disable reuse")
	}
	if cfg.Embedding.Provider != ProviderOllama || cfg.Embedding.Dimensions != 384 {
		t.Errorf("unexpected embedding config: %+v", cfg.Embedding)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, `
watch:
  directories: ["./dev/sample"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Watch.Directories) != 1 {
		t.Fatalf("watch directories: got %d", len(cfg.Watch.Directories))
	}
	if want := filepath.Join(dir, "dev", "sample"); cfg.Watch.Directories[0] != want {
		t.Errorf("watch directory = %s, want %s", cfg.Watch.Directories[0], want)
	}
	if cfg.Watch.Recursive == nil || !*cfg.Watch.Recursive {
		t.Error("recursive should default to true when directories are set")
	}
}

func TestLoad_invalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"overlap too large", "documents:\n  chunk_size: 10\n  chunk_overlap: 10\n", "chunk_overlap"},
		{"negative overlap", "documents:\n  chunk_overlap: -1\n", "chunk_overlap"},
		{"ceiling above max size", "scan:\n  max_file_size: 100\nprocess:\n  content_ceiling: 200\n", "content_ceiling"},
		{"unknown provider", "embedding:\n  provider: magic\n", "magic"},
		{"bad yaml", "server: [", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad_chunkOverlap(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"unset uses default", "debug: false\n", DefaultChunkOverlap},
		{"explicit zero is kept", "documents:\n  chunk_overlap: 0\n", 0},
		{"explicit value", "documents:\n  chunk_overlap: 15\n", 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, t.TempDir(), tt.content))
			if err != nil {
				t.Fatal(err)
			}
			if got := cfg.Documents.Overlap(); got != tt.want {
				t.Errorf("Overlap() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Run("WEMBED_REMOTE_DSN overrides config", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvRemoteDSN, "postgres://env")
		cfg, err := Load(writeConfig(t, t.TempDir(), "storage:\n  remote_dsn: postgres://file\n"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Storage.RemoteDSN != "postgres://env" {
			t.Errorf("remote_dsn = %s", cfg.Storage.RemoteDSN)
		}
	})
	t.Run("PG_DB_URL fills an empty DSN only", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvPGURL, "postgres://pg")
		cfg, err := Load(writeConfig(t, t.TempDir(), "storage:\n  remote_dsn: postgres://file\n"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Storage.RemoteDSN != "postgres://file" {
			t.Errorf("remote_dsn = %s", cfg.Storage.RemoteDSN)
		}
		cfg, err = Load(writeConfig(t, t.TempDir(), "debug: true\n"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Storage.RemoteDSN != "postgres://pg" {
			t.Errorf("remote_dsn = %s", cfg.Storage.RemoteDSN)
		}
	})
	t.Run(".env next to the config", func(t *testing.T) {
		clearEnv(t)
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WEMBED_REMOTE_DSN=postgres://dotenv\n"), 0600); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(writeConfig(t, dir, "debug: false\n"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Storage.RemoteDSN != "postgres://dotenv" {
			t.Errorf("remote_dsn = %s", cfg.Storage.RemoteDSN)
		}
	})
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: %+v", cfg.Server)
	}
	if cfg.Scan.MaxFileSize != 64<<20 {
		t.Errorf("default max_file_size: got %d", cfg.Scan.MaxFileSize)
	}
	if cfg.Process.ContentCeiling != 3<<20 {
		t.Errorf("default content_ceiling: got %d", cfg.Process.ContentCeiling)
	}
	if cfg.Embedding.Provider != ProviderHash || cfg.Embedding.Dimensions != 768 {
		t.Errorf("default embedding: %+v", cfg.Embedding)
	}
	if len(cfg.Scan.VaultExtensions) != 1 || cfg.Scan.VaultExtensions[0] != ".md" {
		t.Errorf("vault extensions: got %v", cfg.Scan.VaultExtensions)
	}
	if !cfg.Scan.GitignoreEnabled() || !cfg.Scan.TrustMtimeEnabled() || !cfg.Documents.ReuseEnabled() {
		t.Error("boolean options should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	f := false
	tr := true
	tests := []struct {
		name string
		w    WatchConfig
		want bool
	}{
		{"nil returns true", WatchConfig{}, true},
		{"true returns true", WatchConfig{Recursive: &tr}, true},
		{"false returns false", WatchConfig{Recursive: &f}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.RecursiveOrDefault(); got != tt.want {
				t.Errorf("RecursiveOrDefault() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSave(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "saved.yaml")
	cfg := Default()
	cfg.Server.Port = 9090
	cfg.Storage.LocalPath = filepath.Join(dir, "db.sqlite")
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Storage.LocalPath != cfg.Storage.LocalPath {
		t.Errorf("loaded local_path: got %s", loaded.Storage.LocalPath)
	}
}
