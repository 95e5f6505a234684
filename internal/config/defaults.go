package config

import "time"

// Embedding providers.
const (
	ProviderHash   = "hash"
	ProviderOllama = "ollama"
	ProviderONNX   = "onnx"
)

// DefaultIgnoreDirs are skipped in repository sources in addition to VCS metadata.
var DefaultIgnoreDirs = []string{
	"node_modules", ".venv", "venv", "__pycache__", ".mypy_cache", ".pytest_cache",
	".tox", ".idea", ".vscode", "dist", "build", "target", ".next", ".cache",
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "~/.wembed/wembed.db"
	}
	if cfg.Storage.ProbeTimeout == 0 {
		cfg.Storage.ProbeTimeout = 3 * time.Second
	}
	if cfg.Scan.MaxFileSize == 0 {
		cfg.Scan.MaxFileSize = 64 << 20
	}
	if cfg.Scan.IgnoreDirs == nil {
		cfg.Scan.IgnoreDirs = append([]string(nil), DefaultIgnoreDirs...)
	}
	if cfg.Scan.VaultExtensions == nil {
		cfg.Scan.VaultExtensions = []string{".md"}
	}
	if cfg.Scan.VaultMarker == "" {
		cfg.Scan.VaultMarker = ".obsidian"
	}
	if cfg.Process.ContentCeiling == 0 {
		cfg.Process.ContentCeiling = 3 << 20
	}
	if cfg.Process.PreviewBytes == 0 {
		cfg.Process.PreviewBytes = 4096
	}
	if cfg.Documents.ChunkSize == 0 {
		cfg.Documents.ChunkSize = 200
	}
	if cfg.Documents.ChunkOverlap == nil {
		overlap := DefaultChunkOverlap
		cfg.Documents.ChunkOverlap = &overlap
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderHash
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
