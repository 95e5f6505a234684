// Package config provides configuration loading and structs for wembed.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the remote DSN. WEMBED_REMOTE_DSN wins over the
// config file; PG_DB_URL only fills an empty DSN.
const (
	EnvRemoteDSN = "WEMBED_REMOTE_DSN"
	EnvPGURL     = "PG_DB_URL"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Scan      ScanConfig      `yaml:"scan"`
	Process   ProcessConfig   `yaml:"process"`
	Documents DocumentsConfig `yaml:"documents"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects the local database and the optional remote one.
type StorageConfig struct {
	LocalPath    string        `yaml:"local_path"`
	RemoteDSN    string        `yaml:"remote_dsn"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// ScanConfig controls discovery.
type ScanConfig struct {
	MaxFileSize     int64    `yaml:"max_file_size"`
	Include         []string `yaml:"include"`
	Exclude         []string `yaml:"exclude"`
	IgnoreDirs      []string `yaml:"ignore_dirs"`
	VaultExtensions []string `yaml:"vault_extensions"`
	VaultMarker     string   `yaml:"vault_marker"`
	UseGitignore    *bool    `yaml:"use_gitignore"`
	TrustMtime      *bool    `yaml:"trust_mtime"`
}

// GitignoreEnabled defaults to true when unset.
func (s *ScanConfig) GitignoreEnabled() bool {
	return s.UseGitignore == nil || *s.UseGitignore
}

// TrustMtimeEnabled defaults to true when unset.
func (s *ScanConfig) TrustMtimeEnabled() bool {
	return s.TrustMtime == nil || *s.TrustMtime
}

// ProcessConfig controls metadata extraction.
type ProcessConfig struct {
	// ContentCeiling is the largest file whose full content is stored.
	ContentCeiling int64  `yaml:"content_ceiling"`
	PreviewBytes   int    `yaml:"preview_bytes"`
	Host           string `yaml:"host"`
	User           string `yaml:"user"`
}

// DocumentsConfig controls conversion and chunking.
type DocumentsConfig struct {
	ChunkSize          int   `yaml:"chunk_size"`
	// ChunkOverlap is in words; nil means the default, 0 means no overlap.
	ChunkOverlap       *int  `yaml:"chunk_overlap"`
	ReuseByFingerprint *bool `yaml:"reuse_by_fingerprint"`
}

// DefaultChunkOverlap is used when chunk_overlap is unset.
const DefaultChunkOverlap = 40

// Overlap returns the chunk overlap in words.
func (d *DocumentsConfig) Overlap() int {
	if d.ChunkOverlap == nil {
		return DefaultChunkOverlap
	}
	return *d.ChunkOverlap
}

// ReuseEnabled defaults to true when unset.
func (d *DocumentsConfig) ReuseEnabled() bool {
	return d.ReuseByFingerprint == nil || *d.ReuseByFingerprint
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	ModelPath  string `yaml:"model_path"`
	CacheSize  int    `yaml:"cache_size"`
	MaxRetries int    `yaml:"max_retries"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Extensions  []string      `yaml:"extensions"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, expands paths
// and applies environment overrides. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	finish(&cfg, configDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration, with paths resolved against the working directory.
func Default() *Config {
	cfg := &Config{}
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	finish(cfg, dir)
	return cfg
}

func finish(cfg *Config, configDir string) {
	ApplyDefaults(cfg)
	applyEnv(cfg, configDir)
	cfg.Storage.LocalPath = expandPath(cfg.Storage.LocalPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
}

// applyEnv loads .env files (config directory first, then working directory) without
// overriding variables already set, then applies the DSN overrides.
func applyEnv(cfg *Config, configDir string) {
	candidates := []string{filepath.Join(configDir, ".env")}
	if wd, err := os.Getwd(); err == nil && filepath.Clean(wd) != filepath.Clean(configDir) {
		candidates = append(candidates, filepath.Join(wd, ".env"))
	}
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
	if dsn := os.Getenv(EnvRemoteDSN); dsn != "" {
		cfg.Storage.RemoteDSN = dsn
	} else if dsn := os.Getenv(EnvPGURL); dsn != "" && cfg.Storage.RemoteDSN == "" {
		cfg.Storage.RemoteDSN = dsn
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if overlap := c.Documents.Overlap(); overlap < 0 || overlap >= c.Documents.ChunkSize {
		errs = append(errs, fmt.Errorf("documents.chunk_overlap (%d) must be between 0 and chunk_size (%d)",
			overlap, c.Documents.ChunkSize))
	}
	if c.Process.ContentCeiling > c.Scan.MaxFileSize {
		errs = append(errs, fmt.Errorf("process.content_ceiling (%d) exceeds scan.max_file_size (%d)",
			c.Process.ContentCeiling, c.Scan.MaxFileSize))
	}
	switch c.Embedding.Provider {
	case ProviderHash, ProviderOllama, ProviderONNX:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, errors.New("embedding.dimensions must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Save writes the config to path, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return path
}
