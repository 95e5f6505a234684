package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/wembed/internal/config"
	"github.com/hyperjump/wembed/internal/convert"
	"github.com/hyperjump/wembed/internal/embedding"
	"github.com/hyperjump/wembed/internal/models"
	"github.com/hyperjump/wembed/internal/pipeline"
	"github.com/hyperjump/wembed/internal/processor"
	"github.com/hyperjump/wembed/internal/scanner"
	"github.com/hyperjump/wembed/internal/storage"
	"github.com/hyperjump/wembed/pkg/utils"
)

// Build opens the store described by cfg, creates the embedder and wires every stage.
// Close the returned runner to release the store and the embedder.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, options ...Option) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := storage.Open(ctx, storage.Options{
		LocalPath:    cfg.Storage.LocalPath,
		RemoteDSN:    cfg.Storage.RemoteDSN,
		ProbeTimeout: cfg.Storage.ProbeTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	host, user := cfg.Process.Host, cfg.Process.User
	if host == "" || user == "" {
		h, u := utils.HostAndUser()
		if host == "" {
			host = h
		}
		if user == "" {
			user = u
		}
	}

	r := New(store, nil, nil, nil, append([]Option{WithLogger(logger)}, options...)...)
	r.scanner = scanner.New(store, ScannerOptions(cfg, host, user), scanner.WithLogger(logger))
	r.processor = processor.New(store, processor.Options{
		ContentCeiling: cfg.Process.ContentCeiling,
		PreviewBytes:   cfg.Process.PreviewBytes,
		Host:           host,
		User:           user,
	}, processor.WithLogger(logger))
	pipeOpts := []pipeline.Option{pipeline.WithLogger(logger)}
	if r.progress != nil {
		pipeOpts = append(pipeOpts, pipeline.WithProgress(r.progress))
	}
	r.pipeline = pipeline.New(store, convert.Default(), embedder, pipeline.Options{
		ChunkSize:          cfg.Documents.ChunkSize,
		ChunkOverlap:       cfg.Documents.Overlap(),
		ReuseByFingerprint: cfg.Documents.ReuseEnabled(),
	}, pipeOpts...)
	r.closers = []func() error{store.Close, embedder.Close}
	return r, nil
}

// ScannerOptions maps the scan section of cfg onto scanner options.
func ScannerOptions(cfg *config.Config, host, user string) scanner.Options {
	return scanner.Options{
		MaxFileSize:     cfg.Scan.MaxFileSize,
		IgnoreDirs:      cfg.Scan.IgnoreDirs,
		VaultExtensions: cfg.Scan.VaultExtensions,
		VaultMarker:     cfg.Scan.VaultMarker,
		UseGitignore:    cfg.Scan.GitignoreEnabled(),
		TrustMtime:      cfg.Scan.TrustMtimeEnabled(),
		Host:            host,
		User:            user,
	}
}

// WithScanDefaults fills the include and exclude patterns of src from the scan config
// when the caller gave none.
func WithScanDefaults(src models.SourceDescriptor, cfg *config.Config) models.SourceDescriptor {
	src = src.Clone()
	if len(src.Include) == 0 {
		src.Include = append([]string(nil), cfg.Scan.Include...)
	}
	if len(src.Exclude) == 0 {
		src.Exclude = append([]string(nil), cfg.Scan.Exclude...)
	}
	return src
}
