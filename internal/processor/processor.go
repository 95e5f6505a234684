// Package processor turns scan entries into File Records: it reads and classifies
// content, renders a markdown preview and stores one generation per (path, fingerprint).
package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/wembed/internal/models"
	"github.com/hyperjump/wembed/internal/storage"
)

// StageName labels processor batch summaries.
const StageName = "process"

// Options controls what is read and stored per file.
type Options struct {
	// ContentCeiling is the largest file whose full content is stored.
	ContentCeiling int64
	// PreviewBytes caps the content shown in the rendered preview.
	PreviewBytes int
	Host         string
	User         string
}

// Processor extracts metadata for scan entries.
type Processor struct {
	store  storage.Store
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger for the processor.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// New returns a processor writing to store.
func New(store storage.Store, opts Options, options ...Option) *Processor {
	if opts.ContentCeiling <= 0 {
		opts.ContentCeiling = 3 << 20
	}
	if opts.PreviewBytes <= 0 {
		opts.PreviewBytes = 4096
	}
	p := &Processor{
		store:  store,
		opts:   opts,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// ProcessPending processes every ok scan entry that has no usable File Record yet.
func (p *Processor) ProcessPending(ctx context.Context) (*models.BatchSummary, error) {
	entries, err := p.store.ListScanEntries(ctx, storage.ScanEntryFilter{Unresolved: true})
	if err != nil {
		return nil, fmt.Errorf("list unresolved entries: %w", err)
	}
	return p.Process(ctx, entries)
}

type outcome int

const (
	processed outcome = iota
	skipped
	failed
)

// Process handles entries in order. Failures are isolated to their entry and listed in
// the summary. On cancellation the summary so far is returned with the context error.
func (p *Processor) Process(ctx context.Context, entries []*models.ScanEntry) (*models.BatchSummary, error) {
	summary := models.NewBatchSummary(StageName)
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return summary.Finish(), err
		}
		summary.Total++
		key := e.Path + "\x00" + e.Fingerprint
		if !e.Resolvable() || seen[key] {
			summary.Skipped++
			continue
		}
		seen[key] = true

		switch p.processEntry(ctx, e, summary) {
		case processed:
			summary.Succeeded++
		case skipped:
			summary.Skipped++
		}
	}
	summary.Finish()
	p.logger.Info("Processing finished",
		zap.Int("total", summary.Total),
		zap.Int("processed", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration()),
	)
	return summary, nil
}

func (p *Processor) processEntry(ctx context.Context, e *models.ScanEntry, summary *models.BatchSummary) outcome {
	existing, err := p.store.GetFileRecord(ctx, e.Path, e.Fingerprint)
	switch {
	case err == nil && (existing.Status != models.StatusFailed || existing.FailedStage.InPipeline()):
		// Pipeline failures are retried by the pipeline, not re-extracted. Either way the
		// path may have reverted to this content, so it becomes current again.
		if err := p.store.MarkFileCurrent(ctx, e.Path, e.Fingerprint); err != nil {
			summary.AddFailure(e.Path, existing.ID, models.ReasonBackendOperation, err)
			p.logger.Warn("Failed to mark file record current", zap.String("path", e.Path), zap.Error(err))
			return failed
		}
		p.logger.Debug("Skipping already processed file", zap.String("path", e.Path), zap.String("status", string(existing.Status)))
		return skipped
	case err != nil && !storage.IsNotFound(err):
		summary.AddFailure(e.Path, "", models.ReasonBackendOperation, err)
		p.logger.Warn("File record lookup failed", zap.String("path", e.Path), zap.Error(err))
		return failed
	}

	rec, body, readErr := p.buildRecord(e)
	if existing != nil {
		rec.ID = existing.ID
		rec.FirstSeenAt = existing.FirstSeenAt
		rec.Reprocessed = existing.Reprocessed
	}
	if readErr != nil {
		_ = rec.Fail(models.ReasonRead, readErr)
	}

	err = p.store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.UpsertFileRecord(ctx, rec); err != nil {
			return err
		}
		if readErr != nil || rec.Kind == models.KindBinary {
			return nil
		}
		// The preview names the generation, which is only known once stored.
		rec.Preview = renderPreview(rec, body, p.opts.PreviewBytes, p.now())
		return tx.UpsertFileRecord(ctx, rec)
	})
	if err != nil {
		summary.AddFailure(e.Path, rec.ID, models.ReasonBackendOperation, err)
		p.logger.Warn("Failed to store file record", zap.String("path", e.Path), zap.Error(err))
		return failed
	}
	if readErr != nil {
		summary.AddFailure(e.Path, rec.ID, models.ReasonRead, readErr)
		p.logger.Warn("Failed to read file", zap.String("path", e.Path), zap.Error(readErr))
		return failed
	}
	p.logger.Debug("File processed",
		zap.String("path", rec.Path),
		zap.String("kind", string(rec.Kind)),
		zap.Int("generation", rec.Generation),
		zap.Bool("eligible", rec.Eligible),
	)
	return processed
}

// buildRecord reads the entry's file and returns the record with the text to show in
// its preview. The record is always returned, carrying whatever metadata was gathered
// before a read error.
func (p *Processor) buildRecord(e *models.ScanEntry) (*models.FileRecord, string, error) {
	name := filepath.Base(e.Path)
	rec := &models.FileRecord{
		Path:         e.Path,
		RelativePath: e.RelativePath,
		SourceKind:   e.SourceKind,
		SourceRoot:   e.SourceRoot,
		SourceName:   e.SourceName,
		Name:         name,
		Suffix:       strings.ToLower(filepath.Ext(name)),
		Fingerprint:  e.Fingerprint,
		Size:         e.Size,
		ModTime:      e.ModTime,
		Status:       models.StatusProcessed,
		Host:         p.opts.Host,
		User:         p.opts.User,
	}

	data, err := readFile(e.Path, e.Fingerprint, p.opts.ContentCeiling, p.opts.PreviewBytes)
	if err != nil {
		return rec, "", err
	}
	rec.Size = data.info.Size()
	rec.Mode = uint32(data.info.Mode())
	rec.ModTime = data.info.ModTime().UTC()

	ft, mimeType := Classify(name, data.head)
	rec.Kind = ft.Kind
	rec.Language = ft.Language
	rec.MimeType = mimeType
	rec.Content = data.content
	rec.LineCount = lineCount(data.content)
	rec.Eligible = rec.Kind != models.KindBinary && len(rec.Content) > 0

	if !rec.Kind.TextLike() {
		return rec, "", nil
	}
	sample := data.content
	if sample == nil {
		sample = validPrefix(data.head)
	}
	if !utf8.Valid(sample) && !textMIME(mimeType) {
		rec.Content = nil
		rec.Eligible = false
		return rec, "", fmt.Errorf("%s content is not valid UTF-8 (sniffed %s)", rec.Kind, mimeType)
	}
	return rec, strings.ToValidUTF8(string(sample), "�"), nil
}
