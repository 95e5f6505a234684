// Package pipeline converts, chunks and embeds eligible File Records, resuming
// interrupted or failed work where it stopped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/wembed/internal/convert"
	"github.com/hyperjump/wembed/internal/embedding"
	"github.com/hyperjump/wembed/internal/models"
	"github.com/hyperjump/wembed/internal/storage"
)

// StageName labels pipeline batch summaries.
const StageName = "documents"

// Options controls chunking and reuse.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// ReuseByFingerprint aliases the complete document of another file with the same content.
	ReuseByFingerprint bool
}

// RunOptions selects what Run processes.
type RunOptions struct {
	// Force supersedes live documents and runs every selected file from the start.
	Force bool
	// Limit caps the number of files considered; 0 means all.
	Limit int
	// FileIDs restricts the run to these File Records instead of every eligible one.
	FileIDs []string
}

// Pipeline drives File Records through conversion, chunking and embedding.
type Pipeline struct {
	store     storage.Store
	converter convert.Converter
	embedder  embedding.Embedder
	chunker   *Chunker
	opts      Options
	logger    *zap.Logger
	progress  Progress
	now       func() time.Time
}

// Progress is told how many files a Run will consider and when each one is done.
type Progress interface {
	Start(total int)
	Increment()
	Finish()
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for the pipeline.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithProgress reports per-file progress of Run to pr.
func WithProgress(pr Progress) Option {
	return func(p *Pipeline) { p.progress = pr }
}

// New returns a pipeline. converter is usually convert.Default().
func New(store storage.Store, converter convert.Converter, embedder embedding.Embedder, opts Options, options ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		converter: converter,
		embedder:  embedder,
		chunker:   NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		opts:      opts,
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	p.opts.ChunkSize, p.opts.ChunkOverlap = p.chunker.chunkSize, p.chunker.chunkOverlap
	for _, opt := range options {
		opt(p)
	}
	return p
}

// stageError is a failure recorded on the File Record.
type stageError struct {
	reason models.FailureReason
	err    error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.reason, e.err) }
func (e *stageError) Unwrap() error { return e.err }

// Run processes the current generation of every eligible file. On cancellation the
// summary so far is returned with the context error.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*models.BatchSummary, error) {
	summary := models.NewBatchSummary(StageName)
	ids := opts.FileIDs
	if len(ids) == 0 {
		recs, err := p.store.ListFileRecords(ctx, storage.FileRecordFilter{
			EligibleOnly: true,
			LatestOnly:   true,
			Limit:        opts.Limit,
		})
		if err != nil {
			return summary.Finish(), fmt.Errorf("list eligible files: %w", err)
		}
		for _, rec := range recs {
			ids = append(ids, rec.ID)
		}
	} else if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	if p.progress != nil {
		p.progress.Start(len(ids))
		defer p.progress.Finish()
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary.Finish(), err
		}
		if err := p.processOne(ctx, id, opts.Force, summary); err != nil {
			return summary.Finish(), err
		}
		if p.progress != nil {
			p.progress.Increment()
		}
	}
	summary.Finish()
	p.logger.Info("Document processing finished",
		zap.Int("total", summary.Total),
		zap.Int("completed", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration()),
	)
	return summary, nil
}

// ProcessFile runs one File Record through the pipeline.
func (p *Pipeline) ProcessFile(ctx context.Context, fileID string, force bool) (*models.BatchSummary, error) {
	summary := models.NewBatchSummary(StageName)
	if _, err := p.store.GetFileRecordByID(ctx, fileID); err != nil {
		return summary.Finish(), err
	}
	err := p.processOne(ctx, fileID, force, summary)
	return summary.Finish(), err
}

// processOne records the outcome for one file in summary. Only context errors are returned.
func (p *Pipeline) processOne(ctx context.Context, fileID string, force bool, summary *models.BatchSummary) error {
	summary.Total++
	rec, err := p.store.GetFileRecordByID(ctx, fileID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		summary.AddFailure("", fileID, models.ReasonBackendOperation, err)
		return nil
	}
	if !eligible(rec, force) {
		summary.Skipped++
		return nil
	}

	err = p.drive(ctx, rec, force)
	var se *stageError
	switch {
	case err == nil:
		summary.Succeeded++
		p.logger.Debug("Document complete", zap.String("path", rec.Path), zap.String("file_id", rec.ID))
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.As(err, &se):
		summary.AddFailure(rec.Path, rec.ID, se.reason, se.err)
		p.logger.Warn("Document processing failed",
			zap.String("path", rec.Path),
			zap.String("reason", string(se.reason)),
			zap.Error(se.err),
		)
	default:
		summary.AddFailure(rec.Path, rec.ID, models.ReasonBackendOperation, err)
		p.logger.Warn("Document processing failed", zap.String("path", rec.Path), zap.Error(err))
	}
	return nil
}

// eligible reports whether rec should be driven. Complete files need force; files that
// failed before the pipeline (read errors) are never picked up here.
func eligible(rec *models.FileRecord, force bool) bool {
	if !rec.Eligible {
		return false
	}
	switch {
	case rec.Status == models.StatusComplete:
		return force
	case rec.Status == models.StatusFailed:
		return rec.FailedStage.InPipeline()
	default:
		return rec.Status == models.StatusProcessed || rec.Status.InPipeline()
	}
}

// drive moves rec forward from wherever it stopped until it is complete or fails.
func (p *Pipeline) drive(ctx context.Context, rec *models.FileRecord, force bool) error {
	if force {
		if err := p.reset(ctx, rec); err != nil {
			return err
		}
	}
	doc, err := p.store.LiveDocument(ctx, rec.ID)
	if err != nil && !storage.IsNotFound(err) {
		return err
	}
	if doc != nil && doc.ReuseOf != "" {
		return p.complete(ctx, rec, doc)
	}

	if rec.Status == models.StatusProcessed {
		if err := rec.Advance(models.StatusPending); err != nil {
			return err
		}
		if err := p.store.UpdateFileStatus(ctx, rec); err != nil {
			return err
		}
	}
	if doc == nil && p.opts.ReuseByFingerprint && !force {
		reused, err := p.reuse(ctx, rec)
		if err != nil || reused {
			return err
		}
	}

	stage := rec.Status
	if stage == models.StatusFailed {
		stage = rec.FailedStage
	}
	if doc == nil || stage.Rank() < models.StatusEmbedding.Rank() {
		if doc, err = p.convertAndChunk(ctx, rec, doc); err != nil {
			return err
		}
	}
	if err := p.embed(ctx, rec, doc); err != nil {
		return err
	}
	return p.complete(ctx, rec, doc)
}

// reset supersedes the live document and sends rec back to pending.
func (p *Pipeline) reset(ctx context.Context, rec *models.FileRecord) error {
	return p.store.InTx(ctx, func(tx storage.Store) error {
		doc, err := tx.LiveDocument(ctx, rec.ID)
		switch {
		case err == nil:
			now := p.now()
			doc.SupersededAt = &now
			if err := tx.UpdateDocument(ctx, doc); err != nil {
				return err
			}
		case !storage.IsNotFound(err):
			return err
		}
		rec.ResetForReprocess()
		return tx.UpdateFileStatus(ctx, rec)
	})
}

// reuse aliases a complete document of another file with identical content, embedded
// with the same model and chunking. It reports whether rec is now complete.
func (p *Pipeline) reuse(ctx context.Context, rec *models.FileRecord) (bool, error) {
	canon, err := p.store.FindReusableDocument(ctx, rec.Fingerprint, rec.ID)
	if storage.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if canon.EmbeddingModel != p.embedder.ModelName() ||
		canon.ChunkSize != p.opts.ChunkSize || canon.ChunkOverlap != p.opts.ChunkOverlap {
		return false, nil
	}
	alias := &models.DocumentRecord{
		FileID:         rec.ID,
		Fingerprint:    rec.Fingerprint,
		Converter:      canon.Converter,
		ChunkSize:      canon.ChunkSize,
		ChunkOverlap:   canon.ChunkOverlap,
		EmbeddingModel: canon.EmbeddingModel,
		Stage:          models.StageReused,
		ReuseOf:        canon.ID,
	}
	if err := rec.Advance(models.StatusComplete); err != nil {
		return false, err
	}
	err = p.store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.CreateDocument(ctx, alias); err != nil {
			return err
		}
		return tx.UpdateFileStatus(ctx, rec)
	})
	if err != nil {
		return false, err
	}
	p.logger.Debug("Reused document by fingerprint",
		zap.String("path", rec.Path),
		zap.String("document", canon.ID),
	)
	return true, nil
}

func (p *Pipeline) convertAndChunk(ctx context.Context, rec *models.FileRecord, doc *models.DocumentRecord) (*models.DocumentRecord, error) {
	if doc == nil {
		doc = &models.DocumentRecord{
			FileID:         rec.ID,
			Fingerprint:    rec.Fingerprint,
			ChunkSize:      p.opts.ChunkSize,
			ChunkOverlap:   p.opts.ChunkOverlap,
			EmbeddingModel: p.embedder.ModelName(),
		}
	}
	doc.Stage, doc.FailureReason, doc.Error = models.StageConverting, "", ""
	// A retry of a chunking failure re-converts without moving the status backwards.
	if models.CanTransition(rec.Status, rec.FailedStage, models.StatusConverting) {
		if err := rec.Advance(models.StatusConverting); err != nil {
			return nil, err
		}
	}
	if err := p.saveProgress(ctx, rec, doc); err != nil {
		return nil, err
	}

	sd, err := p.converter.Convert(ctx, rec.Content, convert.Hint{
		Name:     rec.Name,
		Suffix:   rec.Suffix,
		MimeType: rec.MimeType,
		Kind:     rec.Kind,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, p.fail(ctx, rec, doc, models.ReasonConversion, err)
	}
	doc.Converter = sd.Converter

	if err := rec.Advance(models.StatusChunking); err != nil {
		return nil, err
	}
	doc.Stage = models.StageChunking
	if err := p.saveProgress(ctx, rec, doc); err != nil {
		return nil, err
	}
	texts := p.chunker.Chunk(sd)
	if len(texts) == 0 {
		return nil, p.fail(ctx, rec, doc, models.ReasonConversion, errors.New("document produced no chunks"))
	}
	chunks := make([]*models.ChunkRecord, len(texts))
	for i, text := range texts {
		chunks[i] = &models.ChunkRecord{DocumentID: doc.ID, Index: i, Text: text}
	}

	if err := rec.Advance(models.StatusEmbedding); err != nil {
		return nil, err
	}
	doc.Stage = models.StageEmbedding
	err = p.store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.CreateChunks(ctx, chunks); err != nil {
			return err
		}
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		return tx.UpdateFileStatus(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	p.logger.Debug("Document chunked",
		zap.String("path", rec.Path),
		zap.String("converter", doc.Converter),
		zap.Int("chunks", len(chunks)),
	)
	return doc, nil
}

// embed embeds every chunk that has no embedding yet, in index order.
func (p *Pipeline) embed(ctx context.Context, rec *models.FileRecord, doc *models.DocumentRecord) error {
	if rec.Status == models.StatusFailed {
		if err := rec.Advance(models.StatusEmbedding); err != nil {
			return err
		}
		doc.Stage, doc.FailureReason, doc.Error = models.StageEmbedding, "", ""
		if err := p.saveProgress(ctx, rec, doc); err != nil {
			return err
		}
	}
	chunks, err := p.store.ListChunks(ctx, doc.ID)
	if err != nil {
		return err
	}
	if err := models.ValidateChunkOrder(chunks); err != nil {
		return err
	}
	model := p.embedder.ModelName()
	for _, c := range chunks {
		if c.Embedded() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		vec, err := p.embedder.Embed(ctx, c.Text)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return p.fail(ctx, rec, doc, models.ReasonEmbedding, fmt.Errorf("chunk %d: %w", c.Index, err))
		}
		emb := &models.EmbeddingRecord{ChunkID: c.ID, Model: model, Dimensions: len(vec), Vector: vec}
		err = p.store.InTx(ctx, func(tx storage.Store) error {
			if err := tx.CreateEmbedding(ctx, emb); err != nil {
				return err
			}
			return tx.LinkEmbedding(ctx, c.ID, emb.ID)
		})
		if err != nil {
			return err
		}
		c.EmbeddingID = emb.ID
	}
	return nil
}

// complete marks rec complete once every chunk of its document, or of the document
// it aliases, links an embedding.
func (p *Pipeline) complete(ctx context.Context, rec *models.FileRecord, doc *models.DocumentRecord) error {
	if rec.Status == models.StatusComplete {
		return nil
	}
	source := doc.ID
	if doc.ReuseOf != "" {
		source = doc.ReuseOf
	}
	chunks, err := p.store.ListChunks(ctx, source)
	if err != nil {
		return err
	}
	if !models.DocumentComplete(chunks) {
		return fmt.Errorf("document %s is not fully embedded", source)
	}
	if err := rec.Advance(models.StatusComplete); err != nil {
		return err
	}
	return p.store.UpdateFileStatus(ctx, rec)
}

// fail records reason on both records and returns the matching stageError.
func (p *Pipeline) fail(ctx context.Context, rec *models.FileRecord, doc *models.DocumentRecord, reason models.FailureReason, cause error) error {
	doc.Stage = models.StageFailed
	doc.FailureReason = reason
	doc.Error = cause.Error()
	if rec.Status == models.StatusFailed {
		// Failed again while retrying; the failed stage is unchanged.
		rec.FailureReason, rec.Error = reason, cause.Error()
	} else if err := rec.Fail(reason, cause); err != nil {
		return err
	}
	if err := p.saveProgress(context.WithoutCancel(ctx), rec, doc); err != nil {
		return fmt.Errorf("record %s: %w", reason, err)
	}
	return &stageError{reason: reason, err: cause}
}

// saveProgress writes doc (creating it on first save) and the status of rec together.
func (p *Pipeline) saveProgress(ctx context.Context, rec *models.FileRecord, doc *models.DocumentRecord) error {
	return p.store.InTx(ctx, func(tx storage.Store) error {
		if doc.ID == "" {
			if err := tx.CreateDocument(ctx, doc); err != nil {
				return err
			}
		} else if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		return tx.UpdateFileStatus(ctx, rec)
	})
}
