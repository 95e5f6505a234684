// Package runner composes the scan, process and document stages for one source.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/wembed/internal/models"
	"github.com/hyperjump/wembed/internal/pipeline"
	"github.com/hyperjump/wembed/internal/processor"
	"github.com/hyperjump/wembed/internal/scanner"
	"github.com/hyperjump/wembed/internal/storage"
)

// ErrBusy is returned by TryRun while another run holds the runner.
var ErrBusy = errors.New("a run is already in progress")

// Options selects how far a run goes.
type Options struct {
	// Force reprocesses complete documents from the start.
	Force bool
	// SkipDocuments stops after metadata extraction.
	SkipDocuments bool
}

// Result carries the summary of every stage that ran.
type Result struct {
	Source    models.SourceDescriptor `json:"source"`
	Scan      *scanner.Summary        `json:"scan"`
	Process   *models.BatchSummary    `json:"process"`
	Documents *models.BatchSummary    `json:"documents,omitempty"`
	Backend   string                  `json:"backend"`
	Duration  time.Duration           `json:"duration"`
}

// Runner owns one store and the stages built on it. Runs are serialized.
type Runner struct {
	store     storage.Store
	scanner   *scanner.Scanner
	processor *processor.Processor
	pipeline  *pipeline.Pipeline
	logger    *zap.Logger
	onStage   func(stage string)
	progress  pipeline.Progress
	closers   []func() error
	mu        sync.Mutex
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for the runner.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithStageHook calls fn as each stage begins.
func WithStageHook(fn func(stage string)) Option {
	return func(r *Runner) { r.onStage = fn }
}

// WithProgress reports document progress to pr. Only Build wires it into the pipeline.
func WithProgress(pr pipeline.Progress) Option {
	return func(r *Runner) { r.progress = pr }
}

// New composes already built stages. The caller keeps ownership of store.
func New(store storage.Store, sc *scanner.Scanner, proc *processor.Processor, pipe *pipeline.Pipeline, options ...Option) *Runner {
	r := &Runner{
		store:     store,
		scanner:   sc,
		processor: proc,
		pipeline:  pipe,
		logger:    zap.NewNop(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Store returns the store every stage writes to.
func (r *Runner) Store() storage.Store { return r.store }

// Scanner returns the discovery stage.
func (r *Runner) Scanner() *scanner.Scanner { return r.scanner }

// Processor returns the metadata stage.
func (r *Runner) Processor() *processor.Processor { return r.processor }

// Pipeline returns the document stage.
func (r *Runner) Pipeline() *pipeline.Pipeline { return r.pipeline }

// Run scans src, extracts metadata for what was found and drives the resulting
// File Records through the document pipeline. Per-file failures are counted in the
// summaries; the error is only set when a stage cannot continue.
func (r *Runner) Run(ctx context.Context, src models.SourceDescriptor, opts Options) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run(ctx, src, opts)
}

// TryRun is Run, except that it returns ErrBusy instead of waiting for a run in progress.
func (r *Runner) TryRun(ctx context.Context, src models.SourceDescriptor, opts Options) (*Result, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()
	return r.run(ctx, src, opts)
}

func (r *Runner) run(ctx context.Context, src models.SourceDescriptor, opts Options) (*Result, error) {
	start := time.Now()
	res := &Result{Source: src}
	defer func() {
		res.Backend = r.store.Backend()
		res.Duration = time.Since(start)
	}()

	r.stage("scan")
	scan, err := r.scanner.Scan(ctx, src)
	res.Scan = scan
	if err != nil {
		return res, fmt.Errorf("scan %s: %w", src.DisplayName(), err)
	}

	r.stage(processor.StageName)
	res.Process, err = r.processor.Process(ctx, scan.Entries)
	if err != nil {
		return res, fmt.Errorf("process %s: %w", src.DisplayName(), err)
	}
	if opts.SkipDocuments {
		return res, nil
	}

	ids, err := r.fileIDs(ctx, scan.Entries)
	if err != nil {
		return res, err
	}
	r.stage(pipeline.StageName)
	res.Documents, err = r.pipeline.Run(ctx, pipeline.RunOptions{Force: opts.Force, FileIDs: ids})
	if err != nil {
		return res, fmt.Errorf("documents %s: %w", src.DisplayName(), err)
	}

	r.logger.Info("Run finished",
		zap.String("source", src.DisplayName()),
		zap.String("backend", r.store.Backend()),
		zap.Int("scanned", len(scan.Entries)),
		zap.Int("processed", res.Process.Succeeded),
		zap.Int("documents", res.Documents.Succeeded),
		zap.Int("failed", res.Process.Failed+res.Documents.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (r *Runner) stage(name string) {
	if r.onStage != nil {
		r.onStage(name)
	}
}

// fileIDs resolves the File Records behind the resolvable entries of one scan.
func (r *Runner) fileIDs(ctx context.Context, entries []*models.ScanEntry) ([]string, error) {
	seen := make(map[string]struct{}, len(entries))
	var ids []string
	for _, e := range entries {
		if !e.Resolvable() {
			continue
		}
		rec, err := r.store.GetFileRecord(ctx, e.Path, e.Fingerprint)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", e.Path, err)
		}
		if _, ok := seen[rec.ID]; ok {
			continue
		}
		seen[rec.ID] = struct{}{}
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

// Close releases whatever Build opened, in reverse order.
func (r *Runner) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
