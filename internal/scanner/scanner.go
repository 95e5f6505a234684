// Package scanner discovers files in a source and records them as scan entries.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/wembed/internal/fileid"
	"github.com/hyperjump/wembed/internal/models"
	"github.com/hyperjump/wembed/internal/storage"
)

// Options controls discovery independently of a particular source.
type Options struct {
	// MaxFileSize is the hard limit; larger files are reported as too-large and never hashed.
	MaxFileSize     int64
	IgnoreDirs      []string
	VaultExtensions []string
	VaultMarker     string
	UseGitignore    bool
	// TrustMtime reuses the previous fingerprint when size and mtime are unchanged.
	TrustMtime bool
	Host       string
	User       string
}

// Summary is the result of one scan pass.
type Summary struct {
	Run     *models.ScanRun     `json:"run"`
	Entries []*models.ScanEntry `json:"-"`
	OK      int                 `json:"ok"`
}

// Scanner walks sources. It is safe to reuse across scans.
type Scanner struct {
	store  storage.Store
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger for the scanner.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) {
		s.logger = l
	}
}

// New returns a scanner. store may be nil, in which case nothing is persisted and
// every file is hashed and reported as ok.
func New(store storage.Store, opts Options, options ...Option) *Scanner {
	s := &Scanner{store: store, opts: opts, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Scan walks src, persists a Scan Run and every ok or failed entry, and returns the summary.
// A missing root fails before anything is written.
func (s *Scanner) Scan(ctx context.Context, src models.SourceDescriptor) (*Summary, error) {
	src = src.Clone()
	plan, err := s.plan(src)
	if err != nil {
		return nil, err
	}
	run := &models.ScanRun{
		Root:      plan.root,
		Name:      src.DisplayName(),
		Kind:      src.Kind,
		StartedAt: s.now(),
		Host:      s.opts.Host,
		User:      s.opts.User,
		Options:   s.runOptions(src),
	}
	if s.store != nil {
		if err := s.store.CreateScanRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to record scan run: %w", err)
		}
	}
	summary := &Summary{Run: run}

	var walkErr error
	for entry, err := range s.entries(ctx, src, plan) {
		if err != nil {
			walkErr = err
			break
		}
		entry.ScanID = run.ID
		summary.Entries = append(summary.Entries, entry)
		run.Entries++
		switch entry.Outcome {
		case models.OutcomeOK:
			summary.OK++
		case models.OutcomeUnchanged:
			run.Unchanged++
		case models.OutcomeFailed:
			run.Failed++
		case models.OutcomeTooLarge:
			run.TooLarge++
		}
		if !entry.Outcome.Persisted() || s.store == nil {
			continue
		}
		if err := s.store.CreateScanEntry(ctx, entry); err != nil {
			walkErr = fmt.Errorf("failed to record scan entry %s: %w", entry.Path, err)
			break
		}
		if entry.Outcome != models.OutcomeOK {
			continue
		}
		// Content seen before at this path is current again without being reprocessed.
		if err := s.store.MarkFileCurrent(ctx, entry.Path, entry.Fingerprint); err != nil {
			walkErr = fmt.Errorf("failed to mark %s current: %w", entry.Path, err)
			break
		}
	}

	run.FinishedAt = s.now()
	if s.store != nil {
		if err := s.store.FinishScanRun(context.WithoutCancel(ctx), run); err != nil && walkErr == nil {
			walkErr = fmt.Errorf("failed to finish scan run: %w", err)
		}
	}
	if s.logger != nil {
		s.logger.Info("Scan finished",
			zap.String("root", run.Root),
			zap.String("kind", string(run.Kind)),
			zap.Int("entries", run.Entries),
			zap.Int("ok", summary.OK),
			zap.Int("unchanged", run.Unchanged),
			zap.Int("failed", run.Failed),
			zap.Int("too_large", run.TooLarge),
			zap.Duration("duration", run.Duration()),
		)
	}
	return summary, walkErr
}

// Entries lazily yields one entry per candidate file. A missing root yields a single error.
// Nothing is persisted and entries carry no scan id.
func (s *Scanner) Entries(ctx context.Context, src models.SourceDescriptor) iter.Seq2[*models.ScanEntry, error] {
	src = src.Clone()
	plan, err := s.plan(src)
	if err != nil {
		return func(yield func(*models.ScanEntry, error) bool) {
			yield(nil, err)
		}
	}
	return s.entries(ctx, src, plan)
}

type scanPlan struct {
	root   string
	filter *Filter
}

func (s *Scanner) plan(src models.SourceDescriptor) (*scanPlan, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	p := &scanPlan{}
	if src.Root != "" {
		root, err := resolveRoot(src.Root)
		if err != nil {
			return nil, err
		}
		p.root = root
	}

	var skipDirs, extensions []string
	var ignore *IgnoreMatcher
	switch src.Kind {
	case models.SourceRepository:
		skipDirs = s.opts.IgnoreDirs
		extensions = src.Extensions
		if s.opts.UseGitignore {
			m, err := LoadIgnoreFile(filepath.Join(p.root, ".gitignore"))
			if err != nil {
				return nil, fmt.Errorf("failed to read .gitignore: %w", err)
			}
			ignore = m
		}
	case models.SourceVault:
		if s.opts.VaultMarker != "" {
			skipDirs = []string{s.opts.VaultMarker}
		}
		extensions = src.Extensions
		if len(extensions) == 0 {
			extensions = s.opts.VaultExtensions
		}
	case models.SourceList:
		extensions = src.Extensions
	}
	f, err := NewFilter(src.Include, src.Exclude, skipDirs, extensions, ignore)
	if err != nil {
		return nil, err
	}
	p.filter = f
	return p, nil
}

func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root %s: %w", root, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("scan root %s is not accessible: %w", root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("scan root %s is not a directory", root)
	}
	return abs, nil
}

func (s *Scanner) entries(ctx context.Context, src models.SourceDescriptor, p *scanPlan) iter.Seq2[*models.ScanEntry, error] {
	if src.Kind == models.SourceList {
		return s.listEntries(ctx, src, p)
	}
	return s.walkEntries(ctx, src, p)
}

func (s *Scanner) walkEntries(ctx context.Context, src models.SourceDescriptor, p *scanPlan) iter.Seq2[*models.ScanEntry, error] {
	return func(yield func(*models.ScanEntry, error) bool) {
		stopped := false
		err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if path == p.root {
				return walkErr
			}
			rel, err := filepath.Rel(p.root, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			if walkErr != nil {
				e := s.newEntry(src, p.root, path, rel)
				s.fail(e, walkErr)
				if !yield(e, nil) {
					stopped = true
					return filepath.SkipAll
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if p.filter.SkipDir(rel) || (src.MaxDepth > 0 && depth(rel) > src.MaxDepth) {
					return filepath.SkipDir
				}
				return nil
			}
			if src.MaxDepth > 0 && depth(rel)-1 > src.MaxDepth {
				return nil
			}
			if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
				return nil
			}
			if !p.filter.Allow(rel) {
				return nil
			}
			e := s.inspect(ctx, src, p.root, path, rel)
			if e == nil {
				return nil
			}
			if !yield(e, nil) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && !stopped {
			yield(nil, err)
		}
	}
}

func (s *Scanner) listEntries(ctx context.Context, src models.SourceDescriptor, p *scanPlan) iter.Seq2[*models.ScanEntry, error] {
	return func(yield func(*models.ScanEntry, error) bool) {
		seen := make(map[string]struct{}, len(src.Paths))
		for _, raw := range src.Paths {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			path := raw
			if !filepath.IsAbs(path) && p.root != "" {
				path = filepath.Join(p.root, path)
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}
			if resolved, err := filepath.EvalSymlinks(abs); err == nil {
				abs = resolved
			}
			if _, dup := seen[abs]; dup {
				continue
			}
			seen[abs] = struct{}{}

			rel := filepath.Base(abs)
			if p.root != "" {
				if r, err := filepath.Rel(p.root, abs); err == nil && !strings.HasPrefix(r, "..") {
					rel = filepath.ToSlash(r)
				}
			}
			if !p.filter.Allow(rel) {
				continue
			}
			e := s.inspect(ctx, src, p.root, abs, rel)
			if e == nil {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// inspect stats and fingerprints one candidate. It returns nil for symlinks to directories
// found during a walk.
func (s *Scanner) inspect(ctx context.Context, src models.SourceDescriptor, root, path, rel string) *models.ScanEntry {
	e := s.newEntry(src, root, path, rel)
	info, err := os.Stat(path)
	if err != nil {
		s.fail(e, err)
		return e
	}
	if info.IsDir() {
		if src.Kind != models.SourceList {
			return nil
		}
		s.fail(e, fmt.Errorf("%s is a directory", path))
		return e
	}
	e.Size = info.Size()
	e.ModTime = info.ModTime().UTC()
	if s.opts.MaxFileSize > 0 && e.Size > s.opts.MaxFileSize {
		e.Outcome = models.OutcomeTooLarge
		e.Error = fmt.Sprintf("size %d exceeds limit %d", e.Size, s.opts.MaxFileSize)
		return e
	}

	latest := s.latest(ctx, path)
	if latest != nil && s.opts.TrustMtime && latest.Size == e.Size && latest.ModTime.Equal(e.ModTime) {
		e.Fingerprint = latest.Fingerprint
	} else {
		fp, _, err := fileid.FingerprintFile(path)
		if err != nil {
			s.fail(e, err)
			return e
		}
		e.Fingerprint = fp
	}
	if latest != nil && latest.Fingerprint == e.Fingerprint {
		e.Outcome = models.OutcomeUnchanged
	}
	return e
}

// latest returns the most recent ok entry for path, or nil.
func (s *Scanner) latest(ctx context.Context, path string) *models.ScanEntry {
	if s.store == nil {
		return nil
	}
	e, err := s.store.LatestScanEntry(ctx, path)
	if err != nil {
		if !storage.IsNotFound(err) && s.logger != nil {
			s.logger.Warn("Failed to look up previous scan entry", zap.String("path", path), zap.Error(err))
		}
		return nil
	}
	if e.Outcome != models.OutcomeOK || e.Fingerprint == "" {
		return nil
	}
	return e
}

func (s *Scanner) newEntry(src models.SourceDescriptor, root, path, rel string) *models.ScanEntry {
	return &models.ScanEntry{
		Path:         path,
		RelativePath: rel,
		SourceKind:   src.Kind,
		SourceRoot:   root,
		SourceName:   src.DisplayName(),
		DiscoveredAt: s.now(),
		Outcome:      models.OutcomeOK,
	}
}

func (s *Scanner) fail(e *models.ScanEntry, err error) {
	e.Outcome = models.OutcomeFailed
	e.Error = fmt.Sprintf("%s: %v", models.ReasonDiscovery, err)
	if s.logger != nil {
		s.logger.Warn("Discovery failed", zap.String("path", e.Path), zap.Error(err))
	}
}

func (s *Scanner) runOptions(src models.SourceDescriptor) map[string]string {
	opts := map[string]string{
		"max_file_size": strconv.FormatInt(s.opts.MaxFileSize, 10),
		"use_gitignore": strconv.FormatBool(s.opts.UseGitignore),
		"trust_mtime":   strconv.FormatBool(s.opts.TrustMtime),
	}
	if len(src.Include) > 0 {
		opts["include"] = strings.Join(src.Include, ",")
	}
	if len(src.Exclude) > 0 {
		opts["exclude"] = strings.Join(src.Exclude, ",")
	}
	if src.MaxDepth > 0 {
		opts["max_depth"] = strconv.Itoa(src.MaxDepth)
	}
	if src.Kind == models.SourceList {
		opts["paths"] = strconv.Itoa(len(src.Paths))
	}
	return opts
}

func depth(rel string) int {
	return strings.Count(rel, "/") + 1
}

// DiscoverRoots returns every directory under base that contains marker (".git" for
// repositories, ".obsidian" for vaults). Discovered roots are not searched further.
func DiscoverRoots(base, marker string) ([]string, error) {
	base, err := resolveRoot(base)
	if err != nil {
		return nil, err
	}
	var roots []string
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) && path != base {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == marker || (path != base && isSkippedWhileDiscovering(d.Name())) {
			return filepath.SkipDir
		}
		if _, err := os.Stat(filepath.Join(path, marker)); err == nil {
			roots = append(roots, path)
			return filepath.SkipDir
		}
		return nil
	})
	return roots, err
}

func isSkippedWhileDiscovering(name string) bool {
	for _, d := range VCSDirs {
		if name == d {
			return true
		}
	}
	return name == "node_modules"
}
