// Package watcher turns fsnotify events under watched roots into debounced batches of
// changed files.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/wembed/internal/scanner"
)

const defaultDebounce = 400 * time.Millisecond

// Handler receives one batch of changed files, sorted. Returning an error for which
// the retry predicate holds puts the batch back for the next flush.
type Handler func(ctx context.Context, paths []string) error

// Options controls which files are reported.
type Options struct {
	// Extensions filters files by suffix; empty means all.
	Extensions []string
	Recursive  bool
	Debounce   time.Duration
	// IgnoreDirs are directory names that are never watched or synced.
	IgnoreDirs []string
}

// Watcher watches directories and hands changed files to a Handler.
type Watcher struct {
	roots     []string
	opts      Options
	handle    Handler
	retry     func(error) bool
	watcher   *fsnotify.Watcher
	mu        sync.Mutex
	pending   map[string]struct{}
	timer     *time.Timer
	flushMu   sync.Mutex
	rootPaths map[string][]string
	ctx       context.Context
	done      chan struct{}
	started   bool
	stopOnce  sync.Once
	logger    *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for watch events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithRetry sets the predicate deciding which handler errors requeue a batch.
func WithRetry(fn func(error) bool) Option {
	return func(w *Watcher) { w.retry = fn }
}

// New creates a watcher for roots. Nothing is watched until Start.
func New(roots []string, opts Options, handle Handler, options ...Option) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	w := &Watcher{
		roots:     cleanRoots(roots),
		opts:      opts,
		handle:    handle,
		retry:     func(error) bool { return false },
		pending:   make(map[string]struct{}),
		rootPaths: make(map[string][]string),
		done:      make(chan struct{}),
		logger:    zap.NewNop(),
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

func cleanRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			out = append(out, filepath.Clean(abs))
		}
	}
	return out
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	w.started = true
	w.ctx = ctx
	w.logger.Debug("Watcher starting",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.opts.Extensions),
		zap.Bool("recursive", w.opts.Recursive),
		zap.Duration("debounce", w.opts.Debounce),
	)
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = w.watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	root, ok := w.rootOf(path)
	if !ok || w.ignored(root, path) {
		return
	}
	w.logger.Debug("Watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if info.Mode().IsRegular() && w.matchExtension(path) {
			w.enqueue(path)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.dequeue(path)
	}
}

// handleNewDirectory watches a directory that appeared under a root and queues its files.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	fw := w.watcher
	w.mu.Unlock()
	if fw == nil {
		return
	}
	if !w.opts.Recursive {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && w.skipDir(d.Name()) {
				return filepath.SkipDir
			}
			if err := fw.Add(path); err != nil {
				w.logger.Debug("Watcher failed to add directory", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		if d.Type().IsRegular() && w.matchExtension(path) {
			w.enqueue(path)
		}
		return nil
	})
}

// rootOf returns the watched root containing path.
func (w *Watcher) rootOf(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if root == path || inDir(root, path) {
			return root, true
		}
	}
	return "", false
}

// ignored reports whether any directory between root and path is skipped.
func (w *Watcher) ignored(root, path string) bool {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if w.skipDir(part) {
			return true
		}
	}
	return false
}

func (w *Watcher) skipDir(name string) bool {
	return slices.Contains(scanner.VCSDirs, name) || slices.Contains(w.opts.IgnoreDirs, name)
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) matchExtension(path string) bool {
	return matchExtension(path, w.opts.Extensions)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// enqueue adds path to the pending batch and restarts the debounce timer.
func (w *Watcher) enqueue(paths ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	for _, p := range paths {
		w.pending[p] = struct{}{}
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.Debounce, w.flush)
}

func (w *Watcher) dequeue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, path)
}

// flush hands the pending batch to the handler. Flushes never overlap.
func (w *Watcher) flush() {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	if len(w.pending) == 0 || !w.started {
		w.mu.Unlock()
		return
	}
	batch := make([]string, 0, len(w.pending))
	for p := range w.pending {
		batch = append(batch, p)
	}
	clear(w.pending)
	ctx := w.ctx
	w.mu.Unlock()

	slices.Sort(batch)
	w.logger.Debug("Watcher flushing batch", zap.Int("files", len(batch)))
	if w.handle == nil {
		return
	}
	if err := w.handle(ctx, batch); err != nil {
		if w.retry(err) {
			w.logger.Debug("Watcher batch deferred", zap.Int("files", len(batch)), zap.Error(err))
			w.enqueue(batch...)
			return
		}
		w.logger.Warn("Watcher batch failed", zap.Int("files", len(batch)), zap.Error(err))
	}
}

// Pending returns the number of files waiting for the next flush.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// AddDirectory adds a root directory to watch and optionally queues its existing files.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	if w.watcher == nil || slices.Contains(w.roots, abs) {
		w.mu.Unlock()
		return nil
	}
	if err := w.addRootLocked(abs); err != nil {
		w.mu.Unlock()
		return err
	}
	w.roots = append(w.roots, abs)
	w.mu.Unlock()
	w.logger.Debug("Watcher directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		w.enqueue(w.existingFiles(abs)...)
	}
	return nil
}

func (w *Watcher) addRootLocked(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "watch", Path: root, Err: fs.ErrInvalid}
	}
	var paths []string
	if w.opts.Recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if path != root && w.skipDir(d.Name()) {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(path); err != nil {
				return err
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if err := w.watcher.Add(root); err != nil {
			return err
		}
		paths = append(paths, root)
	}
	w.rootPaths[root] = paths
	return nil
}

// existingFiles lists the matching files already present under root.
func (w *Watcher) existingFiles(root string) []string {
	var files []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && (w.skipDir(d.Name()) || !w.opts.Recursive) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && w.matchExtension(path) {
			files = append(files, path)
		}
		return nil
	})
	return files
}

// RemoveDirectory stops watching the given root. Records already stored are kept.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	idx := slices.Index(w.roots, abs)
	if idx < 0 {
		return nil
	}
	for _, p := range w.rootPaths[abs] {
		_ = w.watcher.Remove(p)
	}
	delete(w.rootPaths, abs)
	w.roots = slices.Delete(w.roots, idx, idx+1)
	for p := range w.pending {
		if inDir(abs, p) {
			delete(w.pending, p)
		}
	}
	w.logger.Debug("Watcher directory removed", zap.String("path", abs))
	return nil
}

// Directories returns a copy of the current watched root directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles queues every matching file already present in the watched roots.
// Call it after Start to pick up files that changed while nothing was watching.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.enqueue(w.existingFiles(root)...)
	}
}

// Stop stops the watcher and drops any pending batch.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	clear(w.pending)
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
