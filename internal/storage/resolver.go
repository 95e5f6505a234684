package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/wembed/internal/models"
)

// RemoteFactory opens the remote store. It is called at most once per Resolver.
type RemoteFactory func(ctx context.Context) (Store, error)

// Resolver routes every operation to the remote store when it is reachable and to the
// local store otherwise. An operation that fails because the remote became unreachable
// is retried once on the local store and the resolver stays on local afterwards.
type Resolver struct {
	mu           sync.Mutex
	local        Store
	factory      RemoteFactory
	remote       Store
	probed       bool
	fellBack     bool
	probeTimeout time.Duration
	logger       *zap.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger used for fallback warnings.
func WithResolverLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithProbeTimeout bounds the re-probe issued after an ambiguous remote failure.
func WithProbeTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// NewResolver returns a resolver over local and an optional remote factory.
// An inaccessible local store is fatal.
func NewResolver(ctx context.Context, local Store, factory RemoteFactory, opts ...ResolverOption) (*Resolver, error) {
	if local == nil {
		return nil, errors.New("local store is required")
	}
	if err := local.Ping(ctx); err != nil {
		return nil, fmt.Errorf("local store is not accessible: %w", err)
	}
	r := &Resolver{
		local:        local,
		factory:      factory,
		probeTimeout: 3 * time.Second,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Options configures Open.
type Options struct {
	LocalPath    string
	RemoteDSN    string
	ProbeTimeout time.Duration
}

// Open builds the SQLite local store and, when a DSN is configured, a Postgres remote behind a Resolver.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Resolver, error) {
	local, err := NewSQLiteStore(opts.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	var factory RemoteFactory
	if opts.RemoteDSN != "" {
		timeout := opts.ProbeTimeout
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		factory = func(ctx context.Context) (Store, error) {
			return NewPostgresStore(ctx, opts.RemoteDSN, timeout)
		}
	}
	r, err := NewResolver(ctx, local, factory, WithResolverLogger(logger), WithProbeTimeout(opts.ProbeTimeout))
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	return r, nil
}

// active probes the remote on first use and returns the store operations should go to.
func (r *Resolver) active(ctx context.Context) Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.probed {
		r.probed = true
		if r.factory != nil {
			remote, err := r.factory(ctx)
			if err != nil {
				r.logger.Warn("Remote store unavailable, using local store",
					zap.String("local", r.local.Backend()), zap.Error(err))
				r.fellBack = true
			} else {
				r.remote = remote
				r.logger.Info("Using remote store", zap.String("backend", remote.Backend()))
			}
		}
	}
	if r.remote != nil && !r.fellBack {
		return r.remote
	}
	return r.local
}

// shouldFallBack decides whether a remote error warrants switching to local.
func (r *Resolver) shouldFallBack(ctx context.Context, remote Store, err error) bool {
	if IsNotFound(err) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return false
	}
	if IsUnreachableError(err) {
		return true
	}
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.probeTimeout)
	defer cancel()
	return remote.Ping(probeCtx) != nil
}

func (r *Resolver) fallBack(remote Store, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fellBack || r.remote != remote {
		return
	}
	r.fellBack = true
	r.logger.Warn("Remote store became unreachable, falling back to local store",
		zap.String("remote", remote.Backend()), zap.String("local", r.local.Backend()), zap.Error(err))
}

func (r *Resolver) do(ctx context.Context, fn func(Store) error) error {
	st := r.active(ctx)
	err := fn(st)
	if err == nil || st == r.local {
		return err
	}
	if !r.shouldFallBack(ctx, st, err) {
		return err
	}
	r.fallBack(st, err)
	return fn(r.local)
}

func resolve[T any](ctx context.Context, r *Resolver, fn func(Store) (T, error)) (T, error) {
	var out T
	err := r.do(ctx, func(st Store) error {
		v, err := fn(st)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Backend names the store currently in use.
func (r *Resolver) Backend() string {
	return r.active(context.Background()).Backend()
}

// FellBack reports whether a configured remote was abandoned for the local store.
func (r *Resolver) FellBack() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fellBack
}

// Local returns the local store.
func (r *Resolver) Local() Store { return r.local }

func (r *Resolver) Ping(ctx context.Context) error {
	return r.do(ctx, func(st Store) error { return st.Ping(ctx) })
}

// InTx runs the whole unit of work on one store; a fallback reruns it from the start on local.
func (r *Resolver) InTx(ctx context.Context, fn func(Store) error) error {
	return r.do(ctx, func(st Store) error { return st.InTx(ctx, fn) })
}

func (r *Resolver) CreateScanRun(ctx context.Context, run *models.ScanRun) error {
	return r.do(ctx, func(st Store) error { return st.CreateScanRun(ctx, run) })
}

func (r *Resolver) FinishScanRun(ctx context.Context, run *models.ScanRun) error {
	return r.do(ctx, func(st Store) error { return st.FinishScanRun(ctx, run) })
}

func (r *Resolver) CreateScanEntry(ctx context.Context, e *models.ScanEntry) error {
	return r.do(ctx, func(st Store) error { return st.CreateScanEntry(ctx, e) })
}

func (r *Resolver) LatestScanEntry(ctx context.Context, path string) (*models.ScanEntry, error) {
	return resolve(ctx, r, func(st Store) (*models.ScanEntry, error) { return st.LatestScanEntry(ctx, path) })
}

func (r *Resolver) ListScanEntries(ctx context.Context, f ScanEntryFilter) ([]*models.ScanEntry, error) {
	return resolve(ctx, r, func(st Store) ([]*models.ScanEntry, error) { return st.ListScanEntries(ctx, f) })
}

func (r *Resolver) GetFileRecord(ctx context.Context, path, fingerprint string) (*models.FileRecord, error) {
	return resolve(ctx, r, func(st Store) (*models.FileRecord, error) { return st.GetFileRecord(ctx, path, fingerprint) })
}

func (r *Resolver) GetFileRecordByID(ctx context.Context, id string) (*models.FileRecord, error) {
	return resolve(ctx, r, func(st Store) (*models.FileRecord, error) { return st.GetFileRecordByID(ctx, id) })
}

func (r *Resolver) UpsertFileRecord(ctx context.Context, rec *models.FileRecord) error {
	return r.do(ctx, func(st Store) error { return st.UpsertFileRecord(ctx, rec) })
}

func (r *Resolver) UpdateFileStatus(ctx context.Context, rec *models.FileRecord) error {
	return r.do(ctx, func(st Store) error { return st.UpdateFileStatus(ctx, rec) })
}

func (r *Resolver) MarkFileCurrent(ctx context.Context, path, fingerprint string) error {
	return r.do(ctx, func(st Store) error { return st.MarkFileCurrent(ctx, path, fingerprint) })
}

func (r *Resolver) ListFileRecords(ctx context.Context, f FileRecordFilter) ([]*models.FileRecord, error) {
	return resolve(ctx, r, func(st Store) ([]*models.FileRecord, error) { return st.ListFileRecords(ctx, f) })
}

func (r *Resolver) CreateDocument(ctx context.Context, d *models.DocumentRecord) error {
	return r.do(ctx, func(st Store) error { return st.CreateDocument(ctx, d) })
}

func (r *Resolver) GetDocument(ctx context.Context, id string) (*models.DocumentRecord, error) {
	return resolve(ctx, r, func(st Store) (*models.DocumentRecord, error) { return st.GetDocument(ctx, id) })
}

func (r *Resolver) LiveDocument(ctx context.Context, fileID string) (*models.DocumentRecord, error) {
	return resolve(ctx, r, func(st Store) (*models.DocumentRecord, error) { return st.LiveDocument(ctx, fileID) })
}

func (r *Resolver) UpdateDocument(ctx context.Context, d *models.DocumentRecord) error {
	return r.do(ctx, func(st Store) error { return st.UpdateDocument(ctx, d) })
}

func (r *Resolver) FindReusableDocument(ctx context.Context, fingerprint, excludeFileID string) (*models.DocumentRecord, error) {
	return resolve(ctx, r, func(st Store) (*models.DocumentRecord, error) {
		return st.FindReusableDocument(ctx, fingerprint, excludeFileID)
	})
}

func (r *Resolver) CreateChunks(ctx context.Context, chunks []*models.ChunkRecord) error {
	return r.do(ctx, func(st Store) error { return st.CreateChunks(ctx, chunks) })
}

func (r *Resolver) ListChunks(ctx context.Context, documentID string) ([]*models.ChunkRecord, error) {
	return resolve(ctx, r, func(st Store) ([]*models.ChunkRecord, error) { return st.ListChunks(ctx, documentID) })
}

func (r *Resolver) CreateEmbedding(ctx context.Context, e *models.EmbeddingRecord) error {
	return r.do(ctx, func(st Store) error { return st.CreateEmbedding(ctx, e) })
}

func (r *Resolver) LinkEmbedding(ctx context.Context, chunkID, embeddingID string) error {
	return r.do(ctx, func(st Store) error { return st.LinkEmbedding(ctx, chunkID, embeddingID) })
}

func (r *Resolver) GetEmbedding(ctx context.Context, id string) (*models.EmbeddingRecord, error) {
	return resolve(ctx, r, func(st Store) (*models.EmbeddingRecord, error) { return st.GetEmbedding(ctx, id) })
}

func (r *Resolver) Stats(ctx context.Context) (*Stats, error) {
	return resolve(ctx, r, func(st Store) (*Stats, error) { return st.Stats(ctx) })
}

// Close closes the remote, if one was opened, and the local store.
func (r *Resolver) Close() error {
	r.mu.Lock()
	remote := r.remote
	r.mu.Unlock()
	var errs []error
	if remote != nil {
		errs = append(errs, remote.Close())
	}
	errs = append(errs, r.local.Close())
	return errors.Join(errs...)
}

var _ Store = (*Resolver)(nil)
