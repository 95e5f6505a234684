// Package storage defines the record store and its local, remote and resolving implementations.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/wembed/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnreachable wraps errors caused by a backend that cannot be reached.
	ErrUnreachable = errors.New("backend unreachable")
)

// ScanEntryFilter selects scan entries.
type ScanEntryFilter struct {
	ScanID string
	// Unresolved keeps ok entries that have no non-failed File Record for their (path, fingerprint).
	Unresolved bool
	Limit      int
}

// FileRecordFilter selects File Records. Listed records never carry Content.
type FileRecordFilter struct {
	Path         string
	Statuses     []models.FileStatus
	EligibleOnly bool
	// LatestOnly keeps only the current generation of each path (see MarkFileCurrent).
	LatestOnly bool
	Limit      int
}

// Stats summarizes the contents of a store.
type Stats struct {
	Backend       string                      `json:"backend"`
	ScanRuns      int64                       `json:"scan_runs"`
	ScanEntries   int64                       `json:"scan_entries"`
	FileRecords   int64                       `json:"file_records"`
	Documents     int64                       `json:"documents"`
	Chunks        int64                       `json:"chunks"`
	Embeddings    int64                       `json:"embeddings"`
	FilesByStatus map[models.FileStatus]int64 `json:"files_by_status"`
}

// Store is the record store. Implementations must make UpsertFileRecord atomic per (path, fingerprint).
type Store interface {
	// Backend names the engine ("sqlite", "postgres").
	Backend() string
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	// InTx runs fn against a transactional view of the store; fn's error rolls back.
	InTx(ctx context.Context, fn func(Store) error) error

	CreateScanRun(ctx context.Context, run *models.ScanRun) error
	FinishScanRun(ctx context.Context, run *models.ScanRun) error
	CreateScanEntry(ctx context.Context, entry *models.ScanEntry) error
	LatestScanEntry(ctx context.Context, path string) (*models.ScanEntry, error)
	ListScanEntries(ctx context.Context, filter ScanEntryFilter) ([]*models.ScanEntry, error)

	GetFileRecord(ctx context.Context, path, fingerprint string) (*models.FileRecord, error)
	GetFileRecordByID(ctx context.Context, id string) (*models.FileRecord, error)
	UpsertFileRecord(ctx context.Context, rec *models.FileRecord) error
	UpdateFileStatus(ctx context.Context, rec *models.FileRecord) error
	// MarkFileCurrent makes the existing (path, fingerprint) generation the current one of
	// its path again, as when a file reverts to earlier content. It does nothing when no
	// such record exists. Upserts mark the written record current.
	MarkFileCurrent(ctx context.Context, path, fingerprint string) error
	ListFileRecords(ctx context.Context, filter FileRecordFilter) ([]*models.FileRecord, error)

	CreateDocument(ctx context.Context, doc *models.DocumentRecord) error
	GetDocument(ctx context.Context, id string) (*models.DocumentRecord, error)
	LiveDocument(ctx context.Context, fileID string) (*models.DocumentRecord, error)
	UpdateDocument(ctx context.Context, doc *models.DocumentRecord) error
	// FindReusableDocument returns a live, non-alias document of a complete File Record
	// with the given fingerprint, other than excludeFileID.
	FindReusableDocument(ctx context.Context, fingerprint, excludeFileID string) (*models.DocumentRecord, error)

	CreateChunks(ctx context.Context, chunks []*models.ChunkRecord) error
	ListChunks(ctx context.Context, documentID string) ([]*models.ChunkRecord, error)
	CreateEmbedding(ctx context.Context, emb *models.EmbeddingRecord) error
	LinkEmbedding(ctx context.Context, chunkID, embeddingID string) error
	GetEmbedding(ctx context.Context, id string) (*models.EmbeddingRecord, error)

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
