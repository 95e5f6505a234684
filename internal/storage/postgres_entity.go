package storage

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"

	"github.com/hyperjump/wembed/internal/models"
)

type scanRunEntity struct {
	ID         string            `gorm:"column:id;type:text;primaryKey"`
	RootPath   string            `gorm:"column:root_path;type:text;not null"`
	Name       string            `gorm:"column:name;type:text"`
	Kind       string            `gorm:"column:kind;type:text;not null"`
	StartedAt  time.Time         `gorm:"column:started_at;not null"`
	FinishedAt *time.Time        `gorm:"column:finished_at"`
	Host       string            `gorm:"column:host;type:text"`
	UserName   string            `gorm:"column:user_name;type:text"`
	Options    datatypes.JSONMap `gorm:"column:options"`
	Entries    int               `gorm:"column:entries"`
	Unchanged  int               `gorm:"column:unchanged"`
	Failed     int               `gorm:"column:failed"`
	TooLarge   int               `gorm:"column:too_large"`
}

func (scanRunEntity) TableName() string { return "scan_runs" }

type scanEntryEntity struct {
	ID           string    `gorm:"column:id;type:text;primaryKey"`
	ScanID       string    `gorm:"column:scan_id;type:text;not null;index"`
	Path         string    `gorm:"column:path;type:text;not null;index:idx_scan_entries_path,priority:1"`
	RelativePath string    `gorm:"column:relative_path;type:text"`
	SourceKind   string    `gorm:"column:source_kind;type:text;not null"`
	SourceRoot   string    `gorm:"column:source_root;type:text"`
	SourceName   string    `gorm:"column:source_name;type:text"`
	DiscoveredAt time.Time `gorm:"column:discovered_at;not null;index:idx_scan_entries_path,priority:2"`
	Fingerprint  string    `gorm:"column:fingerprint;type:text"`
	Size         int64     `gorm:"column:size"`
	ModTime      time.Time `gorm:"column:mod_time"`
	Outcome      string    `gorm:"column:outcome;type:text;not null"`
	Error        string    `gorm:"column:error;type:text"`
}

func (scanEntryEntity) TableName() string { return "scan_entries" }

type fileRecordEntity struct {
	ID              string    `gorm:"column:id;type:text;primaryKey"`
	Path            string    `gorm:"column:path;type:text;not null;uniqueIndex:idx_file_records_identity,priority:1"`
	RelativePath    string    `gorm:"column:relative_path;type:text"`
	SourceKind      string    `gorm:"column:source_kind;type:text"`
	SourceRoot      string    `gorm:"column:source_root;type:text"`
	SourceName      string    `gorm:"column:source_name;type:text"`
	Name            string    `gorm:"column:name;type:text"`
	Suffix          string    `gorm:"column:suffix;type:text"`
	Fingerprint     string    `gorm:"column:fingerprint;type:text;not null;uniqueIndex:idx_file_records_identity,priority:2;index"`
	Size            int64     `gorm:"column:size"`
	Mode            int64     `gorm:"column:mode"`
	ModTime         time.Time `gorm:"column:mod_time"`
	MimeType        string    `gorm:"column:mime_type;type:text"`
	Kind            string    `gorm:"column:kind;type:text"`
	Language        string    `gorm:"column:language;type:text"`
	Content         []byte    `gorm:"column:content;type:bytea"`
	HasContent      bool      `gorm:"column:has_content"`
	Preview         string    `gorm:"column:preview;type:text"`
	LineCount       int       `gorm:"column:line_count"`
	Generation      int       `gorm:"column:generation;not null"`
	Eligible        bool      `gorm:"column:eligible"`
	Status          string    `gorm:"column:status;type:text;not null;index"`
	FailedStage     string    `gorm:"column:failed_stage;type:text"`
	FailureReason   string    `gorm:"column:failure_reason;type:text"`
	Error           string    `gorm:"column:error;type:text"`
	Reprocessed     int       `gorm:"column:reprocessed"`
	Host            string    `gorm:"column:host;type:text"`
	UserName        string    `gorm:"column:user_name;type:text"`
	FirstSeenAt     time.Time `gorm:"column:first_seen_at;not null"`
	LastProcessedAt time.Time `gorm:"column:last_processed_at;not null"`
	CurrentAt       time.Time `gorm:"column:current_at;not null;default:CURRENT_TIMESTAMP"`
}

func (fileRecordEntity) TableName() string { return "file_records" }

type documentEntity struct {
	ID             string     `gorm:"column:id;type:text;primaryKey"`
	FileID         string     `gorm:"column:file_id;type:text;not null;index"`
	Fingerprint    string     `gorm:"column:fingerprint;type:text;not null"`
	Converter      string     `gorm:"column:converter;type:text"`
	ChunkSize      int        `gorm:"column:chunk_size"`
	ChunkOverlap   int        `gorm:"column:chunk_overlap"`
	EmbeddingModel string     `gorm:"column:embedding_model;type:text"`
	Stage          string     `gorm:"column:stage;type:text;not null"`
	FailureReason  string     `gorm:"column:failure_reason;type:text"`
	Error          string     `gorm:"column:error;type:text"`
	ReuseOf        string     `gorm:"column:reuse_of;type:text"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;not null"`
	SupersededAt   *time.Time `gorm:"column:superseded_at"`
}

func (documentEntity) TableName() string { return "documents" }

type chunkEntity struct {
	ID          string    `gorm:"column:id;type:text;primaryKey"`
	DocumentID  string    `gorm:"column:document_id;type:text;not null;uniqueIndex:idx_chunks_position,priority:1"`
	ChunkIndex  int       `gorm:"column:chunk_index;not null;uniqueIndex:idx_chunks_position,priority:2"`
	Text        string    `gorm:"column:text;type:text;not null"`
	EmbeddingID string    `gorm:"column:embedding_id;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func (chunkEntity) TableName() string { return "chunks" }

type embeddingEntity struct {
	ID         string          `gorm:"column:id;type:text;primaryKey"`
	ChunkID    string          `gorm:"column:chunk_id;type:text;not null;index"`
	Model      string          `gorm:"column:model;type:text;not null"`
	Dimensions int             `gorm:"column:dimensions;not null"`
	Vector     pgvector.Vector `gorm:"column:vector;type:vector;not null"`
	CreatedAt  time.Time       `gorm:"column:created_at;not null"`
}

func (embeddingEntity) TableName() string { return "embeddings" }

func newScanRunEntity(r *models.ScanRun) *scanRunEntity {
	opts := datatypes.JSONMap{}
	for k, v := range r.Options {
		opts[k] = v
	}
	var finished *time.Time
	if !r.FinishedAt.IsZero() {
		t := r.FinishedAt
		finished = &t
	}
	return &scanRunEntity{
		ID: r.ID, RootPath: r.Root, Name: r.Name, Kind: string(r.Kind),
		StartedAt: r.StartedAt, FinishedAt: finished, Host: r.Host, UserName: r.User,
		Options: opts, Entries: r.Entries, Unchanged: r.Unchanged, Failed: r.Failed, TooLarge: r.TooLarge,
	}
}

func newScanEntryEntity(e *models.ScanEntry) *scanEntryEntity {
	return &scanEntryEntity{
		ID: e.ID, ScanID: e.ScanID, Path: e.Path, RelativePath: e.RelativePath,
		SourceKind: string(e.SourceKind), SourceRoot: e.SourceRoot, SourceName: e.SourceName,
		DiscoveredAt: e.DiscoveredAt, Fingerprint: e.Fingerprint, Size: e.Size, ModTime: e.ModTime,
		Outcome: string(e.Outcome), Error: e.Error,
	}
}

func (e *scanEntryEntity) model() *models.ScanEntry {
	return &models.ScanEntry{
		ID: e.ID, ScanID: e.ScanID, Path: e.Path, RelativePath: e.RelativePath,
		SourceKind: models.SourceKind(e.SourceKind), SourceRoot: e.SourceRoot, SourceName: e.SourceName,
		DiscoveredAt: e.DiscoveredAt.UTC(), Fingerprint: e.Fingerprint, Size: e.Size, ModTime: e.ModTime.UTC(),
		Outcome: models.ScanOutcome(e.Outcome), Error: e.Error,
	}
}

func newFileRecordEntity(r *models.FileRecord) *fileRecordEntity {
	return &fileRecordEntity{
		ID: r.ID, Path: r.Path, RelativePath: r.RelativePath, SourceKind: string(r.SourceKind),
		SourceRoot: r.SourceRoot, SourceName: r.SourceName, Name: r.Name, Suffix: r.Suffix,
		Fingerprint: r.Fingerprint, Size: r.Size, Mode: int64(r.Mode), ModTime: r.ModTime,
		MimeType: r.MimeType, Kind: string(r.Kind), Language: r.Language, Content: r.Content,
		HasContent: r.HasContent, Preview: r.Preview, LineCount: r.LineCount, Generation: r.Generation,
		Eligible: r.Eligible, Status: string(r.Status), FailedStage: string(r.FailedStage),
		FailureReason: string(r.FailureReason), Error: r.Error, Reprocessed: r.Reprocessed,
		Host: r.Host, UserName: r.User, FirstSeenAt: r.FirstSeenAt, LastProcessedAt: r.LastProcessedAt,
		CurrentAt: r.CurrentAt,
	}
}

func (e *fileRecordEntity) model() *models.FileRecord {
	return &models.FileRecord{
		ID: e.ID, Path: e.Path, RelativePath: e.RelativePath, SourceKind: models.SourceKind(e.SourceKind),
		SourceRoot: e.SourceRoot, SourceName: e.SourceName, Name: e.Name, Suffix: e.Suffix,
		Fingerprint: e.Fingerprint, Size: e.Size, Mode: uint32(e.Mode), ModTime: e.ModTime.UTC(),
		MimeType: e.MimeType, Kind: models.FileKind(e.Kind), Language: e.Language, Content: e.Content,
		HasContent: e.HasContent, Preview: e.Preview, LineCount: e.LineCount, Generation: e.Generation,
		Eligible: e.Eligible, Status: models.FileStatus(e.Status), FailedStage: models.FileStatus(e.FailedStage),
		FailureReason: models.FailureReason(e.FailureReason), Error: e.Error, Reprocessed: e.Reprocessed,
		Host: e.Host, User: e.UserName, FirstSeenAt: e.FirstSeenAt.UTC(), LastProcessedAt: e.LastProcessedAt.UTC(),
		CurrentAt: e.CurrentAt.UTC(),
	}
}

func newDocumentEntity(d *models.DocumentRecord) *documentEntity {
	return &documentEntity{
		ID: d.ID, FileID: d.FileID, Fingerprint: d.Fingerprint, Converter: d.Converter,
		ChunkSize: d.ChunkSize, ChunkOverlap: d.ChunkOverlap, EmbeddingModel: d.EmbeddingModel,
		Stage: string(d.Stage), FailureReason: string(d.FailureReason), Error: d.Error, ReuseOf: d.ReuseOf,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt, SupersededAt: d.SupersededAt,
	}
}

func (e *documentEntity) model() *models.DocumentRecord {
	d := &models.DocumentRecord{
		ID: e.ID, FileID: e.FileID, Fingerprint: e.Fingerprint, Converter: e.Converter,
		ChunkSize: e.ChunkSize, ChunkOverlap: e.ChunkOverlap, EmbeddingModel: e.EmbeddingModel,
		Stage: models.DocumentStage(e.Stage), FailureReason: models.FailureReason(e.FailureReason),
		Error: e.Error, ReuseOf: e.ReuseOf, CreatedAt: e.CreatedAt.UTC(), UpdatedAt: e.UpdatedAt.UTC(),
	}
	if e.SupersededAt != nil {
		t := e.SupersededAt.UTC()
		d.SupersededAt = &t
	}
	return d
}

func (e *chunkEntity) model() *models.ChunkRecord {
	return &models.ChunkRecord{
		ID: e.ID, DocumentID: e.DocumentID, Index: e.ChunkIndex, Text: e.Text,
		EmbeddingID: e.EmbeddingID, CreatedAt: e.CreatedAt.UTC(),
	}
}
