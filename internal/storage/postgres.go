package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/hyperjump/wembed/internal/fileid"
	"github.com/hyperjump/wembed/internal/models"
)

// PostgresStore is the remote record store. Embedding vectors use the pgvector column type.
type PostgresStore struct {
	db   *gorm.DB
	inTx bool
}

// NewPostgresStore connects to dsn, checks reachability within timeout and migrates the schema.
// Connection failures are wrapped with ErrUnreachable.
func NewPostgresStore(ctx context.Context, dsn string, timeout time.Duration) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, classify(fmt.Errorf("open postgres: %w", err))
	}
	s := &PostgresStore{db: db}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return classify(fmt.Errorf("create vector extension: %w", err))
	}
	if err := db.AutoMigrate(&scanRunEntity{}, &scanEntryEntity{}, &fileRecordEntity{},
		&documentEntity{}, &chunkEntity{}, &embeddingEntity{}); err != nil {
		return classify(fmt.Errorf("migrate schema: %w", err))
	}
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_live
		ON documents (file_id) WHERE superseded_at IS NULL`).Error; err != nil {
		return classify(fmt.Errorf("create live document index: %w", err))
	}
	return nil
}

// Backend returns "postgres".
func (s *PostgresStore) Backend() string { return "postgres" }

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return classify(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return classify(fmt.Errorf("ping postgres: %w", err))
	}
	return nil
}

// InTx runs fn inside a transaction. Nested calls reuse the outer transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresStore{db: tx, inTx: true})
	})
	return classify(err)
}

func (s *PostgresStore) CreateScanRun(ctx context.Context, run *models.ScanRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(newScanRunEntity(run)).Error; err != nil {
		return classify(fmt.Errorf("create scan run: %w", err))
	}
	return nil
}

func (s *PostgresStore) FinishScanRun(ctx context.Context, run *models.ScanRun) error {
	res := s.db.WithContext(ctx).Model(&scanRunEntity{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
		"finished_at": run.FinishedAt,
		"entries":     run.Entries,
		"unchanged":   run.Unchanged,
		"failed":      run.Failed,
		"too_large":   run.TooLarge,
	})
	if res.Error != nil {
		return classify(fmt.Errorf("finish scan run: %w", res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("scan run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CreateScanEntry(ctx context.Context, e *models.ScanEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(newScanEntryEntity(e)).Error; err != nil {
		return classify(fmt.Errorf("create scan entry: %w", err))
	}
	return nil
}

func (s *PostgresStore) LatestScanEntry(ctx context.Context, path string) (*models.ScanEntry, error) {
	var ent scanEntryEntity
	err := s.db.WithContext(ctx).Where("path = ?", path).Order("discovered_at DESC").Take(&ent).Error
	if err != nil {
		return nil, notFoundOr(err, "scan entry for "+path)
	}
	return ent.model(), nil
}

func (s *PostgresStore) ListScanEntries(ctx context.Context, f ScanEntryFilter) ([]*models.ScanEntry, error) {
	q := s.db.WithContext(ctx).Model(&scanEntryEntity{})
	if f.ScanID != "" {
		q = q.Where("scan_id = ?", f.ScanID)
	}
	if f.Unresolved {
		q = q.Where("outcome = ?", string(models.OutcomeOK)).
			Where(`NOT EXISTS (SELECT 1 FROM file_records r WHERE r.path = scan_entries.path
				AND r.fingerprint = scan_entries.fingerprint AND r.status <> ?)`, string(models.StatusFailed))
	}
	q = q.Order("discovered_at, id")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var ents []scanEntryEntity
	if err := q.Find(&ents).Error; err != nil {
		return nil, classify(fmt.Errorf("list scan entries: %w", err))
	}
	out := make([]*models.ScanEntry, 0, len(ents))
	for i := range ents {
		out = append(out, ents[i].model())
	}
	return out, nil
}

func (s *PostgresStore) GetFileRecord(ctx context.Context, path, fingerprint string) (*models.FileRecord, error) {
	var ent fileRecordEntity
	err := s.db.WithContext(ctx).Where("path = ? AND fingerprint = ?", path, fingerprint).Take(&ent).Error
	if err != nil {
		return nil, notFoundOr(err, "file record "+path)
	}
	return ent.model(), nil
}

func (s *PostgresStore) GetFileRecordByID(ctx context.Context, id string) (*models.FileRecord, error) {
	var ent fileRecordEntity
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&ent).Error; err != nil {
		return nil, notFoundOr(err, "file record "+id)
	}
	return ent.model(), nil
}

var fileRecordMutableColumns = []string{
	"relative_path", "source_kind", "source_root", "source_name", "name", "suffix", "size", "mode",
	"mod_time", "mime_type", "kind", "language", "content", "has_content", "preview", "line_count",
	"eligible", "status", "failed_stage", "failure_reason", "error", "host", "user_name", "last_processed_at",
	"current_at",
}

const pgCurrentFileID = `SELECT g.id FROM file_records g WHERE g.path = file_records.path
	ORDER BY g.current_at DESC, g.generation DESC LIMIT 1`

// UpsertFileRecord serializes writers of the same path with a transaction-scoped advisory lock,
// so generation numbers stay dense per path.
func (s *PostgresStore) UpsertFileRecord(ctx context.Context, rec *models.FileRecord) error {
	return s.InTx(ctx, func(st Store) error {
		tx := st.(*PostgresStore).db.WithContext(ctx)
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", fileid.LockKey(rec.Path)).Error; err != nil {
			return classify(fmt.Errorf("lock %s: %w", rec.Path, err))
		}
		var next int
		if err := tx.Model(&fileRecordEntity{}).Where("path = ?", rec.Path).
			Select("COALESCE(MAX(generation), 0) + 1").Scan(&next).Error; err != nil {
			return classify(fmt.Errorf("next generation: %w", err))
		}
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		now := time.Now().UTC()
		if rec.FirstSeenAt.IsZero() {
			rec.FirstSeenAt = now
		}
		rec.LastProcessedAt = now
		rec.CurrentAt = now
		rec.HasContent = len(rec.Content) > 0
		rec.Generation = next

		ent := newFileRecordEntity(rec)
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "path"}, {Name: "fingerprint"}},
			DoUpdates: clause.AssignmentColumns(fileRecordMutableColumns),
		}).Create(ent).Error
		if err != nil {
			return classify(fmt.Errorf("upsert file record %s: %w", rec.Path, err))
		}

		var stored fileRecordEntity
		if err := tx.Select("id", "generation", "first_seen_at").
			Where("path = ? AND fingerprint = ?", rec.Path, rec.Fingerprint).Take(&stored).Error; err != nil {
			return classify(fmt.Errorf("reload file record %s: %w", rec.Path, err))
		}
		rec.ID = stored.ID
		rec.Generation = stored.Generation
		rec.FirstSeenAt = stored.FirstSeenAt.UTC()
		return nil
	})
}

func (s *PostgresStore) UpdateFileStatus(ctx context.Context, rec *models.FileRecord) error {
	rec.LastProcessedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&fileRecordEntity{}).Where("id = ?", rec.ID).Updates(map[string]interface{}{
		"status":            string(rec.Status),
		"failed_stage":      string(rec.FailedStage),
		"failure_reason":    string(rec.FailureReason),
		"error":             rec.Error,
		"reprocessed":       rec.Reprocessed,
		"last_processed_at": rec.LastProcessedAt,
	})
	if res.Error != nil {
		return classify(fmt.Errorf("update file status: %w", res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("file record %s: %w", rec.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) MarkFileCurrent(ctx context.Context, path, fingerprint string) error {
	err := s.db.WithContext(ctx).Model(&fileRecordEntity{}).
		Where("path = ? AND fingerprint = ? AND id <> ("+pgCurrentFileID+")", path, fingerprint).
		Update("current_at", time.Now().UTC()).Error
	if err != nil {
		return classify(fmt.Errorf("mark file record %s@%.12s current: %w", path, fingerprint, err))
	}
	return nil
}

func (s *PostgresStore) ListFileRecords(ctx context.Context, f FileRecordFilter) ([]*models.FileRecord, error) {
	q := s.db.WithContext(ctx).Model(&fileRecordEntity{}).Omit("content")
	if f.Path != "" {
		q = q.Where("path = ?", f.Path)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.EligibleOnly {
		q = q.Where("eligible = ?", true)
	}
	if f.LatestOnly {
		q = q.Where("id = (" + pgCurrentFileID + ")")
	}
	q = q.Order("path, generation")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var ents []fileRecordEntity
	if err := q.Find(&ents).Error; err != nil {
		return nil, classify(fmt.Errorf("list file records: %w", err))
	}
	out := make([]*models.FileRecord, 0, len(ents))
	for i := range ents {
		out = append(out, ents[i].model())
	}
	return out, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, d *models.DocumentRecord) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(newDocumentEntity(d)).Error; err != nil {
		return classify(fmt.Errorf("create document: %w", err))
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*models.DocumentRecord, error) {
	var ent documentEntity
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&ent).Error; err != nil {
		return nil, notFoundOr(err, "document "+id)
	}
	return ent.model(), nil
}

func (s *PostgresStore) LiveDocument(ctx context.Context, fileID string) (*models.DocumentRecord, error) {
	var ent documentEntity
	err := s.db.WithContext(ctx).Where("file_id = ? AND superseded_at IS NULL", fileID).Take(&ent).Error
	if err != nil {
		return nil, notFoundOr(err, "live document for file "+fileID)
	}
	return ent.model(), nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, d *models.DocumentRecord) error {
	d.UpdatedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&documentEntity{}).Where("id = ?", d.ID).Updates(map[string]interface{}{
		"converter":      d.Converter,
		"stage":          string(d.Stage),
		"failure_reason": string(d.FailureReason),
		"error":          d.Error,
		"reuse_of":       d.ReuseOf,
		"updated_at":     d.UpdatedAt,
		"superseded_at":  d.SupersededAt,
	})
	if res.Error != nil {
		return classify(fmt.Errorf("update document: %w", res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("document %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) FindReusableDocument(ctx context.Context, fingerprint, excludeFileID string) (*models.DocumentRecord, error) {
	var ent documentEntity
	err := s.db.WithContext(ctx).
		Joins("JOIN file_records f ON f.id = documents.file_id").
		Where("f.fingerprint = ? AND f.id <> ? AND f.status = ?", fingerprint, excludeFileID, string(models.StatusComplete)).
		Where("documents.superseded_at IS NULL AND documents.reuse_of = ''").
		Order("documents.created_at").
		Take(&ent).Error
	if err != nil {
		return nil, notFoundOr(err, "reusable document")
	}
	return ent.model(), nil
}

func (s *PostgresStore) CreateChunks(ctx context.Context, chunks []*models.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	now := time.Now().UTC()
	ents := make([]chunkEntity, 0, len(chunks))
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.CreatedAt = now
		ents = append(ents, chunkEntity{
			ID: c.ID, DocumentID: c.DocumentID, ChunkIndex: c.Index, Text: c.Text,
			EmbeddingID: c.EmbeddingID, CreatedAt: c.CreatedAt,
		})
	}
	if err := s.db.WithContext(ctx).CreateInBatches(ents, 200).Error; err != nil {
		return classify(fmt.Errorf("create chunks: %w", err))
	}
	return nil
}

func (s *PostgresStore) ListChunks(ctx context.Context, documentID string) ([]*models.ChunkRecord, error) {
	var ents []chunkEntity
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Order("chunk_index").Find(&ents).Error; err != nil {
		return nil, classify(fmt.Errorf("list chunks: %w", err))
	}
	out := make([]*models.ChunkRecord, 0, len(ents))
	for i := range ents {
		out = append(out, ents[i].model())
	}
	return out, nil
}

func (s *PostgresStore) CreateEmbedding(ctx context.Context, e *models.EmbeddingRecord) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Dimensions = len(e.Vector)
	ent := &embeddingEntity{
		ID: e.ID, ChunkID: e.ChunkID, Model: e.Model, Dimensions: e.Dimensions,
		Vector: pgvector.NewVector(e.Vector), CreatedAt: e.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(ent).Error; err != nil {
		return classify(fmt.Errorf("create embedding: %w", err))
	}
	return nil
}

func (s *PostgresStore) LinkEmbedding(ctx context.Context, chunkID, embeddingID string) error {
	res := s.db.WithContext(ctx).Model(&chunkEntity{}).Where("id = ?", chunkID).Update("embedding_id", embeddingID)
	if res.Error != nil {
		return classify(fmt.Errorf("link embedding: %w", res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetEmbedding(ctx context.Context, id string) (*models.EmbeddingRecord, error) {
	var ent embeddingEntity
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&ent).Error; err != nil {
		return nil, notFoundOr(err, "embedding "+id)
	}
	return &models.EmbeddingRecord{
		ID: ent.ID, ChunkID: ent.ChunkID, Model: ent.Model, Dimensions: ent.Dimensions,
		Vector: ent.Vector.Slice(), CreatedAt: ent.CreatedAt.UTC(),
	}, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	db := s.db.WithContext(ctx)
	st := &Stats{Backend: s.Backend(), FilesByStatus: make(map[models.FileStatus]int64)}
	counts := []struct {
		model interface{}
		dst   *int64
	}{
		{&scanRunEntity{}, &st.ScanRuns},
		{&scanEntryEntity{}, &st.ScanEntries},
		{&fileRecordEntity{}, &st.FileRecords},
		{&documentEntity{}, &st.Documents},
		{&chunkEntity{}, &st.Chunks},
		{&embeddingEntity{}, &st.Embeddings},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Count(c.dst).Error; err != nil {
			return nil, classify(fmt.Errorf("count records: %w", err))
		}
	}
	var rows []struct {
		Status string
		N      int64
	}
	if err := db.Model(&fileRecordEntity{}).Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error; err != nil {
		return nil, classify(fmt.Errorf("count statuses: %w", err))
	}
	for _, r := range rows {
		st.FilesByStatus[models.FileStatus(r.Status)] = r.N
	}
	return st, nil
}

func (s *PostgresStore) Close() error {
	if s.inTx {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return classify(fmt.Errorf("%s: %w", what, err))
}

// classify wraps connection-level failures with ErrUnreachable and leaves other errors untouched.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrUnreachable) || !IsUnreachableError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}

// IsUnreachableError reports whether err means the database could not be reached at all,
// as opposed to rejecting an individual statement.
func IsUnreachableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnreachable) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08: connection exception, 57P0x: server shutting down.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
