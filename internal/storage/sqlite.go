package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/wembed/internal/models"
)

// querier is implemented by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLiteStore is the local record store. It needs no external service.
type SQLiteStore struct {
	db   *sql.DB // nil for the transactional view handed to InTx callbacks
	q    querier
	path string
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, q: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS scan_runs (
		id TEXT PRIMARY KEY,
		root_path TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0,
		host TEXT NOT NULL DEFAULT '',
		user_name TEXT NOT NULL DEFAULT '',
		options TEXT NOT NULL DEFAULT '{}',
		entries INTEGER NOT NULL DEFAULT 0,
		unchanged INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		too_large INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS scan_entries (
		id TEXT PRIMARY KEY,
		scan_id TEXT NOT NULL REFERENCES scan_runs(id),
		path TEXT NOT NULL,
		relative_path TEXT NOT NULL DEFAULT '',
		source_kind TEXT NOT NULL,
		source_root TEXT NOT NULL DEFAULT '',
		source_name TEXT NOT NULL DEFAULT '',
		discovered_at INTEGER NOT NULL,
		fingerprint TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		mod_time INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_scan_entries_path ON scan_entries(path, discovered_at);
	CREATE INDEX IF NOT EXISTS idx_scan_entries_scan ON scan_entries(scan_id);

	CREATE TABLE IF NOT EXISTS file_records (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		relative_path TEXT NOT NULL DEFAULT '',
		source_kind TEXT NOT NULL DEFAULT '',
		source_root TEXT NOT NULL DEFAULT '',
		source_name TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		suffix TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		mode INTEGER NOT NULL DEFAULT 0,
		mod_time INTEGER NOT NULL DEFAULT 0,
		mime_type TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		content BLOB,
		has_content INTEGER NOT NULL DEFAULT 0,
		preview TEXT NOT NULL DEFAULT '',
		line_count INTEGER NOT NULL DEFAULT 0,
		generation INTEGER NOT NULL,
		eligible INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		failed_stage TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		reprocessed INTEGER NOT NULL DEFAULT 0,
		host TEXT NOT NULL DEFAULT '',
		user_name TEXT NOT NULL DEFAULT '',
		first_seen_at INTEGER NOT NULL,
		last_processed_at INTEGER NOT NULL,
		current_at INTEGER NOT NULL DEFAULT 0,
		UNIQUE (path, fingerprint)
	);

	CREATE INDEX IF NOT EXISTS idx_file_records_path_generation ON file_records(path, generation);
	CREATE INDEX IF NOT EXISTS idx_file_records_fingerprint ON file_records(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_file_records_status ON file_records(status);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL REFERENCES file_records(id),
		fingerprint TEXT NOT NULL,
		converter TEXT NOT NULL DEFAULT '',
		chunk_size INTEGER NOT NULL DEFAULT 0,
		chunk_overlap INTEGER NOT NULL DEFAULT 0,
		embedding_model TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		reuse_of TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		superseded_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_live ON documents(file_id) WHERE superseded_at = 0;

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		embedding_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		UNIQUE (document_id, chunk_index)
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		id TEXT PRIMARY KEY,
		chunk_id TEXT NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
		model TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		vector BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_chunk ON embeddings(chunk_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	if err := addColumn(db, "file_records", "current_at", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_file_records_path_current ON file_records(path, current_at)`)
	return err
}

// addColumn adds a column to databases created before it existed.
func addColumn(db *sql.DB, table, column, decl string) error {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

// Backend returns "sqlite".
func (s *SQLiteStore) Backend() string { return "sqlite" }

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

// InTx runs fn inside a transaction. Nested calls reuse the outer transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&SQLiteStore{q: tx, path: s.path}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateScanRun inserts a scan run. An empty ID is assigned.
func (s *SQLiteStore) CreateScanRun(ctx context.Context, run *models.ScanRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	opts, err := json.Marshal(run.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal scan options: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO scan_runs (id, root_path, name, kind, started_at, finished_at, host, user_name, options,
		 entries, unchanged, failed, too_large)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Root, run.Name, string(run.Kind), toNanos(run.StartedAt), toNanos(run.FinishedAt),
		run.Host, run.User, string(opts), run.Entries, run.Unchanged, run.Failed, run.TooLarge,
	)
	if err != nil {
		return fmt.Errorf("create scan run: %w", err)
	}
	return nil
}

// FinishScanRun stores the end time and counters of a run.
func (s *SQLiteStore) FinishScanRun(ctx context.Context, run *models.ScanRun) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE scan_runs SET finished_at = ?, entries = ?, unchanged = ?, failed = ?, too_large = ? WHERE id = ?`,
		toNanos(run.FinishedAt), run.Entries, run.Unchanged, run.Failed, run.TooLarge, run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish scan run: %w", err)
	}
	return requireRow(res, "scan run", run.ID)
}

const scanEntryColumns = `id, scan_id, path, relative_path, source_kind, source_root, source_name,
	discovered_at, fingerprint, size, mod_time, outcome, error`

// CreateScanEntry inserts a scan entry. An empty ID is assigned.
func (s *SQLiteStore) CreateScanEntry(ctx context.Context, e *models.ScanEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO scan_entries (`+scanEntryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ScanID, e.Path, e.RelativePath, string(e.SourceKind), e.SourceRoot, e.SourceName,
		toNanos(e.DiscoveredAt), e.Fingerprint, e.Size, toNanos(e.ModTime), string(e.Outcome), e.Error,
	)
	if err != nil {
		return fmt.Errorf("create scan entry: %w", err)
	}
	return nil
}

// LatestScanEntry returns the most recently discovered entry for path.
func (s *SQLiteStore) LatestScanEntry(ctx context.Context, path string) (*models.ScanEntry, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+scanEntryColumns+` FROM scan_entries WHERE path = ?
		 ORDER BY discovered_at DESC, rowid DESC LIMIT 1`, path)
	e, err := scanScanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan entry for %s: %w", path, ErrNotFound)
	}
	return e, err
}

// ListScanEntries returns entries in discovery order.
func (s *SQLiteStore) ListScanEntries(ctx context.Context, f ScanEntryFilter) ([]*models.ScanEntry, error) {
	var where []string
	var args []interface{}
	if f.ScanID != "" {
		where = append(where, "s.scan_id = ?")
		args = append(args, f.ScanID)
	}
	if f.Unresolved {
		where = append(where, `s.outcome = 'ok'`, `NOT EXISTS (SELECT 1 FROM file_records r
			WHERE r.path = s.path AND r.fingerprint = s.fingerprint AND r.status <> 'failed')`)
	}
	query := `SELECT ` + prefixColumns("s", scanEntryColumns) + ` FROM scan_entries s`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY s.discovered_at, s.rowid"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scan entries: %w", err)
	}
	defer rows.Close()
	var out []*models.ScanEntry
	for rows.Next() {
		e, err := scanScanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanScanEntry(r rowScanner) (*models.ScanEntry, error) {
	var e models.ScanEntry
	var kind, outcome string
	var discovered, mod int64
	if err := r.Scan(&e.ID, &e.ScanID, &e.Path, &e.RelativePath, &kind, &e.SourceRoot, &e.SourceName,
		&discovered, &e.Fingerprint, &e.Size, &mod, &outcome, &e.Error); err != nil {
		return nil, err
	}
	e.SourceKind = models.SourceKind(kind)
	e.Outcome = models.ScanOutcome(outcome)
	e.DiscoveredAt = fromNanos(discovered)
	e.ModTime = fromNanos(mod)
	return &e, nil
}

const fileColumns = `id, path, relative_path, source_kind, source_root, source_name, name, suffix,
	fingerprint, size, mode, mod_time, mime_type, kind, language, has_content, preview, line_count,
	generation, eligible, status, failed_stage, failure_reason, error, reprocessed, host, user_name,
	first_seen_at, last_processed_at, current_at`

// currentFileID selects the generation a path currently holds: the one a scan selected last.
const currentFileID = `SELECT g.id FROM file_records g WHERE g.path = %s.path
	ORDER BY g.current_at DESC, g.generation DESC LIMIT 1`

// GetFileRecord returns the generation of path with the given fingerprint, including content.
func (s *SQLiteStore) GetFileRecord(ctx context.Context, path, fingerprint string) (*models.FileRecord, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+fileColumns+`, content FROM file_records WHERE path = ? AND fingerprint = ?`,
		path, fingerprint)
	rec, err := scanFileRecord(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file record %s@%.12s: %w", path, fingerprint, ErrNotFound)
	}
	return rec, err
}

// GetFileRecordByID returns a File Record including content.
func (s *SQLiteStore) GetFileRecordByID(ctx context.Context, id string) (*models.FileRecord, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+fileColumns+`, content FROM file_records WHERE id = ?`, id)
	rec, err := scanFileRecord(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file record %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// UpsertFileRecord inserts a new generation or updates the existing (path, fingerprint) row.
// On return rec carries the stored ID, generation and first-seen time.
func (s *SQLiteStore) UpsertFileRecord(ctx context.Context, rec *models.FileRecord) error {
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
	var firstSeen int64
	err := s.q.QueryRowContext(ctx,
		`INSERT INTO file_records (id, path, relative_path, source_kind, source_root, source_name, name, suffix,
			fingerprint, size, mode, mod_time, mime_type, kind, language, content, has_content, preview, line_count,
			generation, eligible, status, failed_stage, failure_reason, error, reprocessed, host, user_name,
			first_seen_at, last_processed_at, current_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(generation), 0) + 1 FROM file_records WHERE path = ?),
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (path, fingerprint) DO UPDATE SET
			relative_path = excluded.relative_path,
			source_kind = excluded.source_kind,
			source_root = excluded.source_root,
			source_name = excluded.source_name,
			name = excluded.name,
			suffix = excluded.suffix,
			size = excluded.size,
			mode = excluded.mode,
			mod_time = excluded.mod_time,
			mime_type = excluded.mime_type,
			kind = excluded.kind,
			language = excluded.language,
			content = excluded.content,
			has_content = excluded.has_content,
			preview = excluded.preview,
			line_count = excluded.line_count,
			eligible = excluded.eligible,
			status = excluded.status,
			failed_stage = excluded.failed_stage,
			failure_reason = excluded.failure_reason,
			error = excluded.error,
			host = excluded.host,
			user_name = excluded.user_name,
			last_processed_at = excluded.last_processed_at,
			current_at = excluded.current_at
		 RETURNING id, generation, first_seen_at`,
		rec.ID, rec.Path, rec.RelativePath, string(rec.SourceKind), rec.SourceRoot, rec.SourceName, rec.Name, rec.Suffix,
		rec.Fingerprint, rec.Size, rec.Mode, toNanos(rec.ModTime), rec.MimeType, string(rec.Kind), rec.Language,
		rec.Content, boolInt(rec.HasContent), rec.Preview, rec.LineCount,
		rec.Path,
		boolInt(rec.Eligible), string(rec.Status), string(rec.FailedStage), string(rec.FailureReason), rec.Error,
		rec.Reprocessed, rec.Host, rec.User, toNanos(rec.FirstSeenAt), toNanos(rec.LastProcessedAt),
		toNanos(rec.CurrentAt),
	).Scan(&rec.ID, &rec.Generation, &firstSeen)
	if err != nil {
		return fmt.Errorf("upsert file record %s: %w", rec.Path, err)
	}
	rec.FirstSeenAt = fromNanos(firstSeen)
	return nil
}

// UpdateFileStatus writes the status fields of rec.
func (s *SQLiteStore) UpdateFileStatus(ctx context.Context, rec *models.FileRecord) error {
	rec.LastProcessedAt = time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE file_records SET status = ?, failed_stage = ?, failure_reason = ?, error = ?, reprocessed = ?,
		 last_processed_at = ? WHERE id = ?`,
		string(rec.Status), string(rec.FailedStage), string(rec.FailureReason), rec.Error, rec.Reprocessed,
		toNanos(rec.LastProcessedAt), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update file status: %w", err)
	}
	return requireRow(res, "file record", rec.ID)
}

// MarkFileCurrent makes the (path, fingerprint) record the current generation of its path.
// It writes nothing when the record already is or does not exist.
func (s *SQLiteStore) MarkFileCurrent(ctx context.Context, path, fingerprint string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE file_records SET current_at = ? WHERE path = ? AND fingerprint = ?
		 AND id <> (`+fmt.Sprintf(currentFileID, "file_records")+`)`,
		toNanos(time.Now().UTC()), path, fingerprint)
	if err != nil {
		return fmt.Errorf("mark file record %s@%.12s current: %w", path, fingerprint, err)
	}
	return nil
}

// ListFileRecords returns records ordered by path and generation, without content.
func (s *SQLiteStore) ListFileRecords(ctx context.Context, f FileRecordFilter) ([]*models.FileRecord, error) {
	var where []string
	var args []interface{}
	if f.Path != "" {
		where = append(where, "f.path = ?")
		args = append(args, f.Path)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "f.status IN ("+strings.Join(marks, ", ")+")")
	}
	if f.EligibleOnly {
		where = append(where, "f.eligible = 1")
	}
	if f.LatestOnly {
		where = append(where, "f.id = ("+fmt.Sprintf(currentFileID, "f")+")")
	}
	query := `SELECT ` + prefixColumns("f", fileColumns) + ` FROM file_records f`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY f.path, f.generation"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list file records: %w", err)
	}
	defer rows.Close()
	var out []*models.FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanFileRecord(r rowScanner, withContent bool) (*models.FileRecord, error) {
	var rec models.FileRecord
	var sourceKind, kind, status, failedStage, reason string
	var mod, firstSeen, lastProcessed, current int64
	var hasContent, eligible int
	dest := []interface{}{
		&rec.ID, &rec.Path, &rec.RelativePath, &sourceKind, &rec.SourceRoot, &rec.SourceName, &rec.Name, &rec.Suffix,
		&rec.Fingerprint, &rec.Size, &rec.Mode, &mod, &rec.MimeType, &kind, &rec.Language, &hasContent, &rec.Preview,
		&rec.LineCount, &rec.Generation, &eligible, &status, &failedStage, &reason, &rec.Error, &rec.Reprocessed,
		&rec.Host, &rec.User, &firstSeen, &lastProcessed, &current,
	}
	if withContent {
		dest = append(dest, &rec.Content)
	}
	if err := r.Scan(dest...); err != nil {
		return nil, err
	}
	rec.SourceKind = models.SourceKind(sourceKind)
	rec.Kind = models.FileKind(kind)
	rec.Status = models.FileStatus(status)
	rec.FailedStage = models.FileStatus(failedStage)
	rec.FailureReason = models.FailureReason(reason)
	rec.HasContent = hasContent != 0
	rec.Eligible = eligible != 0
	rec.ModTime = fromNanos(mod)
	rec.FirstSeenAt = fromNanos(firstSeen)
	rec.LastProcessedAt = fromNanos(lastProcessed)
	rec.CurrentAt = fromNanos(current)
	return &rec, nil
}

const documentColumns = `id, file_id, fingerprint, converter, chunk_size, chunk_overlap, embedding_model,
	stage, failure_reason, error, reuse_of, created_at, updated_at, superseded_at`

// CreateDocument inserts a Document Record. An empty ID is assigned.
func (s *SQLiteStore) CreateDocument(ctx context.Context, d *models.DocumentRecord) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.FileID, d.Fingerprint, d.Converter, d.ChunkSize, d.ChunkOverlap, d.EmbeddingModel,
		string(d.Stage), string(d.FailureReason), d.Error, d.ReuseOf,
		toNanos(d.CreatedAt), toNanos(d.UpdatedAt), optionalNanos(d.SupersededAt),
	)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetDocument returns a Document Record by ID.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*models.DocumentRecord, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return d, err
}

// LiveDocument returns the non-superseded document of a File Record.
func (s *SQLiteStore) LiveDocument(ctx context.Context, fileID string) (*models.DocumentRecord, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE file_id = ? AND superseded_at = 0`, fileID)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("live document for file %s: %w", fileID, ErrNotFound)
	}
	return d, err
}

// UpdateDocument writes the mutable fields of a Document Record.
func (s *SQLiteStore) UpdateDocument(ctx context.Context, d *models.DocumentRecord) error {
	d.UpdatedAt = time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE documents SET converter = ?, stage = ?, failure_reason = ?, error = ?, reuse_of = ?,
		 updated_at = ?, superseded_at = ? WHERE id = ?`,
		d.Converter, string(d.Stage), string(d.FailureReason), d.Error, d.ReuseOf,
		toNanos(d.UpdatedAt), optionalNanos(d.SupersededAt), d.ID,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return requireRow(res, "document", d.ID)
}

// FindReusableDocument returns a canonical complete document for fingerprint.
func (s *SQLiteStore) FindReusableDocument(ctx context.Context, fingerprint, excludeFileID string) (*models.DocumentRecord, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+prefixColumns("d", documentColumns)+` FROM documents d
		 JOIN file_records f ON f.id = d.file_id
		 WHERE f.fingerprint = ? AND f.id <> ? AND f.status = ?
		   AND d.superseded_at = 0 AND d.reuse_of = ''
		 ORDER BY d.created_at LIMIT 1`,
		fingerprint, excludeFileID, string(models.StatusComplete))
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reusable document for %.12s: %w", fingerprint, ErrNotFound)
	}
	return d, err
}

func scanDocument(r rowScanner) (*models.DocumentRecord, error) {
	var d models.DocumentRecord
	var stage, reason string
	var created, updated, superseded int64
	if err := r.Scan(&d.ID, &d.FileID, &d.Fingerprint, &d.Converter, &d.ChunkSize, &d.ChunkOverlap,
		&d.EmbeddingModel, &stage, &reason, &d.Error, &d.ReuseOf, &created, &updated, &superseded); err != nil {
		return nil, err
	}
	d.Stage = models.DocumentStage(stage)
	d.FailureReason = models.FailureReason(reason)
	d.CreatedAt = fromNanos(created)
	d.UpdatedAt = fromNanos(updated)
	d.SupersededAt = optionalTime(superseded)
	return &d, nil
}

// CreateChunks inserts chunks in slice order.
func (s *SQLiteStore) CreateChunks(ctx context.Context, chunks []*models.ChunkRecord) error {
	now := time.Now().UTC()
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.CreatedAt = now
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, chunk_index, text, embedding_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.Index, c.Text, c.EmbeddingID, toNanos(c.CreatedAt),
		); err != nil {
			return fmt.Errorf("create chunk %d: %w", c.Index, err)
		}
	}
	return nil
}

// ListChunks returns a document's chunks ordered by index.
func (s *SQLiteStore) ListChunks(ctx context.Context, documentID string) ([]*models.ChunkRecord, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, text, embedding_id, created_at
		 FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	var out []*models.ChunkRecord
	for rows.Next() {
		var c models.ChunkRecord
		var created int64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Text, &c.EmbeddingID, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = fromNanos(created)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CreateEmbedding inserts an Embedding Record. The parent chunk must exist.
func (s *SQLiteStore) CreateEmbedding(ctx context.Context, e *models.EmbeddingRecord) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Dimensions = len(e.Vector)
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO embeddings (id, chunk_id, model, dimensions, vector, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ChunkID, e.Model, e.Dimensions, encodeVector(e.Vector), toNanos(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create embedding: %w", err)
	}
	return nil
}

// LinkEmbedding points a chunk at its current embedding.
func (s *SQLiteStore) LinkEmbedding(ctx context.Context, chunkID, embeddingID string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE chunks SET embedding_id = ? WHERE id = ?`, embeddingID, chunkID)
	if err != nil {
		return fmt.Errorf("link embedding: %w", err)
	}
	return requireRow(res, "chunk", chunkID)
}

// GetEmbedding returns an Embedding Record by ID.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, id string) (*models.EmbeddingRecord, error) {
	var e models.EmbeddingRecord
	var blob []byte
	var created int64
	err := s.q.QueryRowContext(ctx,
		`SELECT id, chunk_id, model, dimensions, vector, created_at FROM embeddings WHERE id = ?`, id,
	).Scan(&e.ID, &e.ChunkID, &e.Model, &e.Dimensions, &blob, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("embedding %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if e.Vector, err = decodeVector(blob); err != nil {
		return nil, err
	}
	e.CreatedAt = fromNanos(created)
	return &e, nil
}

// Stats counts records per table and File Records per status.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: s.Backend(), FilesByStatus: make(map[models.FileStatus]int64)}
	counts := []struct {
		table string
		dst   *int64
	}{
		{"scan_runs", &st.ScanRuns},
		{"scan_entries", &st.ScanEntries},
		{"file_records", &st.FileRecords},
		{"documents", &st.Documents},
		{"chunks", &st.Chunks},
		{"embeddings", &st.Embeddings},
	}
	for _, c := range counts {
		if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	rows, err := s.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM file_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		st.FilesByStatus[models.FileStatus(status)] = n
	}
	return st, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func requireRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
