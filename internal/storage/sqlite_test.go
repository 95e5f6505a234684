package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/wembed/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newScan(t *testing.T, store Store) *models.ScanRun {
	t.Helper()
	run := &models.ScanRun{
		Root:      "/src",
		Kind:      models.SourceRepository,
		StartedAt: time.Now().UTC(),
		Options:   map[string]string{"use_gitignore": "true"},
	}
	require.NoError(t, store.CreateScanRun(context.Background(), run))
	return run
}

func fileRecord(path, fp string) *models.FileRecord {
	return &models.FileRecord{
		Path:        path,
		Name:        filepath.Base(path),
		Suffix:      filepath.Ext(path),
		Fingerprint: fp,
		Size:        5,
		Mode:        0644,
		ModTime:     time.Unix(1700000000, 0).UTC(),
		Kind:        models.KindText,
		Content:     []byte("hello"),
		Eligible:    true,
		Status:      models.StatusProcessed,
	}
}

func TestSQLiteStore_ScanRunsAndEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := newScan(t, store)
	assert.NotEmpty(t, run.ID)

	base := time.Now().UTC()
	for i, path := range []string{"/src/a.txt", "/src/b.txt", "/src/a.txt"} {
		e := &models.ScanEntry{
			ScanID:       run.ID,
			Path:         path,
			SourceKind:   models.SourceRepository,
			DiscoveredAt: base.Add(time.Duration(i) * time.Millisecond),
			Fingerprint:  []string{"fa1", "fb", "fa2"}[i],
			Outcome:      models.OutcomeOK,
		}
		require.NoError(t, store.CreateScanEntry(ctx, e))
	}
	require.NoError(t, store.CreateScanEntry(ctx, &models.ScanEntry{
		ScanID: run.ID, Path: "/src/big.bin", SourceKind: models.SourceRepository,
		DiscoveredAt: base.Add(time.Second), Outcome: models.OutcomeTooLarge,
	}))

	latest, err := store.LatestScanEntry(ctx, "/src/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "fa2", latest.Fingerprint)

	_, err = store.LatestScanEntry(ctx, "/src/missing")
	assert.True(t, IsNotFound(err))

	all, err := store.ListScanEntries(ctx, ScanEntryFilter{ScanID: run.ID})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "/src/a.txt", all[0].Path)
	assert.Equal(t, "/src/big.bin", all[3].Path)

	run.FinishedAt = time.Now().UTC()
	run.Entries = 4
	run.TooLarge = 1
	require.NoError(t, store.FinishScanRun(ctx, run))

	// A processed File Record resolves its entry; a failed one does not.
	require.NoError(t, store.UpsertFileRecord(ctx, fileRecord("/src/a.txt", "fa1")))
	failed := fileRecord("/src/b.txt", "fb")
	failed.Status = models.StatusFailed
	require.NoError(t, store.UpsertFileRecord(ctx, failed))

	unresolved, err := store.ListScanEntries(ctx, ScanEntryFilter{Unresolved: true})
	require.NoError(t, err)
	var paths []string
	for _, e := range unresolved {
		paths = append(paths, e.Path+"@"+e.Fingerprint)
	}
	assert.Equal(t, []string{"/src/b.txt@fb", "/src/a.txt@fa2"}, paths)

	limited, err := store.ListScanEntries(ctx, ScanEntryFilter{Unresolved: true, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteStore_FinishScanRunMissing(t *testing.T) {
	store := newTestStore(t)
	err := store.FinishScanRun(context.Background(), &models.ScanRun{ID: "nope"})
	assert.True(t, IsNotFound(err))
}

func TestSQLiteStore_UpsertGenerations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := fileRecord("/src/a.txt", "f1")
	require.NoError(t, store.UpsertFileRecord(ctx, first))
	assert.Equal(t, 1, first.Generation)
	assert.True(t, first.HasContent)

	second := fileRecord("/src/a.txt", "f2")
	require.NoError(t, store.UpsertFileRecord(ctx, second))
	assert.Equal(t, 2, second.Generation)
	assert.NotEqual(t, first.ID, second.ID)

	other := fileRecord("/src/b.txt", "f1")
	require.NoError(t, store.UpsertFileRecord(ctx, other))
	assert.Equal(t, 1, other.Generation)

	// Same identity updates in place.
	again := fileRecord("/src/a.txt", "f1")
	again.Preview = "updated"
	require.NoError(t, store.UpsertFileRecord(ctx, again))
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, again.Generation)
	assert.Equal(t, first.FirstSeenAt, again.FirstSeenAt)

	got, err := store.GetFileRecord(ctx, "/src/a.txt", "f1")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Preview)
	assert.Equal(t, []byte("hello"), got.Content)
	assert.Equal(t, uint32(0644), got.Mode)
	assert.True(t, got.Eligible)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), got.ModTime)

	byID, err := store.GetFileRecordByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "f2", byID.Fingerprint)

	_, err = store.GetFileRecord(ctx, "/src/a.txt", "f9")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteStore_ListFileRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFileRecord(ctx, fileRecord("/src/a.txt", "f1")))
	require.NoError(t, store.UpsertFileRecord(ctx, fileRecord("/src/a.txt", "f2")))
	bin := fileRecord("/src/c.bin", "f3")
	bin.Eligible = false
	bin.Kind = models.KindBinary
	require.NoError(t, store.UpsertFileRecord(ctx, bin))

	all, err := store.ListFileRecords(ctx, FileRecordFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, rec := range all {
		assert.Nil(t, rec.Content, "listing must not load content")
		assert.True(t, rec.HasContent)
	}

	latest, err := store.ListFileRecords(ctx, FileRecordFilter{LatestOnly: true})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "f2", latest[0].Fingerprint)

	eligible, err := store.ListFileRecords(ctx, FileRecordFilter{EligibleOnly: true, Path: "/src/a.txt"})
	require.NoError(t, err)
	assert.Len(t, eligible, 2)

	rec := latest[0]
	require.NoError(t, rec.Advance(models.StatusPending))
	require.NoError(t, store.UpdateFileStatus(ctx, rec))

	converted, err := store.ListFileRecords(ctx, FileRecordFilter{Statuses: []models.FileStatus{models.StatusPending}})
	require.NoError(t, err)
	require.Len(t, converted, 1)
	assert.Equal(t, rec.ID, converted[0].ID)
}

func TestSQLiteStore_MarkFileCurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	one := fileRecord("/src/a.txt", "f1")
	require.NoError(t, store.UpsertFileRecord(ctx, one))
	two := fileRecord("/src/a.txt", "f2")
	require.NoError(t, store.UpsertFileRecord(ctx, two))

	current := func() *models.FileRecord {
		recs, err := store.ListFileRecords(ctx, FileRecordFilter{Path: "/src/a.txt", LatestOnly: true})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		return recs[0]
	}
	assert.Equal(t, two.ID, current().ID)

	require.NoError(t, store.MarkFileCurrent(ctx, "/src/a.txt", "f1"))
	got := current()
	assert.Equal(t, one.ID, got.ID)
	assert.Equal(t, 1, got.Generation)

	// Marking the current record again changes nothing.
	require.NoError(t, store.MarkFileCurrent(ctx, "/src/a.txt", "f1"))
	assert.Equal(t, got.CurrentAt, current().CurrentAt)

	require.NoError(t, store.MarkFileCurrent(ctx, "/src/a.txt", "f9"))
	assert.Equal(t, one.ID, current().ID)
}

func TestAddColumn_Idempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, addColumn(store.db, "file_records", "current_at", "INTEGER NOT NULL DEFAULT 0"))
	require.NoError(t, addColumn(store.db, "scan_runs", "note", "TEXT NOT NULL DEFAULT ''"))
	require.NoError(t, addColumn(store.db, "scan_runs", "note", "TEXT NOT NULL DEFAULT ''"))

	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('scan_runs') WHERE name = 'note'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_DocumentsChunksEmbeddings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := fileRecord("/src/a.txt", "f1")
	require.NoError(t, store.UpsertFileRecord(ctx, rec))

	doc := &models.DocumentRecord{FileID: rec.ID, Fingerprint: "f1", ChunkSize: 100, Stage: models.StageConverting}
	require.NoError(t, store.CreateDocument(ctx, doc))
	assert.False(t, doc.CreatedAt.IsZero())

	// Only one live document per file.
	dup := &models.DocumentRecord{FileID: rec.ID, Fingerprint: "f1", Stage: models.StageConverting}
	assert.Error(t, store.CreateDocument(ctx, dup))

	live, err := store.LiveDocument(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, live.ID)
	assert.Nil(t, live.SupersededAt)

	chunks := []*models.ChunkRecord{
		{DocumentID: doc.ID, Index: 1, Text: "second"},
		{DocumentID: doc.ID, Index: 0, Text: "first"},
	}
	require.NoError(t, store.CreateChunks(ctx, chunks))

	listed, err := store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "first", listed[0].Text)
	assert.False(t, listed[0].Embedded())

	emb := &models.EmbeddingRecord{ChunkID: listed[0].ID, Model: "hash", Vector: []float32{0.6, -0.8}}
	require.NoError(t, store.CreateEmbedding(ctx, emb))
	require.NoError(t, store.LinkEmbedding(ctx, listed[0].ID, emb.ID))

	gotEmb, err := store.GetEmbedding(ctx, emb.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.6, -0.8}, gotEmb.Vector)
	assert.Equal(t, 2, gotEmb.Dimensions)

	listed, err = store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, emb.ID, listed[0].EmbeddingID)

	orphan := &models.EmbeddingRecord{ChunkID: "missing", Model: "hash", Vector: []float32{1}}
	assert.Error(t, store.CreateEmbedding(ctx, orphan))
	assert.True(t, IsNotFound(store.LinkEmbedding(ctx, "missing", emb.ID)))

	// Supersede and replace.
	now := time.Now().UTC()
	doc.SupersededAt = &now
	doc.Stage = models.StageFailed
	require.NoError(t, store.UpdateDocument(ctx, doc))
	require.NoError(t, store.CreateDocument(ctx, dup))

	live, err = store.LiveDocument(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, dup.ID, live.ID)

	old, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, old.SupersededAt)
	assert.False(t, old.Live())
}

func TestSQLiteStore_FindReusableDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src := fileRecord("/src/a.txt", "same")
	require.NoError(t, store.UpsertFileRecord(ctx, src))
	doc := &models.DocumentRecord{FileID: src.ID, Fingerprint: "same", Stage: models.StageEmbedding}
	require.NoError(t, store.CreateDocument(ctx, doc))

	copyRec := fileRecord("/src/copy.txt", "same")
	require.NoError(t, store.UpsertFileRecord(ctx, copyRec))

	_, err := store.FindReusableDocument(ctx, "same", copyRec.ID)
	assert.True(t, IsNotFound(err), "source not complete yet")

	src.Status = models.StatusComplete
	require.NoError(t, store.UpdateFileStatus(ctx, src))

	found, err := store.FindReusableDocument(ctx, "same", copyRec.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, found.ID)

	_, err = store.FindReusableDocument(ctx, "same", src.ID)
	assert.True(t, IsNotFound(err), "a file never reuses its own document")
}

func TestSQLiteStore_InTxRollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(tx Store) error {
		if err := tx.UpsertFileRecord(ctx, fileRecord("/src/a.txt", "f1")); err != nil {
			return err
		}
		return tx.InTx(ctx, func(inner Store) error { return boom })
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetFileRecord(ctx, "/src/a.txt", "f1")
	assert.True(t, IsNotFound(err))

	require.NoError(t, store.InTx(ctx, func(tx Store) error {
		return tx.UpsertFileRecord(ctx, fileRecord("/src/a.txt", "f1"))
	}))
	_, err = store.GetFileRecord(ctx, "/src/a.txt", "f1")
	assert.NoError(t, err)
}

func TestSQLiteStore_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	newScan(t, store)
	require.NoError(t, store.UpsertFileRecord(ctx, fileRecord("/src/a.txt", "f1")))
	failed := fileRecord("/src/b.txt", "f2")
	failed.Status = models.StatusFailed
	require.NoError(t, store.UpsertFileRecord(ctx, failed))

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", st.Backend)
	assert.EqualValues(t, 1, st.ScanRuns)
	assert.EqualValues(t, 2, st.FileRecords)
	assert.EqualValues(t, 1, st.FilesByStatus[models.StatusProcessed])
	assert.EqualValues(t, 1, st.FilesByStatus[models.StatusFailed])
	assert.NoError(t, store.Ping(ctx))
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.UpsertFileRecord(context.Background(), fileRecord("/src/a.txt", "f1")))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.GetFileRecord(context.Background(), "/src/a.txt", "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Generation)
}
