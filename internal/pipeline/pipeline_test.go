package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/wembed/internal/convert"
	"github.com/hyperjump/wembed/internal/embedding"
	"github.com/hyperjump/wembed/internal/fileid"
	"github.com/hyperjump/wembed/internal/models"
	"github.com/hyperjump/wembed/internal/storage"
)

// countingEmbedder fails every call after failAfter successes when failAfter > 0.
type countingEmbedder struct {
	*embedding.HashEmbedder
	calls     int
	failAfter int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.failAfter > 0 && c.calls > c.failAfter {
		return nil, errors.New("model unavailable")
	}
	return c.HashEmbedder.Embed(ctx, text)
}

func newEmbedder() *countingEmbedder {
	return &countingEmbedder{HashEmbedder: embedding.NewHashEmbedder(8)}
}

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	s, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "wembed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addFile(t *testing.T, store storage.Store, path, suffix string, kind models.FileKind, content string) *models.FileRecord {
	t.Helper()
	rec := &models.FileRecord{
		Path:        path,
		Name:        filepath.Base(path),
		Suffix:      suffix,
		Fingerprint: fileid.FingerprintBytes([]byte(content)),
		Size:        int64(len(content)),
		Kind:        kind,
		Content:     []byte(content),
		Eligible:    true,
		Status:      models.StatusProcessed,
	}
	require.NoError(t, store.UpsertFileRecord(context.Background(), rec))
	return rec
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "word" + string(rune('a'+i%26))
	}
	return strings.Join(w, " ")
}

func newPipeline(store storage.Store, emb embedding.Embedder, reuse bool) *Pipeline {
	return New(store, convert.Default(), emb, Options{ChunkSize: 2, ChunkOverlap: 0, ReuseByFingerprint: reuse})
}

func liveChunks(t *testing.T, store storage.Store, fileID string) (*models.DocumentRecord, []*models.ChunkRecord) {
	t.Helper()
	ctx := context.Background()
	doc, err := store.LiveDocument(ctx, fileID)
	require.NoError(t, err)
	chunks, err := store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	return doc, chunks
}

func TestRun_CompletesEligibleFiles(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	rec := addFile(t, store, "/src/a.txt", ".txt", models.KindText, words(5))
	emb := newEmbedder()

	summary, err := newPipeline(store, emb, true).Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Zero(t, summary.Failed)

	got, err := store.GetFileRecordByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, got.Status)

	doc, chunks := liveChunks(t, store, rec.ID)
	assert.Equal(t, "plain", doc.Converter)
	assert.Equal(t, "hash-8", doc.EmbeddingModel)
	require.Len(t, chunks, 3)
	require.NoError(t, models.ValidateChunkOrder(chunks))
	assert.True(t, models.DocumentComplete(chunks))
	assert.Equal(t, 3, emb.calls)

	e, err := store.GetEmbedding(ctx, chunks[0].EmbeddingID)
	require.NoError(t, err)
	assert.Equal(t, 8, e.Dimensions)

	// A second run is a no-op.
	summary, err = newPipeline(store, emb, true).Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 3, emb.calls)
}

// ragged returns vectors whose length depends on the input text.
type ragged struct{ *embedding.HashEmbedder }

func (r ragged) Embed(_ context.Context, text string) ([]float32, error) {
	return make([]float32, 3+len(text)%5), nil
}

func TestRun_StoresVectorsOfAnyLength(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	rec := addFile(t, store, "/src/r.txt", ".txt", models.KindText, "a bb ccc dddd eeeee ffffff")

	summary, err := newPipeline(store, ragged{embedding.NewHashEmbedder(8)}, true).Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Zero(t, summary.Failed)

	_, chunks := liveChunks(t, store, rec.ID)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		e, err := store.GetEmbedding(ctx, c.EmbeddingID)
		require.NoError(t, err)
		assert.Equal(t, 3+len(c.Text)%5, e.Dimensions, c.Text)
		assert.Len(t, e.Vector, e.Dimensions)
	}
}

func TestRun_ResumesAfterEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	rec := addFile(t, store, "/src/long.md", ".md", models.KindMarkdown, words(10))

	flaky := newEmbedder()
	flaky.failAfter = 3
	summary, err := newPipeline(store, flaky, true).Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	assert.Equal(t, models.ReasonEmbedding, summary.Failures[0].Reason)
	assert.Contains(t, summary.Failures[0].Message, "chunk 3")

	failed, err := store.GetFileRecordByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, models.StatusEmbedding, failed.FailedStage)
	doc, chunks := liveChunks(t, store, rec.ID)
	assert.Equal(t, models.StageFailed, doc.Stage)
	require.Len(t, chunks, 5)
	for i, c := range chunks {
		assert.Equal(t, i < 3, c.Embedded(), "chunk %d", i)
	}

	healthy := newEmbedder()
	summary, err = newPipeline(store, healthy, true).Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, healthy.calls, "only the remaining chunks are embedded")

	doc2, chunks := liveChunks(t, store, rec.ID)
	assert.Equal(t, doc.ID, doc2.ID)
	assert.Equal(t, models.StageEmbedding, doc2.Stage)
	assert.True(t, models.DocumentComplete(chunks))
}

func TestRun_ConversionFailure(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	rec := addFile(t, store, "/src/broken.docx", ".docx", models.KindDocument, "not a zip archive")
	p := newPipeline(store, newEmbedder(), true)

	for i := 0; i < 2; i++ {
		summary, err := p.Run(ctx, RunOptions{})
		require.NoError(t, err)
		require.Equal(t, 1, summary.Failed, "run %d", i)
		assert.Equal(t, models.ReasonConversion, summary.Failures[0].Reason)
	}

	got, err := store.GetFileRecordByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.StatusConverting, got.FailedStage)
	assert.Equal(t, models.ReasonConversion, got.FailureReason)

	doc, err := store.LiveDocument(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, doc.Stage)
	chunks, err := store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRun_ReusesDocumentByFingerprint(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	a := addFile(t, store, "/src/a.txt", ".txt", models.KindText, words(4))
	c := addFile(t, store, "/copy/c.txt", ".txt", models.KindText, words(4))
	emb := newEmbedder()

	summary, err := newPipeline(store, emb, true).Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 2, emb.calls, "content is embedded once")

	// "/copy" sorts before "/src", so c is the canonical document.
	canon, _ := liveChunks(t, store, c.ID)
	alias, err := store.LiveDocument(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, canon.ID, alias.ReuseOf)
	assert.Equal(t, models.StageReused, alias.Stage)

	got, err := store.GetFileRecordByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, got.Status)
}

func TestRun_ReuseDisabled(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	addFile(t, store, "/src/a.txt", ".txt", models.KindText, words(4))
	addFile(t, store, "/copy/c.txt", ".txt", models.KindText, words(4))
	emb := newEmbedder()

	_, err := newPipeline(store, emb, false).Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, emb.calls)
}

func TestProcessFile_Force(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	rec := addFile(t, store, "/src/a.txt", ".txt", models.KindText, words(3))
	p := newPipeline(store, newEmbedder(), true)

	_, err := p.ProcessFile(ctx, rec.ID, false)
	require.NoError(t, err)
	first, _ := liveChunks(t, store, rec.ID)

	summary, err := p.ProcessFile(ctx, rec.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped, "complete is a no-op without force")

	summary, err = p.ProcessFile(ctx, rec.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	second, chunks := liveChunks(t, store, rec.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, models.DocumentComplete(chunks))

	old, err := store.GetDocument(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.Live())

	got, err := store.GetFileRecordByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Reprocessed)
	assert.Equal(t, models.StatusComplete, got.Status)
}

func TestProcessFile_Unknown(t *testing.T) {
	_, err := newPipeline(newStore(t), newEmbedder(), true).ProcessFile(context.Background(), "missing", false)
	assert.True(t, storage.IsNotFound(err))
}

func TestRun_SkipsIneligible(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	rec := addFile(t, store, "/src/a.txt", ".txt", models.KindText, "hello")
	require.NoError(t, rec.Fail(models.ReasonRead, errors.New("permission denied")))
	require.NoError(t, store.UpdateFileStatus(ctx, rec))

	summary, err := newPipeline(store, newEmbedder(), true).Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Failed)
}

func TestRun_Cancelled(t *testing.T) {
	store := newStore(t)
	addFile(t, store, "/src/a.txt", ".txt", models.KindText, "hello")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := newPipeline(store, newEmbedder(), true).Run(ctx, RunOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Zero(t, summary.Succeeded)
}

func TestEligible(t *testing.T) {
	tests := []struct {
		name   string
		rec    models.FileRecord
		force  bool
		expect bool
	}{
		{"processed", models.FileRecord{Eligible: true, Status: models.StatusProcessed}, false, true},
		{"interrupted", models.FileRecord{Eligible: true, Status: models.StatusChunking}, false, true},
		{"complete", models.FileRecord{Eligible: true, Status: models.StatusComplete}, false, false},
		{"complete forced", models.FileRecord{Eligible: true, Status: models.StatusComplete}, true, true},
		{"failed in pipeline", models.FileRecord{Eligible: true, Status: models.StatusFailed, FailedStage: models.StatusEmbedding}, false, true},
		{"failed reading", models.FileRecord{Eligible: true, Status: models.StatusFailed, FailedStage: models.StatusProcessed}, false, false},
		{"not eligible", models.FileRecord{Status: models.StatusProcessed}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, eligible(&tt.rec, tt.force))
		})
	}
}

type recordingProgress struct {
	total, done int
	finished    bool
}

func (r *recordingProgress) Start(total int) { r.total = total }
func (r *recordingProgress) Increment()      { r.done++ }
func (r *recordingProgress) Finish()         { r.finished = true }

func TestRun_ReportsProgress(t *testing.T) {
	store := newStore(t)
	addFile(t, store, "/src/a.txt", ".txt", models.KindText, words(3))
	addFile(t, store, "/src/b.txt", ".txt", models.KindText, words(5))
	pr := &recordingProgress{}
	p := New(store, convert.Default(), newEmbedder(), Options{ChunkSize: 2}, WithProgress(pr))

	_, err := p.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, pr.total)
	assert.Equal(t, 2, pr.done)
	assert.True(t, pr.finished)
}
