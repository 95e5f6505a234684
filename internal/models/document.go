// Package models defines the records that flow through the scan, process and document stages.
package models

import (
	"fmt"
	"time"
)

// DocumentStage is the stored progress marker of a Document Record.
// Completion is not a stage; see DocumentComplete.
type DocumentStage string

const (
	StageConverting DocumentStage = "converting"
	StageChunking   DocumentStage = "chunking"
	StageEmbedding  DocumentStage = "embedding"
	StageFailed     DocumentStage = "failed"
	// StageReused marks an alias whose chunks and embeddings are those of ReuseOf.
	StageReused     DocumentStage = "reused"
)

// DocumentRecord is the conversion of one File Record generation.
type DocumentRecord struct {
	ID             string        `json:"id"`
	FileID         string        `json:"file_id"`
	Fingerprint    string        `json:"fingerprint"`
	Converter      string        `json:"converter"`
	ChunkSize      int           `json:"chunk_size"`
	ChunkOverlap   int           `json:"chunk_overlap"`
	EmbeddingModel string        `json:"embedding_model"`
	Stage          DocumentStage `json:"stage"`
	FailureReason  FailureReason `json:"failure_reason,omitempty"`
	Error          string        `json:"error,omitempty"`
	ReuseOf        string        `json:"reuse_of,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	SupersededAt   *time.Time    `json:"superseded_at,omitempty"`
}

// Live reports whether the document has not been superseded.
func (d *DocumentRecord) Live() bool {
	return d.SupersededAt == nil
}

// ChunkRecord is one ordered text span of a document.
type ChunkRecord struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Index       int       `json:"index"`
	Text        string    `json:"text"`
	EmbeddingID string    `json:"embedding_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Embedded reports whether the chunk links an Embedding Record.
func (c *ChunkRecord) Embedded() bool {
	return c.EmbeddingID != ""
}

// EmbeddingRecord is an immutable vector for one chunk.
type EmbeddingRecord struct {
	ID         string    `json:"id"`
	ChunkID    string    `json:"chunk_id"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	Vector     []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// DocumentComplete reports whether chunks is non-empty and every chunk has an embedding.
func DocumentComplete(chunks []*ChunkRecord) bool {
	if len(chunks) == 0 {
		return false
	}
	for _, c := range chunks {
		if !c.Embedded() {
			return false
		}
	}
	return true
}

// ValidateChunkOrder checks that chunk indices are exactly 0..N-1 in order.
func ValidateChunkOrder(chunks []*ChunkRecord) error {
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("chunk %d of document %s has index %d", i, c.DocumentID, c.Index)
		}
	}
	return nil
}
